package memcache

import (
	"net"

	"github.com/pior/memcache-ascii/internal"
	"github.com/zeebo/xxh3"
)

// JumpSelector uses Jump Hash for consistent server selection.
// Adding or removing the last server only moves about 1/N of the keys,
// where the default ServerList reshuffles nearly all of them.
type JumpSelector struct {
	addrs []net.Addr
}

var _ Selector = (*JumpSelector)(nil)

// NewJumpSelector resolves the given addresses, like NewServerList.
func NewJumpSelector(servers ...string) (*JumpSelector, error) {
	addrs, err := resolveServers(servers)
	if err != nil {
		return nil, err
	}
	return &JumpSelector{addrs: addrs}, nil
}

func (s *JumpSelector) PickServer(key string) (net.Addr, error) {
	switch len(s.addrs) {
	case 0:
		return nil, ErrNoServers
	case 1:
		return s.addrs[0], nil
	}
	return s.addrs[internal.JumpHash(xxh3.HashString(key), len(s.addrs))], nil
}

func (s *JumpSelector) Each(fn func(net.Addr) error) error {
	for _, addr := range s.addrs {
		if err := fn(addr); err != nil {
			return err
		}
	}
	return nil
}
