package memcache

import (
	"hash/crc32"
	"net"
	"strings"
)

// Selector routes keys to servers.
// Implementations must be safe for concurrent use.
type Selector interface {
	// PickServer returns the server address for key.
	PickServer(key string) (net.Addr, error)

	// Each calls fn for every server, in order, and stops at the first error.
	Each(fn func(net.Addr) error) error
}

// ServerList is a static, ordered list of servers.
// Keys are spread with CRC-32 modulo the number of servers.
type ServerList struct {
	addrs []net.Addr
}

var _ Selector = (*ServerList)(nil)

// NewServerList resolves the given addresses.
// An address containing a "/" is a unix socket path, anything else is a
// TCP host:port.
func NewServerList(servers ...string) (*ServerList, error) {
	addrs, err := resolveServers(servers)
	if err != nil {
		return nil, err
	}
	return &ServerList{addrs: addrs}, nil
}

func resolveServers(servers []string) ([]net.Addr, error) {
	addrs := make([]net.Addr, len(servers))
	for i, server := range servers {
		addr, err := resolveAddr(server)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return addrs, nil
}

func resolveAddr(server string) (net.Addr, error) {
	if strings.Contains(server, "/") {
		addr, err := net.ResolveUnixAddr("unix", server)
		if err != nil {
			return nil, &AddrError{Addr: server, Err: err}
		}
		return addr, nil
	}

	addr, err := net.ResolveTCPAddr("tcp", server)
	if err != nil {
		return nil, &AddrError{Addr: server, Err: err}
	}
	return addr, nil
}

// Len returns the number of servers.
func (s *ServerList) Len() int {
	return len(s.addrs)
}

func (s *ServerList) PickServer(key string) (net.Addr, error) {
	switch len(s.addrs) {
	case 0:
		return nil, ErrNoServers
	case 1:
		return s.addrs[0], nil
	}

	cs := crc32.ChecksumIEEE([]byte(key))
	return s.addrs[cs%uint32(len(s.addrs))], nil
}

func (s *ServerList) Each(fn func(net.Addr) error) error {
	for _, addr := range s.addrs {
		if err := fn(addr); err != nil {
			return err
		}
	}
	return nil
}
