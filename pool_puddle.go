package memcache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
)

// NewPuddlePool creates a puddle-based connection pool.
// Unlike the free list pool, maxSize bounds the total number of connections:
// Acquire waits for a connection to be released once the limit is reached.
func NewPuddlePool(constructor func(ctx context.Context) (*Conn, error), maxSize int32) (Pool, error) {
	p := &puddlePool{}

	poolConfig := &puddle.Config[*Conn]{
		Constructor: func(ctx context.Context) (*Conn, error) {
			conn, err := constructor(ctx)
			if err == nil {
				p.createdConns.Add(1)
			}
			return conn, err
		},
		Destructor: func(c *Conn) {
			p.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: maxSize,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// puddlePool wraps puddle.Pool to implement our Pool interface.
type puddlePool struct {
	pool           *puddle.Pool[*Conn]
	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

// puddleResource destroys connections that cannot be reused on Release.
type puddleResource struct {
	res *puddle.Resource[*Conn]
}

func (r puddleResource) Value() *Conn {
	return r.res.Value()
}

func (r puddleResource) Release() {
	if !r.res.Value().reusable() {
		r.res.Destroy()
		return
	}
	r.res.Release()
}

func (r puddleResource) Destroy() {
	r.res.Destroy()
}

func (p *puddlePool) Acquire(ctx context.Context) (Resource, error) {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, puddle.ErrClosedPool) {
			return nil, ErrPoolClosed
		}
		return nil, err
	}
	return puddleResource{res: res}, nil
}

func (p *puddlePool) Close() {
	p.pool.Close()
}

// Stats returns a snapshot of pool statistics by converting puddle's stats to our format.
func (p *puddlePool) Stats() PoolStats {
	s := p.pool.Stat()

	return PoolStats{
		TotalConns:        s.TotalResources(),
		IdleConns:         s.IdleResources(),
		ActiveConns:       s.AcquiredResources(),
		AcquireCount:      uint64(s.AcquireCount()),
		AcquireWaitCount:  uint64(s.EmptyAcquireCount()), // Acquires that had to wait (pool was empty)
		CreatedConns:      uint64(p.createdConns.Load()),
		DestroyedConns:    uint64(p.destroyedConns.Load()),
		AcquireErrors:     uint64(s.CanceledAcquireCount()),
		AcquireWaitTimeNs: durationNs(s.EmptyAcquireWaitTime()),
	}
}
