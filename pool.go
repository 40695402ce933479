package memcache

import (
	"context"
	"fmt"
	"sync"
)

// Pool holds the connections to a single server.
type Pool interface {
	// Acquire returns an idle connection, or dials a new one.
	Acquire(ctx context.Context) (Resource, error)

	// Close closes the idle connections. Connections checked out at that
	// time are closed when they are released.
	Close()

	Stats() PoolStats
}

// Resource is a connection checked out of a Pool.
// Exactly one of Release or Destroy must be called.
type Resource interface {
	Value() *Conn

	// Release gives the connection back to the pool. A connection that is
	// broken or not at a clean line boundary is destroyed instead.
	Release()

	// Destroy closes the connection.
	Destroy()
}

// PoolFactory creates the Pool for one server. size is Config.MaxIdleConns.
type PoolFactory func(constructor func(ctx context.Context) (*Conn, error), size int32) (Pool, error)

// NewFreeListPool creates the default pool: a LIFO free list of at most
// maxIdle idle connections. The number of connections in use is not limited;
// connections released while the free list is full are closed.
func NewFreeListPool(constructor func(ctx context.Context) (*Conn, error), maxIdle int32) (Pool, error) {
	if maxIdle < 0 {
		return nil, fmt.Errorf("memcache: invalid max idle connections: %d", maxIdle)
	}
	return &freeListPool{
		constructor: constructor,
		maxIdle:     int(maxIdle),
		idle:        make([]*Conn, 0, maxIdle),
	}, nil
}

type freeListPool struct {
	constructor func(ctx context.Context) (*Conn, error)
	maxIdle     int

	mu     sync.Mutex
	idle   []*Conn
	closed bool

	stats poolStatsCollector
}

// freeListResource implements Resource for the free list pool.
type freeListResource struct {
	conn *Conn
	pool *freeListPool
}

func (r *freeListResource) Value() *Conn {
	return r.conn
}

func (r *freeListResource) Release() {
	r.pool.put(r.conn)
}

func (r *freeListResource) Destroy() {
	_ = r.conn.Close()
	r.pool.stats.recordDestroy()
}

func (p *freeListPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, ErrPoolClosed
	}

	// Most recently released first
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		p.stats.recordAcquireFromIdle()
		return &freeListResource{conn: conn, pool: p}, nil
	}
	p.mu.Unlock()

	conn, err := p.constructor(ctx)
	if err != nil {
		p.stats.recordAcquireError()
		return nil, err
	}

	p.stats.recordCreate()
	return &freeListResource{conn: conn, pool: p}, nil
}

func (p *freeListPool) put(conn *Conn) {
	if !conn.reusable() {
		_ = conn.Close()
		p.stats.recordDestroy()
		return
	}

	p.mu.Lock()
	if p.closed || len(p.idle) >= p.maxIdle {
		p.mu.Unlock()
		_ = conn.Close()
		p.stats.recordDestroy()
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()

	p.stats.recordRelease()
}

func (p *freeListPool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, conn := range idle {
		_ = conn.Close()
		p.stats.recordDestroyIdle()
	}
}

// Stats returns a snapshot of pool statistics.
func (p *freeListPool) Stats() PoolStats {
	return p.stats.snapshot()
}
