package memcache

import (
	"context"

	"github.com/pior/memcache-ascii/ascii"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// serverPool wraps the pool and the circuit breaker of one server.
type serverPool struct {
	addr    string
	pool    Pool
	breaker *gobreaker.CircuitBreaker[*ascii.Response] // nil if not configured
	logger  logrus.FieldLogger
}

// ServerPoolStats contains stats for a single server pool
type ServerPoolStats struct {
	Addr                 string
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

func (sp *serverPool) stats() ServerPoolStats {
	stats := ServerPoolStats{
		Addr:      sp.addr,
		PoolStats: sp.pool.Stats(),
	}
	if sp.breaker != nil {
		stats.CircuitBreakerState = sp.breaker.State()
		stats.CircuitBreakerCounts = sp.breaker.Counts()
	}
	return stats
}

// execute runs one request/response exchange on a pooled connection,
// through the circuit breaker when there is one.
func (sp *serverPool) execute(ctx context.Context, req *ascii.Request) (*ascii.Response, error) {
	if sp.breaker == nil {
		return sp.executeDirect(ctx, req)
	}

	return sp.breaker.Execute(func() (*ascii.Response, error) {
		return sp.executeDirect(ctx, req)
	})
}

// executeDirect acquires a connection, sends req and hands the connection
// back: released when it is at a clean line boundary, destroyed otherwise.
func (sp *serverPool) executeDirect(ctx context.Context, req *ascii.Request) (*ascii.Response, error) {
	resource, err := sp.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	conn := resource.Value()
	resp, err := conn.Send(ctx, req)

	if !conn.reusable() {
		entry := sp.logger.WithFields(logrus.Fields{
			"addr": sp.addr,
			"op":   string(req.Command),
		})
		if err != nil {
			entry = entry.WithError(err)
		} else if resp.Error != nil {
			entry = entry.WithError(resp.Error)
		}
		entry.Debug("memcache: discarding connection")

		resource.Destroy()
	} else {
		resource.Release()
	}

	return resp, err
}
