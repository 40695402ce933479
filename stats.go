package memcache

import (
	"sync/atomic"
	"time"
)

// PoolStats contains statistics about a connection pool.
//
// Fields are ordered largest to smallest for optimal memory layout.
//
// promcollector exposes these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
//   - Counter: AcquireWaitTimeNs, in seconds
type PoolStats struct {
	// Lifetime counters
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait (puddle pool only)
	CreatedConns      uint64 // Total connections dialed
	DestroyedConns    uint64 // Total connections closed
	AcquireErrors     uint64 // Failed acquire attempts, dial failures included
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	// Current state gauges
	TotalConns  int32 // Total connections in pool (active + idle)
	IdleConns   int32 // Idle connections available
	ActiveConns int32 // Connections currently in use
	_           int32 // Padding to align to 64 bytes
}

// ClientStats contains statistics about client operations.
// All storage commands count as Sets, incr and decr as Increments.
type ClientStats struct {
	Gets       uint64 // Keys requested by retrieval operations
	GetHits    uint64 // Keys found (derive hit rate as GetHits/Gets)
	Sets       uint64 // Successful storage operations
	Deletes    uint64 // Successful Delete operations
	Increments uint64 // Successful Increment and Decrement operations
	Touches    uint64 // Successful Touch operations
	Errors     uint64 // Operations that returned an error, misses excluded
	_          uint64 // Padding to align to 64 bytes
}

// poolStatsCollector provides internal methods for updating pool stats.
// Not exported - pools update their own stats.
type poolStatsCollector struct {
	stats PoolStats
}

func (c *poolStatsCollector) recordAcquire() {
	atomic.AddUint64(&c.stats.AcquireCount, 1)
}

func (c *poolStatsCollector) recordAcquireError() {
	atomic.AddUint64(&c.stats.AcquireErrors, 1)
}

// recordCreate counts a new connection, handed out straight away.
func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordAcquireFromIdle() {
	atomic.AddInt32(&c.stats.IdleConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, 1)
}

func (c *poolStatsCollector) recordRelease() {
	atomic.AddInt32(&c.stats.IdleConns, 1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

// recordDestroy counts a checked out connection that was closed.
func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, -1)
	atomic.AddInt32(&c.stats.ActiveConns, -1)
}

// recordDestroyIdle counts an idle connection closed by Close.
func (c *poolStatsCollector) recordDestroyIdle() {
	atomic.AddUint64(&c.stats.DestroyedConns, 1)
	atomic.AddInt32(&c.stats.TotalConns, -1)
	atomic.AddInt32(&c.stats.IdleConns, -1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		TotalConns:        atomic.LoadInt32(&c.stats.TotalConns),
		IdleConns:         atomic.LoadInt32(&c.stats.IdleConns),
		ActiveConns:       atomic.LoadInt32(&c.stats.ActiveConns),
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedConns:      atomic.LoadUint64(&c.stats.CreatedConns),
		DestroyedConns:    atomic.LoadUint64(&c.stats.DestroyedConns),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
	}
}

// clientStatsCollector provides internal methods for updating client stats.
// Not exported - client updates its own stats.
type clientStatsCollector struct {
	stats ClientStats
}

func (c *clientStatsCollector) recordGet(requested, found int) {
	atomic.AddUint64(&c.stats.Gets, uint64(requested))
	atomic.AddUint64(&c.stats.GetHits, uint64(found))
}

func (c *clientStatsCollector) recordSet() {
	atomic.AddUint64(&c.stats.Sets, 1)
}

func (c *clientStatsCollector) recordDelete() {
	atomic.AddUint64(&c.stats.Deletes, 1)
}

func (c *clientStatsCollector) recordIncrement() {
	atomic.AddUint64(&c.stats.Increments, 1)
}

func (c *clientStatsCollector) recordTouch() {
	atomic.AddUint64(&c.stats.Touches, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:       atomic.LoadUint64(&c.stats.Gets),
		GetHits:    atomic.LoadUint64(&c.stats.GetHits),
		Sets:       atomic.LoadUint64(&c.stats.Sets),
		Deletes:    atomic.LoadUint64(&c.stats.Deletes),
		Increments: atomic.LoadUint64(&c.stats.Increments),
		Touches:    atomic.LoadUint64(&c.stats.Touches),
		Errors:     atomic.LoadUint64(&c.stats.Errors),
	}
}

// durationNs clamps negative durations to zero.
func durationNs(d time.Duration) uint64 {
	if d < 0 {
		return 0
	}
	return uint64(d.Nanoseconds())
}
