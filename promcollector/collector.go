// Package promcollector exports memcache client statistics to Prometheus.
package promcollector

import (
	memcache "github.com/pior/memcache-ascii"
	"github.com/prometheus/client_golang/prometheus"
)

// Source provides the statistics to export. *memcache.Client implements it.
type Source interface {
	Stats() memcache.ClientStats
	AllPoolStats() []memcache.ServerPoolStats
}

var _ Source = (*memcache.Client)(nil)

// Collector is a prometheus.Collector reading the stats of a client on
// every scrape. Pool and circuit breaker metrics are labelled by server.
type Collector struct {
	source Source

	getKeys    *prometheus.Desc
	getHits    *prometheus.Desc
	sets       *prometheus.Desc
	deletes    *prometheus.Desc
	increments *prometheus.Desc
	touches    *prometheus.Desc
	errors     *prometheus.Desc

	poolConnections *prometheus.Desc
	poolCreated     *prometheus.Desc
	poolDestroyed   *prometheus.Desc
	poolAcquires    *prometheus.Desc
	poolErrors      *prometheus.Desc
	poolWaits       *prometheus.Desc
	poolWaitSeconds *prometheus.Desc

	circuitState    *prometheus.Desc
	circuitRequests *prometheus.Desc
	circuitFailures *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// New returns a collector for source, usually a *memcache.Client.
func New(source Source) *Collector {
	server := []string{"server"}

	return &Collector{
		source: source,

		getKeys:    prometheus.NewDesc("memcache_get_keys_total", "Keys requested by retrieval operations.", nil, nil),
		getHits:    prometheus.NewDesc("memcache_get_hits_total", "Keys found by retrieval operations.", nil, nil),
		sets:       prometheus.NewDesc("memcache_sets_total", "Successful storage operations.", nil, nil),
		deletes:    prometheus.NewDesc("memcache_deletes_total", "Successful delete operations.", nil, nil),
		increments: prometheus.NewDesc("memcache_increments_total", "Successful incr and decr operations.", nil, nil),
		touches:    prometheus.NewDesc("memcache_touches_total", "Successful touch operations.", nil, nil),
		errors:     prometheus.NewDesc("memcache_errors_total", "Operations that returned an error.", nil, nil),

		poolConnections: prometheus.NewDesc("memcache_pool_connections", "Connections of the pool by state.", []string{"server", "state"}, nil),
		poolCreated:     prometheus.NewDesc("memcache_pool_connections_created_total", "Connections dialed.", server, nil),
		poolDestroyed:   prometheus.NewDesc("memcache_pool_connections_destroyed_total", "Connections closed.", server, nil),
		poolAcquires:    prometheus.NewDesc("memcache_pool_acquires_total", "Connection acquire attempts.", server, nil),
		poolErrors:      prometheus.NewDesc("memcache_pool_acquire_errors_total", "Failed connection acquires, dial failures included.", server, nil),
		poolWaits:       prometheus.NewDesc("memcache_pool_acquire_waits_total", "Acquires that waited for a connection.", server, nil),
		poolWaitSeconds: prometheus.NewDesc("memcache_pool_acquire_wait_seconds_total", "Time spent waiting for a connection.", server, nil),

		circuitState:    prometheus.NewDesc("memcache_circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open).", server, nil),
		circuitRequests: prometheus.NewDesc("memcache_circuit_breaker_requests", "Requests counted in the current circuit breaker interval.", server, nil),
		circuitFailures: prometheus.NewDesc("memcache_circuit_breaker_failures", "Failures counted in the current circuit breaker interval.", []string{"server", "type"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.getKeys, c.getHits, c.sets, c.deletes, c.increments, c.touches, c.errors,
		c.poolConnections, c.poolCreated, c.poolDestroyed, c.poolAcquires, c.poolErrors, c.poolWaits, c.poolWaitSeconds,
		c.circuitState, c.circuitRequests, c.circuitFailures,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.getKeys, stats.Gets)
	counter(c.getHits, stats.GetHits)
	counter(c.sets, stats.Sets)
	counter(c.deletes, stats.Deletes)
	counter(c.increments, stats.Increments)
	counter(c.touches, stats.Touches)
	counter(c.errors, stats.Errors)

	for _, sp := range c.source.AllPoolStats() {
		ps := sp.PoolStats

		gauge(c.poolConnections, float64(ps.TotalConns), sp.Addr, "total")
		gauge(c.poolConnections, float64(ps.ActiveConns), sp.Addr, "active")
		gauge(c.poolConnections, float64(ps.IdleConns), sp.Addr, "idle")
		counter(c.poolCreated, ps.CreatedConns, sp.Addr)
		counter(c.poolDestroyed, ps.DestroyedConns, sp.Addr)
		counter(c.poolAcquires, ps.AcquireCount, sp.Addr)
		counter(c.poolErrors, ps.AcquireErrors, sp.Addr)
		counter(c.poolWaits, ps.AcquireWaitCount, sp.Addr)
		ch <- prometheus.MustNewConstMetric(c.poolWaitSeconds, prometheus.CounterValue, float64(ps.AcquireWaitTimeNs)/1e9, sp.Addr)

		gauge(c.circuitState, float64(sp.CircuitBreakerState), sp.Addr)
		gauge(c.circuitRequests, float64(sp.CircuitBreakerCounts.Requests), sp.Addr)
		gauge(c.circuitFailures, float64(sp.CircuitBreakerCounts.TotalFailures), sp.Addr, "total")
		gauge(c.circuitFailures, float64(sp.CircuitBreakerCounts.ConsecutiveFailures), sp.Addr, "consecutive")
	}
}
