package memcache

import (
	"time"

	"github.com/pior/memcache-ascii/ascii"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerSettings returns circuit breaker settings for common use cases:
// a server trips after at least 3 requests with 60% of them failing.
func NewCircuitBreakerSettings(maxRequests uint32, interval, timeout time.Duration) *gobreaker.Settings {
	return &gobreaker.Settings{
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	}
}

// newCircuitBreaker creates the breaker of one server from the settings template.
//
// Unless IsSuccessful is set, only connectivity errors and corrupt responses
// count as failures: misses, NOT_STORED, CLIENT_ERROR and malformed keys
// say nothing about the health of the server.
func newCircuitBreaker(addr string, settings gobreaker.Settings, logger logrus.FieldLogger) *gobreaker.CircuitBreaker[*ascii.Response] {
	settings.Name = addr

	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool {
			return !isBreakerFailure(err)
		}
	}

	onStateChange := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.WithFields(logrus.Fields{
			"addr": name,
			"from": from.String(),
			"to":   to.String(),
		}).Info("memcache: circuit breaker state changed")

		if onStateChange != nil {
			onStateChange(name, from, to)
		}
	}

	return gobreaker.NewCircuitBreaker[*ascii.Response](settings)
}
