package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	memcache "github.com/pior/memcache-ascii"
	"golang.org/x/sync/errgroup"
)

// errMismatch marks a reply that succeeded with an unexpected result.
var errMismatch = errors.New("unexpected result")

// scenario is one benchmark. step runs one unit of work and returns the
// number of operations it performed.
type scenario struct {
	name  string
	setup func(ctx context.Context, client *memcache.Client, prefix string) error
	step  func(ctx context.Context, client *memcache.Client, prefix string, worker, i int) (int, error)
}

var scenarios = []scenario{
	{name: "cache-hit", setup: setupCacheHit, step: stepCacheHit},
	{name: "dynamic-value", step: stepDynamicValue},
	{name: "cache-miss", step: stepCacheMiss},
	{name: "increment", setup: setupIncrement, step: stepIncrement},
	{name: "delete", step: stepDelete},
	{name: "multi-get", setup: setupMultiGet, step: stepMultiGet},
}

func scenarioNames() []string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return names
}

func findScenario(name string) (scenario, bool) {
	for _, s := range scenarios {
		if s.name == name {
			return s, true
		}
	}
	return scenario{}, false
}

// Result is the outcome of one benchmark.
type Result struct {
	Operation  string
	Duration   time.Duration
	TotalOps   int64
	Failures   int64
	Mismatches int64
	AvgLatency time.Duration
	FirstError error
}

// Correct reports whether every reply had the expected result.
func (r Result) Correct() bool {
	return r.Mismatches == 0 && r.FirstError == nil
}

// OpsPerSecond is the throughput over the whole run.
func (r Result) OpsPerSecond() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.TotalOps) / r.Duration.Seconds()
}

func (r Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n", r.Operation)
	fmt.Fprintf(&b, "duration:    %v\n", r.Duration)
	fmt.Fprintf(&b, "operations:  %d (%.0f/s)\n", r.TotalOps, r.OpsPerSecond())
	fmt.Fprintf(&b, "failures:    %d\n", r.Failures)
	fmt.Fprintf(&b, "mismatches:  %d\n", r.Mismatches)
	fmt.Fprintf(&b, "avg latency: %v\n", r.AvgLatency)
	if r.FirstError != nil {
		fmt.Fprintf(&b, "error:       %v\n", r.FirstError)
	}
	return b.String()
}

// run executes s with concurrency workers until duration elapses.
func run(ctx context.Context, client *memcache.Client, s scenario, duration time.Duration, concurrency int) Result {
	result := Result{Operation: s.name}
	prefix := s.name + "-" + uuid.New().String()

	if s.setup != nil {
		if err := s.setup(ctx, client, prefix); err != nil {
			result.FirstError = fmt.Errorf("setup: %w", err)
			return result
		}
	}

	var (
		totalOps, failures, mismatches, latency atomic.Int64
		errOnce                                 sync.Once
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for worker := range concurrency {
		g.Go(func() error {
			for i := 0; time.Since(start) < duration; i++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}

				stepStart := time.Now()
				n, err := s.step(gctx, client, prefix, worker, i)
				elapsed := time.Since(stepStart)

				totalOps.Add(int64(n))
				latency.Add(int64(elapsed))

				switch {
				case errors.Is(err, errMismatch):
					mismatches.Add(1)
				case err != nil:
					failures.Add(1)
				}
				if err != nil {
					errOnce.Do(func() { result.FirstError = err })
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	result.TotalOps = totalOps.Load()
	result.Failures = failures.Load()
	result.Mismatches = mismatches.Load()
	if result.TotalOps > 0 {
		result.AvgLatency = time.Duration(latency.Load() / result.TotalOps)
	}
	return result
}

var cacheHitValue = []byte("cache-hit-value")

func setupCacheHit(ctx context.Context, client *memcache.Client, prefix string) error {
	return client.Set(ctx, memcache.Item{Key: prefix, Value: cacheHitValue, Expiration: 3600})
}

// 100 gets of the same key.
func stepCacheHit(ctx context.Context, client *memcache.Client, prefix string, _, _ int) (int, error) {
	for n := range 100 {
		item, err := client.Get(ctx, prefix)
		if err != nil {
			return n + 1, err
		}
		if !item.Found || !bytes.Equal(item.Value, cacheHitValue) {
			return n + 1, fmt.Errorf("%w: %q", errMismatch, item.Value)
		}
	}
	return 100, nil
}

// A set then a get of a fresh key.
func stepDynamicValue(ctx context.Context, client *memcache.Client, prefix string, worker, i int) (int, error) {
	key := fmt.Sprintf("%s-%d-%d", prefix, worker, i)
	value := []byte(fmt.Sprintf("dynamic-value-%d-%d", worker, i))

	if err := client.Set(ctx, memcache.Item{Key: key, Value: value, Expiration: 60}); err != nil {
		return 1, err
	}

	item, err := client.Get(ctx, key)
	if err != nil {
		return 2, err
	}
	if !bytes.Equal(item.Value, value) {
		return 2, fmt.Errorf("%w: %q for %s", errMismatch, item.Value, key)
	}
	return 2, nil
}

func stepCacheMiss(ctx context.Context, client *memcache.Client, prefix string, worker, i int) (int, error) {
	key := fmt.Sprintf("%s-missing-%d-%d", prefix, worker, i)

	item, err := client.Get(ctx, key)
	if err != nil {
		return 1, err
	}
	if item.Found {
		return 1, fmt.Errorf("%w: hit on %s", errMismatch, key)
	}
	return 1, nil
}

func setupIncrement(ctx context.Context, client *memcache.Client, prefix string) error {
	return client.Set(ctx, memcache.Item{Key: prefix, Value: []byte("0"), Expiration: 3600})
}

// 100 increments, the counter must grow.
func stepIncrement(ctx context.Context, client *memcache.Client, prefix string, _, _ int) (int, error) {
	var last uint64
	for n := range 100 {
		value, err := client.Increment(ctx, prefix, 1)
		if err != nil {
			return n + 1, err
		}
		if value <= last {
			return n + 1, fmt.Errorf("%w: counter went from %d to %d", errMismatch, last, value)
		}
		last = value
	}
	return 100, nil
}

// A set then a delete, which must find the key.
func stepDelete(ctx context.Context, client *memcache.Client, prefix string, worker, i int) (int, error) {
	key := fmt.Sprintf("%s-%d-%d", prefix, worker, i)

	if err := client.Set(ctx, memcache.Item{Key: key, Value: []byte("v"), Expiration: 60}); err != nil {
		return 1, err
	}

	err := client.Delete(ctx, key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return 2, fmt.Errorf("%w: %s vanished before delete", errMismatch, key)
	}
	return 2, err
}

const multiGetKeys = 20

func multiGetKey(prefix string, n int) string {
	return fmt.Sprintf("%s-%d", prefix, n)
}

func setupMultiGet(ctx context.Context, client *memcache.Client, prefix string) error {
	for n := range multiGetKeys {
		key := multiGetKey(prefix, n)
		if err := client.Set(ctx, memcache.Item{Key: key, Value: []byte(key), Expiration: 3600}); err != nil {
			return err
		}
	}
	return nil
}

// One GetMulti of the keys written by setup, plus as many missing keys.
func stepMultiGet(ctx context.Context, client *memcache.Client, prefix string, _, _ int) (int, error) {
	keys := make([]string, 0, 2*multiGetKeys)
	for n := range 2 * multiGetKeys {
		keys = append(keys, multiGetKey(prefix, n))
	}

	items, err := client.GetMulti(ctx, keys)
	if err != nil {
		return 1, err
	}
	if len(items) != multiGetKeys {
		return 1, fmt.Errorf("%w: %d hits, want %d", errMismatch, len(items), multiGetKeys)
	}
	return 1, nil
}
