// Command memcache-bench measures throughput and latency of common
// operations against memcached servers, and checks that every reply is
// the expected one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	memcache "github.com/pior/memcache-ascii"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		operation   = flag.String("operation", "all", "operation: "+strings.Join(scenarioNames(), ", ")+" or all")
		duration    = flag.Duration("duration", 5*time.Second, "duration of each benchmark")
		concurrency = flag.Int("concurrency", 1, "number of concurrent workers")
		servers     = flag.String("servers", "localhost:11211", "comma separated list of memcache servers")
		maxIdle     = flag.Int("max-idle", memcache.DefaultMaxIdleConns, "idle connections kept per server")
		logLevel    = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.WithError(err).Fatal("invalid log level")
	}
	logger.SetLevel(level)

	client, err := memcache.NewClient(strings.Split(*servers, ","), memcache.Config{
		MaxIdleConns: int32(*maxIdle),
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to create client")
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		logger.WithError(err).Fatalf("memcached is not reachable on %s", *servers)
	}

	var selected []scenario
	if *operation == "all" {
		selected = scenarios
	} else {
		s, ok := findScenario(*operation)
		if !ok {
			logger.Fatalf("unknown operation %q", *operation)
		}
		selected = []scenario{s}
	}

	failed := false
	for _, s := range selected {
		logger.WithFields(logrus.Fields{
			"operation":   s.name,
			"duration":    *duration,
			"concurrency": *concurrency,
		}).Info("starting benchmark")

		result := run(ctx, client, s, *duration, *concurrency)
		fmt.Print(result)
		failed = failed || !result.Correct()
	}

	stats := client.Stats()
	fmt.Printf("client: gets=%d hits=%d sets=%d errors=%d\n", stats.Gets, stats.GetHits, stats.Sets, stats.Errors)

	if failed {
		os.Exit(1)
	}
}
