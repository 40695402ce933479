// Command memcache-cli is an interactive shell for memcached servers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"
	memcache "github.com/pior/memcache-ascii"
	"github.com/pior/memcache-ascii/promcollector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	servers := flag.String("servers", "127.0.0.1:11211", "comma separated list of servers (host:port or unix socket path)")
	timeout := flag.Duration("timeout", memcache.DefaultTimeout, "timeout of each request")
	jump := flag.Bool("jump", false, "shard keys with jump consistent hashing instead of CRC-32")
	breaker := flag.Bool("circuit-breaker", false, "enable a circuit breaker per server")
	logLevel := flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9150")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logger.WithError(err).Fatal("invalid log level")
	}
	logger.SetLevel(level)

	config := memcache.Config{
		Timeout: *timeout,
		Logger:  logger,
	}
	if *breaker {
		config.CircuitBreakerSettings = memcache.NewCircuitBreakerSettings(1, time.Minute, 10*time.Second)
	}

	client, err := newClient(strings.Split(*servers, ","), *jump, config)
	if err != nil {
		logger.WithError(err).Fatal("failed to create client")
	}
	defer client.Close()

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, client, logger)
	}

	cli := liner.NewLiner()
	defer cli.Close()

	cli.SetCtrlCAborts(true)
	cli.SetCompleter(completeCommand)

	fmt.Printf(" Connected to %s. Type help for usage.\n", *servers)

	for {
		line, err := cli.Prompt("> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				logger.WithError(err).Error("failed to read input")
			}
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		cli.AppendHistory(line)

		if strings.EqualFold(line, "quit") || strings.EqualFold(line, "exit") {
			break
		}

		start := time.Now()
		result, usage, err := execute(context.Background(), client, line)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			fmt.Printf("error: %v (%v)\n", err, elapsed)
		case result != "":
			fmt.Printf("%s (%v)\n", result, elapsed)
		}
		if usage != "" {
			fmt.Println(usage)
		}
	}
	fmt.Printf("\n")
}

func newClient(servers []string, jump bool, config memcache.Config) (*memcache.Client, error) {
	for i := range servers {
		servers[i] = strings.TrimSpace(servers[i])
	}

	if !jump {
		return memcache.NewClient(servers, config)
	}

	sel, err := memcache.NewJumpSelector(servers...)
	if err != nil {
		return nil, err
	}
	return memcache.NewClientFromSelector(sel, config)
}

func serveMetrics(addr string, client *memcache.Client, logger logrus.FieldLogger) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(promcollector.New(client))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithField("addr", addr).Info("serving metrics")
	if err := server.ListenAndServe(); err != nil {
		logger.WithError(err).Error("metrics server stopped")
	}
}
