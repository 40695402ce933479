package main

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	memcache "github.com/pior/memcache-ascii"
	"github.com/pior/memcache-ascii/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*memcache.Client, *testutils.Server) {
	t.Helper()

	server := testutils.NewServer(t)
	client, err := memcache.NewClient([]string{server.Addr()}, memcache.Config{Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, server
}

func TestScenarios(t *testing.T) {
	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			client, _ := newTestClient(t)

			result := run(context.Background(), client, s, 30*time.Millisecond, 2)
			require.NoError(t, result.FirstError)
			assert.True(t, result.Correct())
			assert.Positive(t, result.TotalOps)
			assert.Zero(t, result.Failures)
			assert.Positive(t, result.OpsPerSecond())
			assert.Contains(t, result.String(), "--- "+s.name)
		})
	}
}

func TestScenarioDetectsMismatches(t *testing.T) {
	client, server := newTestClient(t)

	// Every key exists, as far as the client can tell
	server.Intercept(func(line string) (string, bool) {
		fields := strings.Fields(line)
		if fields[0] != "get" {
			return "", false
		}
		return fmt.Sprintf("VALUE %s 0 1\r\nx\r\nEND\r\n", fields[1]), true
	})

	s, ok := findScenario("cache-miss")
	require.True(t, ok)

	result := run(context.Background(), client, s, 20*time.Millisecond, 1)
	assert.False(t, result.Correct())
	assert.Positive(t, result.Mismatches)
	assert.ErrorIs(t, result.FirstError, errMismatch)
}

func TestScenarioSetupFailure(t *testing.T) {
	client, server := newTestClient(t)
	server.Intercept(func(line string) (string, bool) {
		return "SERVER_ERROR out of memory storing object\r\n", true
	})

	s, ok := findScenario("cache-hit")
	require.True(t, ok)

	result := run(context.Background(), client, s, 20*time.Millisecond, 1)
	require.Error(t, result.FirstError)
	assert.Contains(t, result.FirstError.Error(), "setup")
	assert.Zero(t, result.TotalOps)
}

func TestFindScenario(t *testing.T) {
	_, ok := findScenario("nope")
	assert.False(t, ok)
	assert.Equal(t, []string{"cache-hit", "dynamic-value", "cache-miss", "increment", "delete", "multi-get"}, scenarioNames())
}
