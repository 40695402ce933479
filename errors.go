package memcache

import (
	"errors"
	"net"

	"github.com/pior/memcache-ascii/ascii"
)

var (
	// ErrNoServers is returned when a key is routed with no configured server.
	ErrNoServers = errors.New("memcache: no servers configured or available")

	// ErrCacheMiss is returned by Delete, Increment, Decrement and Touch when
	// the key does not exist. Retrievals report misses with Item.Found.
	ErrCacheMiss = errors.New("memcache: cache miss")

	// ErrNotStored is returned when a conditional store was not performed:
	// Add on an existing key, Replace/Append/Prepend on a missing key.
	ErrNotStored = errors.New("memcache: item not stored")

	// ErrCASConflict is returned by CompareAndSwap when the item was modified
	// after it was read.
	ErrCASConflict = errors.New("memcache: compare-and-swap conflict")

	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("memcache: pool closed")

	// ErrClientClosed is returned by operations on a closed Client.
	ErrClientClosed = errors.New("memcache: client closed")

	// ErrMalformedKey matches every key validation failure.
	ErrMalformedKey = ascii.ErrMalformedKey

	// ErrMalformedArgument matches command arguments that would break the request line.
	ErrMalformedArgument = ascii.ErrMalformedArgument
)

// Protocol level errors, defined by the codec.
type (
	ClientError = ascii.ClientError
	ServerError = ascii.ServerError
	ParseError  = ascii.ParseError
)

// AddrError is returned at construction time for an address that cannot be
// resolved.
type AddrError struct {
	Addr string
	Err  error
}

func (e *AddrError) Error() string {
	return "memcache: invalid server address " + e.Addr + ": " + e.Err.Error()
}

func (e *AddrError) Unwrap() error {
	return e.Err
}

// ConnectionError is a connectivity failure: dial, read, write or a deadline
// expiry. The connection it happened on is never reused.
type ConnectionError struct {
	Op   string // "dial", "read" or "write"
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return "memcache: " + e.Op + " " + e.Addr + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error is a deadline expiry.
func (e *ConnectionError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// ShouldCloseConnection returns true - the framing state is unknown
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// isBreakerFailure reports whether err should count against a server's
// circuit breaker.
func isBreakerFailure(err error) bool {
	var ce *ConnectionError
	var pe *ascii.ParseError
	return errors.As(err, &ce) || errors.As(err, &pe)
}
