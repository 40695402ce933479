package ascii

import (
	"errors"
	"strconv"
)

// Error types for ASCII protocol operations.
// They tell the caller whether the connection that produced them can go back
// to the pool (see ShouldCloseConnection).

// ErrMalformedKey is matched by every key validation failure.
var ErrMalformedKey = errors.New("memcache: malformed key")

// ErrMalformedArgument is matched by every command argument validation failure.
var ErrMalformedArgument = errors.New("memcache: malformed argument")

// ClientError represents a CLIENT_ERROR reply.
// The server rejected the command, for example incr on a non-numeric value.
// The reply line was read completely so the connection stays usable.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return "memcache: client error: " + e.Message
}

// ShouldCloseConnection returns false - the reply was a complete line
func (e *ClientError) ShouldCloseConnection() bool {
	return false
}

// ServerError represents a SERVER_ERROR reply, such as out of memory.
// Connection handling: connection can be reused.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "memcache: server error: " + e.Message
}

// ShouldCloseConnection returns false - server errors don't corrupt protocol state
func (e *ServerError) ShouldCloseConnection() bool {
	return false
}

// GenericError represents a bare ERROR reply (unknown command).
// The server did not understand what was sent, so the framing of the
// connection can no longer be trusted.
type GenericError struct {
	Command Command
}

func (e *GenericError) Error() string {
	return "memcache: server replied ERROR to " + string(e.Command)
}

// ShouldCloseConnection returns true - generic errors indicate protocol issues
func (e *GenericError) ShouldCloseConnection() bool {
	return true
}

// InvalidKeyError is returned when a key fails validation, before any I/O.
type InvalidKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	if len(e.Key) > 32 {
		return "memcache: malformed key " + strconv.Quote(e.Key[:32]+"...") + ": " + e.Reason
	}
	return "memcache: malformed key " + strconv.Quote(e.Key) + ": " + e.Reason
}

// Is makes errors.Is(err, ErrMalformedKey) match.
func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrMalformedKey
}

// ShouldCloseConnection returns false - nothing was written
func (e *InvalidKeyError) ShouldCloseConnection() bool {
	return false
}

// InvalidArgumentError is returned when a command argument, such as a stats
// group, would break the request line. Nothing is written.
type InvalidArgumentError struct {
	Arg    string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "memcache: malformed argument " + strconv.Quote(e.Arg) + ": " + e.Reason
}

// Is makes errors.Is(err, ErrMalformedArgument) match.
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrMalformedArgument
}

func (e *InvalidArgumentError) ShouldCloseConnection() bool {
	return false
}

// ParseError is a corrupt response: the reply violated the grammar expected
// for the command that was sent.
//
// Common causes:
//   - reply line not valid for the command (e.g. STORED to a get)
//   - missing or non-numeric VALUE header fields
//   - value block not terminated by CRLF
//   - non-numeric or overflowing counter body
//   - reply line or value larger than the protocol limits
//
// Connection handling: CLOSE, its framing state is unknown.
type ParseError struct {
	Command Command // command whose reply failed to parse
	Field   string  // element that failed, e.g. "flags", "reply line"
	Got     string  // offending input, truncated
	Err     error   // underlying error, if any
}

func (e *ParseError) Error() string {
	msg := "memcache: corrupt response"
	if e.Command != "" {
		msg += " to " + string(e.Command)
	}
	msg += ": invalid " + e.Field
	if e.Got != "" {
		msg += " " + strconv.Quote(e.Got)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - parse errors indicate corrupted state
func (e *ParseError) ShouldCloseConnection() bool {
	return true
}

func newParseError(cmd Command, field string, got []byte, err error) *ParseError {
	const maxGot = 64
	s := string(got)
	if len(s) > maxGot {
		s = s[:maxGot] + "..."
	}
	return &ParseError{Command: cmd, Field: field, Got: s, Err: err}
}

// ErrorWithConnectionState is implemented by errors that know whether the
// connection they came from must be closed.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err requires closing the connection.
//
// Returns false for nil, ClientError, ServerError, InvalidKeyError and
// InvalidArgumentError.
// Returns true for ParseError, GenericError and any error that does not
// implement ErrorWithConnectionState (I/O errors, timeouts).
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	// Unknown error type - be conservative and close connection
	return true
}
