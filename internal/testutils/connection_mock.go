package testutils

import (
	"bytes"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// ConnectionMock is a mock implementation of net.Conn for testing.
// Reads are served from the scripted reply, writes are recorded.
type ConnectionMock struct {
	readBuf  *bytes.Buffer
	writeBuf *bytes.Buffer
	closed   atomic.Bool
	deadline time.Time

	// ReadErr is returned once the scripted reply is exhausted, instead of io.EOF.
	ReadErr error

	// WriteErr, when set, fails every write.
	WriteErr error

	// MaxWrite limits the bytes accepted per Write call, to simulate short writes.
	MaxWrite int
}

// NewConnectionMock creates a new mock connection with pre-configured response data
func NewConnectionMock(responseData ...string) *ConnectionMock {
	readBuf := bytes.NewBufferString(strings.Join(responseData, ""))
	return &ConnectionMock{
		readBuf:  readBuf,
		writeBuf: &bytes.Buffer{},
	}
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	if m.readBuf.Len() == 0 && m.ReadErr != nil {
		return 0, m.ReadErr
	}
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	if m.MaxWrite > 0 && len(b) > m.MaxWrite {
		b = b[:m.MaxWrite]
	}
	return m.writeBuf.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.closed.Store(true)
	return nil
}

// IsClosed reports whether Close was called.
func (m *ConnectionMock) IsClosed() bool {
	return m.closed.Load()
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11211}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error {
	m.deadline = t
	return nil
}

func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }

// Deadline returns the last deadline set with SetDeadline.
func (m *ConnectionMock) Deadline() time.Time {
	return m.deadline
}

// GetWrittenRequest returns the raw request bytes written to the mock connection
func (m *ConnectionMock) GetWrittenRequest() string {
	return m.writeBuf.String()
}
