package memcache

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/pior/memcache-ascii/ascii"
	"github.com/pior/memcache-ascii/internal"
)

const quitTimeout = 100 * time.Millisecond

var requestBuffers = internal.NewBufferPool(256, 64*1024)

// Conn is a single connection to a memcached server.
// It carries one request at a time and is not safe for concurrent use:
// the pool hands it to one caller, who gives it back with Release or Destroy.
type Conn struct {
	nc      net.Conn
	addr    string
	reader  *bufio.Reader
	writer  *bufio.Writer
	timeout time.Duration

	// broken is set after any I/O or framing error. A broken
	// connection is never pooled again.
	broken bool
}

var _ ascii.BodyReader = (*Conn)(nil)

// NewConn wraps nc. timeout bounds every request/response exchange.
func NewConn(nc net.Conn, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Conn{
		nc:      nc,
		addr:    nc.RemoteAddr().String(),
		reader:  bufio.NewReader(nc),
		writer:  bufio.NewWriter(fullWriter{nc}),
		timeout: timeout,
	}
}

// Addr returns the server address of the connection.
func (c *Conn) Addr() string {
	return c.addr
}

// Send writes req, then reads and decodes its complete reply.
//
// Protocol errors are returned in Response.Error. A returned error is a
// malformed key (nothing was written), a *ConnectionError or a corrupt
// response; after the last two the connection is marked broken.
func (c *Conn) Send(ctx context.Context, req *ascii.Request) (*ascii.Response, error) {
	bp := requestBuffers.Get()
	defer requestBuffers.Put(bp)

	buf, err := ascii.AppendRequest(*bp, req)
	*bp = buf
	if err != nil {
		return nil, err
	}

	line, err := c.WriteReadLine(ctx, buf)
	if err != nil {
		return nil, attributeParseError(req, err)
	}

	resp, err := ascii.Decode(req, line, c)
	if err != nil {
		c.broken = true
		return nil, attributeParseError(req, err)
	}

	if ascii.ShouldCloseConnection(resp.Error) {
		c.broken = true
	}

	// Bytes left after a complete reply mean the stream is out of sync
	if c.reader.Buffered() != 0 {
		c.broken = true
	}

	return resp, nil
}

// WriteReadLine writes b, flushes it and reads the first reply line,
// terminator included. The returned slice is only valid until the next read.
func (c *Conn) WriteReadLine(ctx context.Context, b []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.nc.SetDeadline(c.deadline(ctx)); err != nil {
		return nil, c.fail("write", err)
	}

	if _, err := c.writer.Write(b); err != nil {
		return nil, c.fail("write", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, c.fail("write", err)
	}

	return c.ReadLine()
}

// ReadLine reads through the next '\n', terminator included.
func (c *Conn) ReadLine() ([]byte, error) {
	line, err := ascii.ReadLine(c.reader)
	if err != nil {
		var pe *ascii.ParseError
		if errors.As(err, &pe) {
			// Over-long line, the rest of it is still unread
			c.broken = true
			return nil, err
		}
		return nil, c.fail("read", err)
	}
	return line, nil
}

// ReadFull reads exactly n bytes.
func (c *Conn) ReadFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, c.fail("read", err)
	}
	return buf, nil
}

// Close sends a best-effort quit on a healthy connection, then closes it.
func (c *Conn) Close() error {
	if !c.broken {
		_ = c.nc.SetDeadline(time.Now().Add(quitTimeout))
		if err := ascii.WriteRequest(c.writer, &ascii.Request{Command: ascii.CmdQuit}); err == nil {
			_ = c.writer.Flush()
		}
	}
	c.broken = true
	return c.nc.Close()
}

// reusable reports whether the connection is at a clean line boundary and
// can go back to the pool.
func (c *Conn) reusable() bool {
	return !c.broken && c.reader.Buffered() == 0 && c.writer.Buffered() == 0
}

// deadline is now+timeout, or the context deadline when it is earlier.
func (c *Conn) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

// attributeParseError names req's command in a ParseError raised while
// reading lines, where the command is not known.
func attributeParseError(req *ascii.Request, err error) error {
	var pe *ascii.ParseError
	if errors.As(err, &pe) && pe.Command == "" {
		pe.Command = req.Command
	}
	return err
}

func (c *Conn) fail(op string, err error) error {
	c.broken = true
	return &ConnectionError{Op: op, Addr: c.addr, Err: err}
}

// fullWriter retries short writes until all bytes are written.
type fullWriter struct {
	w io.Writer
}

func (f fullWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := f.w.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
