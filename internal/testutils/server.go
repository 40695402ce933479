package testutils

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Version is the version reported by the fake server.
const Version = "1.6.21-fake"

const maxRelativeExpiration = 60 * 60 * 24 * 30

type entry struct {
	value   []byte
	flags   uint32
	cas     uint64
	expires time.Time // zero means never
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Server is an in-process memcached speaking the ASCII protocol, for tests.
type Server struct {
	ln net.Listener

	mu      sync.Mutex
	items   map[string]*entry
	lastCAS uint64
	conns   map[net.Conn]struct{}
	closed  bool

	intercept atomic.Pointer[func(line string) (string, bool)]

	accepted atomic.Int64
	commands atomic.Int64
	wg       sync.WaitGroup
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("Failed to start test server: %v", err)
	}

	s := &Server{
		ln:    ln,
		items: make(map[string]*entry),
		conns: make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.serve()

	tb.Cleanup(s.Close)
	return s
}

// Addr returns the "host:port" address of the server.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Accepted returns the number of connections accepted so far.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Commands returns the number of command lines received so far.
func (s *Server) Commands() int {
	return int(s.commands.Load())
}

// Intercept replaces the reply to the commands fn accepts with the raw bytes
// it returns. The command is not executed and its data block, if any, is not
// consumed. Pass nil to stop intercepting.
func (s *Server) Intercept(fn func(line string) (reply string, ok bool)) {
	if fn == nil {
		s.intercept.Store(nil)
		return
	}
	s.intercept.Store(&fn)
}

// Get returns the raw value stored at key.
func (s *Server) Get(key string) ([]byte, uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, 0, false
	}
	return e.value, e.flags, true
}

// Close stops the server and closes every client connection.
func (s *Server) Close() {
	_ = s.ln.Close()

	s.mu.Lock()
	s.closed = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.commands.Add(1)

		if fn := s.intercept.Load(); fn != nil {
			if reply, ok := (*fn)(line); ok {
				_, _ = w.WriteString(reply)
				if w.Flush() != nil {
					return
				}
				continue
			}
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			_, _ = w.WriteString("ERROR\r\n")
		} else if fields[0] == "quit" {
			return
		} else if !s.execute(fields, r, w) {
			return
		}

		if w.Flush() != nil {
			return
		}
	}
}

// execute runs one command. It returns false when the connection must be closed.
func (s *Server) execute(fields []string, r *bufio.Reader, w *bufio.Writer) bool {
	switch cmd := fields[0]; cmd {
	case "set", "add", "replace", "append", "prepend", "cas":
		return s.store(cmd, fields, r, w)

	case "get", "gets":
		if len(fields) < 2 {
			_, _ = w.WriteString("ERROR\r\n")
			return true
		}
		s.retrieve(fields[1:], cmd == "gets", nil, w)

	case "gat", "gats":
		if len(fields) < 3 {
			_, _ = w.WriteString("ERROR\r\n")
			return true
		}
		exptime, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			_, _ = w.WriteString("CLIENT_ERROR invalid exptime argument\r\n")
			return true
		}
		expires := expiration(exptime)
		s.retrieve(fields[2:], cmd == "gats", &expires, w)

	case "incr", "decr":
		if len(fields) != 3 {
			_, _ = w.WriteString("ERROR\r\n")
			return true
		}
		delta, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			_, _ = w.WriteString("CLIENT_ERROR invalid numeric delta argument\r\n")
			return true
		}
		_, _ = w.WriteString(s.arithmetic(fields[1], cmd == "incr", delta))

	case "delete":
		if len(fields) != 2 {
			_, _ = w.WriteString("ERROR\r\n")
			return true
		}
		s.mu.Lock()
		_, ok := s.lookup(fields[1])
		delete(s.items, fields[1])
		s.mu.Unlock()
		reply(w, ok, "DELETED", "NOT_FOUND")

	case "touch":
		if len(fields) != 3 {
			_, _ = w.WriteString("ERROR\r\n")
			return true
		}
		exptime, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			_, _ = w.WriteString("CLIENT_ERROR invalid exptime argument\r\n")
			return true
		}
		s.mu.Lock()
		e, ok := s.lookup(fields[1])
		if ok {
			e.expires = expiration(exptime)
		}
		s.mu.Unlock()
		reply(w, ok, "TOUCHED", "NOT_FOUND")

	case "flush_all":
		s.mu.Lock()
		s.items = make(map[string]*entry)
		s.mu.Unlock()
		_, _ = w.WriteString("OK\r\n")

	case "version":
		_, _ = w.WriteString("VERSION " + Version + "\r\n")

	case "stats":
		s.mu.Lock()
		items := len(s.items)
		s.mu.Unlock()
		fmt.Fprintf(w, "STAT pid 1\r\nSTAT version %s\r\nSTAT curr_items %d\r\nSTAT total_connections %d\r\nEND\r\n",
			Version, items, s.accepted.Load())

	default:
		_, _ = w.WriteString("ERROR\r\n")
	}

	return true
}

func (s *Server) store(cmd string, fields []string, r *bufio.Reader, w *bufio.Writer) bool {
	want := 5
	if cmd == "cas" {
		want = 6
	}
	if len(fields) != want {
		_, _ = w.WriteString("ERROR\r\n")
		return true
	}

	key := fields[1]
	flags, err1 := strconv.ParseUint(fields[2], 10, 32)
	exptime, err2 := strconv.ParseInt(fields[3], 10, 32)
	size, err3 := strconv.ParseUint(fields[4], 10, 31)
	if err1 != nil || err2 != nil || err3 != nil {
		_, _ = w.WriteString("CLIENT_ERROR bad command line format\r\n")
		return false
	}

	data := make([]byte, size+2)
	if _, err := io.ReadFull(r, data); err != nil {
		return false
	}
	if string(data[size:]) != "\r\n" {
		_, _ = w.WriteString("CLIENT_ERROR bad data chunk\r\n")
		return false
	}
	data = data[:size]

	var casID uint64
	if cmd == "cas" {
		var err error
		if casID, err = strconv.ParseUint(fields[5], 10, 64); err != nil {
			_, _ = w.WriteString("CLIENT_ERROR bad command line format\r\n")
			return true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.lookup(key)
	switch cmd {
	case "add":
		if exists {
			_, _ = w.WriteString("NOT_STORED\r\n")
			return true
		}
	case "replace", "append", "prepend":
		if !exists {
			_, _ = w.WriteString("NOT_STORED\r\n")
			return true
		}
	case "cas":
		if !exists {
			_, _ = w.WriteString("NOT_FOUND\r\n")
			return true
		}
		if e.cas != casID {
			_, _ = w.WriteString("EXISTS\r\n")
			return true
		}
	}

	s.lastCAS++
	switch cmd {
	case "append":
		e.value = append(append([]byte(nil), e.value...), data...)
		e.cas = s.lastCAS
	case "prepend":
		e.value = append(append([]byte(nil), data...), e.value...)
		e.cas = s.lastCAS
	default:
		s.items[key] = &entry{
			value:   data,
			flags:   uint32(flags),
			cas:     s.lastCAS,
			expires: expiration(exptime),
		}
	}

	_, _ = w.WriteString("STORED\r\n")
	return true
}

func (s *Server) retrieve(keys []string, withCAS bool, touch *time.Time, w *bufio.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		e, ok := s.lookup(key)
		if !ok {
			continue
		}
		if touch != nil {
			e.expires = *touch
		}
		if withCAS {
			fmt.Fprintf(w, "VALUE %s %d %d %d\r\n", key, e.flags, len(e.value), e.cas)
		} else {
			fmt.Fprintf(w, "VALUE %s %d %d\r\n", key, e.flags, len(e.value))
		}
		_, _ = w.Write(e.value)
		_, _ = w.WriteString("\r\n")
	}
	_, _ = w.WriteString("END\r\n")
}

func (s *Server) arithmetic(key string, incr bool, delta uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return "NOT_FOUND\r\n"
	}

	n, err := strconv.ParseUint(string(e.value), 10, 64)
	if err != nil {
		return "CLIENT_ERROR cannot increment or decrement non-numeric value\r\n"
	}

	switch {
	case incr:
		n += delta // wraps around at 64 bits, like memcached
	case delta > n:
		n = 0
	default:
		n -= delta
	}

	s.lastCAS++
	e.value = []byte(strconv.FormatUint(n, 10))
	e.cas = s.lastCAS
	return string(e.value) + "\r\n"
}

// lookup returns a live entry, dropping it if it expired. s.mu must be held.
func (s *Server) lookup(key string) (*entry, bool) {
	e, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(s.items, key)
		return nil, false
	}
	return e, true
}

// expiration converts a protocol exptime to a deadline.
func expiration(exptime int64) time.Time {
	switch {
	case exptime == 0:
		return time.Time{}
	case exptime < 0:
		return time.Now()
	case exptime <= maxRelativeExpiration:
		return time.Now().Add(time.Duration(exptime) * time.Second)
	default:
		return time.Unix(exptime, 0)
	}
}

func reply(w *bufio.Writer, ok bool, yes, no string) {
	if ok {
		_, _ = w.WriteString(yes + "\r\n")
	} else {
		_, _ = w.WriteString(no + "\r\n")
	}
}
