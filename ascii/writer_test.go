package ascii

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestWriteStorageRequest(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		expected string
	}{
		{
			name:     "basic set",
			req:      NewStorageRequest(CmdSet, "color", []byte("red"), 32, 5, 0),
			expected: "set color 32 5 3\r\nred\r\n",
		},
		{
			name:     "set with zero-length value",
			req:      NewStorageRequest(CmdSet, "mykey", nil, 0, 0, 0),
			expected: "set mykey 0 0 0\r\n\r\n",
		},
		{
			name:     "add",
			req:      NewStorageRequest(CmdAdd, "mykey", []byte("hello"), 0, 60, 0),
			expected: "add mykey 0 60 5\r\nhello\r\n",
		},
		{
			name:     "replace with negative expiration",
			req:      NewStorageRequest(CmdReplace, "mykey", []byte("x"), 1, -1, 0),
			expected: "replace mykey 1 -1 1\r\nx\r\n",
		},
		{
			name:     "append",
			req:      NewStorageRequest(CmdAppend, "mykey", []byte("tail"), 0, 0, 0),
			expected: "append mykey 0 0 4\r\ntail\r\n",
		},
		{
			name:     "prepend",
			req:      NewStorageRequest(CmdPrepend, "mykey", []byte("head"), 0, 0, 0),
			expected: "prepend mykey 0 0 4\r\nhead\r\n",
		},
		{
			name:     "cas carries the token",
			req:      NewStorageRequest(CmdCAS, "mykey", []byte("v2"), 7, 0, 12345),
			expected: "cas mykey 7 0 2 12345\r\nv2\r\n",
		},
		{
			name:     "binary value with CRLF inside",
			req:      NewStorageRequest(CmdSet, "bin", []byte("a\r\nb"), 0, 0, 0),
			expected: "set bin 0 0 4\r\na\r\nb\r\n",
		},
		{
			name:     "max flags",
			req:      NewStorageRequest(CmdSet, "k", []byte("v"), 4294967295, 0, 0),
			expected: "set k 4294967295 0 1\r\nv\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteRequest(&buf, tt.req); err != nil {
				t.Fatalf("WriteRequest failed: %v", err)
			}
			if got := buf.String(); got != tt.expected {
				t.Errorf("WriteRequest() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWriteOtherRequests(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		expected string
	}{
		{"get", NewRetrievalRequest(CmdGet, 0, "color"), "get color\r\n"},
		{"get multi", NewRetrievalRequest(CmdGet, 0, "a", "b", "c"), "get a b c\r\n"},
		{"gets", NewRetrievalRequest(CmdGets, 0, "a"), "gets a\r\n"},
		{"gat", NewRetrievalRequest(CmdGat, 30, "a", "b"), "gat 30 a b\r\n"},
		{"gats", NewRetrievalRequest(CmdGats, 0, "a"), "gats 0 a\r\n"},
		{"incr", NewArithmeticRequest(CmdIncr, "n", 10), "incr n 10\r\n"},
		{"decr", NewArithmeticRequest(CmdDecr, "n", 18446744073709551615), "decr n 18446744073709551615\r\n"},
		{"delete", &Request{Command: CmdDelete, Key: "color"}, "delete color\r\n"},
		{"touch", &Request{Command: CmdTouch, Key: "color", Expiration: 100}, "touch color 100\r\n"},
		{"flush_all", &Request{Command: CmdFlushAll}, "flush_all\r\n"},
		{"flush_all with delay", &Request{Command: CmdFlushAll, Expiration: 10}, "flush_all 10\r\n"},
		{"version", &Request{Command: CmdVersion}, "version\r\n"},
		{"stats", &Request{Command: CmdStats}, "stats\r\n"},
		{"stats with args", &Request{Command: CmdStats, Args: []string{"slabs"}}, "stats slabs\r\n"},
		{"quit", &Request{Command: CmdQuit}, "quit\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteRequest(&buf, tt.req); err != nil {
				t.Fatalf("WriteRequest failed: %v", err)
			}
			if got := buf.String(); got != tt.expected {
				t.Errorf("WriteRequest() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWriteRequestRejectsMalformedKeys(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{"empty key", NewStorageRequest(CmdSet, "", []byte("v"), 0, 0, 0)},
		{"key with space", NewStorageRequest(CmdSet, "a b", []byte("v"), 0, 0, 0)},
		{"key with newline", &Request{Command: CmdDelete, Key: "a\nb"}},
		{"key with DEL", NewArithmeticRequest(CmdIncr, "a\x7f", 1)},
		{"too long key", &Request{Command: CmdTouch, Key: strings.Repeat("k", 251)}},
		{"one bad key in multi get", NewRetrievalRequest(CmdGet, 0, "good", "b\tad")},
		{"retrieval without keys", NewRetrievalRequest(CmdGet, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteRequest(&buf, tt.req)
			if !errors.Is(err, ErrMalformedKey) {
				t.Fatalf("WriteRequest() error = %v, want ErrMalformedKey", err)
			}
			if buf.Len() != 0 {
				t.Errorf("WriteRequest() wrote %q before failing", buf.String())
			}
		})
	}
}

func TestWriteRequestRejectsMalformedArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"line break", []string{"items\r\nflush_all"}},
		{"bare newline", []string{"items\nflush_all"}},
		{"empty argument", []string{"slabs", ""}},
		{"nul byte", []string{"it\x00ems"}},
		{"DEL", []string{"items\x7f"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := []byte("prefix")
			got, err := AppendRequest(dst, &Request{Command: CmdStats, Args: tt.args})
			if !errors.Is(err, ErrMalformedArgument) {
				t.Fatalf("AppendRequest() error = %v, want ErrMalformedArgument", err)
			}
			if ShouldCloseConnection(err) {
				t.Error("a rejected argument must not close the connection")
			}
			if string(got) != "prefix" {
				t.Errorf("AppendRequest() appended %q before failing", got)
			}
		})
	}
}

func TestWriteStatsArgumentsWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRequest(&buf, &Request{Command: CmdStats, Args: []string{"detail on"}}); err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}
	if got, want := buf.String(), "stats detail on\r\n"; got != want {
		t.Errorf("WriteRequest() = %q, want %q", got, want)
	}
}

func TestWriteRequestUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRequest(&buf, &Request{Command: "bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

// shortWriter accepts at most n bytes per Write call.
type shortWriter struct {
	n   int
	buf bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.n {
		p = p[:w.n]
	}
	return w.buf.Write(p)
}

func TestWriteRequestRetriesShortWrites(t *testing.T) {
	w := &shortWriter{n: 3}
	err := WriteRequest(w, NewStorageRequest(CmdSet, "color", []byte("red"), 32, 5, 0))
	if err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}
	if got, want := w.buf.String(), "set color 32 5 3\r\nred\r\n"; got != want {
		t.Errorf("WriteRequest() = %q, want %q", got, want)
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		expectError bool
	}{
		{"valid key", "test_key", false},
		{"max length", strings.Repeat("k", 250), false},
		{"utf8 key", "clé", false},
		{"empty key", "", true},
		{"long key", strings.Repeat("k", 251), true},
		{"key with space", "test key", true},
		{"key with newline", "test\nkey", true},
		{"key with tab", "test\tkey", true},
		{"key with NUL", "test\x00key", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
