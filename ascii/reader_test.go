package ascii

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func readResponse(t *testing.T, req *Request, input string) (*Response, *bufio.Reader, error) {
	t.Helper()
	r := bufio.NewReader(strings.NewReader(input))
	resp, err := ReadResponse(r, req)
	return resp, r, err
}

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line     string
		expected Status
	}{
		{"STORED", StatusStored},
		{"NOT_STORED", StatusNotStored},
		{"EXISTS", StatusExists},
		{"NOT_FOUND", StatusNotFound},
		{"DELETED", StatusDeleted},
		{"TOUCHED", StatusTouched},
		{"OK", StatusOK},
		{"END", StatusEnd},
		{"ERROR", StatusError},
		{"CLIENT_ERROR bad data chunk", StatusClientError},
		{"CLIENT_ERROR", StatusClientError},
		{"SERVER_ERROR out of memory", StatusServerError},
		{"VALUE k 0 1", StatusValue},
		{"STAT pid 1", StatusStat},
		{"VERSION 1.6.21", StatusVersion},
		{"42", StatusNumber},
		{"0", StatusNumber},

		// Near misses are never treated as known replies
		{"", StatusUnknown},
		{"STORED ", StatusUnknown},
		{"stored", StatusUnknown},
		{"STOREDX", StatusUnknown},
		{"VALUE", StatusUnknown},
		{"VALUEX k 0 1", StatusUnknown},
		{"CLIENT_ERRORX", StatusUnknown},
		{"-1", StatusUnknown},
		{"12a", StatusUnknown},
		{"ERRORS", StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := ClassifyLine([]byte(tt.line)); got != tt.expected {
				t.Errorf("ClassifyLine(%q) = %v, want %v", tt.line, got, tt.expected)
			}
		})
	}
}

func TestDecodeStorage(t *testing.T) {
	tests := []struct {
		input    string
		expected Status
	}{
		{"STORED\r\n", StatusStored},
		{"NOT_STORED\r\n", StatusNotStored},
		{"EXISTS\r\n", StatusExists},
		{"NOT_FOUND\r\n", StatusNotFound},
	}

	req := NewStorageRequest(CmdSet, "k", []byte("v"), 0, 0, 0)
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			resp, _, err := readResponse(t, req, tt.input)
			if err != nil {
				t.Fatalf("ReadResponse failed: %v", err)
			}
			if resp.Status != tt.expected {
				t.Errorf("Status = %v, want %v", resp.Status, tt.expected)
			}
		})
	}
}

func TestDecodeUnexpectedLinesAreCorrupt(t *testing.T) {
	tests := []struct {
		name  string
		req   *Request
		input string
		field string
	}{
		{"storage gets DELETED", NewStorageRequest(CmdSet, "k", nil, 0, 0, 0), "DELETED\r\n", "reply line"},
		{"storage gets garbage", NewStorageRequest(CmdAdd, "k", nil, 0, 0, 0), "WHAT\r\n", "reply line"},
		{"delete gets STORED", &Request{Command: CmdDelete, Key: "k"}, "STORED\r\n", "reply line"},
		{"touch gets DELETED", &Request{Command: CmdTouch, Key: "k"}, "DELETED\r\n", "reply line"},
		{"flush_all gets END", &Request{Command: CmdFlushAll}, "END\r\n", "reply line"},
		{"get gets STORED", NewRetrievalRequest(CmdGet, 0, "k"), "STORED\r\n", "reply line"},
		{"get gets NOT_FOUND", NewRetrievalRequest(CmdGet, 0, "k"), "NOT_FOUND\r\n", "reply line"},
		{"incr gets text", NewArithmeticRequest(CmdIncr, "k", 1), "abc\r\n", "counter value"},
		{"incr gets negative", NewArithmeticRequest(CmdIncr, "k", 1), "-5\r\n", "counter value"},
		{"incr overflows uint64", NewArithmeticRequest(CmdIncr, "k", 1), "18446744073709551616\r\n", "counter value"},
		{"missing CR", &Request{Command: CmdDelete, Key: "k"}, "DELETED\n", "line terminator"},
		{"stats gets VALUE", &Request{Command: CmdStats}, "VALUE k 0 1\r\n", "reply line"},
		{"malformed STAT", &Request{Command: CmdStats}, "STAT pid\r\nEND\r\n", "STAT line"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := readResponse(t, tt.req, tt.input)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("ReadResponse() error = %v, want *ParseError", err)
			}
			if pe.Field != tt.field {
				t.Errorf("ParseError.Field = %q, want %q", pe.Field, tt.field)
			}
			if pe.Command != tt.req.Command {
				t.Errorf("ParseError.Command = %q, want %q", pe.Command, tt.req.Command)
			}
			if !ShouldCloseConnection(err) {
				t.Error("corrupt response must close the connection")
			}
		})
	}
}

func TestDecodeErrorReplies(t *testing.T) {
	req := NewArithmeticRequest(CmdDecr, "k", 1)

	t.Run("client error", func(t *testing.T) {
		resp, _, err := readResponse(t, req, "CLIENT_ERROR cannot increment or decrement non-numeric value\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		var ce *ClientError
		if !errors.As(resp.Error, &ce) {
			t.Fatalf("Response.Error = %v, want *ClientError", resp.Error)
		}
		if ce.Message != "cannot increment or decrement non-numeric value" {
			t.Errorf("Message = %q", ce.Message)
		}
		if ShouldCloseConnection(resp.Error) {
			t.Error("client error must not close the connection")
		}
	})

	t.Run("server error", func(t *testing.T) {
		resp, _, err := readResponse(t, req, "SERVER_ERROR out of memory storing object\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		var se *ServerError
		if !errors.As(resp.Error, &se) {
			t.Fatalf("Response.Error = %v, want *ServerError", resp.Error)
		}
		if se.Message != "out of memory storing object" {
			t.Errorf("Message = %q", se.Message)
		}
	})

	t.Run("generic error", func(t *testing.T) {
		resp, _, err := readResponse(t, req, "ERROR\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		var ge *GenericError
		if !errors.As(resp.Error, &ge) {
			t.Fatalf("Response.Error = %v, want *GenericError", resp.Error)
		}
		if !ShouldCloseConnection(resp.Error) {
			t.Error("generic error must close the connection")
		}
	})

	t.Run("client error without message", func(t *testing.T) {
		resp, _, err := readResponse(t, req, "CLIENT_ERROR\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		var ce *ClientError
		if !errors.As(resp.Error, &ce) || ce.Message != "" {
			t.Fatalf("Response.Error = %#v", resp.Error)
		}
	})
}

func TestDecodeArithmetic(t *testing.T) {
	req := NewArithmeticRequest(CmdIncr, "n", 10)

	resp, _, err := readResponse(t, req, "36\r\n")
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if resp.Status != StatusNumber || resp.Number != 36 {
		t.Errorf("got %v %d, want NUMBER 36", resp.Status, resp.Number)
	}

	resp, _, err = readResponse(t, req, "18446744073709551615\r\n")
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if resp.Number != 18446744073709551615 {
		t.Errorf("Number = %d, want max uint64", resp.Number)
	}

	resp, _, err = readResponse(t, req, "NOT_FOUND\r\n")
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if !resp.IsMiss() {
		t.Errorf("expected miss, got %v", resp.Status)
	}
}

func TestDecodeRetrieval(t *testing.T) {
	t.Run("single hit", func(t *testing.T) {
		req := NewRetrievalRequest(CmdGet, 0, "color")
		resp, r, err := readResponse(t, req, "VALUE color 32 3\r\nred\r\nEND\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if resp.IsMiss() {
			t.Fatal("expected hit")
		}
		v, ok := resp.Lookup("color")
		if !ok {
			t.Fatal("value for color missing")
		}
		if string(v.Data) != "red" || v.Flags != 32 {
			t.Errorf("got %q flags=%d, want red flags=32", v.Data, v.Flags)
		}
		if r.Buffered() != 0 {
			t.Errorf("reader not drained: %d bytes left", r.Buffered())
		}
	})

	t.Run("miss", func(t *testing.T) {
		req := NewRetrievalRequest(CmdGet, 0, "nope")
		resp, _, err := readResponse(t, req, "END\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if !resp.IsMiss() {
			t.Error("expected miss")
		}
	})

	t.Run("gets with cas", func(t *testing.T) {
		req := NewRetrievalRequest(CmdGets, 0, "k")
		resp, _, err := readResponse(t, req, "VALUE k 0 2 987\r\nhi\r\nEND\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if v, _ := resp.Lookup("k"); v.CAS != 987 {
			t.Errorf("CAS = %d, want 987", v.CAS)
		}
	})

	t.Run("payload containing CRLF", func(t *testing.T) {
		req := NewRetrievalRequest(CmdGet, 0, "k")
		resp, r, err := readResponse(t, req, "VALUE k 0 5\r\nEND\r\n\r\nEND\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if v, _ := resp.Lookup("k"); string(v.Data) != "END\r\n" {
			t.Errorf("Data = %q", v.Data)
		}
		if r.Buffered() != 0 {
			t.Errorf("reader not drained: %d bytes left", r.Buffered())
		}
	})

	t.Run("multiple values keep wire order", func(t *testing.T) {
		req := NewRetrievalRequest(CmdGet, 0, "a", "b", "c")
		resp, _, err := readResponse(t, req, "VALUE a 1 1\r\nA\r\nVALUE c 3 1\r\nC\r\nEND\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if len(resp.Values) != 2 || resp.Values[0].Key != "a" || resp.Values[1].Key != "c" {
			t.Fatalf("Values = %+v", resp.Values)
		}
		if _, ok := resp.Lookup("b"); ok {
			t.Error("b should be missing")
		}
	})

	t.Run("empty value", func(t *testing.T) {
		req := NewRetrievalRequest(CmdGet, 0, "k")
		resp, _, err := readResponse(t, req, "VALUE k 0 0\r\n\r\nEND\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if v, ok := resp.Lookup("k"); !ok || len(v.Data) != 0 {
			t.Errorf("got %+v, %v", v, ok)
		}
	})

	t.Run("server error after values", func(t *testing.T) {
		req := NewRetrievalRequest(CmdGet, 0, "a", "b")
		resp, _, err := readResponse(t, req, "VALUE a 0 1\r\nA\r\nSERVER_ERROR out of memory\r\n")
		if err != nil {
			t.Fatalf("ReadResponse failed: %v", err)
		}
		if !resp.HasError() || len(resp.Values) != 1 {
			t.Errorf("got %+v", resp)
		}
	})
}

func TestDecodeRetrievalCorrupt(t *testing.T) {
	tests := []struct {
		name  string
		cmd   Command
		input string
		field string
	}{
		{"missing size", CmdGet, "VALUE k 0\r\n", "VALUE header"},
		{"too many fields", CmdGet, "VALUE k 0 1 2 3\r\n", "VALUE header"},
		{"non-numeric flags", CmdGet, "VALUE k x 1\r\nv\r\nEND\r\n", "flags"},
		{"flags overflow", CmdGet, "VALUE k 4294967296 1\r\nv\r\nEND\r\n", "flags"},
		{"non-numeric size", CmdGet, "VALUE k 0 abc\r\n", "value size"},
		{"negative size", CmdGet, "VALUE k 0 -1\r\n", "value size"},
		{"non-numeric cas", CmdGets, "VALUE k 0 1 abc\r\nv\r\nEND\r\n", "cas unique"},
		{"gets without cas", CmdGets, "VALUE k 0 1\r\nv\r\nEND\r\n", "cas unique"},
		{"unrequested key", CmdGet, "VALUE other 0 1\r\nv\r\nEND\r\n", "key"},
		{"invalid utf8 key", CmdGet, "VALUE \xff\xfe 0 1\r\nv\r\nEND\r\n", "key encoding"},
		{"size above item limit", CmdGet, "VALUE k 0 2000000000\r\n", "value size"},
		{"size overflow", CmdGet, "VALUE k 0 99999999999999999999\r\n", "value size"},
		{"duplicate key", CmdGet, "VALUE k 0 1\r\na\r\nVALUE k 0 1\r\nb\r\nEND\r\n", "key"},
		{"payload longer than size", CmdGet, "VALUE k 0 1\r\nvalue\r\nEND\r\n", "value terminator"},
		{"missing END", CmdGet, "VALUE k 0 1\r\nv\r\nSTORED\r\n", "reply line"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewRetrievalRequest(tt.cmd, 0, "k")
			_, _, err := readResponse(t, req, tt.input)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("ReadResponse() error = %v, want *ParseError", err)
			}
			if pe.Field != tt.field {
				t.Errorf("ParseError.Field = %q, want %q (%v)", pe.Field, tt.field, err)
			}
		})
	}
}

func TestDecodeRetrievalTruncated(t *testing.T) {
	req := NewRetrievalRequest(CmdGet, 0, "k")
	_, _, err := readResponse(t, req, "VALUE k 0 10\r\nabc")
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("ReadResponse() error = %v, want io.ErrUnexpectedEOF", err)
	}
	if !ShouldCloseConnection(err) {
		t.Error("I/O errors must close the connection")
	}
}

func TestDecodeVersion(t *testing.T) {
	req := &Request{Command: CmdVersion}

	resp, _, err := readResponse(t, req, "VERSION 1.6.21\r\n")
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if resp.Version != "1.6.21" {
		t.Errorf("Version = %q, want 1.6.21", resp.Version)
	}

	resp, _, err = readResponse(t, req, "some-proxy 2.0\r\n")
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if resp.Version != "some-proxy 2.0" {
		t.Errorf("Version = %q", resp.Version)
	}
}

func TestDecodeStats(t *testing.T) {
	req := &Request{Command: CmdStats}
	input := "STAT pid 1234\r\nSTAT version 1.6.21\r\nSTAT libevent 2.1.12-stable\r\nSTAT empty \r\nEND\r\n"

	resp, r, err := readResponse(t, req, input)
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	expected := map[string]string{
		"pid":      "1234",
		"version":  "1.6.21",
		"libevent": "2.1.12-stable",
		"empty":    "",
	}
	for k, v := range expected {
		if resp.Stats[k] != v {
			t.Errorf("Stats[%q] = %q, want %q", k, resp.Stats[k], v)
		}
	}
	if resp.IsMiss() {
		t.Error("stats reply is not a miss")
	}
	if r.Buffered() != 0 {
		t.Errorf("reader not drained: %d bytes left", r.Buffered())
	}
}

func TestReadLineLongerThanBuffer(t *testing.T) {
	long := strings.Repeat("x", 100)
	r := bufio.NewReaderSize(strings.NewReader(long+"\r\nrest"), 16)

	line, err := ReadLine(r)
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if string(line) != long+"\r\n" {
		t.Errorf("ReadLine() = %q", line)
	}
}

func TestReadLineTooLong(t *testing.T) {
	long := strings.Repeat("x", MaxLineLength+1)
	r := bufio.NewReaderSize(strings.NewReader(long+"\r\n"), 16)

	_, err := ReadLine(r)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("ReadLine() error = %v, want *ParseError", err)
	}
	if pe.Field != "line length" {
		t.Errorf("ParseError.Field = %q, want line length", pe.Field)
	}
	if !ShouldCloseConnection(err) {
		t.Error("an over-long line must close the connection")
	}
	if len(pe.Got) > 100 {
		t.Errorf("ParseError.Got not truncated: %d bytes", len(pe.Got))
	}
}

func TestReadLineAtLimit(t *testing.T) {
	line := strings.Repeat("x", MaxLineLength-2) + "\r\n"
	r := bufio.NewReaderSize(strings.NewReader(line), 16)

	got, err := ReadLine(r)
	if err != nil {
		t.Fatalf("ReadLine failed: %v", err)
	}
	if len(got) != MaxLineLength {
		t.Errorf("len(ReadLine()) = %d, want %d", len(got), MaxLineLength)
	}
}

func TestDecodeRetrievalDistinctKeys(t *testing.T) {
	req := NewRetrievalRequest(CmdGet, 0, "a", "b")
	resp, _, err := readResponse(t, req, "VALUE a 0 1\r\n1\r\nVALUE b 0 1\r\n2\r\nEND\r\n")
	if err != nil {
		t.Fatalf("ReadResponse failed: %v", err)
	}
	if len(resp.Values) != 2 {
		t.Errorf("len(Values) = %d, want 2", len(resp.Values))
	}
}

func TestParseErrorMessage(t *testing.T) {
	err := newParseError(CmdGet, "flags", []byte("abc"), errors.New("boom"))
	want := `memcache: corrupt response to get: invalid flags "abc": boom`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("ParseError should unwrap to its cause")
	}

	lineErr := newParseError("", "line length", nil, nil)
	if got, want := lineErr.Error(), "memcache: corrupt response: invalid line length"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
