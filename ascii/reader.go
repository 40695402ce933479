package ascii

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"unicode/utf8"
)

// Pre-allocated byte slices for comparisons (avoid allocation in hot path)
var (
	crlfBytes = []byte(CRLF)
	spaceByte = []byte(Space)
)

// BodyReader reads the parts of a reply that follow its first line.
// Conn implements it on top of its bufio.Reader and wraps I/O failures.
type BodyReader interface {
	// ReadLine reads through the next '\n', terminator included.
	ReadLine() ([]byte, error)
	// ReadFull reads exactly n bytes.
	ReadFull(n int) ([]byte, error)
}

// ReadLine reads through the next '\n' and returns the line, terminator included.
// The returned slice is only valid until the next read on r.
// A line longer than MaxLineLength is a *ParseError.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		// Line exceeds buffer, accumulate the pieces (allocates)
		long := append([]byte(nil), line...)
		for err == bufio.ErrBufferFull {
			if len(long) > MaxLineLength {
				return nil, errLineTooLong(long)
			}
			line, err = r.ReadSlice('\n')
			long = append(long, line...)
		}
		line = long
	}
	if err != nil {
		return nil, err
	}
	if len(line) > MaxLineLength {
		return nil, errLineTooLong(line)
	}
	return line, nil
}

func errLineTooLong(head []byte) error {
	return newParseError("", "line length", head, errors.New("exceeds "+strconv.Itoa(MaxLineLength)+" bytes"))
}

// NewBodyReader adapts a bufio.Reader to BodyReader.
func NewBodyReader(r *bufio.Reader) BodyReader {
	return bufBodyReader{r}
}

type bufBodyReader struct {
	r *bufio.Reader
}

func (b bufBodyReader) ReadLine() ([]byte, error) {
	return ReadLine(b.r)
}

func (b bufBodyReader) ReadFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadResponse reads and decodes the complete reply to req from r.
func ReadResponse(r *bufio.Reader, req *Request) (*Response, error) {
	line, err := ReadLine(r)
	if err != nil {
		return nil, err
	}
	return Decode(req, line, NewBodyReader(r))
}

// ClassifyLine returns the Status of a reply line given without its CRLF.
//
// Exact literals are matched first, then the defined error prefixes, then
// the structured prefixes and finally an all-digit counter body. Anything
// else is StatusUnknown.
func ClassifyLine(line []byte) Status {
	switch string(line) {
	case ResultStored:
		return StatusStored
	case ResultNotStored:
		return StatusNotStored
	case ResultExists:
		return StatusExists
	case ResultNotFound:
		return StatusNotFound
	case ResultDeleted:
		return StatusDeleted
	case ResultTouched:
		return StatusTouched
	case ResultOK:
		return StatusOK
	case ResultEnd:
		return StatusEnd
	case ResultError:
		return StatusError
	case PrefixClientError:
		return StatusClientError
	case PrefixServerError:
		return StatusServerError
	}

	switch {
	case hasWordPrefix(line, PrefixClientError):
		return StatusClientError
	case hasWordPrefix(line, PrefixServerError):
		return StatusServerError
	case hasWordPrefix(line, PrefixValue):
		return StatusValue
	case hasWordPrefix(line, PrefixStat):
		return StatusStat
	case hasWordPrefix(line, PrefixVersion):
		return StatusVersion
	case isDigits(line):
		return StatusNumber
	}

	return StatusUnknown
}

// hasWordPrefix reports whether line starts with prefix followed by a space.
func hasWordPrefix(line []byte, prefix string) bool {
	return len(line) > len(prefix) && line[len(prefix)] == ' ' && string(line[:len(prefix)]) == prefix
}

func isDigits(line []byte) bool {
	if len(line) == 0 {
		return false
	}
	for _, b := range line {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}

// trimLine strips the CRLF terminator, which every reply line must carry.
func trimLine(cmd Command, line []byte) ([]byte, error) {
	if !bytes.HasSuffix(line, crlfBytes) {
		return nil, newParseError(cmd, "line terminator", line, nil)
	}
	return line[:len(line)-len(crlfBytes)], nil
}

// errorResponse builds the Response for ERROR, CLIENT_ERROR and SERVER_ERROR lines.
// Returns nil for any other status.
func errorResponse(cmd Command, status Status, text []byte) *Response {
	switch status {
	case StatusError:
		return &Response{Status: status, Error: &GenericError{Command: cmd}}
	case StatusClientError:
		return &Response{Status: status, Error: &ClientError{Message: errorMessage(text, PrefixClientError)}}
	case StatusServerError:
		return &Response{Status: status, Error: &ServerError{Message: errorMessage(text, PrefixServerError)}}
	}
	return nil
}

func errorMessage(text []byte, prefix string) string {
	if len(text) <= len(prefix) {
		return ""
	}
	return string(text[len(prefix)+1:])
}

// Decode decodes the reply to req. line is the first reply line as read by
// the connection, terminator included; multi-line replies continue through
// body. On success the connection is left at a clean line boundary.
//
// Protocol errors (ERROR, CLIENT_ERROR, SERVER_ERROR) are returned as
// Response.Error, not as Go error.
// Go errors returned are either *ParseError (corrupt response) or I/O
// errors from body; in both cases the connection must be closed.
func Decode(req *Request, line []byte, body BodyReader) (*Response, error) {
	cmd := req.Command

	text, err := trimLine(cmd, line)
	if err != nil {
		return nil, err
	}

	status := ClassifyLine(text)
	if resp := errorResponse(cmd, status, text); resp != nil {
		return resp, nil
	}

	switch {
	case cmd.IsStorage():
		switch status {
		case StatusStored, StatusNotStored, StatusExists, StatusNotFound:
			return &Response{Status: status}, nil
		}

	case cmd.IsRetrieval():
		return decodeRetrieval(req, status, text, body)

	case cmd.IsArithmetic():
		switch status {
		case StatusNotFound:
			return &Response{Status: status}, nil
		case StatusNumber:
			n, err := strconv.ParseUint(string(text), 10, 64)
			if err != nil {
				return nil, newParseError(cmd, "counter value", text, err)
			}
			return &Response{Status: status, Number: n}, nil
		}
		return nil, newParseError(cmd, "counter value", text, nil)

	case cmd == CmdDelete:
		switch status {
		case StatusDeleted, StatusNotFound:
			return &Response{Status: status}, nil
		}

	case cmd == CmdTouch:
		switch status {
		case StatusTouched, StatusNotFound:
			return &Response{Status: status}, nil
		}

	case cmd == CmdFlushAll:
		if status == StatusOK {
			return &Response{Status: status}, nil
		}

	case cmd == CmdVersion:
		// Any line is accepted as a version reply; only its encoding is checked.
		if !utf8.Valid(text) {
			return nil, newParseError(cmd, "version encoding", text, nil)
		}
		version := text
		if status == StatusVersion {
			version = text[len(PrefixVersion)+1:]
		}
		return &Response{Status: StatusVersion, Version: string(version)}, nil

	case cmd == CmdStats:
		return decodeStats(req, status, text, body)
	}

	return nil, newParseError(cmd, "reply line", text, nil)
}

// decodeRetrieval reads VALUE blocks until END.
func decodeRetrieval(req *Request, status Status, text []byte, body BodyReader) (*Response, error) {
	cmd := req.Command
	resp := &Response{}
	var seen map[string]struct{}

	for {
		switch status {
		case StatusEnd:
			resp.Status = StatusEnd
			return resp, nil

		case StatusValue:
			value, size, err := parseValueHeader(req, text)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[value.Key]; dup {
				return nil, newParseError(cmd, "key", []byte(value.Key), errors.New("duplicate"))
			}
			if seen == nil {
				seen = make(map[string]struct{}, len(req.Keys))
			}
			seen[value.Key] = struct{}{}

			// Read data + CRLF together in a single read
			data, err := body.ReadFull(size + len(crlfBytes))
			if err != nil {
				return nil, err
			}
			if !bytes.HasSuffix(data, crlfBytes) {
				return nil, newParseError(cmd, "value terminator", data[size:], nil)
			}
			value.Data = data[:size]
			resp.Values = append(resp.Values, value)

		default:
			if errResp := errorResponse(cmd, status, text); errResp != nil {
				errResp.Values = resp.Values
				return errResp, nil
			}
			return nil, newParseError(cmd, "reply line", text, nil)
		}

		line, err := body.ReadLine()
		if err != nil {
			return nil, err
		}
		if text, err = trimLine(cmd, line); err != nil {
			return nil, err
		}
		status = ClassifyLine(text)
	}
}

// parseValueHeader parses "VALUE <key> <flags> <bytes>[ <cas unique>]".
func parseValueHeader(req *Request, text []byte) (Value, int, error) {
	cmd := req.Command

	fields := bytes.Split(text, spaceByte)
	if len(fields) != 4 && len(fields) != 5 {
		return Value{}, 0, newParseError(cmd, "VALUE header", text, nil)
	}
	if cmd.returnsCAS() && len(fields) != 5 {
		return Value{}, 0, newParseError(cmd, "cas unique", text, errors.New("missing"))
	}

	key := fields[1]
	if !utf8.Valid(key) {
		return Value{}, 0, newParseError(cmd, "key encoding", key, nil)
	}
	if !req.requested(string(key)) {
		return Value{}, 0, newParseError(cmd, "key", key, errors.New("not requested"))
	}

	flags, err := strconv.ParseUint(string(fields[2]), 10, 32)
	if err != nil {
		return Value{}, 0, newParseError(cmd, "flags", fields[2], err)
	}

	size, err := strconv.ParseUint(string(fields[3]), 10, 64)
	if err != nil {
		return Value{}, 0, newParseError(cmd, "value size", fields[3], err)
	}
	if size > MaxValueSize {
		return Value{}, 0, newParseError(cmd, "value size", fields[3], errors.New("exceeds maximum item size"))
	}

	value := Value{
		Key:   string(key),
		Flags: uint32(flags),
	}

	if len(fields) == 5 {
		value.CAS, err = strconv.ParseUint(string(fields[4]), 10, 64)
		if err != nil {
			return Value{}, 0, newParseError(cmd, "cas unique", fields[4], err)
		}
	}

	return value, int(size), nil
}

// decodeStats reads "STAT <name> <value>" lines until END.
func decodeStats(req *Request, status Status, text []byte, body BodyReader) (*Response, error) {
	cmd := req.Command
	resp := &Response{Stats: make(map[string]string)}

	for {
		switch status {
		case StatusEnd:
			resp.Status = StatusEnd
			return resp, nil

		case StatusStat:
			if !utf8.Valid(text) {
				return nil, newParseError(cmd, "STAT encoding", text, nil)
			}
			name, value, ok := bytes.Cut(text[len(PrefixStat)+1:], spaceByte)
			if !ok || len(name) == 0 {
				return nil, newParseError(cmd, "STAT line", text, nil)
			}
			resp.Stats[string(name)] = string(value)

		default:
			if errResp := errorResponse(cmd, status, text); errResp != nil {
				return errResp, nil
			}
			return nil, newParseError(cmd, "reply line", text, nil)
		}

		line, err := body.ReadLine()
		if err != nil {
			return nil, err
		}
		if text, err = trimLine(cmd, line); err != nil {
			return nil, err
		}
		status = ClassifyLine(text)
	}
}

// Codec encodes requests and decodes replies with the functions above.
// The zero value is ready to use.
type Codec struct{}

// Encode appends the wire form of req to dst.
func (Codec) Encode(dst []byte, req *Request) ([]byte, error) {
	return AppendRequest(dst, req)
}

// Decode decodes the reply to req.
func (Codec) Decode(req *Request, line []byte, body BodyReader) (*Response, error) {
	return Decode(req, line, body)
}
