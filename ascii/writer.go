package ascii

import (
	"errors"
	"io"
	"strconv"

	"github.com/pior/memcache-ascii/internal"
)

var errUnknownCommand = errors.New("memcache: unknown command")

// Typical request line is ~100 bytes
var bufferPool = internal.NewBufferPool(256, 64*1024)

// AppendRequest serializes req to wire format and appends it to dst.
// Keys and arguments are validated before anything is appended, so a
// malformed one never reaches the wire.
func AppendRequest(dst []byte, req *Request) ([]byte, error) {
	for _, key := range req.keys() {
		if err := ValidateKey(key); err != nil {
			return dst, err
		}
	}
	for _, arg := range req.Args {
		if err := ValidateArgument(arg); err != nil {
			return dst, err
		}
	}

	switch {
	case req.Command.IsStorage():
		// <cmd> <key> <flags> <exptime> <bytes>[ <cas>]\r\n<data>\r\n
		dst = append(dst, req.Command...)
		dst = append(dst, ' ')
		dst = append(dst, req.Key...)
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, uint64(req.Flags), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(req.Expiration), 10)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(len(req.Data)), 10)
		if req.Command == CmdCAS {
			dst = append(dst, ' ')
			dst = strconv.AppendUint(dst, req.CAS, 10)
		}
		dst = append(dst, CRLF...)
		dst = append(dst, req.Data...)
		dst = append(dst, CRLF...)

	case req.Command.IsRetrieval():
		if len(req.Keys) == 0 {
			return dst, &InvalidKeyError{Reason: "retrieval without keys"}
		}
		dst = append(dst, req.Command...)
		if req.Command == CmdGat || req.Command == CmdGats {
			dst = append(dst, ' ')
			dst = strconv.AppendInt(dst, int64(req.Expiration), 10)
		}
		for _, key := range req.Keys {
			dst = append(dst, ' ')
			dst = append(dst, key...)
		}
		dst = append(dst, CRLF...)

	case req.Command.IsArithmetic():
		dst = append(dst, req.Command...)
		dst = append(dst, ' ')
		dst = append(dst, req.Key...)
		dst = append(dst, ' ')
		dst = strconv.AppendUint(dst, req.Delta, 10)
		dst = append(dst, CRLF...)

	case req.Command == CmdDelete:
		dst = append(dst, req.Command...)
		dst = append(dst, ' ')
		dst = append(dst, req.Key...)
		dst = append(dst, CRLF...)

	case req.Command == CmdTouch:
		dst = append(dst, req.Command...)
		dst = append(dst, ' ')
		dst = append(dst, req.Key...)
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(req.Expiration), 10)
		dst = append(dst, CRLF...)

	case req.Command == CmdFlushAll:
		dst = append(dst, req.Command...)
		if req.Expiration > 0 {
			dst = append(dst, ' ')
			dst = strconv.AppendInt(dst, int64(req.Expiration), 10)
		}
		dst = append(dst, CRLF...)

	case req.Command == CmdStats:
		dst = append(dst, req.Command...)
		for _, arg := range req.Args {
			dst = append(dst, ' ')
			dst = append(dst, arg...)
		}
		dst = append(dst, CRLF...)

	case req.Command == CmdVersion, req.Command == CmdQuit:
		dst = append(dst, req.Command...)
		dst = append(dst, CRLF...)

	default:
		return dst, errUnknownCommand
	}

	return dst, nil
}

// WriteRequest serializes req and writes it to w in a single Write call.
// Writers that return short writes without an error are retried until all
// bytes are written.
func WriteRequest(w io.Writer, req *Request) error {
	bp := bufferPool.Get()
	defer bufferPool.Put(bp)

	buf, err := AppendRequest(*bp, req)
	*bp = buf
	if err != nil {
		return err
	}

	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}
