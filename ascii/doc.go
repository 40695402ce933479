// Package ascii provides a low-level wire protocol implementation for the
// memcached ASCII (text) protocol.
//
// It covers command encoding, reply classification and reply decoding, and
// knows nothing about sockets, pooling or server selection. The root
// memcache package builds the client on top of it.
//
// # Core Types
//
//   - Request: a protocol command (set, get, incr, delete, ...)
//   - Response: a decoded reply, classified by Status
//   - Value: one VALUE block of a retrieval reply
//
// # Serialization and Parsing
//
// WriteRequest serializes requests to wire format:
//
//	req := ascii.NewStorageRequest(ascii.CmdSet, "color", []byte("red"), 32, 5, 0)
//	err := ascii.WriteRequest(conn, req)
//
// ReadResponse reads and decodes the reply to a request:
//
//	resp, err := ascii.ReadResponse(bufio.NewReader(conn), req)
//	if err != nil {
//	    if ascii.ShouldCloseConnection(err) {
//	        conn.Close()
//	    }
//	    return err
//	}
//	if resp.HasError() {
//	    return resp.Error
//	}
//
// # Classification
//
// Every reply line goes through ClassifyLine, which compares the whole line
// against the protocol literals, then the CLIENT_ERROR/SERVER_ERROR
// prefixes, then the VALUE/STAT/VERSION prefixes and finally a decimal
// counter. Decode then checks that the Status is valid for the command that
// was sent; any other line is a *ParseError and never a success.
//
// # Framing
//
// A retrieval reply is only complete once each VALUE block has been read
// (exactly <bytes>+2 bytes) and the END line consumed. Decode does this
// before returning, so the connection is at a clean line boundary whenever
// it returns without a Go error.
package ascii
