package ascii

// Command is an ASCII protocol verb.
type Command string

// Protocol delimiters
const (
	// CRLF is the line terminator for the memcached protocol
	CRLF = "\r\n"

	// Space separates command tokens
	Space = " "
)

// Storage commands.
//
// Wire format: <command> <key> <flags> <exptime> <bytes>\r\n<data>\r\n
// The cas command appends " <cas unique>" to the command line.
//
// Response lines: STORED, NOT_STORED, EXISTS, NOT_FOUND
const (
	CmdSet     Command = "set"
	CmdAdd     Command = "add"
	CmdReplace Command = "replace"
	CmdAppend  Command = "append"
	CmdPrepend Command = "prepend"
	CmdCAS     Command = "cas"
)

// Retrieval commands.
//
// Wire format:
//
//	get|gets <key>+\r\n
//	gat|gats <exptime> <key>+\r\n
//
// Response: zero or more "VALUE <key> <flags> <bytes>[ <cas unique>]\r\n<data>\r\n"
// blocks followed by END\r\n. gets and gats always include the cas unique.
const (
	CmdGet  Command = "get"
	CmdGets Command = "gets"
	CmdGat  Command = "gat"
	CmdGats Command = "gats"
)

// Other commands.
const (
	// CmdDelete: delete <key>\r\n -> DELETED | NOT_FOUND
	CmdDelete Command = "delete"

	// CmdIncr and CmdDecr: incr|decr <key> <delta>\r\n -> <value> | NOT_FOUND | CLIENT_ERROR <msg>
	CmdIncr Command = "incr"
	CmdDecr Command = "decr"

	// CmdTouch: touch <key> <exptime>\r\n -> TOUCHED | NOT_FOUND
	CmdTouch Command = "touch"

	// CmdFlushAll: flush_all[ <delay>]\r\n -> OK
	CmdFlushAll Command = "flush_all"

	// CmdVersion: version\r\n -> VERSION <version>
	CmdVersion Command = "version"

	// CmdStats: stats[ <args>]\r\n -> STAT <name> <value>\r\n* END\r\n
	CmdStats Command = "stats"

	// CmdQuit: quit\r\n, the server closes the connection without a reply
	CmdQuit Command = "quit"
)

// Reply literals, compared against the full line without its terminator.
const (
	ResultStored    = "STORED"
	ResultNotStored = "NOT_STORED"
	ResultExists    = "EXISTS"
	ResultNotFound  = "NOT_FOUND"
	ResultDeleted   = "DELETED"
	ResultTouched   = "TOUCHED"
	ResultOK        = "OK"
	ResultEnd       = "END"
	ResultError     = "ERROR"
)

// Reply prefixes, each followed by a single space on the wire.
const (
	PrefixClientError = "CLIENT_ERROR"
	PrefixServerError = "SERVER_ERROR"
	PrefixValue       = "VALUE"
	PrefixStat        = "STAT"
	PrefixVersion     = "VERSION"
)

// Protocol limits
const (
	MinKeyLength = 1
	MaxKeyLength = 250

	// MaxValueSize is the largest item memcached can be configured to hold (-I 1g).
	MaxValueSize = 1 << 30

	// MaxLineLength bounds a single reply line. Real lines are far shorter.
	MaxLineLength = 8 * 1024
)

// IsStorage reports whether c is one of the storage commands.
func (c Command) IsStorage() bool {
	switch c {
	case CmdSet, CmdAdd, CmdReplace, CmdAppend, CmdPrepend, CmdCAS:
		return true
	}
	return false
}

// IsRetrieval reports whether c is one of the retrieval commands.
func (c Command) IsRetrieval() bool {
	switch c {
	case CmdGet, CmdGets, CmdGat, CmdGats:
		return true
	}
	return false
}

// IsArithmetic reports whether c is incr or decr.
func (c Command) IsArithmetic() bool {
	return c == CmdIncr || c == CmdDecr
}

// returnsCAS reports whether retrieval replies to c carry a cas unique.
func (c Command) returnsCAS() bool {
	return c == CmdGets || c == CmdGats
}
