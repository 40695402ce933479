package ascii

// Request is a single ASCII protocol command.
// Which fields are used depends on Command:
//
//	storage:     Key, Flags, Expiration, Data (and CAS for cas)
//	retrieval:   Keys (and Expiration for gat/gats)
//	incr/decr:   Key, Delta
//	delete:      Key
//	touch:       Key, Expiration
//	flush_all:   Expiration as the optional delay (0 omits it)
//	stats:       Args
//	version/quit: nothing
type Request struct {
	Command    Command
	Key        string
	Keys       []string
	Flags      uint32
	Expiration int32
	Data       []byte
	CAS        uint64
	Delta      uint64
	Args       []string
}

// NewStorageRequest builds a set/add/replace/append/prepend/cas request.
func NewStorageRequest(cmd Command, key string, data []byte, flags uint32, expiration int32, cas uint64) *Request {
	return &Request{
		Command:    cmd,
		Key:        key,
		Data:       data,
		Flags:      flags,
		Expiration: expiration,
		CAS:        cas,
	}
}

// NewRetrievalRequest builds a get/gets/gat/gats request.
// expiration is only sent for gat and gats.
func NewRetrievalRequest(cmd Command, expiration int32, keys ...string) *Request {
	return &Request{
		Command:    cmd,
		Keys:       keys,
		Expiration: expiration,
	}
}

// NewArithmeticRequest builds an incr/decr request.
func NewArithmeticRequest(cmd Command, key string, delta uint64) *Request {
	return &Request{
		Command: cmd,
		Key:     key,
		Delta:   delta,
	}
}

// keys returns the keys the request carries, for validation.
func (r *Request) keys() []string {
	switch {
	case r.Command.IsRetrieval():
		return r.Keys
	case r.Command.IsStorage(), r.Command.IsArithmetic(), r.Command == CmdDelete, r.Command == CmdTouch:
		return []string{r.Key}
	}
	return nil
}

// requested reports whether key was asked for by a retrieval request.
func (r *Request) requested(key string) bool {
	for _, k := range r.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// ValidateKey checks if a key is valid for the ASCII protocol.
// Keys must be 1-250 bytes and contain no whitespace or control characters.
func ValidateKey(key string) error {
	if len(key) < MinKeyLength {
		return &InvalidKeyError{Key: key, Reason: "key is empty"}
	}

	if len(key) > MaxKeyLength {
		return &InvalidKeyError{Key: key, Reason: "key exceeds maximum length of 250 bytes"}
	}

	for i := 0; i < len(key); i++ {
		if b := key[i]; b <= ' ' || b == 0x7f {
			return &InvalidKeyError{Key: key, Reason: "key contains whitespace or control character"}
		}
	}

	return nil
}

// ValidateArgument checks a free-form command argument such as a stats group.
// Spaces are allowed ("detail on"), control characters are not.
func ValidateArgument(arg string) error {
	if arg == "" {
		return &InvalidArgumentError{Arg: arg, Reason: "argument is empty"}
	}
	for i := 0; i < len(arg); i++ {
		if b := arg[i]; b < ' ' || b == 0x7f {
			return &InvalidArgumentError{Arg: arg, Reason: "argument contains control character"}
		}
	}
	return nil
}
