package ascii

// Status classifies a reply line.
type Status uint8

const (
	StatusUnknown Status = iota

	// Literal replies
	StatusStored
	StatusNotStored
	StatusExists
	StatusNotFound
	StatusDeleted
	StatusTouched
	StatusOK
	StatusEnd

	// Error replies
	StatusError
	StatusClientError
	StatusServerError

	// Structured replies
	StatusValue
	StatusStat
	StatusVersion
	StatusNumber
)

var statusNames = [...]string{
	StatusUnknown:     "UNKNOWN",
	StatusStored:      ResultStored,
	StatusNotStored:   ResultNotStored,
	StatusExists:      ResultExists,
	StatusNotFound:    ResultNotFound,
	StatusDeleted:     ResultDeleted,
	StatusTouched:     ResultTouched,
	StatusOK:          ResultOK,
	StatusEnd:         ResultEnd,
	StatusError:       ResultError,
	StatusClientError: PrefixClientError,
	StatusServerError: PrefixServerError,
	StatusValue:       PrefixValue,
	StatusStat:        PrefixStat,
	StatusVersion:     PrefixVersion,
	StatusNumber:      "NUMBER",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "UNKNOWN"
}

// Value is one VALUE block of a retrieval reply.
type Value struct {
	Key   string
	Flags uint32
	CAS   uint64 // only set for gets and gats
	Data  []byte
}

// Response is a decoded reply.
//
// Status is the classification of the reply:
//   - storage: StatusStored, StatusNotStored, StatusExists, StatusNotFound
//   - retrieval: StatusEnd, with Values holding the hits in wire order
//   - incr/decr: StatusNumber with Number, or StatusNotFound
//   - delete: StatusDeleted, StatusNotFound
//   - touch: StatusTouched, StatusNotFound
//   - flush_all: StatusOK
//   - version: StatusVersion with Version
//   - stats: StatusEnd with Stats
//
// Error is set for ERROR, CLIENT_ERROR and SERVER_ERROR replies; Status is
// then StatusError, StatusClientError or StatusServerError.
type Response struct {
	Status  Status
	Values  []Value
	Number  uint64
	Version string
	Stats   map[string]string
	Error   error
}

// IsMiss returns true for NOT_FOUND and for retrievals that returned no value.
func (r *Response) IsMiss() bool {
	return r.Status == StatusNotFound || (r.Status == StatusEnd && r.Stats == nil && len(r.Values) == 0)
}

// IsNotStored returns true for NOT_STORED: add on an existing key,
// replace/append/prepend on a missing key.
func (r *Response) IsNotStored() bool {
	return r.Status == StatusNotStored
}

// IsCASConflict returns true for EXISTS: the item changed since it was read.
func (r *Response) IsCASConflict() bool {
	return r.Status == StatusExists
}

// HasError returns true if the response carries a protocol error.
func (r *Response) HasError() bool {
	return r.Error != nil
}

// Lookup returns the value for key, if present.
func (r *Response) Lookup(key string) (Value, bool) {
	for _, v := range r.Values {
		if v.Key == key {
			return v, true
		}
	}
	return Value{}, false
}
