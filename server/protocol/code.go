package protocol

// Code is the terminal classification of one request.
type Code int

const (
	// NoRequest means the buffer does not hold a complete request yet;
	// the connection stays armed for more input.
	NoRequest Code = iota
	// GetRequest means a complete request was parsed; resolution against
	// the document root decides the final outcome.
	GetRequest
	BadRequest
	NoResource
	Forbidden
	FileRequest
	InternalError
	// PeerClosed means the client went away; no response is attempted.
	PeerClosed
)

var codeNames = map[Code]string{
	NoRequest:     "no-request",
	GetRequest:    "get-request",
	BadRequest:    "bad-request",
	NoResource:    "no-resource",
	Forbidden:     "forbidden",
	FileRequest:   "file-request",
	InternalError: "internal-error",
	PeerClosed:    "peer-closed",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "unknown"
}

// Status maps a classification to the HTTP status it is answered with.
func (c Code) Status() int {
	switch c {
	case FileRequest:
		return 200
	case BadRequest:
		return 400
	case Forbidden:
		return 403
	case NoResource:
		return 404
	default:
		return 500
	}
}

// Method is an HTTP request verb.
type Method int

const (
	MethodUnknown Method = iota
	MethodGet
	MethodPost
	MethodHead
	MethodPut
	MethodDelete
	MethodTrace
	MethodOptions
	MethodConnect
	MethodPatch
)

var methodNames = []struct {
	tok []byte
	m   Method
}{
	{[]byte("GET"), MethodGet},
	{[]byte("POST"), MethodPost},
	{[]byte("HEAD"), MethodHead},
	{[]byte("PUT"), MethodPut},
	{[]byte("DELETE"), MethodDelete},
	{[]byte("TRACE"), MethodTrace},
	{[]byte("OPTIONS"), MethodOptions},
	{[]byte("CONNECT"), MethodConnect},
	{[]byte("PATCH"), MethodPatch},
}

// lookupMethod matches tok case-sensitively against the verb table.
func lookupMethod(tok []byte) Method {
	for _, e := range methodNames {
		if string(tok) == string(e.tok) {
			return e.m
		}
	}
	return MethodUnknown
}
