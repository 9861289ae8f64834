// incremental request parsing: a byte-level state machine over the
// receive buffer, no blocking reads and no copies
package protocol

import "bytes"

type checkState int

const (
	stateRequestLine checkState = iota
	stateHeader
	stateContent
)

// Request holds the fields parsed out of one request. Byte-slice fields
// alias the receive buffer and stay valid only until the next Reset.
type Request struct {
	Method        Method
	Path          []byte
	Version       []byte
	Host          []byte
	ContentLength int
	KeepAlive     bool
	Body          []byte
}

// Parser is the per-connection request state machine. It is fed the filled
// region of the receive buffer and keeps its own scan position, so partial
// requests can be resumed as more bytes arrive.
type Parser struct {
	cur   cursor
	state checkState
	req   Request
}

// Reset prepares the parser for the next request on a kept-alive socket.
func (p *Parser) Reset() {
	*p = Parser{}
}

// Request exposes the parsed fields; meaningful once Consume returned
// GetRequest.
func (p *Parser) Request() *Request {
	return &p.req
}

// Consume advances the state machine over buf, the filled region of the
// receive buffer (it must start with the same bytes as on the previous
// call). It returns NoRequest while the request is incomplete, BadRequest
// on malformed input, and GetRequest once a full request is buffered.
func (p *Parser) Consume(buf []byte) Code {
	p.cur.buf = buf
	for {
		if p.state == stateContent {
			if !p.cur.have(p.req.ContentLength) {
				return NoRequest
			}
			p.req.Body = p.cur.take(p.req.ContentLength)
			return GetRequest
		}

		line, st := p.cur.next()
		if st == lineOpen {
			return NoRequest
		}
		if st == lineBad {
			return BadRequest
		}

		switch p.state {
		case stateRequestLine:
			if code := p.parseRequestLine(line); code != NoRequest {
				return code
			}
		case stateHeader:
			if code := p.parseHeader(line); code != NoRequest {
				return code
			}
		}
	}
}

var schemePrefix = []byte("http://")

// parseRequestLine splits "METHOD URL VERSION" on single spaces. Only GET
// and POST make it past here; an absolute-form URL is reduced to its path.
func (p *Parser) parseRequestLine(line []byte) Code {
	sp := bytes.IndexByte(line, ' ')
	if sp == -1 {
		return BadRequest
	}
	method := lookupMethod(line[:sp])
	if method != MethodGet && method != MethodPost {
		return BadRequest
	}
	rest := line[sp+1:]

	sp = bytes.IndexByte(rest, ' ')
	if sp == -1 {
		return BadRequest
	}
	url := rest[:sp]
	version := rest[sp+1:]
	if len(version) == 0 {
		return BadRequest
	}

	if bytes.HasPrefix(url, schemePrefix) {
		url = url[len(schemePrefix):]
		slash := bytes.IndexByte(url, '/')
		if slash == -1 {
			return BadRequest
		}
		url = url[slash:]
	}
	if len(url) == 0 || url[0] != '/' {
		return BadRequest
	}

	p.req.Method = method
	p.req.Path = url
	p.req.Version = version
	p.state = stateHeader
	return NoRequest
}

var (
	hdrConnection    = []byte("Connection")
	hdrContentLength = []byte("Content-Length")
	hdrHost          = []byte("Host")
	keepAliveVal     = []byte("keep-alive")
)

// parseHeader handles one "Name: Value" line. An empty line ends the
// header block: a POST with a body still to come moves to the content
// state, anything else is a complete request.
func (p *Parser) parseHeader(line []byte) Code {
	if len(line) == 0 {
		if p.req.Method == MethodPost && p.req.ContentLength > 0 {
			p.state = stateContent
			return NoRequest
		}
		return GetRequest
	}

	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return BadRequest
	}
	key := line[:colon]
	val := line[colon+1:]
	for len(val) > 0 && (val[0] == ' ' || val[0] == '\t') {
		val = val[1:]
	}

	switch {
	case bytes.EqualFold(key, hdrConnection):
		if bytes.EqualFold(val, keepAliveVal) {
			p.req.KeepAlive = true
		}
	case bytes.EqualFold(key, hdrContentLength):
		if len(val) == 0 {
			return BadRequest
		}
		n := 0
		for _, c := range val {
			if c < '0' || c > '9' {
				return BadRequest
			}
			n = n*10 + int(c-'0')
		}
		p.req.ContentLength = n
	case bytes.EqualFold(key, hdrHost):
		p.req.Host = val
	default:
		// unrecognized header names are ignored
	}
	return NoRequest
}
