package protocol

import "strconv"

// lookup table for status lines
// flat list instead of a map bc the served codes are fixed
var statusTable = [501][]byte{
	200: []byte("200 OK"),
	400: []byte("400 Bad Request"),
	403: []byte("403 Forbidden"),
	404: []byte("404 Not Found"),
	500: []byte("500 Internal Server Error"),
}

// canned HTML bodies for the error classifications
var errorForm = [501][]byte{
	400: []byte("<html><body>Your request has bad syntax or is inherently impossible to satisfy.</body></html>"),
	403: []byte("<html><body>You do not have permission to get file from this server.</body></html>"),
	404: []byte("<html><body>The requested file was not found on this server.</body></html>"),
	500: []byte("<html><body>There was an unusual problem serving the requested file.</body></html>"),
}

var emptyPage = []byte("<html><body></body></html>")

// for fast access
var (
	proto       = []byte("HTTP/1.1 ")
	crlf        = []byte("\r\n")
	contentLen  = []byte("Content-Length: ")
	contentType = []byte("Content-Type: text/html\r\n")
	connKeep    = []byte("Connection: keep-alive\r\n")
	connClose   = []byte("Connection: close\r\n")
)

// Builder appends one response into a fixed-size send buffer. Every append
// fails closed: once the buffer cannot hold the next piece the whole
// response is abandoned instead of writing out of bounds.
type Builder struct {
	buf []byte
	n   int
	bad bool
}

func (b *Builder) add(p []byte) {
	if b.bad || b.n+len(p) > len(b.buf) {
		b.bad = true
		return
	}
	b.n += copy(b.buf[b.n:], p)
}

func (b *Builder) addInt(n int) {
	var tmp [20]byte
	b.add(strconv.AppendInt(tmp[:0], int64(n), 10))
}

func (b *Builder) statusLine(status int) {
	st := statusTable[status]
	if st == nil {
		st = statusTable[500]
	}
	b.add(proto)
	b.add(st)
	b.add(crlf)
}

func (b *Builder) headers(bodyLen int, keepAlive bool) {
	b.add(contentLen)
	b.addInt(bodyLen)
	b.add(crlf)
	b.add(contentType)
	if keepAlive {
		b.add(connKeep)
	} else {
		b.add(connClose)
	}
	b.add(crlf)
}

// BuildResponse formats the header block (and, for error classifications,
// the canned body) for code into dst. fileSize is the length of the mapped
// file segment that follows the headers on the wire for FileRequest; a
// zero-size file degrades to a small inline body. It returns the number of
// bytes written and false when dst cannot hold the response.
func BuildResponse(dst []byte, code Code, keepAlive bool, fileSize int) (int, bool) {
	b := Builder{buf: dst}
	status := code.Status()
	b.statusLine(status)

	if code == FileRequest {
		if fileSize > 0 {
			b.headers(fileSize, keepAlive)
		} else {
			b.headers(len(emptyPage), keepAlive)
			b.add(emptyPage)
		}
	} else {
		form := errorForm[status]
		b.headers(len(form), keepAlive)
		b.add(form)
	}

	if b.bad {
		return 0, false
	}
	return b.n, true
}
