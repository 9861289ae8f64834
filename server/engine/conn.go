// per-connection state: receive/send buffers, parser, write vector and the
// mapped file body
package engine

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kfcemployee/httpd/server/db"
	"github.com/kfcemployee/httpd/server/protocol"
	"github.com/kfcemployee/httpd/server/resolve"
)

const (
	readBufSize  = 2048
	writeBufSize = 1024
)

// notifier is what a connection needs back from the reactor: re-arming the
// socket for the next readiness event and releasing a finished descriptor
// from the interest set.
type notifier interface {
	ModRead(fd int) error
	ModWrite(fd int) error
	Remove(fd int)
}

// Conn drives one client connection. Its buffers, parser state and file
// mapping are owned by whichever single goroutine is currently executing
// one of its methods; the reactor's oneshot arming guarantees there is at
// most one.
type Conn struct {
	fd   int
	peer string

	readBuf []byte
	readIdx int
	parser  protocol.Parser

	writeBuf  []byte
	writeIdx  int
	file      *fileBody
	toSend    int
	sent      int
	keepAlive bool

	res   *resolve.Resolver
	dbp   db.Pool
	nt    notifier
	users *atomic.Int64
	log   logrus.FieldLogger
}

// NewConn allocates the fixed buffers once; the connection is then reused
// across Init/CloseConn cycles for whatever descriptor lands on its slot.
func NewConn(res *resolve.Resolver, dbp db.Pool, nt notifier, users *atomic.Int64, log logrus.FieldLogger) *Conn {
	return &Conn{
		fd:       -1,
		readBuf:  make([]byte, readBufSize),
		writeBuf: make([]byte, writeBufSize),
		res:      res,
		dbp:      dbp,
		nt:       nt,
		users:    users,
		log:      log,
	}
}

// Init binds a freshly accepted descriptor and bumps the shared connection
// counter.
func (c *Conn) Init(fd int, peer string) {
	c.fd = fd
	c.peer = peer
	c.users.Add(1)
	c.reset()
	c.log.WithFields(logrus.Fields{"fd": fd, "peer": peer}).Debug("connection opened")
}

// reset restores the parsing and response state for the next request on
// the same socket.
func (c *Conn) reset() {
	c.readIdx = 0
	c.writeIdx = 0
	c.toSend = 0
	c.sent = 0
	c.keepAlive = false
	c.parser.Reset()
	c.file.release()
	c.file = nil
}

// ReadOnce drains the socket into the receive buffer until it would block.
// False means the peer closed or the read failed; the caller tears the
// connection down.
func (c *Conn) ReadOnce() bool {
	for {
		if c.readIdx >= len(c.readBuf) {
			// no room left; Process answers the overflow
			return true
		}
		n, err := unix.Read(c.fd, c.readBuf[c.readIdx:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err == unix.EAGAIN
		}
		if n == 0 {
			return false
		}
		c.readIdx += n
	}
}

// Process is the worker-side entry point: run the parser to a terminal
// classification, resolve the target, build the response and arm the
// socket for writing. NoRequest leaves the connection waiting for input.
// A database handle is checked out for the duration of the call and
// released on every exit path.
func (c *Conn) Process() {
	if c.dbp != nil {
		h, err := c.dbp.Acquire()
		if err != nil {
			c.log.WithError(err).Error("db acquire failed")
			c.respond(protocol.InternalError)
			return
		}
		defer c.dbp.Release(h)
	}

	code := c.parser.Consume(c.readBuf[:c.readIdx])
	if code == protocol.NoRequest {
		if c.readIdx < len(c.readBuf) {
			if err := c.nt.ModRead(c.fd); err != nil {
				c.CloseConn()
			}
			return
		}
		// the receive buffer is full without holding a complete request,
		// so waiting for more bytes can never finish it
		code = protocol.BadRequest
	}
	if code == protocol.GetRequest {
		code = c.finish()
	}
	c.respond(code)
}

// respond turns a terminal classification into wire bytes and arms the
// socket for the write phase.
func (c *Conn) respond(code protocol.Code) {
	c.log.WithFields(logrus.Fields{"fd": c.fd, "code": code.String()}).Debug("request classified")
	if !c.buildResponse(code) {
		c.CloseConn()
		return
	}
	if err := c.nt.ModWrite(c.fd); err != nil {
		c.CloseConn()
	}
}

// finish resolves a fully parsed request against the document root and
// maps the file body.
func (c *Conn) finish() protocol.Code {
	req := c.parser.Request()

	code, path, size := c.res.Resolve(req)
	if code != protocol.FileRequest {
		return code
	}

	body, err := mapFile(path, size)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("mapping file failed")
		return protocol.InternalError
	}
	c.file = body
	return protocol.FileRequest
}

// buildResponse fills the send buffer and the write vector counters. False
// means the send buffer could not hold the response.
func (c *Conn) buildResponse(code protocol.Code) bool {
	// a parse error closes the connection no matter what the client asked
	keep := c.parser.Request().KeepAlive && code != protocol.BadRequest

	if code != protocol.FileRequest {
		c.file.release()
		c.file = nil
	}

	n, ok := protocol.BuildResponse(c.writeBuf, code, keep, len(c.fileBytes()))
	if !ok {
		c.file.release()
		c.file = nil
		return false
	}
	c.writeIdx = n
	c.keepAlive = keep
	c.toSend = n + len(c.fileBytes())
	c.sent = 0
	return true
}

func (c *Conn) fileBytes() []byte {
	if c.file == nil {
		return nil
	}
	return c.file.data
}

// Write flushes the pending segments with a scatter write. True keeps the
// connection alive (either re-armed for the next write or reset for the
// next request); false tells the caller to tear it down.
func (c *Conn) Write() bool {
	for {
		n, err := unix.Writev(c.fd, c.segments())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return c.nt.ModWrite(c.fd) == nil
			}
			c.file.release()
			c.file = nil
			return false
		}
		c.sent += n
		if c.sent < c.toSend {
			continue
		}

		c.file.release()
		c.file = nil
		if !c.keepAlive {
			return false
		}
		c.reset()
		return c.nt.ModRead(c.fd) == nil
	}
}

// segments rebuilds the write vector from the progress counter: header
// bytes still pending first, then the mapped file body.
func (c *Conn) segments() [][]byte {
	hdr := c.writeBuf[:c.writeIdx]
	file := c.fileBytes()
	if c.sent < len(hdr) {
		if len(file) > 0 {
			return [][]byte{hdr[c.sent:], file}
		}
		return [][]byte{hdr[c.sent:]}
	}
	return [][]byte{file[c.sent-len(hdr):]}
}

// CloseConn releases the mapping, removes the descriptor from the reactor,
// closes the socket and decrements the shared connection counter.
func (c *Conn) CloseConn() {
	if c.fd < 0 {
		return
	}
	c.file.release()
	c.file = nil
	c.nt.Remove(c.fd)
	_ = unix.Close(c.fd)
	c.users.Add(-1)
	c.log.WithFields(logrus.Fields{"fd": c.fd, "peer": c.peer}).Debug("connection closed")
	c.fd = -1
}
