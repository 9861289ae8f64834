// reactor: listening socket, epoll readiness dispatch and the
// per-descriptor connection table
package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/kfcemployee/httpd/server/db"
	"github.com/kfcemployee/httpd/server/protocol"
	"github.com/kfcemployee/httpd/server/resolve"
)

const (
	backlog     = 128
	maxEvents   = 128
	waitTimeout = 500 // ms, lets Run notice a cancelled context
)

// oneshot keeps events for one descriptor from firing while a worker still
// owns its connection; whoever finishes re-arms explicitly.
const (
	readEvents  = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT
	writeEvents = unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLONESHOT
)

// Reactor owns the listening socket, the epoll instance, the connection
// table and the shared connection counter.
type Reactor struct {
	epfd     int
	listenFd int
	conns    []*Conn
	users    atomic.Int64
	maxConns int64

	pool *Pool
	res  *resolve.Resolver
	dbp  db.Pool
	log  logrus.FieldLogger
}

// NewReactor binds addr:port and registers the listening socket. The
// connection table is sized to the descriptor limit like the sessions
// table of the worker pool it feeds.
func NewReactor(addr [4]byte, port, maxConns int, pool *Pool, res *resolve.Resolver, dbp db.Pool, log logrus.FieldLogger) (*Reactor, error) {
	lfd, err := listenSocket(addr, port)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(lfd)
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, lfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(lfd),
	})
	if err != nil {
		unix.Close(epfd)
		unix.Close(lfd)
		return nil, fmt.Errorf("register listener: %w", err)
	}

	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		rlim.Cur = 1 << 16
	}

	return &Reactor{
		epfd:     epfd,
		listenFd: lfd,
		conns:    make([]*Conn, rlim.Cur),
		maxConns: int64(maxConns),
		pool:     pool,
		res:      res,
		dbp:      dbp,
		log:      log,
	}, nil
}

// create a socket, bind and start listening
func listenSocket(addr [4]byte, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reuseaddr: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: port, Addr: addr}); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("nonblock: %w", err)
	}
	return fd, nil
}

// Users exposes the shared connection counter.
func (r *Reactor) Users() int64 {
	return r.users.Load()
}

// Run dispatches readiness events until ctx is done.
func (r *Reactor) Run(ctx context.Context) error {
	defer r.close()

	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(r.epfd, events, waitTimeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			ev := events[i].Events

			switch {
			case fd == r.listenFd:
				r.accept()
			case ev&(unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0:
				if c := r.conns[fd]; c != nil {
					c.CloseConn()
				}
			case ev&unix.EPOLLIN != 0:
				r.readable(fd)
			case ev&unix.EPOLLOUT != 0:
				r.writable(fd)
			}
		}
	}
}

func (r *Reactor) accept() {
	for {
		nfd, sa, err := unix.Accept(r.listenFd)
		if err != nil {
			if err != unix.EAGAIN {
				r.log.WithError(err).Warn("accept failed")
			}
			return
		}
		if r.users.Load() >= r.maxConns {
			r.log.Warn("connection limit reached, refusing client")
			unix.Close(nfd)
			continue
		}
		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}

		c := r.conns[nfd]
		if c == nil {
			c = NewConn(r.res, r.dbp, r, &r.users, r.log)
			r.conns[nfd] = c
		}
		c.Init(nfd, peerString(sa))

		err = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, nfd, &unix.EpollEvent{
			Events: readEvents,
			Fd:     int32(nfd),
		})
		if err != nil {
			r.log.WithError(err).WithField("fd", nfd).Warn("registering client failed")
			c.CloseConn()
		}
	}
}

// readable fills the connection's receive buffer and hands it to the
// worker pool. A full queue leaves the bytes buffered; the connection is
// retried on the client's next readiness event.
func (r *Reactor) readable(fd int) {
	c := r.conns[fd]
	if c == nil {
		return
	}
	if !c.ReadOnce() {
		r.log.WithFields(logrus.Fields{"fd": fd, "code": protocol.PeerClosed.String()}).Debug("connection dropped")
		c.CloseConn()
		return
	}
	if !r.pool.Append(c) {
		r.log.WithField("fd", fd).Warn("work queue full, deferring connection")
		if err := r.ModRead(fd); err != nil {
			c.CloseConn()
		}
	}
}

func (r *Reactor) writable(fd int) {
	c := r.conns[fd]
	if c == nil {
		return
	}
	if !c.Write() {
		c.CloseConn()
	}
}

// ModRead re-arms fd for the next readable event.
func (r *Reactor) ModRead(fd int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: readEvents,
		Fd:     int32(fd),
	})
}

// ModWrite arms fd for the next writable event.
func (r *Reactor) ModWrite(fd int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: writeEvents,
		Fd:     int32(fd),
	})
}

// Remove drops fd from the interest set before the connection closes it.
func (r *Reactor) Remove(fd int) {
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (r *Reactor) close() {
	unix.Close(r.listenFd)
	unix.Close(r.epfd)
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}
