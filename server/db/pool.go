// acquire/release contract of the external database connection pool; the
// engine checks one handle out per processed request and always returns it
package db

import "errors"

// ErrClosed is returned by Acquire once the pool has been shut down.
var ErrClosed = errors.New("db: pool closed")

// Handle is one logical database connection. Its concrete type belongs to
// the pool implementation; the engine only holds it for the duration of a
// single request.
type Handle any

// Pool hands out handles one at a time. Every successful Acquire must be
// paired with exactly one Release before the worker returns to its loop.
type Pool interface {
	Acquire() (Handle, error)
	Release(Handle)
}

// FixedPool is a channel-backed pool of pre-built handles. Acquire blocks
// while all handles are checked out, which is the backpressure the workers
// expect from the external pool.
type FixedPool struct {
	handles chan Handle
}

// NewFixedPool wraps the given handles. The pool never creates or closes
// handles itself.
func NewFixedPool(handles ...Handle) *FixedPool {
	p := &FixedPool{handles: make(chan Handle, len(handles))}
	for _, h := range handles {
		p.handles <- h
	}
	return p
}

func (p *FixedPool) Acquire() (Handle, error) {
	h, ok := <-p.handles
	if !ok {
		return nil, ErrClosed
	}
	return h, nil
}

func (p *FixedPool) Release(h Handle) {
	if h == nil {
		return
	}
	p.handles <- h
}

// Close wakes pending Acquire calls with ErrClosed. All handles must be
// released before Close.
func (p *FixedPool) Close() {
	close(p.handles)
}
