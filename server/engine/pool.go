package engine

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Task is one unit of connection work; anything with a Process method can
// be queued.
type Task interface {
	Process()
}

// Pool runs a fixed set of worker goroutines over a bounded FIFO queue.
//
// The channel is both the queue and the wakeup signal: Append never blocks
// and reports false at capacity, Stop closes the channel so the workers
// drain what is queued and exit.
type Pool struct {
	jobs chan Task
	wg   sync.WaitGroup
	log  logrus.FieldLogger

	mu      sync.RWMutex // guards sends against Stop closing the channel
	stopped bool
}

// NewPool spawns workers goroutines up front.
func NewPool(workers, depth int, log logrus.FieldLogger) (*Pool, error) {
	if workers <= 0 {
		return nil, errors.New("engine: pool needs at least one worker")
	}
	if depth <= 0 {
		return nil, errors.New("engine: queue depth must be positive")
	}

	p := &Pool{
		jobs: make(chan Task, depth),
		log:  log,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p, nil
}

// Append queues a task without blocking. False signals backpressure (the
// queue is at capacity) or a stopped pool; the caller decides whether to
// defer or drop.
func (p *Pool) Append(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.jobs <- t:
		return true
	default:
		return false
	}
}

// Stop closes the queue and waits for the workers to drain it and exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) run() {
	defer p.wg.Done()
	for t := range p.jobs {
		p.invoke(t)
	}
}

// invoke isolates one task: a failure inside Process must not take the
// worker down with it.
func (p *Pool) invoke(t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("panic", r).Error("task failed")
		}
	}()
	t.Process()
}
