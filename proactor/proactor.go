// File: proactor/proactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion demultiplexer. One goroutine owns RunOnce; Wakeup may be
// called from anywhere and posts a synthetic completion under a reserved
// key so the owning thread returns from its timed wait.

package proactor

import (
	"sync"
	"unsafe"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-iocp/api"
)

// DefaultWakeKey tags synthetic wakeup posts. Handles must not be
// associated with the port under this key.
const DefaultWakeKey uintptr = 0xfeed

type config struct {
	wakeKey       uintptr
	dispatchBatch int
	log           *logrus.Entry
}

// Option customizes proactor initialization.
type Option func(*config)

// WithWakeKey overrides the reserved wakeup completion key.
func WithWakeKey(key uintptr) Option {
	return func(c *config) { c.wakeKey = key }
}

// WithDispatchBatch bounds how many completions one RunOnce drains.
func WithDispatchBatch(n int) Option {
	return func(c *config) { c.dispatchBatch = n }
}

// WithLogger replaces the component logger.
func WithLogger(log *logrus.Entry) Option {
	return func(c *config) { c.log = log }
}

// Proactor owns the waiter table and the ready-dispatch backlog.
type Proactor struct {
	src api.CompletionSource

	mu      sync.Mutex
	waiters map[uintptr]*Future

	// ready is drained only by the loop thread; the FIFO keeps callback
	// order equal to completion arrival order.
	ready *queue.Queue

	wakeKey uintptr
	// wakeMarker's address tags wakeup posts. The port contract reserves
	// null addresses for timeouts and errors, so wakeups ride on a real
	// pointer the proactor owns for its whole lifetime.
	wakeMarker *byte
	batch      int
	log        *logrus.Entry
}

// New builds a proactor over a completion source.
func New(src api.CompletionSource, opts ...Option) *Proactor {
	cfg := config{
		wakeKey:       DefaultWakeKey,
		dispatchBatch: 64,
		log:           logrus.WithField("component", "proactor"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Proactor{
		src:        src,
		waiters:    make(map[uintptr]*Future),
		ready:      queue.New(),
		wakeKey:    cfg.wakeKey,
		wakeMarker: new(byte),
		batch:      cfg.dispatchBatch,
		log:        cfg.log,
	}
}

// wakeAddr is the stable marker address wakeup posts carry.
func (p *Proactor) wakeAddr() uintptr {
	return uintptr(unsafe.Pointer(p.wakeMarker))
}

// Track registers a waiter for the overlapped address. cancel, when
// non-nil, backs Future.Cancel; cb, when non-nil, runs on the loop
// thread after resolution.
func (p *Proactor) Track(addr uintptr, cancel func() error, cb Callback) *Future {
	f := &Future{
		addr:   addr,
		done:   make(chan struct{}),
		cancel: cancel,
		cb:     cb,
	}
	p.mu.Lock()
	p.waiters[addr] = f
	p.mu.Unlock()
	return f
}

// Waiting reports how many futures have not resolved yet.
func (p *Proactor) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Resolve delivers a completion to the waiter registered for addr,
// bypassing the source. The loop thread uses it for synthetic results,
// such as the end-of-stream of a read that broke at submission. Returns
// false when no waiter is registered.
//
// Must run on the loop thread; dispatch happens on the next RunOnce.
func (p *Proactor) Resolve(addr uintptr, c api.Completion) bool {
	p.mu.Lock()
	f := p.waiters[addr]
	delete(p.waiters, addr)
	p.mu.Unlock()
	if f == nil {
		return false
	}
	f.resolve(c)
	p.ready.Add(f)
	return true
}

// Wakeup forces the loop thread out of a timed RunOnce wait. Safe from
// any thread.
func (p *Proactor) Wakeup() error {
	return p.src.Post(0, p.wakeKey, p.wakeAddr())
}

// RunOnce performs one loop iteration: a timed dequeue, a zero-timeout
// drain of whatever else is queued (bounded by the dispatch batch), then
// callback dispatch in arrival order. It returns the number of futures
// resolved this iteration.
func (p *Proactor) RunOnce(timeoutMs uint32) (int, error) {
	resolved := 0
	wait := timeoutMs
	for i := 0; i < p.batch; i++ {
		c, ok, err := p.src.Dequeue(wait)
		if err != nil {
			p.dispatch()
			return resolved, err
		}
		if !ok {
			break
		}
		wait = 0
		if c.Address == p.wakeAddr() && c.Key == p.wakeKey {
			continue
		}
		if p.Resolve(c.Address, c) {
			resolved++
		} else {
			p.log.WithFields(logrus.Fields{
				"address": c.Address,
				"key":     c.Key,
				"errno":   c.Errno,
			}).Warn("completion without a registered waiter, dropping")
		}
	}
	p.dispatch()
	return resolved, nil
}

// dispatch drains the ready backlog, firing callbacks in FIFO order.
func (p *Proactor) dispatch() {
	for p.ready.Length() > 0 {
		f := p.ready.Remove().(*Future)
		if f.cb != nil {
			f.cb(f.res.Value)
		}
	}
}
