// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides in-memory test doubles for the library's
// platform contracts.
package fake

import (
	"sync"
	"time"

	"github.com/momentics/hioload-iocp/api"
)

// infinite mirrors the kernel's INFINITE timeout sentinel.
const infinite = ^uint32(0)

// CompletionSource is an in-memory api.CompletionSource. Post enqueues,
// Dequeue drains with the same timeout contract as the real port.
type CompletionSource struct {
	mu     sync.Mutex
	closed bool
	ch     chan api.Completion
}

var _ api.CompletionSource = (*CompletionSource)(nil)

// NewCompletionSource builds a source buffering up to capacity posts.
func NewCompletionSource(capacity int) *CompletionSource {
	if capacity <= 0 {
		capacity = 128
	}
	return &CompletionSource{ch: make(chan api.Completion, capacity)}
}

// Post enqueues a completion record.
func (s *CompletionSource) Post(bytes uint32, key uintptr, address uintptr) error {
	return s.PostCompletion(api.Completion{Bytes: bytes, Key: key, Address: address})
}

// PostCompletion enqueues a fully specified record, including a nonzero
// errno when a test needs a failed operation.
func (s *CompletionSource) PostCompletion(c api.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return api.ErrSourceClosed
	}
	select {
	case s.ch <- c:
		return nil
	default:
		return api.NewError(api.ErrCodeInternal, "fake completion queue is full")
	}
}

// Dequeue blocks up to timeoutMs for one record; ok=false, err=nil on
// timeout, matching the port contract.
func (s *CompletionSource) Dequeue(timeoutMs uint32) (api.Completion, bool, error) {
	if timeoutMs == infinite {
		c, open := <-s.ch
		if !open {
			return api.Completion{}, false, api.ErrSourceClosed
		}
		return c, true, nil
	}
	select {
	case c, open := <-s.ch:
		if !open {
			return api.Completion{}, false, api.ErrSourceClosed
		}
		return c, true, nil
	case <-time.After(time.Duration(timeoutMs) * time.Millisecond):
		return api.Completion{}, false, nil
	}
}

// Close marks the source closed; later Posts fail, and Dequeue fails
// once the records already queued have been drained.
func (s *CompletionSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}
