// File: api/completion.go
// Author: momentics <momentics@gmail.com>
//
// Completion record and the queue contract an event loop drains.

package api

// Completion is one notification dequeued from a completion source.
// Address is the stable native address of the overlapped control block
// that originated the operation; the loop uses it to find the waiter.
type Completion struct {
	Errno   uint32  // OS status of the finished operation, 0 on success
	Bytes   uint32  // bytes transferred
	Key     uintptr // completion key chosen at handle registration
	Address uintptr // overlapped control block address
}

// CompletionSource abstracts the kernel completion queue. On Windows the
// iocp.Port implements it; fake.CompletionSource implements it in memory
// for portable tests.
type CompletionSource interface {
	// Dequeue blocks up to timeoutMs milliseconds for one completion.
	// ok is false with a nil error on timeout; every other failure is
	// surfaced as an error.
	Dequeue(timeoutMs uint32) (c Completion, ok bool, err error)

	// Post enqueues a synthetic completion, usable from any thread to
	// wake the draining loop.
	Post(bytes uint32, key uintptr, address uintptr) error

	// Close releases the underlying queue.
	Close() error
}
