// File: proactor/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package proactor

import (
	"context"

	"github.com/momentics/hioload-iocp/api"
)

// Callback runs on the loop thread once a waiter's completion arrives.
type Callback func(api.Completion)

// Future is the readiness handle for one tracked operation. It resolves
// exactly once, when the loop matches an incoming completion to the
// operation's address (or when Resolve delivers a synthetic one).
type Future struct {
	addr   uintptr
	done   chan struct{}
	res    api.Result[api.Completion]
	cancel func() error
	cb     Callback
}

var _ api.Cancelable = (*Future)(nil)

// Address is the overlapped address this future waits on.
func (f *Future) Address() uintptr { return f.addr }

// Done is closed when the completion has been delivered.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result snapshots the resolved outcome. Before resolution it returns a
// zero result whose Err reports the future as still pending; after
// resolution Value carries the completion record and Err its failure.
func (f *Future) Result() api.Result[api.Completion] {
	select {
	case <-f.done:
		return f.res
	default:
		return api.Result[api.Completion]{Err: api.ErrStillPending}
	}
}

// Completion returns the delivered record; ok is false while pending.
func (f *Future) Completion() (api.Completion, bool) {
	select {
	case <-f.done:
		return f.res.Value, true
	default:
		return api.Completion{}, false
	}
}

// Err reports the resolved completion's failure, nil while pending or on
// success. The numeric OS code travels in the structured error.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.res.Err
	default:
		return nil
	}
}

// Cancel forwards to the submission side's canceler. Cancellation is
// asynchronous: the completion, aborted or successful, still arrives
// through the port and resolves the future.
func (f *Future) Cancel() error {
	if f.cancel == nil {
		return api.ErrNotSupported
	}
	return f.cancel()
}

// Await blocks until resolution or context cancellation.
func (f *Future) Await(ctx context.Context) (api.Completion, error) {
	select {
	case <-f.done:
		return f.res.Value, nil
	case <-ctx.Done():
		return api.Completion{}, ctx.Err()
	}
}

// resolve is called once, from the loop thread, before dispatch.
func (f *Future) resolve(c api.Completion) {
	f.res = api.Result[api.Completion]{Value: c, Err: completionError(c)}
	close(f.done)
}

// completionError maps a record's OS status to the structured error.
func completionError(c api.Completion) error {
	if c.Errno == 0 {
		return nil
	}
	return api.NewError(api.ErrCodeOS, "operation completed with error").WithErrno(c.Errno)
}
