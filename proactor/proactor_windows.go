//go:build windows
// +build windows

// File: proactor/proactor_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bridges overlapped operations to futures on Windows.

package proactor

import (
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-iocp/api"
	"github.com/momentics/hioload-iocp/iocp"
)

// Submit tracks a just-started operation and returns its future. The
// future's Cancel is wired to the operation's.
//
// A read verb that observed a broken pipe at submission never reaches
// the port: the operation is not-started and the peer is gone. Submit
// resolves such futures immediately so the waiter sees end-of-stream
// instead of hanging.
func (p *Proactor) Submit(op *iocp.Operation, cb Callback) *Future {
	f := p.Track(op.Address(), op.Cancel, cb)
	if op.Kind() == iocp.KindNotStarted && op.Error() == uint32(windows.ERROR_BROKEN_PIPE) {
		p.Resolve(op.Address(), api.Completion{Address: op.Address()})
	}
	return f
}

// ReadResult extracts a read-style operation's bytes after its future
// resolved. A read that broke at submission yields empty bytes, the
// end-of-stream convention.
func ReadResult(op *iocp.Operation) ([]byte, error) {
	if op.Kind() == iocp.KindNotStarted && op.Error() == uint32(windows.ERROR_BROKEN_PIPE) {
		return []byte{}, nil
	}
	buf, _, err := op.GetResult(false)
	return buf, err
}
