//go:build windows
// +build windows

// File: iocp/port_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion port: the process-wide queue on which the kernel deposits
// finished overlapped I/O. One port per event loop is the expected shape;
// handles of any kind (sockets, pipes, files) associate with it under an
// application-chosen key.

package iocp

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-iocp/api"
)

type portConfig struct {
	concurrency uint32
}

// PortOption customizes port creation.
type PortOption func(*portConfig)

// WithConcurrency bounds how many threads the kernel may release
// simultaneously for this port. Zero means one per processor.
func WithConcurrency(n uint32) PortOption {
	return func(c *portConfig) { c.concurrency = n }
}

// Port wraps an I/O completion port handle.
type Port struct {
	handle windows.Handle
}

var _ api.CompletionSource = (*Port)(nil)

// NewPort creates a fresh completion port.
func NewPort(opts ...PortOption) (*Port, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	var cfg portConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	h, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, cfg.concurrency)
	if err != nil {
		return nil, osError("CreateIoCompletionPort", errnoOf(err))
	}
	return &Port{handle: h}, nil
}

// Handle exposes the raw port handle.
func (p *Port) Handle() windows.Handle { return p.handle }

// Associate registers a kernel handle with the port under key. Every
// overlapped operation completing on the handle is then reported through
// this port, tagged with key.
func (p *Port) Associate(fd windows.Handle, key uintptr) error {
	h, err := windows.CreateIoCompletionPort(fd, p.handle, key, 0)
	if err != nil {
		return osError("CreateIoCompletionPort", errnoOf(err))
	}
	if h != p.handle {
		return api.NewError(api.ErrCodeInternal, "association returned a foreign port")
	}
	return nil
}

// Dequeue blocks up to timeoutMs milliseconds for one completion.
//
// A timeout is reported as ok=false with a nil error, and is recognized
// strictly as a null overlapped pointer paired with WAIT_TIMEOUT. A null
// pointer with any other code is a port-level error. A non-null pointer
// is always a completion, even when the operation itself failed; its
// status travels in Completion.Errno.
func (p *Port) Dequeue(timeoutMs uint32) (api.Completion, bool, error) {
	var (
		bytes uint32
		key   uintptr
		ov    *windows.Overlapped
	)
	err := windows.GetQueuedCompletionStatus(p.handle, &bytes, &key, &ov, timeoutMs)
	errno := errnoOf(err)
	if ov == nil {
		if errno == syscall.WAIT_TIMEOUT {
			return api.Completion{}, false, nil
		}
		if err == nil {
			return api.Completion{}, false, api.NewError(api.ErrCodeInternal, "dequeue returned no completion and no status")
		}
		return api.Completion{}, false, osError("GetQueuedCompletionStatus", errno)
	}
	return api.Completion{
		Errno:   uint32(errno),
		Bytes:   bytes,
		Key:     key,
		Address: uintptr(unsafe.Pointer(ov)),
	}, true, nil
}

// Post enqueues a synthetic completion. Safe from any thread; the event
// loop uses it to wake its own Dequeue.
func (p *Port) Post(bytes uint32, key uintptr, address uintptr) error {
	//lint:ignore unsafeptr address is a stable overlapped block address or zero
	ov := (*windows.Overlapped)(unsafe.Pointer(address))
	if err := windows.PostQueuedCompletionStatus(p.handle, bytes, key, ov); err != nil {
		return osError("PostQueuedCompletionStatus", errnoOf(err))
	}
	return nil
}

// Close destroys the port handle. Pending associations are severed; any
// thread blocked in Dequeue fails with an OS error.
func (p *Port) Close() error {
	if p.handle == 0 || p.handle == windows.InvalidHandle {
		return nil
	}
	err := windows.CloseHandle(p.handle)
	p.handle = windows.InvalidHandle
	if err != nil {
		return osError("CloseHandle", errnoOf(err))
	}
	return nil
}
