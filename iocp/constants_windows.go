//go:build windows
// +build windows

// File: iocp/constants_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package iocp

import "golang.org/x/sys/windows"

// Kernel constants callers need when driving overlapped operations and
// the completion port.
const (
	ERROR_IO_PENDING                     = windows.ERROR_IO_PENDING
	FILE_SKIP_COMPLETION_PORT_ON_SUCCESS = windows.FILE_SKIP_COMPLETION_PORT_ON_SUCCESS
	INFINITE                             = windows.INFINITE
	SO_UPDATE_ACCEPT_CONTEXT             = windows.SO_UPDATE_ACCEPT_CONTEXT
	SO_UPDATE_CONNECT_CONTEXT            = windows.SO_UPDATE_CONNECT_CONTEXT
	TF_REUSE_SOCKET                      = windows.TF_REUSE_SOCKET
)

// InvalidHandle is the invalid-handle sentinel.
const InvalidHandle = windows.InvalidHandle

// SetFileCompletionNotificationModes controls whether a completion is
// queued when an operation on the handle succeeds without blocking.
func SetFileCompletionNotificationModes(handle windows.Handle, flags uint8) error {
	if err := windows.SetFileCompletionNotificationModes(handle, flags); err != nil {
		return osError("SetFileCompletionNotificationModes", errnoOf(err))
	}
	return nil
}
