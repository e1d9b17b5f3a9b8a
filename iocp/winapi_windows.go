//go:build windows
// +build windows

// File: iocp/winapi_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime-acquired Win32 entry points. The connection-establishment
// extension routines are not exported by any import library; they are
// fetched once through SIO_GET_EXTENSION_FUNCTION_POINTER on a throwaway
// TCP socket. CancelIoEx is probed so that older kernels fall back to the
// per-thread CancelIo.

package iocp

import (
	"errors"
	"sync"
	"syscall"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-iocp/api"
)

var logw = logrus.WithField("component", "iocp")

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modws2_32   = windows.NewLazySystemDLL("ws2_32.dll")

	procReadFile            = modkernel32.NewProc("ReadFile")
	procWriteFile           = modkernel32.NewProc("WriteFile")
	procCancelIoEx          = modkernel32.NewProc("CancelIoEx")
	procWSAStringToAddressW = modws2_32.NewProc("WSAStringToAddressW")
)

// Extension-function GUIDs from mswsock.h.
var (
	guidAcceptEx     = windows.GUID{Data1: 0xb5367df1, Data2: 0xcbac, Data3: 0x11cf, Data4: [8]byte{0x95, 0xca, 0x00, 0x80, 0x5f, 0x48, 0xa1, 0x92}}
	guidConnectEx    = windows.GUID{Data1: 0x25a207b9, Data2: 0xddf3, Data3: 0x4660, Data4: [8]byte{0x8e, 0xe9, 0x76, 0xe5, 0x8c, 0x74, 0x06, 0x3e}}
	guidDisconnectEx = windows.GUID{Data1: 0x7fda2e11, Data2: 0x8630, Data3: 0x436f, Data4: [8]byte{0xa0, 0x31, 0xf5, 0x36, 0xa6, 0xee, 0xc1, 0x57}}
)

var (
	startupOnce sync.Once
	startupErr  error

	acceptExAddr     uintptr
	connectExAddr    uintptr
	disconnectExAddr uintptr
	cancelIoExOK     bool
)

// Startup acquires the extension-function pointers. It runs once; every
// constructor and submission verb calls it, so explicit use is optional.
// A missing AcceptEx, ConnectEx or DisconnectEx is a hard startup error.
func Startup() error {
	startupOnce.Do(initFunctionPointers)
	return startupErr
}

func initFunctionPointers() {
	var data windows.WSAData
	if err := windows.WSAStartup(uint32(0x202), &data); err != nil {
		startupErr = api.NewError(api.ErrCodeStartup, "WSAStartup").WithWrap(err)
		return
	}

	s, err := windows.WSASocket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP, nil, 0, 0)
	if err != nil {
		startupErr = api.NewError(api.ErrCodeStartup, "open probe socket").WithWrap(err)
		return
	}
	defer windows.Closesocket(s)

	for _, ext := range []struct {
		name string
		guid *windows.GUID
		dst  *uintptr
	}{
		{"AcceptEx", &guidAcceptEx, &acceptExAddr},
		{"ConnectEx", &guidConnectEx, &connectExAddr},
		{"DisconnectEx", &guidDisconnectEx, &disconnectExAddr},
	} {
		if err := loadExtension(s, ext.guid, ext.dst); err != nil {
			startupErr = api.NewError(api.ErrCodeStartup, "acquire "+ext.name).WithWrap(err)
			return
		}
	}

	// Absent only on pre-Vista kernels; CancelIo remains the fallback.
	cancelIoExOK = procCancelIoEx.Find() == nil
	if !cancelIoExOK {
		logw.Warn("CancelIoEx unavailable, falling back to CancelIo")
	}
}

func loadExtension(s windows.Handle, guid *windows.GUID, dst *uintptr) error {
	var n uint32
	return windows.WSAIoctl(s, windows.SIO_GET_EXTENSION_FUNCTION_POINTER,
		(*byte)(unsafe.Pointer(guid)), uint32(unsafe.Sizeof(*guid)),
		(*byte)(unsafe.Pointer(dst)), uint32(unsafe.Sizeof(*dst)),
		&n, nil, 0)
}

// cancelOverlapped requests cancellation of one pending operation, or of
// the whole handle when CancelIoEx is unavailable.
func cancelOverlapped(h windows.Handle, o *windows.Overlapped) error {
	if cancelIoExOK {
		return windows.CancelIoEx(h, o)
	}
	return windows.CancelIo(h)
}

// errnoOf extracts the numeric OS code from a syscall-layer error.
func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.Errno(windows.ERROR_GEN_FAILURE)
}

// promote maps selected OS codes to the dedicated connection sentinels.
func promote(errno syscall.Errno) error {
	switch errno {
	case windows.ERROR_CONNECTION_REFUSED, windows.WSAECONNREFUSED:
		return api.ErrConnectionRefused
	case windows.ERROR_CONNECTION_ABORTED, windows.WSAECONNABORTED:
		return api.ErrConnectionAborted
	case windows.ERROR_NETNAME_DELETED, windows.WSAECONNRESET:
		return api.ErrConnectionReset
	}
	return nil
}

// osError wraps a syscall failure in the structured error type, keeping
// the numeric code and any promoted sentinel reachable via errors.Is.
func osError(call string, errno syscall.Errno) error {
	e := api.NewError(api.ErrCodeOS, call).WithErrno(uint32(errno))
	if p := promote(errno); p != nil {
		return e.WithWrap(wrappedErrno{sentinel: p, errno: errno})
	}
	return e.WithWrap(errno)
}

// wrappedErrno keeps both the promoted sentinel and the raw errno
// visible to errors.Is.
type wrappedErrno struct {
	sentinel error
	errno    syscall.Errno
}

func (w wrappedErrno) Error() string { return w.sentinel.Error() + ": " + w.errno.Error() }

func (w wrappedErrno) Unwrap() []error { return []error{w.sentinel, w.errno} }
