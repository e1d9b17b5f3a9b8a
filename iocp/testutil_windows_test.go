//go:build windows
// +build windows

// File: iocp/testutil_windows_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package iocp_test

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-iocp/iocp"
)

// markerAddr turns a test-owned pointer into a synthetic overlapped
// address for Post round trips.
func markerAddr(b *byte) uintptr {
	return uintptr(unsafe.Pointer(b))
}

var pipeSerial atomic.Uint32

// overlappedSocket creates an overlapped TCP socket of the given family.
func overlappedSocket(t *testing.T, family int32) windows.Handle {
	t.Helper()
	s, err := windows.WSASocket(family, windows.SOCK_STREAM, windows.IPPROTO_TCP, nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		t.Fatalf("WSASocket() error: %v", err)
	}
	t.Cleanup(func() { _ = windows.Closesocket(s) })
	return s
}

// listenerSocket binds an overlapped listener on loopback and reports
// the assigned port.
func listenerSocket(t *testing.T) (windows.Handle, uint16) {
	t.Helper()
	ls := overlappedSocket(t, windows.AF_INET)
	if err := iocp.BindLocal(ls, 2); err != nil {
		t.Fatalf("BindLocal() error: %v", err)
	}
	if err := windows.Listen(ls, 4); err != nil {
		t.Fatalf("Listen() error: %v", err)
	}
	sa, err := windows.Getsockname(ls)
	if err != nil {
		t.Fatalf("Getsockname() error: %v", err)
	}
	in4, ok := sa.(*windows.SockaddrInet4)
	if !ok {
		t.Fatalf("Getsockname() returned %T, want *SockaddrInet4", sa)
	}
	return ls, uint16(in4.Port)
}

// pipePair creates one overlapped named-pipe server handle and a
// synchronous client handle connected to it.
func pipePair(t *testing.T) (server, client windows.Handle) {
	t.Helper()
	name := fmt.Sprintf(`\\.\pipe\hioload-iocp-%d-%d`, os.Getpid(), pipeSerial.Add(1))
	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		t.Fatalf("UTF16PtrFromString() error: %v", err)
	}
	server, err = windows.CreateNamedPipe(namep,
		windows.PIPE_ACCESS_DUPLEX|windows.FILE_FLAG_OVERLAPPED,
		windows.PIPE_TYPE_BYTE|windows.PIPE_WAIT,
		1, 4096, 4096, 0, nil)
	if err != nil {
		t.Fatalf("CreateNamedPipe() error: %v", err)
	}
	t.Cleanup(func() { _ = windows.CloseHandle(server) })

	client, err = windows.CreateFile(namep,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		t.Fatalf("CreateFile(%s) error: %v", name, err)
	}
	t.Cleanup(func() { _ = windows.CloseHandle(client) })
	return server, client
}

// newPort creates a completion port cleaned up with the test.
func newPort(t *testing.T) *iocp.Port {
	t.Helper()
	p, err := iocp.NewPort()
	if err != nil {
		t.Fatalf("NewPort() error: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}
