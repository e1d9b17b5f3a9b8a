//go:build windows
// +build windows

// File: iocp/operation_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Overlapped operation: one asynchronous request in flight against a
// kernel handle. The OVERLAPPED control block sits first in the struct,
// so the address the kernel hands back at completion is the address of
// the operation object itself. That address must stay stable for the
// object's whole lifetime; nothing here ever copies an Operation.

package iocp

import (
	"errors"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-iocp/api"
)

// Kind tags how an operation's completion is interpreted.
type Kind int32

const (
	KindNone Kind = iota
	KindNotStarted
	KindRead
	KindWrite
	KindAccept
	KindConnect
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNotStarted:
		return "not-started"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindAccept:
		return "accept"
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	}
	return "invalid"
}

// Operation owns one overlapped I/O request. A single object carries
// exactly one submission attempt; reuse is rejected. Buffers referenced
// by a live operation must not be touched until completion is observed
// or Free has settled the request.
type Operation struct {
	// Kernel control block. Must remain the first field: the completion
	// port reports this address, and Address() exposes it for waiter
	// lookup.
	o windows.Overlapped

	handle windows.Handle
	kind   atomic.Int32
	errno  atomic.Uint32

	// readBuf is owned by the operation until GetResult hands it to the
	// caller. writeBuf is borrowed from the caller and pins the caller's
	// bytes until the kernel settles.
	readBuf  []byte
	writeBuf []byte

	freeOnce sync.Once
}

// NewOperation creates an idle operation with a fresh manual-reset,
// initially unsignaled event.
func NewOperation() (*Operation, error) {
	return NewOperationEvent(windows.InvalidHandle)
}

// NewOperationEvent creates an idle operation using the given event
// handle. InvalidHandle requests an auto-created event; zero means no
// event at all. Whatever event ends up attached is closed by Free.
func NewOperationEvent(event windows.Handle) (*Operation, error) {
	if err := Startup(); err != nil {
		return nil, err
	}
	if event == windows.InvalidHandle {
		ev, err := windows.CreateEvent(nil, 1, 0, nil)
		if err != nil {
			return nil, osError("CreateEvent", errnoOf(err))
		}
		event = ev
	}
	op := &Operation{}
	if event != 0 {
		op.o.HEvent = event
	}
	// Safety net for callers that drop a live operation; well-behaved
	// code calls Free explicitly.
	runtime.SetFinalizer(op, (*Operation).Free)
	return op, nil
}

// Address is the stable identity of the native control block. Completion
// records carry the same value, making this the lookup key between the
// port and the waiter.
func (op *Operation) Address() uintptr {
	return uintptr(unsafe.Pointer(&op.o))
}

// Error reports the OS code recorded by the last submission or result
// retrieval, 0 on success-equivalent codes.
func (op *Operation) Error() uint32 { return op.errno.Load() }

// Event exposes the event handle attached to the control block.
func (op *Operation) Event() windows.Handle { return op.o.HEvent }

// Handle reports the kernel handle the operation was launched against.
func (op *Operation) Handle() windows.Handle { return op.handle }

// Kind reports the operation kind.
func (op *Operation) Kind() Kind { return Kind(op.kind.Load()) }

// Pending is true while a successfully started operation awaits its
// completion-port notification.
func (op *Operation) Pending() bool {
	return !op.completedByOS() && Kind(op.kind.Load()) != KindNotStarted
}

// completedByOS mirrors HasOverlappedIoCompleted: the kernel clears the
// STATUS_PENDING marker in the control block once the request settles.
func (op *Operation) completedByOS() bool {
	return atomic.LoadUintptr(&op.o.Internal) != uintptr(windows.STATUS_PENDING)
}

// begin enforces the single-submission invariant and stamps the target
// handle.
func (op *Operation) begin(kind Kind, handle windows.Handle) error {
	if err := Startup(); err != nil {
		return err
	}
	if !op.kind.CompareAndSwap(int32(KindNone), int32(kind)) {
		return api.ErrAlreadyAttempted
	}
	op.handle = handle
	return nil
}

// afterStart interprets a submission verb's OS status. readKind enables
// the two read-only transmutations: ERROR_MORE_DATA counts as success,
// and ERROR_BROKEN_PIPE downgrades to not-started without surfacing an
// error so the caller can deliver end-of-stream.
func (op *Operation) afterStart(call string, errno syscall.Errno, readKind bool) error {
	op.errno.Store(uint32(errno))
	switch errno {
	case 0, windows.ERROR_IO_PENDING:
		return nil
	case windows.ERROR_MORE_DATA:
		if readKind {
			return nil
		}
	case windows.ERROR_BROKEN_PIPE:
		if readKind {
			op.kind.Store(int32(KindNotStarted))
			return nil
		}
	}
	op.kind.Store(int32(KindNotStarted))
	return osError(call, errno)
}

// ReadFile starts an overlapped read of up to size bytes. The owned
// buffer is allocated at least one byte long so the kernel always gets a
// valid receive address, even for zero-byte reads.
func (op *Operation) ReadFile(handle windows.Handle, size uint32) error {
	if err := op.begin(KindRead, handle); err != nil {
		return err
	}
	alloc := size
	if alloc == 0 {
		alloc = 1
	}
	buf := make([]byte, alloc)
	op.readBuf = buf

	var nread uint32
	r1, _, e1 := syscall.SyscallN(procReadFile.Addr(),
		uintptr(handle),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(size),
		uintptr(unsafe.Pointer(&nread)),
		uintptr(unsafe.Pointer(&op.o)))
	var errno syscall.Errno
	if r1 == 0 {
		errno = e1
	}
	return op.afterStart("ReadFile", errno, true)
}

// Recv starts an overlapped socket receive, ReadFile's WSARecv twin.
func (op *Operation) Recv(s windows.Handle, size uint32, flags uint32) error {
	if err := op.begin(KindRead, s); err != nil {
		return err
	}
	alloc := size
	if alloc == 0 {
		alloc = 1
	}
	buf := make([]byte, alloc)
	op.readBuf = buf

	wsabuf := windows.WSABuf{Len: size, Buf: &buf[0]}
	var nread uint32
	fl := flags
	err := windows.WSARecv(s, &wsabuf, 1, &nread, &fl, &op.o, nil)
	return op.afterStart("WSARecv", errnoOf(err), true)
}

// WriteFile starts an overlapped write of the borrowed buffer. The
// borrow must outlive the operation; Free blocks on settlement before
// releasing it. Buffers longer than one DWORD transfer are rejected
// before any syscall.
func (op *Operation) WriteFile(handle windows.Handle, buf []byte) error {
	if uint64(len(buf)) > math.MaxUint32 {
		return api.ErrBufferTooLarge
	}
	if err := op.begin(KindWrite, handle); err != nil {
		return err
	}
	op.writeBuf = buf

	var base *byte
	if len(buf) > 0 {
		base = &buf[0]
	}
	var written uint32
	r1, _, e1 := syscall.SyscallN(procWriteFile.Addr(),
		uintptr(handle),
		uintptr(unsafe.Pointer(base)),
		uintptr(uint32(len(buf))),
		uintptr(unsafe.Pointer(&written)),
		uintptr(unsafe.Pointer(&op.o)))
	var errno syscall.Errno
	if r1 == 0 {
		errno = e1
	}
	return op.afterStart("WriteFile", errno, false)
}

// Send starts an overlapped socket send, WriteFile's WSASend twin.
func (op *Operation) Send(s windows.Handle, buf []byte, flags uint32) error {
	if uint64(len(buf)) > math.MaxUint32 {
		return api.ErrBufferTooLarge
	}
	if err := op.begin(KindWrite, s); err != nil {
		return err
	}
	op.writeBuf = buf

	wsabuf := windows.WSABuf{Len: uint32(len(buf))}
	if len(buf) > 0 {
		wsabuf.Buf = &buf[0]
	}
	var written uint32
	err := windows.WSASend(s, &wsabuf, 1, &written, flags, &op.o, nil)
	return op.afterStart("WSASend", errnoOf(err), false)
}

// AcceptEx starts an overlapped accept on the listening socket, handing
// the connection to the pre-created accept socket. The owned buffer is
// sized for the local and remote address blocks AcceptEx fills in.
func (op *Operation) AcceptEx(listen, accept windows.Handle) error {
	if err := op.begin(KindAccept, listen); err != nil {
		return err
	}
	addrLen := uint32(unsafe.Sizeof(windows.RawSockaddrInet6{})) + 16
	buf := make([]byte, addrLen*2)
	op.readBuf = buf

	var received uint32
	r1, _, e1 := syscall.SyscallN(acceptExAddr,
		uintptr(listen),
		uintptr(accept),
		uintptr(unsafe.Pointer(&buf[0])),
		0,
		uintptr(addrLen),
		uintptr(addrLen),
		uintptr(unsafe.Pointer(&received)),
		uintptr(unsafe.Pointer(&op.o)))
	var errno syscall.Errno
	if r1 == 0 {
		errno = e1
	}
	return op.afterStart("AcceptEx", errno, false)
}

// ConnectEx starts an overlapped connect to addr. The socket must
// already be bound (see BindLocal). A host that does not parse as a
// numeric address fails with the OS parse error and leaves the object
// not-started; no name resolution is ever attempted.
func (op *Operation) ConnectEx(s windows.Handle, addr AddrTuple) error {
	if err := op.begin(KindConnect, s); err != nil {
		return err
	}
	rsa, salen, err := addr.sockaddr()
	if err != nil {
		var se *api.Error
		if errors.As(err, &se) {
			op.errno.Store(se.Errno)
		}
		op.kind.Store(int32(KindNotStarted))
		return err
	}

	r1, _, e1 := syscall.SyscallN(connectExAddr,
		uintptr(s),
		uintptr(unsafe.Pointer(&rsa)),
		uintptr(salen),
		0, 0, 0,
		uintptr(unsafe.Pointer(&op.o)))
	var errno syscall.Errno
	if r1 == 0 {
		errno = e1
	}
	return op.afterStart("ConnectEx", errno, false)
}

// DisconnectEx starts an overlapped disconnect. TF_REUSE_SOCKET in flags
// returns the socket to a connectable state on completion.
func (op *Operation) DisconnectEx(s windows.Handle, flags uint32) error {
	if err := op.begin(KindDisconnect, s); err != nil {
		return err
	}
	r1, _, e1 := syscall.SyscallN(disconnectExAddr,
		uintptr(s),
		uintptr(unsafe.Pointer(&op.o)),
		uintptr(flags),
		0)
	var errno syscall.Errno
	if r1 == 0 {
		errno = e1
	}
	return op.afterStart("DisconnectEx", errno, false)
}

// GetResult retrieves the operation's outcome. With wait set it blocks
// until the kernel settles a still-pending request.
//
// Read kinds return the owned buffer truncated to exactly the bytes
// transferred; the original allocation length is not preserved. Write
// kinds return the transfer count. Accept, connect and disconnect return
// zero values. ERROR_MORE_DATA is a truncated-read success. A broken
// pipe is end-of-stream for read kinds and an OS error for everything
// else, accept included.
func (op *Operation) GetResult(wait bool) ([]byte, uint32, error) {
	switch Kind(op.kind.Load()) {
	case KindNone:
		return nil, 0, api.ErrNotYetAttempted
	case KindNotStarted:
		return nil, 0, api.ErrFailedToStart
	}

	var transferred uint32
	err := windows.GetOverlappedResult(op.handle, &op.o, &transferred, wait)
	errno := errnoOf(err)
	op.errno.Store(uint32(errno))

	switch errno {
	case 0, windows.ERROR_MORE_DATA:
	case windows.ERROR_BROKEN_PIPE:
		if Kind(op.kind.Load()) != KindRead {
			return nil, 0, osError("GetOverlappedResult", errno)
		}
	default:
		return nil, 0, osError("GetOverlappedResult", errno)
	}

	switch Kind(op.kind.Load()) {
	case KindRead:
		buf := op.readBuf[:transferred]
		return buf, transferred, nil
	case KindAccept, KindConnect, KindDisconnect:
		return nil, 0, nil
	default:
		return nil, transferred, nil
	}
}

// Cancel requests cancellation of a pending operation. Not-started and
// already-settled operations are no-ops, and ERROR_NOT_FOUND (the
// request settled in between) is success. Cancel never waits: the final
// status, aborted or otherwise, still arrives through the port.
func (op *Operation) Cancel() error {
	if Kind(op.kind.Load()) == KindNotStarted {
		return nil
	}
	if op.completedByOS() {
		return nil
	}
	err := cancelOverlapped(op.handle, &op.o)
	if err != nil && errnoOf(err) != windows.ERROR_NOT_FOUND {
		return osError("CancelIoEx", errnoOf(err))
	}
	return nil
}

// Free settles and releases the operation. If a request is still live,
// Free requests cancellation through CancelIoEx and, when that request is
// accepted, blocks until the kernel confirms settlement; releasing a
// buffer the kernel still writes into would corrupt the process. When
// CancelIoEx is unavailable or refuses the request, the status is read
// without waiting. Success, not-found and aborted are clean terminal
// states; anything else, a still-pending status included, is reported
// loudly and teardown continues. Free is idempotent and also runs as the
// finalizer.
func (op *Operation) Free() {
	op.freeOnce.Do(op.release)
}

func (op *Operation) release() {
	runtime.SetFinalizer(op, nil)

	if !op.completedByOS() && Kind(op.kind.Load()) != KindNotStarted {
		wait := false
		if cancelIoExOK && windows.CancelIoEx(op.handle, &op.o) == nil {
			wait = true
		}
		var bytes uint32
		err := windows.GetOverlappedResult(op.handle, &op.o, &bytes, wait)
		switch errnoOf(err) {
		case 0, windows.ERROR_NOT_FOUND, windows.ERROR_OPERATION_ABORTED:
		default:
			logw.WithFields(logrus.Fields{
				"address": op.Address(),
				"kind":    op.Kind().String(),
				"status":  err,
			}).Error("operation still pending at release, the process may crash")
		}
	}

	if op.o.HEvent != 0 {
		_ = windows.CloseHandle(op.o.HEvent)
		op.o.HEvent = 0
	}
	op.writeBuf = nil
	op.readBuf = nil
}
