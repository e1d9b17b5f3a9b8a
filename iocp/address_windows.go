//go:build windows
// +build windows

// File: iocp/address_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Remote-address tuples for connect-style operations. Hosts are parsed
// by the Winsock string-to-address routine only; a name that needs
// resolution is an error here.

package iocp

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-iocp/api"
)

// AddrTuple is a remote socket address in the runtime's tuple shapes:
// (host, port) selects AF_INET, (host, port, flowinfo, scopeid) selects
// AF_INET6. The zero value is invalid.
type AddrTuple struct {
	host     string
	port     uint16
	flowInfo uint32
	scopeID  uint32
	family   int32
}

// Inet4Addr builds the two-field IPv4 tuple.
func Inet4Addr(host string, port uint16) AddrTuple {
	return AddrTuple{host: host, port: port, family: windows.AF_INET}
}

// Inet6Addr builds the four-field IPv6 tuple.
func Inet6Addr(host string, port uint16, flowInfo, scopeID uint32) AddrTuple {
	return AddrTuple{host: host, port: port, flowInfo: flowInfo, scopeID: scopeID, family: windows.AF_INET6}
}

// Len reports the tuple shape, 2 or 4, and 0 for the invalid zero value.
func (a AddrTuple) Len() int {
	switch a.family {
	case windows.AF_INET:
		return 2
	case windows.AF_INET6:
		return 4
	}
	return 0
}

// sockaddr renders the tuple into a raw sockaddr block plus its length.
func (a AddrTuple) sockaddr() (windows.RawSockaddrAny, int32, error) {
	var rsa windows.RawSockaddrAny
	switch a.family {
	case windows.AF_INET, windows.AF_INET6:
	default:
		return rsa, 0, api.ErrAddrTupleShape
	}

	salen := int32(unsafe.Sizeof(rsa))
	if err := wsaStringToAddress(a.host, a.family, &rsa, &salen); err != nil {
		return rsa, 0, err
	}

	switch a.family {
	case windows.AF_INET:
		sa := (*windows.RawSockaddrInet4)(unsafe.Pointer(&rsa))
		p := (*[2]byte)(unsafe.Pointer(&sa.Port))
		p[0] = byte(a.port >> 8)
		p[1] = byte(a.port)
	case windows.AF_INET6:
		sa := (*windows.RawSockaddrInet6)(unsafe.Pointer(&rsa))
		p := (*[2]byte)(unsafe.Pointer(&sa.Port))
		p[0] = byte(a.port >> 8)
		p[1] = byte(a.port)
		sa.Flowinfo = a.flowInfo
		sa.Scope_id = a.scopeID
	}
	return rsa, salen, nil
}

// wsaStringToAddress calls WSAStringToAddressW directly; unlike
// getaddrinfo it never consults a resolver.
func wsaStringToAddress(host string, family int32, rsa *windows.RawSockaddrAny, salen *int32) error {
	hostp, err := windows.UTF16PtrFromString(host)
	if err != nil {
		return api.NewError(api.ErrCodePrecondition, "host string").WithWrap(err)
	}
	r1, _, e1 := syscall.SyscallN(procWSAStringToAddressW.Addr(),
		uintptr(unsafe.Pointer(hostp)),
		uintptr(family),
		0,
		uintptr(unsafe.Pointer(rsa)),
		uintptr(unsafe.Pointer(salen)))
	if r1 != 0 {
		return osError("WSAStringToAddressW", e1)
	}
	return nil
}
