//go:build windows
// +build windows

// File: iocp/bindlocal_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package iocp

import (
	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-iocp/api"
)

// BindLocal binds a socket to the wildcard address with port zero,
// skipping the resolver entirely; that is the whole point of the helper.
// tupleLen selects the family the way connect tuples do: 2 for AF_INET,
// 4 for AF_INET6. Any other length is rejected before touching the
// socket. ConnectEx requires the socket to be bound, so this is the
// usual preparation step for outbound overlapped connects.
func BindLocal(s windows.Handle, tupleLen int) error {
	var sa windows.Sockaddr
	switch tupleLen {
	case 2:
		sa = &windows.SockaddrInet4{}
	case 4:
		sa = &windows.SockaddrInet6{}
	default:
		return api.ErrAddrTupleShape
	}
	if err := windows.Bind(s, sa); err != nil {
		return osError("bind", errnoOf(err))
	}
	return nil
}
