// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package iocp exposes the Windows I/O completion port facility as a set
// of proactor primitives: the completion Port, the overlapped Operation
// that owns one in-flight asynchronous request, and the BindLocal helper
// that prepares sockets for connect-style operations without name
// resolution.
//
// All functionality in this package requires Windows; every file except
// this one carries a windows build constraint.
package iocp
