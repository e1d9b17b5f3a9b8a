// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package proactor matches completions drained from a completion source
// to future-like waiters keyed by the stable overlapped address. It is
// the loop-side half of the proactor pattern: submission stays with the
// iocp package, readiness signaling and callback dispatch live here.
//
// The package is platform-neutral; it runs against iocp.Port on Windows
// and against fake.CompletionSource in tests.
package proactor
