// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package api defines the platform-neutral contracts of hioload-iocp:
// structured errors, generic results, cancellation, and the completion
// record/source pair through which an event loop drains finished
// asynchronous I/O.
package api
