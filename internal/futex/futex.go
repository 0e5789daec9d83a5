// Package futex wraps the futex wait/wake pair used to park a role of the
// channel protocol, plus the CPU pause hint used inside spin loops.
//
// Both operations work on a 32-bit word that may live in memory shared between
// processes, so the shared (non-private) futex operations are used.
package futex

import "errors"

// ErrUnsupported is returned on platforms without a futex syscall.
var ErrUnsupported = errors.New("futex operations not supported on this platform")
