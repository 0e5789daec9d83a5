//go:build linux

package futex

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	futexWait = 0 // FUTEX_WAIT, shared between processes
	futexWake = 1 // FUTEX_WAKE, shared between processes
)

// Supported reports whether Wait and Wake are backed by the kernel.
const Supported = true

// Wait blocks while *addr == val. It returns nil when woken, when the word no
// longer holds val at the time of the syscall, or on a signal; callers must
// re-check their condition after it returns.
//
// unix.Syscall6 is used instead of RawSyscall6 so the runtime can hand the P
// to another goroutine while this thread is parked in the kernel.
func Wait(addr *uint32, val uint32) error {
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		0, 0, 0)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR:
		return nil
	default:
		return fmt.Errorf("futex wait: %w", errno)
	}
}

// Wake wakes at most n waiters parked on addr and returns how many were woken.
func Wake(addr *uint32, n int) (int, error) {
	r1, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake,
		uintptr(n),
		0, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("futex wake: %w", errno)
	}
	return int(r1), nil
}
