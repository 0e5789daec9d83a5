//go:build !linux

package futex

// Supported reports whether Wait and Wake are backed by the kernel.
const Supported = false

// Wait is not supported on this platform.
func Wait(addr *uint32, val uint32) error {
	return ErrUnsupported
}

// Wake is not supported on this platform.
func Wake(addr *uint32, n int) (int, error) {
	return 0, ErrUnsupported
}
