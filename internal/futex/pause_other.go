//go:build !amd64 && !arm64

package futex

import "runtime"

// Pause yields the processor; there is no spin hint instruction wired for
// this architecture.
func Pause() {
	runtime.Gosched()
}
