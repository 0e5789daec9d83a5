//go:build amd64 || arm64

package futex

// Pause hints the processor that the caller is in a spin-wait loop
// (PAUSE on amd64, YIELD on arm64).
//
//go:noescape
//go:nosplit
func Pause()
