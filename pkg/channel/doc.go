// Package channel implements a blocking, single-outstanding-request RPC
// between two processes that share one memory region.
//
// The whole protocol state is one 32-bit word inside a fixed-layout record
// (Channel) that is constructed in place in the shared region. Both roles poll
// the word with atomic loads for a bounded number of iterations and fall back
// to a futex wait when the peer is slow, so back-to-back calls cost about as
// much as a cache line transfer while idle peers do not burn CPU.
//
// The creator of the region calls Init before the peer runs; the peer calls
// Attach on its own mapping of the same memory:
//
//	ch, err := channel.Init(region.Addr, channel.DefaultSpinBudget)
//	// ... start the peer, which runs:
//	//     ch, err := channel.Attach(mem)
//	//     ch.Serve(channel.DefaultHandler)
//	y := ch.Call(3) // 26
//	ch.Stop()
//
// Only one Call or Stop may be outstanding at a time. The input, output and
// stop fields are plain memory; their visibility relies on the
// happens-before edge created by the atomic handshake on the state word.
package channel
