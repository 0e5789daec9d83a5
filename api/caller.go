// Package api defines the public contracts between futexrpc components.
package api

// Caller submits one scalar request and blocks for its result.
type Caller interface {
	Call(x float64) float64
}

// Client is a Caller that can also shut its server down. Stop blocks until
// the server acknowledged; no Call may follow it.
type Client interface {
	Caller
	Stop()
}

// SleepCounters exposes how often each role parked in the kernel.
type SleepCounters interface {
	ServerSleeps() uint64
	ClientSleeps() uint64
}
