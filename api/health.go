package api

// Health reports whether the serving peer is still alive.
type Health interface {
	// PeerAlive returns nil while the peer runs its serve loop.
	PeerAlive() error
	// PeerPID returns the process id of the peer, or the host's own pid
	// when the peer is a goroutine.
	PeerPID() int
}
