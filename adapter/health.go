package adapter

import (
	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/futexrpc/api"
)

// maxGoroutines guards the liveness endpoint against a host leaking
// goroutines per request.
const maxGoroutines = 1000

// NewHealthHandler returns liveness and readiness endpoints (/live, /ready)
// backed by the peer of h.
func NewHealthHandler(h api.Health) healthcheck.Handler {
	handler := healthcheck.NewHandler()
	handler.AddLivenessCheck("peer", h.PeerAlive)
	handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	handler.AddReadinessCheck("peer", h.PeerAlive)
	return handler
}
