package adapter

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/futexrpc/api"
)

// NewMux serves /metrics from reg and /live, /ready from the peer health of h.
func NewMux(reg *prometheus.Registry, h api.Health) *http.ServeMux {
	health := NewHealthHandler(h)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)
	return mux
}
