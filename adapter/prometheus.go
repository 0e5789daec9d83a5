// Package adapter provides adapters for futexrpc integration with external systems.
package adapter

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/futexrpc/api"
	"github.com/srediag/futexrpc/pkg/channel"
)

// stater is implemented by *channel.Channel.
type stater interface {
	State() channel.State
}

// Collector exports a channel's sleep counters, and its state word when the
// source exposes it, as Prometheus metrics. Values are read at scrape time
// without synchronizing with the channel, which is fine for counters that
// only grow.
type Collector struct {
	src          api.SleepCounters
	serverSleeps *prometheus.Desc
	clientSleeps *prometheus.Desc
	state        *prometheus.Desc
}

// NewCollector returns a Collector for src. constLabels may be nil.
func NewCollector(namespace string, src api.SleepCounters, constLabels prometheus.Labels) *Collector {
	return &Collector{
		src: src,
		serverSleeps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "server", "sleeps_total"),
			"Number of times the server parked in the kernel waiting for a request.",
			nil, constLabels),
		clientSleeps: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "client", "sleeps_total"),
			"Number of times the client parked in the kernel waiting for a result.",
			nil, constLabels),
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "channel", "state"),
			"Current value of the channel state word.",
			[]string{"state"}, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.serverSleeps
	ch <- c.clientSleeps
	if _, ok := c.src.(stater); ok {
		ch <- c.state
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.serverSleeps, prometheus.CounterValue, float64(c.src.ServerSleeps()))
	ch <- prometheus.MustNewConstMetric(c.clientSleeps, prometheus.CounterValue, float64(c.src.ClientSleeps()))
	if s, ok := c.src.(stater); ok {
		st := s.State()
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, float64(st), st.String())
	}
}
