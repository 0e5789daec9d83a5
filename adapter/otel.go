package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/futexrpc/api"
)

// InstrumentedClient wraps an api.Client with an OpenTelemetry span and a
// latency histogram per call. The instrumentation runs outside the timed
// section only where it can; expect it to dominate the latency of a spinning
// channel.
type InstrumentedClient struct {
	next    api.Client
	tracer  trace.Tracer
	latency metric.Int64Histogram
	calls   metric.Int64Counter
}

// NewInstrumentedClient instruments next with instruments created from meter
// and spans from tracer.
func NewInstrumentedClient(next api.Client, meter metric.Meter, tracer trace.Tracer) (*InstrumentedClient, error) {
	latency, err := meter.Int64Histogram("futexrpc.call.duration",
		metric.WithUnit("ns"),
		metric.WithDescription("Round trip time of a channel call."))
	if err != nil {
		return nil, fmt.Errorf("latency histogram: %w", err)
	}
	calls, err := meter.Int64Counter("futexrpc.calls",
		metric.WithDescription("Number of completed channel calls."))
	if err != nil {
		return nil, fmt.Errorf("call counter: %w", err)
	}
	return &InstrumentedClient{next: next, tracer: tracer, latency: latency, calls: calls}, nil
}

// Call implements api.Caller.
func (c *InstrumentedClient) Call(x float64) float64 {
	ctx, span := c.tracer.Start(context.Background(), "futexrpc.Call")
	start := time.Now()
	y := c.next.Call(x)
	elapsed := time.Since(start)
	span.End()
	c.latency.Record(ctx, elapsed.Nanoseconds())
	c.calls.Add(ctx, 1)
	return y
}

// Stop implements api.Client.
func (c *InstrumentedClient) Stop() {
	_, span := c.tracer.Start(context.Background(), "futexrpc.Stop")
	defer span.End()
	c.next.Stop()
}
