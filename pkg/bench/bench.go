// Package bench measures round trip cost of a futexrpc channel.
//
// A run has two phases. The throughput phase issues back-to-back calls, so
// both sides normally stay in their spin loops. The latency phase spaces
// calls far enough apart that the server falls asleep between them and
// reports the distribution of single call latencies, which includes the
// futex wake.
package bench

import (
	"context"
	"errors"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/srediag/futexrpc/api"
	"github.com/srediag/futexrpc/pkg/channel"
)

// Target is what a run drives.
type Target interface {
	api.Caller
	api.SleepCounters
}

// maxAlarms bounds how many wrong results a Report keeps verbatim.
const maxAlarms = 10

// ctxCheckEvery is how many throughput calls pass between context checks.
const ctxCheckEvery = 1024

// Options configures a run.
type Options struct {
	// Calls is the number of back-to-back calls in the throughput phase.
	Calls int
	// Samples is the number of timed calls in the latency phase.
	Samples int
	// Gap separates two latency samples.
	Gap time.Duration
	// Settle is the pause between the two phases.
	Settle time.Duration
	// Expect returns the correct result for an input. Defaults to
	// channel.DefaultHandler.
	Expect channel.Handler
	// PeerPID, when nonzero and not this process, adds the CPU time of that
	// process to the report.
	PeerPID int
}

// DefaultOptions returns the options used by the command line tool.
func DefaultOptions() Options {
	return Options{
		Calls:   1000000,
		Samples: 1000,
		Gap:     10 * time.Millisecond,
		Settle:  time.Second,
		Expect:  channel.DefaultHandler,
	}
}

// ErrNoSamples is returned when a run is asked for no work at all.
var ErrNoSamples = errors.New("bench: nothing to measure")

// Alarm records a call that returned the wrong value.
type Alarm struct {
	Index int
	Input float64
	Got   float64
	Want  float64
}

// Percentiles summarizes a latency distribution.
type Percentiles struct {
	Min    time.Duration
	Median time.Duration
	P90    time.Duration
	P95    time.Duration
	P99    time.Duration
	Max    time.Duration
}

// HostInfo describes the machine the run happened on.
type HostInfo struct {
	CPUModel     string
	LogicalCPUs  int
	PhysicalCPUs int
	GOMAXPROCS   int
}

// Report is the outcome of a run.
type Report struct {
	Host HostInfo

	Calls        int
	Elapsed      time.Duration
	Throughput   float64
	ServerSleeps uint64
	ClientSleeps uint64

	Samples           int
	Latency           Percentiles
	PhaseServerSleeps uint64
	PhaseClientSleeps uint64

	AlarmCount int
	Alarms     []Alarm

	PeerPID int
	PeerCPU time.Duration
}

// Run drives t through both phases. A phase with a zero count is skipped.
// Cancelling ctx aborts the run between calls; the partial report is
// discarded.
func Run(ctx context.Context, t Target, opts Options) (*Report, error) {
	if opts.Calls <= 0 && opts.Samples <= 0 {
		return nil, ErrNoSamples
	}
	if opts.Expect == nil {
		opts.Expect = channel.DefaultHandler
	}
	r := &Report{Host: hostInfo(ctx)}

	if opts.Calls > 0 {
		if err := r.throughput(ctx, t, opts); err != nil {
			return nil, err
		}
	}
	if opts.Samples > 0 {
		if opts.Calls > 0 {
			if err := sleep(ctx, opts.Settle); err != nil {
				return nil, err
			}
		}
		if err := r.latency(ctx, t, opts); err != nil {
			return nil, err
		}
	}
	// A goroutine peer shares this process; its CPU time cannot be told
	// apart from the client's.
	if opts.PeerPID != 0 && opts.PeerPID != os.Getpid() {
		r.PeerPID = opts.PeerPID
		r.PeerCPU = processCPU(ctx, opts.PeerPID)
	}
	return r, nil
}

func (r *Report) check(i int, x, got float64, expect channel.Handler) {
	want := expect(x)
	if got == want {
		return
	}
	r.AlarmCount++
	if len(r.Alarms) < maxAlarms {
		r.Alarms = append(r.Alarms, Alarm{Index: i, Input: x, Got: got, Want: want})
	}
}

func (r *Report) throughput(ctx context.Context, t Target, opts Options) error {
	start := time.Now()
	for i := 0; i < opts.Calls; i++ {
		if i%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		x := float64(i)
		r.check(i, x, t.Call(x), opts.Expect)
	}
	r.Elapsed = time.Since(start)
	r.Calls = opts.Calls
	if r.Elapsed > 0 {
		r.Throughput = float64(opts.Calls) / r.Elapsed.Seconds()
	}
	r.ServerSleeps = t.ServerSleeps()
	r.ClientSleeps = t.ClientSleeps()
	return nil
}

func (r *Report) latency(ctx context.Context, t Target, opts Options) error {
	serverBefore, clientBefore := t.ServerSleeps(), t.ClientSleeps()
	times := make([]time.Duration, 0, opts.Samples)
	for i := 0; i < opts.Samples; i++ {
		x := float64(i)
		start := time.Now()
		got := t.Call(x)
		times = append(times, time.Since(start))
		r.check(i, x, got, opts.Expect)
		if err := sleep(ctx, opts.Gap); err != nil {
			return err
		}
	}
	r.Samples = opts.Samples
	r.Latency = computePercentiles(times)
	r.PhaseServerSleeps = t.ServerSleeps() - serverBefore
	r.PhaseClientSleeps = t.ClientSleeps() - clientBefore
	return nil
}

// computePercentiles sorts times in place. The median of an even count is
// the mean of the two middle values; percentile p is element n*p/100.
func computePercentiles(times []time.Duration) Percentiles {
	n := len(times)
	if n == 0 {
		return Percentiles{}
	}
	slices.Sort(times)
	at := func(p int) time.Duration {
		return times[min(n*p/100, n-1)]
	}
	median := times[n/2]
	if n%2 == 0 {
		median = (times[n/2-1] + times[n/2]) / 2
	}
	return Percentiles{
		Min:    times[0],
		Median: median,
		P90:    at(90),
		P95:    at(95),
		P99:    at(99),
		Max:    times[n-1],
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// hostInfo is best effort; fields it cannot read stay zero.
func hostInfo(ctx context.Context) HostInfo {
	h := HostInfo{GOMAXPROCS: runtime.GOMAXPROCS(0)}
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 {
		h.CPUModel = infos[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		h.LogicalCPUs = n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		h.PhysicalCPUs = n
	}
	return h
}

// processCPU returns user plus system time of pid, or zero if unavailable.
func processCPU(ctx context.Context, pid int) time.Duration {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0
	}
	ts, err := p.TimesWithContext(ctx)
	if err != nil {
		return 0
	}
	return time.Duration((ts.User + ts.System) * float64(time.Second))
}
