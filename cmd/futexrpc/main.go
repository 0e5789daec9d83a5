// Program futexrpc benchmarks a futex based shared memory RPC channel
// between two processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creachadair/command"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/srediag/futexrpc/adapter"
	"github.com/srediag/futexrpc/api"
	"github.com/srediag/futexrpc/internal/shm"
	"github.com/srediag/futexrpc/pkg/bench"
	"github.com/srediag/futexrpc/pkg/channel"
	"github.com/srediag/futexrpc/plugin"
)

var benchFlags struct {
	Calls    int
	Samples  int
	Gap      time.Duration
	Settle   time.Duration
	Spin     uint64
	Mem      string
	Mode     string
	HTTPAddr string

	// Instrument wraps calls in the OpenTelemetry client, so the report
	// includes its overhead.
	Instrument bool
}

// instrumentedTarget pairs the instrumented client with the host's counters.
type instrumentedTarget struct {
	*adapter.InstrumentedClient
	api.SleepCounters
}

func main() {
	root := &command.C{
		Name: filepath.Base(os.Args[0]),
		Help: "Futex and shared memory request/response between two processes.",
		Commands: []*command.C{
			{
				Name:  "bench",
				Usage: "[flags]",
				Help: `Start a peer and measure the channel.

The first phase issues back-to-back calls and reports throughput. After a
settle period, the second phase times single calls spaced by a gap long
enough for the server to fall asleep, and reports latency percentiles.`,
				SetFlags: func(_ *command.Env, fs *flag.FlagSet) {
					opts := bench.DefaultOptions()
					fs.IntVar(&benchFlags.Calls, "n", opts.Calls, "Back-to-back calls in the throughput phase")
					fs.IntVar(&benchFlags.Samples, "samples", opts.Samples, "Timed calls in the latency phase")
					fs.DurationVar(&benchFlags.Gap, "gap", opts.Gap, "Pause between latency samples")
					fs.DurationVar(&benchFlags.Settle, "settle", opts.Settle, "Pause between the two phases")
					fs.Uint64Var(&benchFlags.Spin, "spin", channel.DefaultSpinBudget, "Spin budget before sleeping")
					fs.StringVar(&benchFlags.Mem, "mem", "memfd", "Region backing (memfd, devshm, anon)")
					fs.StringVar(&benchFlags.Mode, "mode", "exec", "Peer mode (exec, goroutine)")
					fs.StringVar(&benchFlags.HTTPAddr, "http", "", "Serve /metrics, /live and /ready on this address")
					fs.BoolVar(&benchFlags.Instrument, "instrument", false, "Trace calls and record latency with the global OpenTelemetry providers")
				},
				Run: runBench,
			},
			{
				Name: "serve",
				Help: "Serve the channel inherited from a host. Started by bench; not for direct use.",
				Run: func(env *command.Env) error {
					if !plugin.IsPeer() {
						return env.Usagef("not started by a host (%s unset)", plugin.PeerFdEnv)
					}
					return plugin.ServePeer(context.Background(), channel.DefaultHandler)
				},
			},
			{
				Name:  "inspect",
				Usage: "<path>",
				Help:  "Print the channel record stored in a region file.",
				Run: func(env *command.Env) error {
					if len(env.Args) != 1 {
						return env.Usagef("exactly one region path is required")
					}
					return plugin.DebugChannelDetail(os.Stdout, env.Args[0])
				},
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runBench(env *command.Env) error {
	conf, err := benchConfig()
	if err != nil {
		return env.Usagef("%v", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	host, err := plugin.NewHost(ctx, conf)
	if err != nil {
		return fmt.Errorf("start host: %w", err)
	}

	if benchFlags.HTTPAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(adapter.NewCollector("futexrpc", host.Channel(), nil))
		srv := &http.Server{Addr: benchFlags.HTTPAddr, Handler: adapter.NewMux(reg, host)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fmt.Fprintf(os.Stderr, "http: %v\n", err)
			}
		}()
		defer srv.Close()
	}

	opts := bench.DefaultOptions()
	opts.Calls = benchFlags.Calls
	opts.Samples = benchFlags.Samples
	opts.Gap = benchFlags.Gap
	opts.Settle = benchFlags.Settle
	opts.PeerPID = host.PeerPID()

	target, err := benchTarget(host)
	if err != nil {
		return errors.Join(err, host.Close())
	}
	report, runErr := bench.Run(ctx, target, opts)
	closeErr := host.Close()
	if runErr != nil {
		return errors.Join(runErr, closeErr)
	}
	if _, err := report.WriteTo(os.Stdout); err != nil {
		return errors.Join(err, closeErr)
	}
	return closeErr
}

// benchTarget returns host itself, or host behind the OpenTelemetry client
// when -instrument is set. The providers are whatever the process registered
// globally, no-ops by default.
func benchTarget(host *plugin.Host) (bench.Target, error) {
	if !benchFlags.Instrument {
		return host, nil
	}
	c, err := adapter.NewInstrumentedClient(host,
		otel.GetMeterProvider().Meter("futexrpc"),
		otel.GetTracerProvider().Tracer("futexrpc"))
	if err != nil {
		return nil, fmt.Errorf("instrument: %w", err)
	}
	return instrumentedTarget{InstrumentedClient: c, SleepCounters: host}, nil
}

func benchConfig() (*plugin.Config, error) {
	if benchFlags.Spin > math.MaxUint32 {
		return nil, fmt.Errorf("spin budget %d exceeds %d", benchFlags.Spin, uint32(math.MaxUint32))
	}
	conf := plugin.DefaultConfig()
	conf.SpinBudget = uint32(benchFlags.Spin)
	mt, err := shm.ParseMapType(benchFlags.Mem)
	if err != nil {
		return nil, err
	}
	conf.MemMapType = mt
	mode, err := plugin.ParsePeerMode(benchFlags.Mode)
	if err != nil {
		return nil, err
	}
	conf.PeerMode = mode
	if mode == plugin.PeerModeExec {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
		conf.PeerCommand = []string{self, "serve"}
	}
	conf.LogOutput = os.Stderr
	return conf, plugin.VerifyConfig(conf)
}
