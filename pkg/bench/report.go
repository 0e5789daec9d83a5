package bench

import (
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

// WriteTo writes r in human readable form. It implements io.WriterTo.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	bb := bytebufferpool.Get()
	defer bytebufferpool.Put(bb)

	h := r.Host
	fmt.Fprintf(bb, "Host: %s, %d logical / %d physical CPUs, GOMAXPROCS=%d\n",
		orUnknown(h.CPUModel), h.LogicalCPUs, h.PhysicalCPUs, h.GOMAXPROCS)
	if r.Calls > 0 {
		fmt.Fprintf(bb, "Time for %d requests was %d ns, which is %d req/s\n",
			r.Calls, r.Elapsed.Nanoseconds(), int64(r.Throughput))
		fmt.Fprintf(bb, "Server sleeps so far: %d\n", r.ServerSleeps)
		fmt.Fprintf(bb, "Client sleeps so far: %d\n", r.ClientSleeps)
	}
	if r.Samples > 0 {
		l := r.Latency
		fmt.Fprintf(bb, "Latency in %d separate runs:\n", r.Samples)
		fmt.Fprintf(bb, "  smallest       : %d ns\n", l.Min.Nanoseconds())
		fmt.Fprintf(bb, "  median         : %d ns\n", l.Median.Nanoseconds())
		fmt.Fprintf(bb, "  90%%ile         : %d ns\n", l.P90.Nanoseconds())
		fmt.Fprintf(bb, "  95%%ile         : %d ns\n", l.P95.Nanoseconds())
		fmt.Fprintf(bb, "  99%%ile         : %d ns\n", l.P99.Nanoseconds())
		fmt.Fprintf(bb, "  largest        : %d ns\n", l.Max.Nanoseconds())
		fmt.Fprintf(bb, "  server sleeps  : %d\n", r.PhaseServerSleeps)
		fmt.Fprintf(bb, "  client sleeps  : %d\n", r.PhaseClientSleeps)
	}
	if r.PeerPID != 0 {
		fmt.Fprintf(bb, "Peer %d CPU time: %v\n", r.PeerPID, r.PeerCPU)
	}
	if r.AlarmCount > 0 {
		fmt.Fprintf(bb, "Alarm: %d wrong results\n", r.AlarmCount)
		for _, a := range r.Alarms {
			fmt.Fprintf(bb, "  call %d: input %g got %g want %g\n", a.Index, a.Input, a.Got, a.Want)
		}
	}
	n, err := w.Write(bb.B)
	return int64(n), err
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown CPU"
	}
	return s
}
