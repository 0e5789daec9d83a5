package channel

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/futexrpc/internal/shm"
)

func TestLayout(t *testing.T) {
	var c Channel
	assert.Equal(t, uintptr(0x00), unsafe.Offsetof(c.magic))
	assert.Equal(t, uintptr(0x04), unsafe.Offsetof(c.version))
	assert.Equal(t, uintptr(0x08), unsafe.Offsetof(c.state))
	assert.Equal(t, uintptr(0x0C), unsafe.Offsetof(c.spinBudget))
	assert.Equal(t, uintptr(0x10), unsafe.Offsetof(c.input))
	assert.Equal(t, uintptr(0x18), unsafe.Offsetof(c.output))
	assert.Equal(t, uintptr(0x20), unsafe.Offsetof(c.stopRequested))
	assert.Equal(t, uintptr(0x24), unsafe.Offsetof(c.busy))
	assert.Equal(t, uintptr(0x28), unsafe.Offsetof(c.serverSleeps))
	assert.Equal(t, uintptr(0x30), unsafe.Offsetof(c.clientSleeps))
	assert.Equal(t, 0x38, Size)
	assert.LessOrEqual(t, Size, RegionSize)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ServerSpinning", ServerSpinning.String())
	assert.Equal(t, "WorkDone", WorkDone.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func alignedMem(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

func TestInitAndAttach(t *testing.T) {
	mem := alignedMem(RegionSize)
	for i := range mem {
		mem[i] = 0xFF
	}
	c, err := Init(mem, 123)
	require.NoError(t, err)
	assert.Equal(t, ServerSpinning, c.State())
	assert.Equal(t, uint32(123), c.SpinBudget())
	assert.Equal(t, Snapshot{State: ServerSpinning, SpinBudget: 123}, c.Snapshot())

	peer, err := Attach(mem)
	require.NoError(t, err)
	assert.Same(t, c, peer)
}

func TestInitErrors(t *testing.T) {
	_, err := Init(alignedMem(Size-1), DefaultSpinBudget)
	assert.ErrorIs(t, err, ErrRegionTooSmall)

	_, err = Init(alignedMem(RegionSize)[1:], DefaultSpinBudget)
	assert.ErrorIs(t, err, ErrMisaligned)

	_, err = Init(alignedMem(RegionSize), 0)
	assert.ErrorIs(t, err, ErrInvalidSpinBudget)
}

func TestAttachErrors(t *testing.T) {
	mem := alignedMem(RegionSize)
	_, err := Attach(mem)
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Attach(mem[:Size-1])
	assert.ErrorIs(t, err, ErrRegionTooSmall)

	c, err := Init(mem, DefaultSpinBudget)
	require.NoError(t, err)
	c.version = Version + 1
	_, err = Attach(mem)
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestDefaultHandler(t *testing.T) {
	assert.Equal(t, 17.0, DefaultHandler(0))
	assert.Equal(t, 26.0, DefaultHandler(3))
	assert.Equal(t, 26.0, DefaultHandler(-3))
}

type ChannelTestSuite struct {
	suite.Suite
	region  *shm.MappedRegion
	ch      *Channel
	server  *taskgroup.Group
	stopped bool
	// inFlight is set when an operation outlived its deadline and may still
	// own the channel.
	inFlight bool
}

func (s *ChannelTestSuite) newChannel(budget uint32) {
	region, err := shm.MapRegion(context.Background(), shm.MapOptions{
		Name: "channel_test",
		Size: RegionSize,
		Type: shm.MapTypeAnonymous,
	})
	s.Require().NoError(err)
	s.region = region
	s.ch, err = Init(region.Addr, budget)
	s.Require().NoError(err)
	s.stopped = false
	s.inFlight = false
}

func (s *ChannelTestSuite) SetupTest() {
	s.newChannel(DefaultSpinBudget)
}

func (s *ChannelTestSuite) TearDownTest() {
	if s.inFlight {
		// Stop would panic against the pending call, and unmapping would
		// fault it; leave both to the process exit.
		s.T().Log("operation still in flight, leaking channel")
		return
	}
	if !s.stopped && s.server != nil {
		s.stop()
	}
	s.server = nil
	s.Require().NoError(shm.UnmapRegion(context.Background(), s.region))
}

// serve runs the server loop on a peer handle attached to the same memory.
func (s *ChannelTestSuite) serve(h Handler) {
	peer, err := Attach(s.region.Addr)
	s.Require().NoError(err)
	s.server = taskgroup.New(nil)
	s.server.Go(func() error {
		peer.Serve(h)
		return nil
	})
}

func (s *ChannelTestSuite) stop() {
	s.within(10*time.Second, s.ch.Stop)
	s.Require().NoError(s.server.Wait())
	s.stopped = true
}

func (s *ChannelTestSuite) within(d time.Duration, fn func()) {
	if _, ok := s.runWithin(d, fn); !ok {
		s.FailNow("operation did not complete", "waited %v", d)
	}
}

// runWithin runs fn on its own goroutine and reports whether it returned
// within d. On timeout fn keeps running and the suite is marked in flight.
func (s *ChannelTestSuite) runWithin(d time.Duration, fn func()) (<-chan struct{}, bool) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
		return done, true
	case <-time.After(d):
		s.inFlight = true
		return done, false
	}
}

func (s *ChannelTestSuite) TestCallTransformation() {
	defer leaktest.Check(s.T())()
	s.serve(DefaultHandler)

	for _, x := range []float64{
		0, 1, -1, 3, -3, 0.5, -1e-300, 1e150, -1e150,
		math.MaxInt32, math.MinInt64, math.SmallestNonzeroFloat64,
		math.MaxFloat64, math.Inf(-1),
	} {
		s.Equal(DefaultHandler(x), s.ch.Call(x), "input %v", x)
	}
	s.stop()
}

func (s *ChannelTestSuite) TestCustomHandler() {
	defer leaktest.Check(s.T())()
	s.serve(func(x float64) float64 { return -2 * x })
	s.Equal(-8.0, s.ch.Call(4))
	s.Equal(0.0, s.ch.Call(0))
	s.stop()
}

func (s *ChannelTestSuite) TestNilHandlerUsesDefault() {
	defer leaktest.Check(s.T())()
	s.serve(nil)
	s.Equal(26.0, s.ch.Call(3))
	s.stop()
}

func (s *ChannelTestSuite) TestBackToBackCalls() {
	defer leaktest.Check(s.T())()
	s.serve(DefaultHandler)
	s.within(time.Minute, func() {
		for i := 0; i < 20000; i++ {
			x := float64(i)
			if got := s.ch.Call(x); got != x*x+17 {
				s.Failf("wrong result", "call %d: got %v", i, got)
				return
			}
		}
	})
	s.Equal(ServerSpinning, s.ch.State())
	s.stop()
}

func (s *ChannelTestSuite) TestIdleServerSleepsAndWakes() {
	defer leaktest.Check(s.T())()
	s.Require().NoError(shm.UnmapRegion(context.Background(), s.region))
	s.newChannel(64)
	s.serve(DefaultHandler)

	s.Equal(17.0, s.ch.Call(0))
	before := s.ch.ServerSleeps()

	// Far longer than 64 polls; the server must be parked in the kernel.
	s.Eventually(func() bool { return s.ch.State() == ServerSleeping }, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	s.within(10*time.Second, func() { s.Equal(21.0, s.ch.Call(2)) })
	s.Greater(s.ch.ServerSleeps(), before)
	s.stop()
}

func (s *ChannelTestSuite) TestSlowHandlerPutsClientToSleep() {
	defer leaktest.Check(s.T())()
	s.Require().NoError(shm.UnmapRegion(context.Background(), s.region))
	s.newChannel(16)
	s.serve(func(x float64) float64 {
		time.Sleep(20 * time.Millisecond)
		return x + 1
	})

	var last uint64
	for i := 0; i < 3; i++ {
		s.Equal(float64(i+1), s.ch.Call(float64(i)))
		n := s.ch.ClientSleeps()
		s.GreaterOrEqual(n, last, "client sleep counter must be monotonic")
		last = n
	}
	s.Positive(last)
	s.stop()
}

func (s *ChannelTestSuite) TestStopWithoutCalls() {
	defer leaktest.Check(s.T())()
	s.serve(DefaultHandler)
	s.stop()
	s.True(s.ch.Snapshot().StopRequested)
	s.Equal(WorkDone, s.ch.State())
}

func (s *ChannelTestSuite) TestStopAfterIdle() {
	defer leaktest.Check(s.T())()
	s.Require().NoError(shm.UnmapRegion(context.Background(), s.region))
	s.newChannel(32)
	s.serve(DefaultHandler)
	for i := 0; i < 10; i++ {
		s.ch.Call(float64(i))
	}
	s.Eventually(func() bool { return s.ch.State() == ServerSleeping }, 5*time.Second, time.Millisecond)
	s.stop()
}

// TestWriterExclusivity checks, on every step, that only the role owning the
// request per the state word is touching input or output.
func (s *ChannelTestSuite) TestWriterExclusivity() {
	defer leaktest.Check(s.T())()
	var (
		inHandler  atomic.Int32
		violations atomic.Int32
	)
	s.serve(func(x float64) float64 {
		inHandler.Add(1)
		defer inHandler.Add(-1)
		if st := s.ch.State(); st != ClientSpinning && st != ClientSleeping {
			violations.Add(1)
		}
		return x * 2
	})

	for i := 0; i < 5000; i++ {
		if st := s.ch.State(); st != ServerSpinning && st != ServerSleeping {
			violations.Add(1)
		}
		if inHandler.Load() != 0 {
			violations.Add(1)
		}
		s.Equal(float64(2*i), s.ch.Call(float64(i)))
	}
	s.Zero(violations.Load())
	s.stop()
}

// Concurrent callers are not supported; the second one panics instead of
// racing the first for input and output.
func (s *ChannelTestSuite) TestConcurrentCallUnsupported() {
	defer leaktest.Check(s.T())()
	first := make(chan float64, 1)
	go func() { first <- s.ch.Call(3) }()

	// With no server running, the first call parks in ClientSpinning or
	// ClientSleeping while holding the channel.
	s.Eventually(func() bool {
		st := s.ch.State()
		return st == ClientSpinning || st == ClientSleeping
	}, 5*time.Second, time.Millisecond)

	s.PanicsWithValue(ErrConcurrentCall, func() { s.ch.Call(4) })
	s.PanicsWithValue(ErrConcurrentCall, func() { s.ch.Stop() })

	s.serve(DefaultHandler)
	select {
	case got := <-first:
		s.Equal(26.0, got)
	case <-time.After(10 * time.Second):
		s.FailNow("first call did not complete")
	}
	s.stop()
}

// A call that outlives its deadline keeps the channel; teardown must not
// Stop over it.
func (s *ChannelTestSuite) TestTimedOutCallKeepsChannel() {
	done, ok := s.runWithin(20*time.Millisecond, func() { s.ch.Call(3) })
	s.False(ok)
	s.True(s.inFlight)
	s.PanicsWithValue(ErrConcurrentCall, func() { s.ch.Stop() })

	s.serve(DefaultHandler)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.FailNow("pending call did not complete")
	}
	s.inFlight = false
	s.stop()
}

// With one P the peer goroutine only runs when the waiting side yields.
func (s *ChannelTestSuite) TestSingleProcessorLatency() {
	defer leaktest.Check(s.T())()
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))
	s.serve(DefaultHandler)

	const calls = 1000
	var elapsed time.Duration
	s.within(30*time.Second, func() {
		start := time.Now()
		for i := 0; i < calls; i++ {
			s.ch.Call(float64(i))
		}
		elapsed = time.Since(start)
	})
	s.Less(elapsed/calls, time.Millisecond, "per call latency with GOMAXPROCS=1")
	s.stop()
}

func TestChannelTestSuite(t *testing.T) {
	suite.Run(t, new(ChannelTestSuite))
}
