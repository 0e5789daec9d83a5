package channel

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/srediag/futexrpc/internal/futex"
)

// yieldEvery is how many polls of the state word pass between scheduler
// yields while waiting.
const yieldEvery = 64

// waitFor polls the state word until it holds accept1 or accept2. Polls only
// count against budget while the word reads spinning; once the budget is
// spent the caller moves itself to sleeping and parks on that value, so a
// peer that changes the word in between makes the futex wait return at once.
// It reports whether the caller slept.
func (c *Channel) waitFor(accept1, accept2, spinning, sleeping State, budget uint32) bool {
	slept := false
	for {
		var cur uint32
		for i, polls := uint32(0), uint32(0); ; polls++ {
			cur = atomic.LoadUint32(&c.state)
			if cur == uint32(accept1) || cur == uint32(accept2) {
				return slept
			}
			// Any other value is a transition in flight; keep polling
			// without spending budget until it settles.
			if cur == uint32(spinning) {
				if i++; i >= budget {
					break
				}
			}
			// The peer may be a goroutine waiting for this P.
			if polls%yieldEvery == yieldEvery-1 {
				runtime.Gosched()
			} else {
				futex.Pause()
			}
		}
		if atomic.CompareAndSwapUint32(&c.state, cur, uint32(sleeping)) {
			slept = true
			if err := futex.Wait(&c.state, uint32(sleeping)); err != nil {
				panic(fmt.Errorf("channel: %w", err))
			}
		}
	}
}

// notify moves the word to next. When the peer is still spinning a CAS is
// enough; otherwise the peer is parked and needs a kernel wake.
func (c *Channel) notify(peerSpinning, next State) {
	if atomic.CompareAndSwapUint32(&c.state, uint32(peerSpinning), uint32(next)) {
		return
	}
	atomic.StoreUint32(&c.state, uint32(next))
	if _, err := futex.Wake(&c.state, 1); err != nil {
		panic(fmt.Errorf("channel: %w", err))
	}
}

func (c *Channel) waitForWork() bool {
	return c.waitFor(ClientSpinning, ClientSleeping, ServerSpinning, ServerSleeping, c.spinBudget)
}

func (c *Channel) waitForResult() bool {
	return c.waitFor(WorkDone, WorkDone, ClientSpinning, ClientSleeping, c.spinBudget)
}

func (c *Channel) alertServer() {
	c.notify(ServerSpinning, ClientSpinning)
}

func (c *Channel) alertClient() {
	c.notify(ClientSpinning, WorkDone)
}

func (c *Channel) acquire() {
	if !atomic.CompareAndSwapUint32(&c.busy, 0, 1) {
		panic(ErrConcurrentCall)
	}
}

func (c *Channel) release() {
	atomic.StoreUint32(&c.busy, 0)
}

// Call submits x to the server and blocks until its result is available.
// It must not be called concurrently with another Call or Stop (it panics
// with ErrConcurrentCall), nor after Stop.
func (c *Channel) Call(x float64) float64 {
	c.acquire()
	c.input = x
	c.alertServer()
	if c.waitForResult() {
		atomic.StoreUint64(&c.clientSleeps, c.clientSleeps+1)
	}
	res := c.output
	// The server does not look at the word again before the next request,
	// so handing ownership back needs no wake.
	atomic.StoreUint32(&c.state, uint32(ServerSpinning))
	c.release()
	return res
}

// Serve runs the server loop, answering each request with h(input), until a
// Stop is observed.
func (c *Channel) Serve(h Handler) {
	if h == nil {
		h = DefaultHandler
	}
	for {
		if c.waitForWork() {
			atomic.StoreUint64(&c.serverSleeps, c.serverSleeps+1)
		}
		if c.stopRequested != 0 {
			c.alertClient()
			return
		}
		c.output = h(c.input)
		c.alertClient()
	}
}

// Stop asks the server to leave its loop and blocks until it acknowledged.
// The channel must not be used for calls afterwards.
func (c *Channel) Stop() {
	c.acquire()
	c.stopRequested = 1
	c.alertServer()
	c.waitForResult()
	c.release()
}
