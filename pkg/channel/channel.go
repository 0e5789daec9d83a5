package channel

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"unsafe"

	"github.com/srediag/futexrpc/internal/futex"
)

// State is a value of the synchronization word.
type State uint32

const (
	// ServerSpinning: no request pending, server polling.
	ServerSpinning State = iota
	// ServerSleeping: no request pending, server parked in the kernel.
	ServerSleeping
	// ClientSpinning: request submitted, client polling for the result.
	ClientSpinning
	// ClientSleeping: request submitted, client parked in the kernel.
	ClientSleeping
	// WorkDone: output published, client has not consumed it yet.
	WorkDone
)

var stateNames = [...]string{"ServerSpinning", "ServerSleeping", "ClientSpinning", "ClientSleeping", "WorkDone"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.FormatUint(uint64(s), 10) + ")"
}

const (
	// Magic marks an initialized record ("FUTX").
	Magic uint32 = 0x46555458
	// Version is the layout version written by Init.
	Version uint32 = 1
	// DefaultSpinBudget is the number of polls of the state word before a
	// role goes to sleep.
	DefaultSpinBudget = 10000
	// RegionSize is the size creators should map for a channel.
	RegionSize = 4096
)

// Channel is the record shared by client and server. Its layout is part of the
// wire contract between the two processes; never copy it.
type Channel struct {
	magic      uint32 // 0x00, stored last by Init
	version    uint32 // 0x04
	state      uint32 // 0x08, futex word
	spinBudget uint32 // 0x0C, read-only after Init

	input  float64 // 0x10, written by the client while the server owns nothing
	output float64 // 0x18, written by the server while it owns the request

	stopRequested uint32 // 0x20
	busy          uint32 // 0x24, outstanding Call/Stop guard

	serverSleeps uint64 // 0x28, written only by the server
	clientSleeps uint64 // 0x30, written only by the client
}

// Size is the number of bytes a Channel occupies.
const Size = int(unsafe.Sizeof(Channel{}))

// Handler computes the server's output for an input.
type Handler func(float64) float64

// DefaultHandler is the server transformation x*x + 17.
func DefaultHandler(x float64) float64 {
	return x*x + 17
}

func at(mem []byte) (*Channel, error) {
	if len(mem) < Size {
		return nil, fmt.Errorf("%w: %d < %d bytes", ErrRegionTooSmall, len(mem), Size)
	}
	p := unsafe.Pointer(&mem[0])
	if uintptr(p)%8 != 0 {
		return nil, ErrMisaligned
	}
	return (*Channel)(p), nil
}

// Init constructs a Channel in place at the start of mem. It must run exactly
// once, before the peer touches the region.
func Init(mem []byte, spinBudget uint32) (*Channel, error) {
	if !futex.Supported {
		return nil, futex.ErrUnsupported
	}
	if spinBudget == 0 {
		return nil, ErrInvalidSpinBudget
	}
	c, err := at(mem)
	if err != nil {
		return nil, err
	}
	*c = Channel{
		version:    Version,
		state:      uint32(ServerSpinning),
		spinBudget: spinBudget,
	}
	atomic.StoreUint32(&c.magic, Magic)
	return c, nil
}

// Attach returns the Channel previously constructed by Init in mem, which is
// typically the peer's own mapping of the region. It never writes to mem.
func Attach(mem []byte) (*Channel, error) {
	if !futex.Supported {
		return nil, futex.ErrUnsupported
	}
	c, err := at(mem)
	if err != nil {
		return nil, err
	}
	if m := atomic.LoadUint32(&c.magic); m != Magic {
		return nil, fmt.Errorf("%w: magic %#x", ErrBadMagic, m)
	}
	if c.version != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, c.version)
	}
	return c, nil
}

// State returns the current value of the synchronization word.
func (c *Channel) State() State {
	return State(atomic.LoadUint32(&c.state))
}

// SpinBudget returns the spin budget set by Init.
func (c *Channel) SpinBudget() uint32 {
	return c.spinBudget
}

// ServerSleeps returns how often the server went to sleep waiting for work.
// The value is exact only after a completed handshake.
func (c *Channel) ServerSleeps() uint64 {
	return atomic.LoadUint64(&c.serverSleeps)
}

// ClientSleeps returns how often the client went to sleep waiting for a
// result.
func (c *Channel) ClientSleeps() uint64 {
	return atomic.LoadUint64(&c.clientSleeps)
}

// Snapshot is a point-in-time copy of a channel's observable fields.
type Snapshot struct {
	State         State
	SpinBudget    uint32
	StopRequested bool
	ServerSleeps  uint64
	ClientSleeps  uint64
}

// Snapshot reads the observable fields. It is meant for diagnostics; the
// fields are not read atomically as a group.
func (c *Channel) Snapshot() Snapshot {
	return Snapshot{
		State:         c.State(),
		SpinBudget:    c.spinBudget,
		StopRequested: atomic.LoadUint32(&c.stopRequested) != 0,
		ServerSleeps:  c.ServerSleeps(),
		ClientSleeps:  c.ClientSleeps(),
	}
}
