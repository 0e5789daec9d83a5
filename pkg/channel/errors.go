package channel

import "errors"

var (
	// ErrRegionTooSmall is returned when the memory cannot hold a Channel.
	ErrRegionTooSmall = errors.New("region too small for channel record")
	// ErrMisaligned is returned when the memory is not 8-byte aligned.
	ErrMisaligned = errors.New("channel record is not 8-byte aligned")
	// ErrBadMagic is returned by Attach when the region was never initialized.
	ErrBadMagic = errors.New("channel record not initialized")
	// ErrBadVersion is returned by Attach for a record of another layout version.
	ErrBadVersion = errors.New("unsupported channel layout version")
	// ErrInvalidSpinBudget is returned by Init for a zero spin budget.
	ErrInvalidSpinBudget = errors.New("spin budget must be positive")
	// ErrConcurrentCall is the panic value when a second Call or Stop is
	// issued while one is outstanding.
	ErrConcurrentCall = errors.New("channel: concurrent call on single-request channel")
)
