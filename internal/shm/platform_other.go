//go:build !linux

package shm

import (
	"context"
	"os"
)

// MapRegion is not supported on this platform.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// MapFile is not supported on this platform.
func MapFile(ctx context.Context, name string, f *os.File) (*MappedRegion, error) {
	return nil, ErrUnsupported
}

// DupFile is not supported on this platform.
func (r *MappedRegion) DupFile() (*os.File, error) {
	return nil, ErrUnsupported
}

// UnmapRegion is not supported on this platform.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	return ErrUnsupported
}
