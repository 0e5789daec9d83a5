//go:build linux

package shm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MapRegion creates a shared memory region (Linux implementation). The
// returned memory is zero filled.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, opts.Size)
	}
	var (
		r   *MappedRegion
		err error
	)
	switch opts.Type {
	case MapTypeAnonymous:
		r, err = mapAnonymous(opts)
	case MapTypeMemFd:
		r, err = mapMemFd(opts)
	case MapTypeDevShmFile:
		r, err = mapDevShmFile(opts)
	default:
		return nil, fmt.Errorf("cannot create region of type %v", opts.Type)
	}
	if err != nil {
		return nil, err
	}
	r.owner = true
	track(r)
	return r, nil
}

// MapFile maps the whole file f, typically a descriptor inherited from the
// process that created the region. The region takes ownership of f.
func MapFile(ctx context.Context, name string, f *os.File) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return nil, fmt.Errorf("fstat: %w", err)
	}
	if st.Size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, st.Size)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	r := &MappedRegion{Addr: mem, Name: name, Type: MapTypeInherited, file: f}
	track(r)
	return r, nil
}

func mapAnonymous(opts MapOptions) (*MappedRegion, error) {
	mem, err := unix.Mmap(-1, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{Addr: mem, Name: opts.Name, Type: MapTypeAnonymous}, nil
}

func mapMemFd(opts MapOptions) (*MappedRegion, error) {
	fd, err := unix.MemfdCreate(opts.Name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	f := os.NewFile(uintptr(fd), "memfd:"+opts.Name)
	if err := unix.Ftruncate(fd, int64(opts.Size)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	mem, err := unix.Mmap(fd, 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{Addr: mem, Name: opts.Name, Type: MapTypeMemFd, file: f}, nil
}

func mapDevShmFile(opts MapOptions) (*MappedRegion, error) {
	prefix := opts.PathPrefix
	if prefix == "" {
		prefix = DefaultPathPrefix
	}
	path := prefix + opts.Name
	// ignore mkdir error, OpenFile reports the real problem
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(path)
	}
	if err := f.Truncate(int64(opts.Size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, opts.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &MappedRegion{Addr: mem, Name: opts.Name, Path: path, Type: MapTypeDevShmFile, file: f}, nil
}

// DupFile returns a new close-on-exec descriptor for the region's backing
// file, owned by the caller.
func (r *MappedRegion) DupFile() (*os.File, error) {
	if r.file == nil {
		return nil, ErrNoDescriptor
	}
	fd, err := unix.FcntlInt(r.file.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("dup: %w", err)
	}
	return os.NewFile(uintptr(fd), r.file.Name()), nil
}

// UnmapRegion unmaps the region and releases its descriptor (Linux
// implementation). The creator of a MapTypeDevShmFile region also removes the
// backing file. Unmapping twice is a no-op.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	untrack(region)
	var firstErr error
	if err := unix.Munmap(region.Addr); err != nil {
		firstErr = fmt.Errorf("munmap: %w", err)
	}
	region.Addr = nil
	if region.file != nil {
		if err := region.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close: %w", err)
		}
		region.file = nil
	}
	if region.owner && region.Type == MapTypeDevShmFile {
		if err := os.Remove(region.Path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", region.Path, err)
		}
	}
	return firstErr
}
