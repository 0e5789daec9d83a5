// Package shm contains the platform helpers that acquire and release the
// shared memory region a channel record is constructed in.
package shm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// MapType selects the backing of a mapped region.
type MapType uint8

const (
	// MapTypeMemFd backs the region with an anonymous memfd whose descriptor
	// can be inherited by a peer process.
	MapTypeMemFd MapType = iota
	// MapTypeDevShmFile backs the region with a file under /dev/shm. The file
	// is removed when the creating side unmaps it.
	MapTypeDevShmFile
	// MapTypeAnonymous is a MAP_SHARED|MAP_ANONYMOUS mapping. It has no
	// descriptor, so only goroutines of the mapping process can share it.
	MapTypeAnonymous
	// MapTypeInherited is a region mapped from a descriptor handed over by
	// the creating process.
	MapTypeInherited
)

func (t MapType) String() string {
	switch t {
	case MapTypeMemFd:
		return "memfd"
	case MapTypeDevShmFile:
		return "devshm"
	case MapTypeAnonymous:
		return "anon"
	case MapTypeInherited:
		return "inherited"
	default:
		return "MapType(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParseMapType is the inverse of MapType.String for the types a creator may
// request.
func ParseMapType(s string) (MapType, error) {
	switch s {
	case "memfd":
		return MapTypeMemFd, nil
	case "devshm":
		return MapTypeDevShmFile, nil
	case "anon":
		return MapTypeAnonymous, nil
	}
	return 0, fmt.Errorf("unknown map type %q", s)
}

var (
	// ErrUnsupported is returned on platforms without shared mappings.
	ErrUnsupported = errors.New("shared memory mapping not supported on this platform")
	// ErrInvalidSize is returned for non-positive mapping sizes.
	ErrInvalidSize = errors.New("invalid region size")
	// ErrNoDescriptor is returned when a descriptor is requested from an
	// anonymous mapping.
	ErrNoDescriptor = errors.New("region has no file descriptor")
)

// DefaultPathPrefix is prepended to the region name for MapTypeDevShmFile.
const DefaultPathPrefix = "/dev/shm/futexrpc_"

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Name       string
	Size       int
	Type       MapType
	PathPrefix string // MapTypeDevShmFile only, DefaultPathPrefix when empty
}

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Name string
	Path string // backing file for MapTypeDevShmFile
	Type MapType

	file  *os.File
	owner bool
	id    string
}

// File returns the descriptor backing the region. The region keeps ownership;
// callers must not close it.
func (r *MappedRegion) File() (*os.File, error) {
	if r.file == nil {
		return nil, ErrNoDescriptor
	}
	return r.file, nil
}

var (
	regionSeq atomic.Uint64
	regions   = cmap.New[*MappedRegion]()
)

func track(r *MappedRegion) {
	r.id = strconv.FormatUint(regionSeq.Add(1), 10)
	regions.Set(r.id, r)
}

func untrack(r *MappedRegion) {
	if r.id != "" {
		regions.Remove(r.id)
		r.id = ""
	}
}

// LiveRegions returns the number of regions mapped by this process and not
// yet unmapped.
func LiveRegions() int {
	return regions.Count()
}

// LiveRegionNames returns the names of the regions still mapped.
func LiveRegionNames() []string {
	names := make([]string, 0, regions.Count())
	for _, r := range regions.Items() {
		names = append(names, r.Name)
	}
	return names
}
