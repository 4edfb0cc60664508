// Package arena implements the store's shared-memory allocator (spec
// component A): a bump allocator over one or more memfd-backed mmap
// segments, each of which can be handed to a peer process as a
// (fd, map_size, offset) handle triple so it can mmap the exact same
// bytes. Grounded on the mmap technique in the teacher's
// internal/queue/runner.go (mmapQueues), lifted from raw
// syscall.Syscall6 calls to the golang.org/x/sys/unix wrappers the same
// codebase already uses elsewhere (e.g. unix.SchedSetaffinity).
package arena

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/shmstore/internal/interfaces"
	"github.com/ehrlich-b/shmstore/internal/types"
)

// freeRange is a reclaimed, reusable byte range within a segment.
type freeRange struct {
	offset int64
	size   int64
}

// segment is one memfd-backed mapping. Allocations never span segments.
type segment struct {
	fd      int
	mapSize int64
	base    []byte // mmap'd view, len == mapSize
	bump    int64  // next never-yet-used offset
	free    []freeRange
}

// Allocation references a byte range inside one segment.
type Allocation struct {
	seg    *segment
	offset int64
	size   int64
}

// Size implements interfaces.Allocation.
func (a Allocation) Size() int64 { return a.size }

// Arena is a growable collection of memfd segments. It is not safe for
// concurrent use — like every other piece of store state, it is owned
// by the single event-loop goroutine.
type Arena struct {
	segmentSize int64
	logger      interfaces.Logger
	segments    []*segment
}

var _ interfaces.Arena = (*Arena)(nil)

// New creates an arena that grows in segmentSize-byte increments (the
// first segment is created lazily, on the first Alloc).
func New(segmentSize int64, logger interfaces.Logger) *Arena {
	if segmentSize <= 0 {
		segmentSize = 64 << 20
	}
	return &Arena{segmentSize: segmentSize, logger: logger}
}

// Alloc reserves n contiguous bytes. It first looks for a reusable free
// range in an existing segment (first-fit), then falls back to bumping
// the most recently created segment, creating a new one if needed.
func (a *Arena) Alloc(n int64) (interfaces.Allocation, error) {
	if n < 0 {
		return nil, fmt.Errorf("arena: negative allocation size %d", n)
	}
	if n == 0 {
		n = 1 // a zero-byte object still needs a nameable byte range
	}

	for _, seg := range a.segments {
		if idx, fr := firstFit(seg.free, n); idx >= 0 {
			seg.free = append(seg.free[:idx], seg.free[idx+1:]...)
			if fr.size > n {
				seg.free = append(seg.free, freeRange{offset: fr.offset + n, size: fr.size - n})
			}
			return Allocation{seg: seg, offset: fr.offset, size: n}, nil
		}
	}

	if len(a.segments) > 0 {
		last := a.segments[len(a.segments)-1]
		if last.mapSize-last.bump >= n {
			off := last.bump
			last.bump += n
			return Allocation{seg: last, offset: off, size: n}, nil
		}
	}

	segSize := a.segmentSize
	if n > segSize {
		segSize = n
	}
	newSeg, err := newSegment(segSize)
	if err != nil {
		return nil, fmt.Errorf("arena: allocation failed: %w", err)
	}
	newSeg.bump = n
	a.segments = append(a.segments, newSeg)
	if a.logger != nil {
		a.logger.Debugf("arena: grew by new segment (fd=%d size=%d)", newSeg.fd, newSeg.mapSize)
	}
	return Allocation{seg: newSeg, offset: 0, size: n}, nil
}

// firstFit returns the index of the first free range big enough for n,
// or -1 if none fits.
func firstFit(free []freeRange, n int64) (int, freeRange) {
	for i, fr := range free {
		if fr.size >= n {
			return i, fr
		}
	}
	return -1, freeRange{}
}

// Free returns a's bytes to its segment's free list.
func (a *Arena) Free(alloc interfaces.Allocation) error {
	al, ok := alloc.(Allocation)
	if !ok {
		return fmt.Errorf("arena: Free called with foreign allocation type %T", alloc)
	}
	al.seg.free = append(al.seg.free, freeRange{offset: al.offset, size: al.size})
	return nil
}

// Describe returns the handle triple naming a's bytes.
func (a *Arena) Describe(alloc interfaces.Allocation) (types.Handle, error) {
	al, ok := alloc.(Allocation)
	if !ok {
		return types.Handle{}, fmt.Errorf("arena: Describe called with foreign allocation type %T", alloc)
	}
	return types.Handle{FD: al.seg.fd, MapSize: al.seg.mapSize, Offset: al.offset}, nil
}

// Bytes returns a direct view over alloc's bytes for local reads/writes.
func (a *Arena) Bytes(alloc interfaces.Allocation) []byte {
	al, ok := alloc.(Allocation)
	if !ok {
		return nil
	}
	return al.seg.base[al.offset : al.offset+al.size]
}

// Close unmaps and closes every segment. Safe to call once.
func (a *Arena) Close() error {
	var first error
	for _, seg := range a.segments {
		if err := unix.Munmap(seg.base); err != nil && first == nil {
			first = fmt.Errorf("arena: munmap fd=%d: %w", seg.fd, err)
		}
		if err := unix.Close(seg.fd); err != nil && first == nil {
			first = fmt.Errorf("arena: close fd=%d: %w", seg.fd, err)
		}
	}
	a.segments = nil
	return first
}

// newSegment creates one memfd-backed, MAP_SHARED segment of size bytes.
func newSegment(size int64) (*segment, error) {
	fd, err := unix.MemfdCreate("shmstore-arena", 0)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	base, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return &segment{fd: fd, mapSize: size, base: base}, nil
}
