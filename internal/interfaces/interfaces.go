// Package interfaces provides internal interface definitions for shmstore.
// These are separate from the public interfaces to avoid circular imports
// between the root package and its internal packages.
package interfaces

import "github.com/ehrlich-b/shmstore/internal/types"

// Arena is the narrow contract the store's core asks of its shared-memory
// allocator (spec component A): allocate a contiguous buffer, describe it
// as a handle triple a peer process can mmap, and free it back.
type Arena interface {
	// Alloc reserves n contiguous bytes and returns a reference to them.
	Alloc(n int64) (Allocation, error)

	// Free releases a previously allocated buffer. Freeing an allocation
	// twice, or one not returned by this arena, is a programmer error.
	Free(a Allocation) error

	// Describe returns the handle triple naming the exact bytes of a,
	// stable for the lifetime of the allocation.
	Describe(a Allocation) (types.Handle, error)

	// Bytes returns a byte slice view over the allocation for the local
	// process to read/write directly (the producer side never needs to
	// go through the fd it hands to consumers).
	Bytes(a Allocation) []byte

	// Close releases every segment backing this arena.
	Close() error
}

// Allocation is an opaque reference to a live arena allocation. Concrete
// arenas define their own underlying type; callers only pass it back.
type Allocation interface {
	// Size is the number of bytes the allocation reserves. internal/arena
	// reserves one byte for a zero-byte request, so Size reports 1 there.
	Size() int64
}

// Logger is the logging contract used by internal packages that must not
// import the concrete logging package directly (keeps internal/logging
// swappable and avoids import cycles from deeper internal packages).
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer is the metrics-collection contract. Implementations must be
// thread-safe: ObserveX methods are called from the single event-loop
// goroutine while the debug HTTP server goroutine may read the same
// counters concurrently (the counters themselves are atomic).
type Observer interface {
	ObserveCreate(dataSize, metadataSize int64)
	ObserveSeal(waiters int, subscribers int)
	ObserveGet(hit bool)
	ObserveContains(hit bool)
	ObserveDelete()
	ObserveSubscriberDrop(fd int, pending int)
	ObserveFatal(op string)
}
