// Package types holds the core data-model types shared by every internal
// package (and re-exported by the root package), kept separate so that
// objtable/waiters/subs/wire/dispatch can all depend on them without
// creating an import cycle back through the root package.
package types

import (
	"encoding/hex"
	"time"

	"github.com/ehrlich-b/shmstore/internal/constants"
)

// ObjectID is a 20-byte opaque content identifier, the sole key of the
// object table and the waiters table (spec.md §3).
type ObjectID [constants.ObjectIDSize]byte

// String renders the identifier as lowercase hex, for logging.
func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero identifier.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// Info is the per-object metadata stored alongside an object-table entry.
type Info struct {
	DataSize          int64
	MetadataSize      int64
	CreateTimeUnixNs  int64
	ConstructDuration time.Duration
}

// Handle is the (fd, map_size, offset) triple sufficient for a peer to
// mmap and locate the exact bytes of one allocation.
type Handle struct {
	FD      int
	MapSize int64
	Offset  int64
}
