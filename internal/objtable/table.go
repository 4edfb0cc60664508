// Package objtable implements the store's object table (spec component
// B): two maps keyed by 20-byte identifier, "open" and "sealed", with the
// seal transition moving an entry from one to the other. Grounded on the
// teacher's per-tag state bookkeeping in internal/queue/runner.go
// (tagStates/tagMutexes), generalized from a fixed-size tag array to a
// map keyed by the spec's identifier, and stripped of the teacher's
// per-tag mutexes since every mutation here runs on the single
// event-loop goroutine (spec.md §5).
package objtable

import (
	"fmt"

	"github.com/ehrlich-b/shmstore/internal/interfaces"
	"github.com/ehrlich-b/shmstore/internal/types"
)

// Entry is one live object: its identifier, metadata, owning allocation,
// and the handle triple describing where its bytes live.
type Entry struct {
	ID     types.ObjectID
	Info   types.Info
	Alloc  interfaces.Allocation
	Handle types.Handle
}

// ErrAlreadyExists is returned by InsertOpen when id is already present
// in either the open or sealed map. Per spec.md §4.B this is a fatal
// precondition violation; the caller decides how to react.
var ErrAlreadyExists = fmt.Errorf("objtable: identifier already exists")

// Table holds the open and sealed maps. Not safe for concurrent use.
type Table struct {
	open   map[types.ObjectID]*Entry
	sealed map[types.ObjectID]*Entry
}

// New creates an empty object table.
func New() *Table {
	return &Table{
		open:   make(map[types.ObjectID]*Entry),
		sealed: make(map[types.ObjectID]*Entry),
	}
}

// InsertOpen adds e to the open map. Returns ErrAlreadyExists if e.ID is
// already open or sealed — invariant 1 of spec.md §3 ("at most one of
// {open, sealed}").
func (t *Table) InsertOpen(e *Entry) error {
	if _, exists := t.open[e.ID]; exists {
		return ErrAlreadyExists
	}
	if _, exists := t.sealed[e.ID]; exists {
		return ErrAlreadyExists
	}
	t.open[e.ID] = e
	return nil
}

// FindOpen looks up id in the open map.
func (t *Table) FindOpen(id types.ObjectID) (*Entry, bool) {
	e, ok := t.open[id]
	return e, ok
}

// RemoveOpen removes id from the open map, if present.
func (t *Table) RemoveOpen(id types.ObjectID) {
	delete(t.open, id)
}

// FindSealed looks up id in the sealed map.
func (t *Table) FindSealed(id types.ObjectID) (*Entry, bool) {
	e, ok := t.sealed[id]
	return e, ok
}

// RemoveSealed removes id from the sealed map, if present, returning the
// removed entry so the caller can free its allocation.
func (t *Table) RemoveSealed(id types.ObjectID) (*Entry, bool) {
	e, ok := t.sealed[id]
	if ok {
		delete(t.sealed, id)
	}
	return e, ok
}

// Seal moves id from open to sealed. It reports ok=false, with no
// mutation, if id is not currently open — spec.md §4.B/§4.E/§7: "sealing
// a nonexistent open entry is a no-op".
func (t *Table) Seal(id types.ObjectID) (*Entry, bool) {
	e, ok := t.open[id]
	if !ok {
		return nil, false
	}
	delete(t.open, id)
	t.sealed[id] = e
	return e, true
}

// OpenCount and SealedCount support the debug/status surface (SPEC_FULL
// §10, Server.Info) without exposing the maps themselves.
func (t *Table) OpenCount() int   { return len(t.open) }
func (t *Table) SealedCount() int { return len(t.sealed) }
