// Package waiters implements the store's waiters table (spec component
// C): an ordered, per-identifier list of client connections blocked on
// a GET issued before the matching SEAL. Grounded on the per-tag state
// bookkeeping shape in the teacher's internal/queue/runner.go (a slice
// keyed by a small integer domain there; here a map keyed by the
// store's 20-byte identifier), but without the teacher's per-tag
// mutexes — this table, like the rest of the store's state, is only
// ever touched from the single event-loop goroutine (spec.md §5).
package waiters

import "github.com/ehrlich-b/shmstore/internal/types"

// Table tracks, per not-yet-sealed identifier (open, or not yet
// created at all), the ordered set
// of client file descriptors blocked in a GET call. Not safe for
// concurrent use.
type Table struct {
	byID map[types.ObjectID][]int
	byFD map[int]map[types.ObjectID]struct{}
}

// New creates an empty waiters table.
func New() *Table {
	return &Table{
		byID: make(map[types.ObjectID][]int),
		byFD: make(map[int]map[types.ObjectID]struct{}),
	}
}

// AddWaiter records that fd is blocked on id. Order of addition is
// preserved so TakeWaiters fans out replies in arrival order, per
// spec.md §4.E's GET invariant.
func (t *Table) AddWaiter(id types.ObjectID, fd int) {
	t.byID[id] = append(t.byID[id], fd)
	ids, ok := t.byFD[fd]
	if !ok {
		ids = make(map[types.ObjectID]struct{})
		t.byFD[fd] = ids
	}
	ids[id] = struct{}{}
}

// TakeWaiters removes and returns every fd waiting on id, in the order
// they were added. Called once, on SEAL, to fan out the reply to every
// blocked GET.
func (t *Table) TakeWaiters(id types.ObjectID) []int {
	fds, ok := t.byID[id]
	if !ok {
		return nil
	}
	delete(t.byID, id)
	for _, fd := range fds {
		if ids, ok := t.byFD[fd]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(t.byFD, fd)
			}
		}
	}
	return fds
}

// RemoveFD drops every pending wait registered for fd, e.g. because its
// connection disconnected before the id it was waiting on was ever
// sealed. Without this, a waiters entry for a dead fd would sit forever
// and, worse, SEAL would later try to write a reply to a closed
// descriptor.
func (t *Table) RemoveFD(fd int) {
	ids, ok := t.byFD[fd]
	if !ok {
		return
	}
	for id := range ids {
		remaining := t.byID[id][:0]
		for _, waiting := range t.byID[id] {
			if waiting != fd {
				remaining = append(remaining, waiting)
			}
		}
		if len(remaining) == 0 {
			delete(t.byID, id)
		} else {
			t.byID[id] = remaining
		}
	}
	delete(t.byFD, fd)
}

// Count reports how many distinct identifiers currently have waiters,
// for the debug/status surface.
func (t *Table) Count() int { return len(t.byID) }

// WaitersFor reports how many fds are waiting on id, without consuming
// them — used by tests.
func (t *Table) WaitersFor(id types.ObjectID) int { return len(t.byID[id]) }
