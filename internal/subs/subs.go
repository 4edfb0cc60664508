// Package subs implements the store's subscriber registry and
// notification queues (spec component D): a per-subscriber fd ordered
// buffer of pending identifiers, drained opportunistically on write
// readiness and stopped at the first would-block send. Grounded on the
// teacher's non-blocking, continue-on-EAGAIN completion draining in
// internal/queue/runner.go, generalized from ring completions to a
// plain per-fd byte queue.
package subs

import "github.com/ehrlich-b/shmstore/internal/types"

// PreconditionError is returned by Register when the store already has open
// or sealed objects — spec.md §4.D: "a subscriber must attach before
// any object activity; this is a precondition because past seal events
// are not replayed."
type PreconditionError struct {
	Open, Sealed int
}

func (e *PreconditionError) Error() string {
	return "subs: cannot register subscriber once objects exist"
}

// queue is one subscriber's pending-identifier buffer.
type queue struct {
	pending []types.ObjectID
}

// Registry holds every live subscriber queue, keyed by notification fd.
// Not safe for concurrent use.
type Registry struct {
	byFD map[int]*queue
}

// New creates an empty subscriber registry.
func New() *Registry {
	return &Registry{byFD: make(map[int]*queue)}
}

// Register adds fd as a subscriber. openCount and sealedCount are the
// object table's current sizes at registration time; Register refuses
// to attach a late subscriber per spec.md §4.D.
func (r *Registry) Register(fd int, openCount, sealedCount int) error {
	if openCount != 0 || sealedCount != 0 {
		return &PreconditionError{Open: openCount, Sealed: sealedCount}
	}
	r.byFD[fd] = &queue{}
	return nil
}

// Unregister tears down fd's queue entirely, per spec.md REDESIGN FLAG 4
// ("the notification queue ... is never freed on disconnect in the
// source — this is a leak. Specify explicit teardown on subscriber-fd
// close").
func (r *Registry) Unregister(fd int) {
	delete(r.byFD, fd)
}

// Enqueue appends id to the back of every live subscriber's queue, in
// the server's single observed seal order (spec.md §4.D "Enqueue on
// seal").
func (r *Registry) Enqueue(id types.ObjectID) {
	for _, q := range r.byFD {
		q.pending = append(q.pending, id)
	}
}

// Sender is the non-blocking write primitive the registry drains
// through. It must report io.ErrShortWrite-equivalent would-block
// conditions via ok=false rather than an error, so Drain can
// distinguish backpressure from a dead connection.
type Sender interface {
	// TrySend attempts to write id as a fixed 20-byte frame to fd. ok is
	// false if the write would block (EAGAIN/EWOULDBLOCK); err is
	// non-nil for any other failure.
	TrySend(fd int, id types.ObjectID) (ok bool, err error)
}

// Drain pops identifiers from the front of fd's queue and sends each
// via sender, stopping at the first would-block send — the store's
// backpressure mechanism (spec.md §4.D). It returns the number of
// identifiers successfully sent. If fd is not a registered subscriber,
// Drain is a no-op.
func (r *Registry) Drain(fd int, sender Sender) (int, error) {
	q, ok := r.byFD[fd]
	if !ok {
		return 0, nil
	}
	sent := 0
	for len(q.pending) > 0 {
		id := q.pending[0]
		ok, err := sender.TrySend(fd, id)
		if err != nil {
			return sent, err
		}
		if !ok {
			return sent, nil
		}
		q.pending = q.pending[1:]
		sent++
	}
	return sent, nil
}

// Pending reports how many identifiers are queued for fd, for the
// debug/status surface and for REDESIGN FLAG 4's backpressure test.
func (r *Registry) Pending(fd int) int {
	q, ok := r.byFD[fd]
	if !ok {
		return 0
	}
	return len(q.pending)
}

// Count reports the number of live subscribers.
func (r *Registry) Count() int { return len(r.byFD) }

// IsRegistered reports whether fd is a live subscriber.
func (r *Registry) IsRegistered(fd int) bool {
	_, ok := r.byFD[fd]
	return ok
}

// FDs returns every live subscriber fd, in no particular order — used
// by the server to opportunistically drain every queue right after a
// seal (spec.md §4.D "invoke the drain once opportunistically").
func (r *Registry) FDs() []int {
	fds := make([]int, 0, len(r.byFD))
	for fd := range r.byFD {
		fds = append(fds, fd)
	}
	return fds
}
