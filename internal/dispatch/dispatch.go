// Package dispatch implements the store's request dispatcher (spec
// component E): it decodes a framed request, performs the lifecycle
// operation against the object table, waiters table, and subscriber
// registry, and emits a reply possibly carrying a passed fd. Grounded
// on the teacher's queue.Runner, which plays the analogous role of
// "decode one command, mutate state, respond" in internal/queue/runner.go,
// but collapsed here to plain synchronous calls since the store has no
// kernel ring to submit to — the event loop (internal/evloop) is the
// only scheduler.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/ehrlich-b/shmstore/internal/constants"
	"github.com/ehrlich-b/shmstore/internal/interfaces"
	"github.com/ehrlich-b/shmstore/internal/objtable"
	"github.com/ehrlich-b/shmstore/internal/subs"
	"github.com/ehrlich-b/shmstore/internal/types"
	"github.com/ehrlich-b/shmstore/internal/waiters"
	"github.com/ehrlich-b/shmstore/internal/wire"
)

// FatalError marks a precondition violation or unrecoverable I/O
// failure that spec.md §7 requires terminate the server process. The
// caller (the binary's main loop) is expected to errors.As for this
// type and exit non-zero.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("dispatch: fatal in %s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

func fatalf(op, format string, args ...interface{}) error {
	return &FatalError{Op: op, Err: fmt.Errorf(format, args...)}
}

// ReplySender is the narrow contract the dispatcher uses to answer a
// client on its command fd. The server's implementation (serverSender
// in the root package) writes through internal/conn's framing helpers;
// a fake implementation lives in dispatch's own tests.
type ReplySender interface {
	// Reply sends a framed reply with no passed fd (CONTAINS).
	Reply(fd int, msgType int64, payload []byte) error
	// ReplyWithFD sends a framed reply together with one passed fd via
	// ancillary data (CREATE/GET/SEAL).
	ReplyWithFD(fd int, msgType int64, payload []byte, passFD int) error
}

// Store holds every piece of mutable state the dispatcher operates on:
// the arena, the object table, the waiters table, and the subscriber
// registry. One Store belongs to exactly one event loop goroutine.
type Store struct {
	arena    interfaces.Arena
	objects  *objtable.Table
	waiters  *waiters.Table
	subs     *subs.Registry
	observer interfaces.Observer
	logger   interfaces.Logger
}

// New creates a Store over the given arena. observer may be nil (no
// metrics recorded); logger may be nil (no logging).
func New(arena interfaces.Arena, observer interfaces.Observer, logger interfaces.Logger) *Store {
	if observer == nil {
		observer = noopObserver{}
	}
	return &Store{
		arena:    arena,
		objects:  objtable.New(),
		waiters:  waiters.New(),
		subs:     subs.New(),
		observer: observer,
		logger:   logger,
	}
}

type noopObserver struct{}

func (noopObserver) ObserveCreate(int64, int64)     {}
func (noopObserver) ObserveSeal(int, int)           {}
func (noopObserver) ObserveGet(bool)                {}
func (noopObserver) ObserveContains(bool)           {}
func (noopObserver) ObserveDelete()                 {}
func (noopObserver) ObserveSubscriberDrop(int, int) {}
func (noopObserver) ObserveFatal(string)            {}

func (s *Store) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debugf(format, args...)
	}
}

// HandleCreate implements spec.md §4.E's CREATE: allocate
// data_size+metadata_size bytes, insert an open entry, and reply with
// the handle triple and offsets plus the passed arena fd. Duplicate
// creation of a live identifier is a fatal precondition violation
// (spec.md §4.B, §7, end-to-end scenario 6).
func (s *Store) HandleCreate(clientFD int, req wire.Request, sender ReplySender) error {
	total := req.DataSize + req.MetadataSize
	alloc, err := s.arena.Alloc(total)
	if err != nil {
		s.observer.ObserveFatal("CREATE")
		return fatalf("CREATE", "arena allocation of %d bytes failed: %w", total, err)
	}
	handle, err := s.arena.Describe(alloc)
	if err != nil {
		s.observer.ObserveFatal("CREATE")
		return fatalf("CREATE", "describe failed: %w", err)
	}

	entry := &objtable.Entry{
		ID: req.ID,
		Info: types.Info{
			DataSize:         req.DataSize,
			MetadataSize:     req.MetadataSize,
			CreateTimeUnixNs: time.Now().UnixNano(),
		},
		Alloc:  alloc,
		Handle: handle,
	}
	if err := s.objects.InsertOpen(entry); err != nil {
		s.observer.ObserveFatal("CREATE")
		return fatalf("CREATE", "identifier %s already exists: %w", req.ID, err)
	}
	s.observer.ObserveCreate(req.DataSize, req.MetadataSize)

	reply := wire.Reply{
		DataOffset:     handle.Offset,
		MetadataOffset: handle.Offset + req.DataSize,
		MapSize:        handle.MapSize,
		DataSize:       req.DataSize,
		MetadataSize:   req.MetadataSize,
		HasObject:      1,
		StoreFDVal:     int32(handle.FD),
	}
	if err := sender.ReplyWithFD(clientFD, constants.MsgCreate, wire.MarshalReply(reply), handle.FD); err != nil {
		return fatalf("CREATE", "reply write failed: %w", err)
	}
	return nil
}

// HandleGet implements spec.md §4.E's GET: reply immediately if id is
// sealed; otherwise register clientFD as a waiter and emit no reply —
// the reply is sent later, from HandleSeal's fan-out.
func (s *Store) HandleGet(clientFD int, req wire.Request, sender ReplySender) error {
	if entry, ok := s.objects.FindSealed(req.ID); ok {
		s.observer.ObserveGet(true)
		return s.replyHandle(clientFD, constants.MsgGet, entry, sender)
	}
	s.observer.ObserveGet(false)
	s.waiters.AddWaiter(req.ID, clientFD)
	return nil
}

// HandleContains implements spec.md §4.E's CONTAINS: a boolean reply
// with no passed fd, based purely on sealed-map membership.
func (s *Store) HandleContains(clientFD int, req wire.Request, sender ReplySender) error {
	_, ok := s.objects.FindSealed(req.ID)
	s.observer.ObserveContains(ok)
	has := int32(0)
	if ok {
		has = 1
	}
	reply := wire.Reply{HasObject: has}
	if err := sender.Reply(clientFD, constants.MsgContains, wire.MarshalReply(reply)); err != nil {
		return fatalf("CONTAINS", "reply write failed: %w", err)
	}
	return nil
}

// HandleSeal implements spec.md §4.E's SEAL: move open → sealed (a
// no-op if not open, per §7's explicit design choice), enqueue the
// identifier to every subscriber queue, and fan out to every waiter
// with a passed-fd reply.
func (s *Store) HandleSeal(req wire.Request, sender ReplySender, drainer NotifyDrainer) error {
	entry, ok := s.objects.Seal(req.ID)
	if !ok {
		return nil
	}
	if entry.Info.CreateTimeUnixNs != 0 {
		entry.Info.ConstructDuration = time.Duration(time.Now().UnixNano() - entry.Info.CreateTimeUnixNs)
	}

	s.subs.Enqueue(req.ID)
	subCount := s.subs.Count()
	if drainer != nil {
		drainer.DrainAll(req.ID)
	}

	waiterFDs := s.waiters.TakeWaiters(req.ID)
	s.observer.ObserveSeal(len(waiterFDs), subCount)
	for _, waiterFD := range waiterFDs {
		if err := s.replyHandle(waiterFD, constants.MsgSeal, entry, sender); err != nil {
			return err
		}
	}
	return nil
}

// NotifyDrainer lets HandleSeal opportunistically drain every
// subscriber queue right after enqueueing, per spec.md §4.D's "invoke
// the drain once opportunistically". The real implementation lives in
// the server wiring that owns the evloop registrations.
type NotifyDrainer interface {
	DrainAll(id types.ObjectID)
}

// HandleDelete implements spec.md §4.E's DELETE: removal is only valid
// from sealed; deleting an identifier that is not sealed is a fatal
// precondition violation (§4's lifecycle note and §7's taxonomy).
func (s *Store) HandleDelete(req wire.Request) error {
	entry, ok := s.objects.RemoveSealed(req.ID)
	if !ok {
		s.observer.ObserveFatal("DELETE")
		return fatalf("DELETE", "identifier %s is not sealed", req.ID)
	}
	if err := s.arena.Free(entry.Alloc); err != nil {
		s.observer.ObserveFatal("DELETE")
		return fatalf("DELETE", "arena free failed: %w", err)
	}
	s.observer.ObserveDelete()
	return nil
}

// HandleSubscribe implements spec.md §4.D's registration: precondition-
// checked attach of a dedicated notification fd.
func (s *Store) HandleSubscribe(notifyFD int) error {
	if err := s.subs.Register(notifyFD, s.objects.OpenCount(), s.objects.SealedCount()); err != nil {
		var pe *subs.PreconditionError
		if errors.As(err, &pe) {
			s.observer.ObserveFatal("SUBSCRIBE")
			return fatalf("SUBSCRIBE", "%w (open=%d sealed=%d)", err, pe.Open, pe.Sealed)
		}
		return err
	}
	return nil
}

// HandleDisconnect implements spec.md §4.E's DISCONNECT: deregister
// the client and reap any waiter entries pointing at it (the chosen
// resolution of Open Question 1 — see SPEC_FULL.md's Design Notes).
// If fd was a subscriber, its notification queue is also torn down
// (Open Question 4 / REDESIGN FLAG 4).
func (s *Store) HandleDisconnect(fd int) {
	s.waiters.RemoveFD(fd)
	if s.subs.IsRegistered(fd) {
		pending := s.subs.Pending(fd)
		s.subs.Unregister(fd)
		s.observer.ObserveSubscriberDrop(fd, pending)
	}
}

// DrainSubscriber drains fd's pending notification queue through
// sender, stopping at the first would-block send — the event loop's
// write-readiness callback for a subscriber fd.
func (s *Store) DrainSubscriber(fd int, sender subs.Sender) (int, error) {
	return s.subs.Drain(fd, sender)
}

// Objects, Waiters, and Subs expose the underlying tables read-only,
// for status reporting and tests.
func (s *Store) Objects() *objtable.Table { return s.objects }
func (s *Store) Waiters() *waiters.Table  { return s.waiters }
func (s *Store) Subs() *subs.Registry     { return s.subs }

func (s *Store) replyHandle(fd int, msgType int64, entry *objtable.Entry, sender ReplySender) error {
	reply := wire.Reply{
		DataOffset:     entry.Handle.Offset,
		MetadataOffset: entry.Handle.Offset + entry.Info.DataSize,
		MapSize:        entry.Handle.MapSize,
		DataSize:       entry.Info.DataSize,
		MetadataSize:   entry.Info.MetadataSize,
		HasObject:      1,
		StoreFDVal:     int32(entry.Handle.FD),
	}
	if err := sender.ReplyWithFD(fd, msgType, wire.MarshalReply(reply), entry.Handle.FD); err != nil {
		return fatalf("reply", "write to fd=%d failed: %w", fd, err)
	}
	return nil
}
