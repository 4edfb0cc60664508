package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/shmstore/internal/interfaces"
	"github.com/ehrlich-b/shmstore/internal/types"
	"github.com/ehrlich-b/shmstore/internal/wire"
)

// fakeAllocation/fakeArena mirror the root package's MockArena, kept
// local to this package to avoid an import cycle (the root package
// imports dispatch).
type fakeAllocation struct{ size int64 }

func (a *fakeAllocation) Size() int64 { return a.size }

type fakeArena struct {
	nextFD int
	freed  []interfaces.Allocation
	fail   bool
}

func (a *fakeArena) Alloc(n int64) (interfaces.Allocation, error) {
	if a.fail {
		return nil, errors.New("simulated allocation failure")
	}
	a.nextFD++
	return &fakeAllocation{size: n}, nil
}

func (a *fakeArena) Free(alloc interfaces.Allocation) error {
	a.freed = append(a.freed, alloc)
	return nil
}

func (a *fakeArena) Describe(alloc interfaces.Allocation) (types.Handle, error) {
	fa := alloc.(*fakeAllocation)
	return types.Handle{FD: a.nextFD, MapSize: fa.size, Offset: 0}, nil
}

func (a *fakeArena) Bytes(alloc interfaces.Allocation) []byte { return nil }
func (a *fakeArena) Close() error                             { return nil }

// fakeSender records every reply sent, keyed by destination fd.
type fakeSender struct {
	replies       []sentReply
	failReplyOnFD map[int]bool
}

type sentReply struct {
	fd      int
	msgType int64
	payload []byte
	passFD  int
	hadFD   bool
}

func newFakeSender() *fakeSender { return &fakeSender{failReplyOnFD: make(map[int]bool)} }

func (s *fakeSender) Reply(fd int, msgType int64, payload []byte) error {
	if s.failReplyOnFD[fd] {
		return errors.New("simulated write failure")
	}
	s.replies = append(s.replies, sentReply{fd: fd, msgType: msgType, payload: payload})
	return nil
}

func (s *fakeSender) ReplyWithFD(fd int, msgType int64, payload []byte, passFD int) error {
	if s.failReplyOnFD[fd] {
		return errors.New("simulated write failure")
	}
	s.replies = append(s.replies, sentReply{fd: fd, msgType: msgType, payload: payload, passFD: passFD, hadFD: true})
	return nil
}

func idFor(b byte) types.ObjectID {
	var id types.ObjectID
	id[0] = b
	return id
}

func TestCreateInsertsOpenAndReplies(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()

	req := wire.Request{ID: idFor(1), DataSize: 8, MetadataSize: 4}
	require.NoError(t, store.HandleCreate(10, req, sender))

	_, ok := store.Objects().FindOpen(req.ID)
	require.True(t, ok)
	require.Len(t, sender.replies, 1)
	require.True(t, sender.replies[0].hadFD)
}

func TestCreateDuplicateIsFatal(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	req := wire.Request{ID: idFor(2), DataSize: 8}

	require.NoError(t, store.HandleCreate(10, req, sender))
	err := store.HandleCreate(11, req, sender)
	require.Error(t, err)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}

func TestCreateAllocationFailureIsFatal(t *testing.T) {
	store := New(&fakeArena{fail: true}, nil, nil)
	sender := newFakeSender()
	err := store.HandleCreate(10, wire.Request{ID: idFor(3), DataSize: 8}, sender)
	require.Error(t, err)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}

func TestGetBeforeSealRegistersWaiterNoReply(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	id := idFor(4)

	require.NoError(t, store.HandleGet(20, wire.Request{ID: id}, sender))
	require.Empty(t, sender.replies)
	require.Equal(t, 1, store.Waiters().WaitersFor(id))
}

func TestGetAfterSealRepliesImmediately(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	id := idFor(5)

	require.NoError(t, store.HandleCreate(10, wire.Request{ID: id, DataSize: 8}, sender))
	require.NoError(t, store.HandleSeal(wire.Request{ID: id}, sender, nil))
	sender.replies = nil

	require.NoError(t, store.HandleGet(30, wire.Request{ID: id}, sender))
	require.Len(t, sender.replies, 1)
	require.True(t, sender.replies[0].hadFD)
}

func TestSealFansOutToAllWaiters(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	id := idFor(6)

	require.NoError(t, store.HandleGet(100, wire.Request{ID: id}, sender))
	require.NoError(t, store.HandleGet(101, wire.Request{ID: id}, sender))
	require.NoError(t, store.HandleCreate(10, wire.Request{ID: id, DataSize: 8}, sender))
	sender.replies = nil

	require.NoError(t, store.HandleSeal(wire.Request{ID: id}, sender, nil))
	require.Len(t, sender.replies, 2)
	require.Equal(t, 100, sender.replies[0].fd)
	require.Equal(t, 101, sender.replies[1].fd)
	require.Equal(t, 0, store.Waiters().WaitersFor(id))
}

func TestSealOfNonOpenIsNoop(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	require.NoError(t, store.HandleSeal(wire.Request{ID: idFor(7)}, sender, nil))
	require.Empty(t, sender.replies)
}

func TestContainsBeforeAndAfterSeal(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	id := idFor(8)

	require.NoError(t, store.HandleCreate(10, wire.Request{ID: id, DataSize: 8}, sender))
	sender.replies = nil
	require.NoError(t, store.HandleContains(10, wire.Request{ID: id}, sender))
	require.Equal(t, int32(0), decodeHasObject(t, sender.replies[0].payload))

	sender.replies = nil
	require.NoError(t, store.HandleSeal(wire.Request{ID: id}, sender, nil))
	sender.replies = nil
	require.NoError(t, store.HandleContains(10, wire.Request{ID: id}, sender))
	require.Equal(t, int32(1), decodeHasObject(t, sender.replies[0].payload))
}

func decodeHasObject(t *testing.T, payload []byte) int32 {
	t.Helper()
	reply, err := wire.UnmarshalReply(payload)
	require.NoError(t, err)
	return reply.HasObject
}

func TestDeleteUnsealedIsFatal(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	err := store.HandleDelete(wire.Request{ID: idFor(9)})
	require.Error(t, err)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}

func TestDeleteSealedSucceeds(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	id := idFor(10)

	require.NoError(t, store.HandleCreate(10, wire.Request{ID: id, DataSize: 8}, sender))
	require.NoError(t, store.HandleSeal(wire.Request{ID: id}, sender, nil))
	require.NoError(t, store.HandleDelete(wire.Request{ID: id}))

	_, ok := store.Objects().FindSealed(id)
	require.False(t, ok)
}

func TestSubscribePreconditionRejectsLateAttach(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	require.NoError(t, store.HandleCreate(10, wire.Request{ID: idFor(11), DataSize: 8}, sender))

	err := store.HandleSubscribe(500)
	require.Error(t, err)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}

func TestSubscribeSucceedsWhenEmpty(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	require.NoError(t, store.HandleSubscribe(500))
	require.True(t, store.Subs().IsRegistered(500))
}

func TestDisconnectReapsWaitersAndSubscriber(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	id := idFor(12)

	require.NoError(t, store.HandleGet(200, wire.Request{ID: id}, sender))
	require.NoError(t, store.HandleSubscribe(200))

	store.HandleDisconnect(200)

	require.Equal(t, 0, store.Waiters().WaitersFor(id))
	require.False(t, store.Subs().IsRegistered(200))
}

type spyDrainer struct{ drained []types.ObjectID }

func (d *spyDrainer) DrainAll(id types.ObjectID) { d.drained = append(d.drained, id) }

func TestSealInvokesDrainer(t *testing.T) {
	store := New(&fakeArena{}, nil, nil)
	sender := newFakeSender()
	id := idFor(13)

	require.NoError(t, store.HandleSubscribe(900))
	require.NoError(t, store.HandleCreate(10, wire.Request{ID: id, DataSize: 8}, sender))

	drainer := &spyDrainer{}
	require.NoError(t, store.HandleSeal(wire.Request{ID: id}, sender, drainer))
	require.Equal(t, []types.ObjectID{id}, drainer.drained)
	require.Equal(t, 1, store.Subs().Pending(900))
}
