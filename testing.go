package shmstore

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/shmstore/internal/interfaces"
	"github.com/ehrlich-b/shmstore/internal/types"
)

// MockArena is a heap-backed, in-process stand-in for internal/arena's
// Arena, for callers that want to exercise CREATE/GET/SEAL logic
// without memfd/mmap syscalls. It implements interfaces.Arena.
type MockArena struct {
	mu         sync.Mutex
	bufs       map[*mockAllocation][]byte
	allocCalls int
	freeCalls  int
	failNext   bool
}

type mockAllocation struct {
	size int64
}

func (a *mockAllocation) Size() int64 { return a.size }

// NewMockArena creates an empty mock arena.
func NewMockArena() *MockArena {
	return &MockArena{bufs: make(map[*mockAllocation][]byte)}
}

// FailNextAlloc makes the next Alloc call return an error, for testing
// CREATE's allocation-failure path.
func (a *MockArena) FailNextAlloc() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failNext = true
}

func (a *MockArena) Alloc(n int64) (interfaces.Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allocCalls++
	if a.failNext {
		a.failNext = false
		return nil, fmt.Errorf("mockarena: simulated allocation failure")
	}
	if n < 0 {
		return nil, fmt.Errorf("mockarena: negative size %d", n)
	}
	alloc := &mockAllocation{size: n}
	a.bufs[alloc] = make([]byte, n)
	return alloc, nil
}

func (a *MockArena) Free(alloc interfaces.Allocation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeCalls++
	ma, ok := alloc.(*mockAllocation)
	if !ok {
		return fmt.Errorf("mockarena: foreign allocation type %T", alloc)
	}
	delete(a.bufs, ma)
	return nil
}

func (a *MockArena) Describe(alloc interfaces.Allocation) (types.Handle, error) {
	ma, ok := alloc.(*mockAllocation)
	if !ok {
		return types.Handle{}, fmt.Errorf("mockarena: foreign allocation type %T", alloc)
	}
	return types.Handle{FD: -1, MapSize: ma.size, Offset: 0}, nil
}

func (a *MockArena) Bytes(alloc interfaces.Allocation) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	ma, ok := alloc.(*mockAllocation)
	if !ok {
		return nil
	}
	return a.bufs[ma]
}

func (a *MockArena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bufs = nil
	return nil
}

// AllocCalls and FreeCalls report call counts, for assertions.
func (a *MockArena) AllocCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocCalls
}

func (a *MockArena) FreeCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCalls
}

var _ interfaces.Arena = (*MockArena)(nil)

// NoOpObserver is a no-op interfaces.Observer, for tests and callers
// that don't want metrics wired up.
type NoOpObserver struct{}

func (NoOpObserver) ObserveCreate(int64, int64)      {}
func (NoOpObserver) ObserveSeal(int, int)            {}
func (NoOpObserver) ObserveGet(bool)                 {}
func (NoOpObserver) ObserveContains(bool)             {}
func (NoOpObserver) ObserveDelete()                  {}
func (NoOpObserver) ObserveSubscriberDrop(int, int)  {}
func (NoOpObserver) ObserveFatal(string)              {}

var _ interfaces.Observer = NoOpObserver{}
