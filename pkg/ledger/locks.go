package ledger

import (
	"context"
	"sync"
)

// Locker serializes critical sections per asset id.
type Locker interface {
	Lock(ctx context.Context, assetID int64) (unlock func(), err error)
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// LockTable is an in-process Locker. Asset ids index into a table of
// reference-counted slots; a slot lives only while someone holds or waits on it.
type LockTable struct {
	mu    sync.Mutex
	slots map[int64]*lockSlot
}

func NewLockTable() *LockTable {
	return &LockTable{slots: make(map[int64]*lockSlot)}
}

func (t *LockTable) Lock(ctx context.Context, assetID int64) (func(), error) {
	t.mu.Lock()
	slot, ok := t.slots[assetID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		t.slots[assetID] = slot
	}
	slot.refs++
	t.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		t.release(assetID, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			t.release(assetID, slot)
		})
	}, nil
}

func (t *LockTable) release(assetID int64, slot *lockSlot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(t.slots, assetID)
	}
}

// Len returns the number of live slots.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
