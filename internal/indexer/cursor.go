package indexer

import (
	"context"
	"sync"
	"sync/atomic"
)

// CursorTracker owns the reconciliation cursor: the last block whose events
// have all been applied. It also carries the busy flag that keeps passes from
// overlapping.
type CursorTracker struct {
	store         CursorStore
	startBlock    uint64
	confirmations uint64

	busy atomic.Bool

	mu     sync.Mutex
	loaded bool
	valid  bool
	last   uint64
}

// NewCursorTracker builds a tracker. Without a stored cursor the first range
// starts at startBlock. Ranges stop confirmations blocks below the tip.
func NewCursorTracker(store CursorStore, startBlock, confirmations uint64) *CursorTracker {
	return &CursorTracker{
		store:         store,
		startBlock:    startBlock,
		confirmations: confirmations,
	}
}

// TryBegin marks a pass as in flight. It returns false when one already is.
func (c *CursorTracker) TryBegin() bool {
	return c.busy.CompareAndSwap(false, true)
}

// End clears the in-flight mark set by TryBegin.
func (c *CursorTracker) End() {
	c.busy.Store(false)
}

// Last returns the committed cursor, loading it from the store on first use.
func (c *CursorTracker) Last(ctx context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return 0, false, err
	}
	return c.last, c.valid, nil
}

// NextRange returns the blocks after the cursor up to the confirmed tip, or
// false when the tip has not moved past the cursor.
func (c *CursorTracker) NextRange(ctx context.Context, tip uint64) (BlockRange, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return BlockRange{}, false, err
	}
	if tip < c.confirmations {
		return BlockRange{}, false, nil
	}
	safeTip := tip - c.confirmations

	from := c.startBlock
	if c.valid && c.last >= from {
		from = c.last + 1
		if from == 0 {
			return BlockRange{}, false, nil
		}
	}
	if from > safeTip {
		return BlockRange{}, false, nil
	}
	return BlockRange{From: from, To: safeTip}, true, nil
}

// Commit advances the cursor to block once every event up to it has been
// applied. Commits at or below the current cursor are ignored.
func (c *CursorTracker) Commit(ctx context.Context, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(ctx); err != nil {
		return err
	}
	if c.valid && block <= c.last {
		return nil
	}
	if err := c.store.Save(ctx, block); err != nil {
		return err
	}
	c.last = block
	c.valid = true
	return nil
}

func (c *CursorTracker) loadLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	last, ok, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	c.last, c.valid, c.loaded = last, ok, true
	return nil
}
