package indexer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paysync/internal/chain"
	"paysync/internal/events"
	"paysync/internal/model"
	"paysync/internal/storage/memory"
)

type pollerFixture struct {
	ledger  *fakeLedger
	store   *memory.Store
	clock   *clock.Mock
	tracker *CursorTracker
	poller  *Poller
}

func newPollerFixture(t *testing.T, cfg PollerConfig) *pollerFixture {
	t.Helper()
	f := &pollerFixture{
		ledger: &fakeLedger{},
		store:  memory.NewStore(),
		clock:  clock.NewMock(),
	}
	require.NoError(t, f.store.InsertOrder(context.Background(), &model.Order{
		ID:        "order-1",
		OnChainID: "abc123",
		SellerID:  "seller",
		BuyerID:   "buyer",
	}))

	f.tracker = NewCursorTracker(&StateCursorStore{State: f.store, Name: "payment-gateway"}, 100, 0)
	fetcher := NewFetcher(f.ledger, FetcherConfig{ChunkSize: 1, RetryBackoff: time.Millisecond})
	applier := events.NewApplier(f.store, events.ApplierConfig{Clock: f.clock})

	if cfg.ContractAddress == "-" {
		cfg.ContractAddress = ""
	} else if cfg.ContractAddress == "" {
		cfg.ContractAddress = "0x1"
	}
	cfg.CursorName = "payment-gateway"
	cfg.Clock = f.clock
	f.poller = NewPoller(fetcher, applier, f.tracker, cfg)
	return f
}

func (f *pollerFixture) cursor(t *testing.T) (uint64, bool) {
	t.Helper()
	block, ok, err := f.store.LoadState(context.Background(), "payment-gateway")
	require.NoError(t, err)
	return block, ok
}

func TestPollerReconcilesPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newPollerFixture(t, PollerConfig{})
	f.ledger.set(func(l *fakeLedger) {
		l.tip = 110
		l.events = []chain.EmittedEvent{
			emittedCreated(103, "0xt1", 42, "abc123", 5000),
			emittedOther(105, "0xt2"),
		}
	})

	res := f.poller.RunOnce(ctx)
	require.NoError(t, res.Err)
	assert.Equal(t, PassCompleted, res.Status)
	assert.Equal(t, BlockRange{From: 100, To: 110}, res.Range)
	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 1, res.Stats.Applied)
	assert.Equal(t, 1, res.Stats.Skipped)
	assert.True(t, res.HasCommit)
	assert.Equal(t, uint64(110), res.Committed)

	block, ok := f.cursor(t)
	assert.True(t, ok)
	assert.Equal(t, uint64(110), block)

	payment, err := f.store.GetPaymentByOnChainID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, "5000", payment.Amount.String())
	assert.Equal(t, model.PaymentStatusPending, payment.Status)
	assert.Equal(t, "order-1", *payment.OrderID)

	f.ledger.set(func(l *fakeLedger) {
		l.tip = 115
		l.events = append(l.events, emittedCompleted(112, "0xt3", 42, 4950, 50))
	})
	res = f.poller.RunOnce(ctx)
	assert.Equal(t, PassCompleted, res.Status)
	assert.Equal(t, BlockRange{From: 111, To: 115}, res.Range)
	assert.Equal(t, 1, res.Stats.Applied)

	payment, err = f.store.GetPaymentByOnChainID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, payment.Status)
	order, err := f.store.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, order.Status)
}

func TestPollerReplayedRangeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newPollerFixture(t, PollerConfig{})
	f.ledger.set(func(l *fakeLedger) {
		l.tip = 110
		l.events = []chain.EmittedEvent{
			emittedCreated(103, "0xt1", 42, "abc123", 5000),
			emittedCompleted(108, "0xt2", 42, 4950, 50),
		}
	})
	require.Equal(t, PassCompleted, f.poller.RunOnce(ctx).Status)

	// A crash before commit means the next process sees the old cursor.
	require.NoError(t, f.store.SaveState(ctx, "payment-gateway", 99))
	tracker := NewCursorTracker(&StateCursorStore{State: f.store, Name: "payment-gateway"}, 100, 0)
	f.poller.cursor = tracker

	res := f.poller.RunOnce(ctx)
	assert.Equal(t, PassCompleted, res.Status)
	assert.Equal(t, 1, res.Stats.Duplicates)
	assert.Equal(t, 1, res.Stats.Applied)
	assert.Equal(t, 1, f.store.PaymentCount())

	payment, err := f.store.GetPaymentByOnChainID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCompleted, payment.Status)
}

func TestPollerFetchFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	f := newPollerFixture(t, PollerConfig{})
	f.ledger.set(func(l *fakeLedger) {
		l.tip = 110
		l.eventsErr = errors.New("node down")
	})

	res := f.poller.RunOnce(ctx)
	assert.True(t, res.FetchFailed())
	assert.Error(t, res.Err)
	assert.False(t, res.HasCommit)
	_, ok := f.cursor(t)
	assert.False(t, ok)

	f.ledger.set(func(l *fakeLedger) { l.eventsErr = nil })
	res = f.poller.RunOnce(ctx)
	assert.Equal(t, PassCompleted, res.Status)
	assert.Equal(t, chain.BlockNumber(100), f.ledger.lastFilter().FromBlock)
}

func TestPollerTipFailureKeepsCursor(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.ledger.set(func(l *fakeLedger) { l.tipErr = errors.New("node down") })

	res := f.poller.RunOnce(context.Background())
	assert.True(t, res.FetchFailed())
	assert.Equal(t, 0, f.ledger.filterCount())
	_, ok := f.cursor(t)
	assert.False(t, ok)
}

func TestPollerCommitsEachBatch(t *testing.T) {
	ctx := context.Background()
	f := newPollerFixture(t, PollerConfig{MaxBlockRange: 5})
	f.ledger.set(func(l *fakeLedger) {
		l.tip = 110
		l.failFrom = map[uint64]error{105: errors.New("range too large")}
	})

	res := f.poller.RunOnce(ctx)
	assert.True(t, res.FetchFailed())
	assert.True(t, res.HasCommit)
	assert.Equal(t, uint64(104), res.Committed)
	block, ok := f.cursor(t)
	assert.True(t, ok)
	assert.Equal(t, uint64(104), block)

	f.ledger.set(func(l *fakeLedger) { l.failFrom = nil })
	res = f.poller.RunOnce(ctx)
	assert.Equal(t, PassCompleted, res.Status)
	assert.Equal(t, BlockRange{From: 105, To: 110}, res.Range)
	block, _ = f.cursor(t)
	assert.Equal(t, uint64(110), block)
}

func TestPollerSkipsWhileBusy(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.ledger.set(func(l *fakeLedger) { l.tip = 110 })

	require.True(t, f.tracker.TryBegin())
	res := f.poller.RunOnce(context.Background())
	assert.Equal(t, PassBusy, res.Status)
	assert.True(t, res.Skipped())
	assert.NoError(t, res.Err)
	assert.Equal(t, 0, f.ledger.tipCount())

	f.tracker.End()
	assert.Equal(t, PassCompleted, f.poller.RunOnce(context.Background()).Status)
}

func TestPollerSkipsWithoutContractAddress(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{ContractAddress: "-"})

	res := f.poller.RunOnce(context.Background())
	assert.Equal(t, PassMisconfigured, res.Status)
	assert.True(t, res.Skipped())
	assert.Equal(t, 0, f.ledger.tipCount())
}

func TestPollerIdleWhenTipBehindCursor(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{})
	f.ledger.set(func(l *fakeLedger) { l.tip = 99 })

	res := f.poller.RunOnce(context.Background())
	assert.Equal(t, PassIdle, res.Status)
	assert.Equal(t, 0, f.ledger.filterCount())
}

type fakeLock struct {
	acquire  bool
	err      error
	unlocked int
}

func (l *fakeLock) TryLock(context.Context) (bool, error) { return l.acquire, l.err }

func (l *fakeLock) Unlock(context.Context) error {
	l.unlocked++
	return nil
}

func TestPollerHonoursPassLock(t *testing.T) {
	lock := &fakeLock{}
	f := newPollerFixture(t, PollerConfig{Lock: lock})
	f.ledger.set(func(l *fakeLedger) { l.tip = 110 })

	res := f.poller.RunOnce(context.Background())
	assert.Equal(t, PassLocked, res.Status)
	assert.Equal(t, 0, lock.unlocked)

	lock.acquire = true
	res = f.poller.RunOnce(context.Background())
	assert.Equal(t, PassCompleted, res.Status)
	assert.Equal(t, 1, lock.unlocked)

	lock.err = errors.New("redis down")
	res = f.poller.RunOnce(context.Background())
	assert.Equal(t, PassFailed, res.Status)
	assert.True(t, f.tracker.TryBegin(), "busy flag must be released")
}

func TestPollerRunTicks(t *testing.T) {
	f := newPollerFixture(t, PollerConfig{PollInterval: 10 * time.Second})
	f.ledger.set(func(l *fakeLedger) { l.tip = 50 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	require.Eventually(t, func() bool { return f.ledger.tipCount() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		f.clock.Add(10 * time.Second)
		return f.ledger.tipCount() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}
