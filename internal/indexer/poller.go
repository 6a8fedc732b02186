package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"paysync/internal/events"
	"paysync/internal/metrics"
	"paysync/internal/model"
)

// EventApplier applies one range worth of events.
type EventApplier interface {
	ApplyBatch(ctx context.Context, batch []model.RawEvent) events.BatchStats
}

// PassLock serialises passes across processes sharing one cursor.
type PassLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// PassStatus is how a reconciliation pass ended.
type PassStatus string

const (
	PassCompleted     PassStatus = "completed"
	PassIdle          PassStatus = "idle"
	PassBusy          PassStatus = "busy"
	PassLocked        PassStatus = "locked"
	PassMisconfigured PassStatus = "misconfigured"
	PassFetchFailed   PassStatus = "fetch_failed"
	PassFailed        PassStatus = "failed"
	PassCancelled     PassStatus = "cancelled"
)

// PassResult summarises one pass. Committed is the cursor after the pass
// when HasCommit is set.
type PassResult struct {
	Status    PassStatus
	Range     BlockRange
	Events    int
	Stats     events.BatchStats
	Committed uint64
	HasCommit bool
	Err       error
}

// Skipped reports whether the pass did no work at all.
func (r PassResult) Skipped() bool {
	switch r.Status {
	case PassBusy, PassLocked, PassMisconfigured:
		return true
	}
	return false
}

// FetchFailed reports whether the pass stopped on a ledger read error.
func (r PassResult) FetchFailed() bool {
	return r.Status == PassFetchFailed
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	ContractAddress string
	PollInterval    time.Duration
	MaxBlockRange   uint64
	CursorName      string
	Lock            PassLock
	Clock           clock.Clock
	Logger          *zap.Logger
}

// Poller runs reconciliation passes: fetch the events after the cursor, apply
// them, then advance the cursor.
type Poller struct {
	cfg     PollerConfig
	fetcher *Fetcher
	applier EventApplier
	cursor  *CursorTracker
	clock   clock.Clock
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewPoller builds a Poller from its fetcher, applier and cursor tracker.
func NewPoller(fetcher *Fetcher, applier EventApplier, cursor *CursorTracker, cfg PollerConfig) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		applier: applier,
		cursor:  cursor,
		clock:   cfg.Clock,
		tracer:  otel.Tracer("paysync/internal/indexer"),
		logger:  cfg.Logger.With(zap.String("cursor", cfg.CursorName)),
	}
}

// Run starts a pass immediately and then on every tick until ctx is done.
// A tick that lands while a pass is still running is skipped.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.Ticker(p.cfg.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.RunOnce(ctx)
		}()
	}

	p.logger.Info("poller start",
		zap.String("contract", p.cfg.ContractAddress),
		zap.Duration("interval", p.cfg.PollInterval),
		zap.Uint64("max_block_range", p.cfg.MaxBlockRange),
	)
	start()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stop")
			return nil
		case <-ticker.C:
			start()
		}
	}
}

// RunOnce performs a single reconciliation pass. Failures are logged and
// reported in the result; they never panic or propagate.
func (p *Poller) RunOnce(ctx context.Context) PassResult {
	if p.cfg.ContractAddress == "" {
		p.logger.Warn("contract address not configured, skipping pass")
		return p.finish(PassResult{Status: PassMisconfigured}, time.Time{})
	}
	if !p.cursor.TryBegin() {
		p.logger.Debug("previous pass still running, skipping")
		return p.finish(PassResult{Status: PassBusy}, time.Time{})
	}
	defer p.cursor.End()

	if p.cfg.Lock != nil {
		ok, err := p.cfg.Lock.TryLock(ctx)
		if err != nil {
			p.logger.Warn("acquire pass lock failed", zap.Error(err))
			return p.finish(PassResult{Status: PassFailed, Err: err}, time.Time{})
		}
		if !ok {
			p.logger.Debug("pass lock held elsewhere, skipping")
			return p.finish(PassResult{Status: PassLocked}, time.Time{})
		}
		defer func() {
			if err := p.cfg.Lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn("release pass lock failed", zap.Error(err))
			}
		}()
	}

	ctx, span := p.tracer.Start(ctx, "reconcile.pass", trace.WithAttributes(
		attribute.String("cursor", p.cfg.CursorName),
		attribute.String("contract", p.cfg.ContractAddress),
	))
	defer span.End()

	result := p.pass(ctx)
	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Int("events", result.Events),
	)
	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, string(result.Status))
	}
	return result
}

func (p *Poller) pass(ctx context.Context) PassResult {
	started := p.clock.Now()

	tip, err := p.fetcher.Tip(ctx)
	if err != nil {
		p.logger.Warn("read chain tip failed, cursor not advanced", zap.Error(err))
		return p.finish(PassResult{Status: PassFetchFailed, Err: err}, started)
	}
	metrics.ChainTip.WithLabelValues(p.cfg.CursorName).Set(float64(tip))

	next, ok, err := p.cursor.NextRange(ctx, tip)
	if err != nil {
		p.logger.Error("load cursor failed", zap.Error(err))
		return p.finish(PassResult{Status: PassFailed, Err: err}, started)
	}
	if !ok {
		p.logger.Debug("no new blocks", zap.Uint64("tip", tip))
		return p.finish(PassResult{Status: PassIdle}, started)
	}

	batches, err := SplitRange(next.From, next.To, p.cfg.MaxBlockRange)
	if err != nil {
		return p.finish(PassResult{Status: PassFailed, Err: err}, started)
	}

	result := PassResult{Status: PassCompleted, Range: next}
	for _, batch := range batches {
		if ctx.Err() != nil {
			result.Status, result.Err = PassCancelled, ctx.Err()
			return p.finish(result, started)
		}

		raws, err := p.fetcher.Fetch(ctx, p.cfg.ContractAddress, batch)
		if err != nil {
			p.logger.Warn("fetch events failed, cursor not advanced",
				zap.Stringer("range", batch),
				zap.Error(err),
			)
			result.Status, result.Err = PassFetchFailed, err
			return p.finish(result, started)
		}
		result.Events += len(raws)

		stats := p.applier.ApplyBatch(ctx, raws)
		mergeStats(&result.Stats, stats)
		if stats.Interrupted || ctx.Err() != nil {
			p.logger.Info("pass interrupted before commit", zap.Stringer("range", batch))
			result.Status, result.Err = PassCancelled, ctx.Err()
			return p.finish(result, started)
		}

		if err := p.cursor.Commit(ctx, batch.To); err != nil {
			p.logger.Error("commit cursor failed", zap.Uint64("block", batch.To), zap.Error(err))
			result.Status, result.Err = PassFailed, err
			return p.finish(result, started)
		}
		result.Committed, result.HasCommit = batch.To, true
		metrics.CursorBlock.WithLabelValues(p.cfg.CursorName).Set(float64(batch.To))
	}

	p.logger.Info("pass complete",
		zap.Stringer("range", next),
		zap.Int("events", result.Events),
		zap.Int("applied", result.Stats.Applied),
		zap.Int("duplicates", result.Stats.Duplicates),
		zap.Int("dropped", result.Stats.Dropped),
		zap.Int("skipped", result.Stats.Skipped),
		zap.Int("deferred", result.Stats.Deferred),
		zap.Int("failed", result.Stats.Failed),
	)
	return p.finish(result, started)
}

func (p *Poller) finish(result PassResult, started time.Time) PassResult {
	metrics.PassesTotal.WithLabelValues(p.cfg.CursorName, string(result.Status)).Inc()
	if !started.IsZero() {
		metrics.PassDuration.WithLabelValues(p.cfg.CursorName).Observe(p.clock.Now().Sub(started).Seconds())
	}
	return result
}

func mergeStats(total *events.BatchStats, s events.BatchStats) {
	total.Total += s.Total
	total.Applied += s.Applied
	total.Duplicates += s.Duplicates
	total.Dropped += s.Dropped
	total.Skipped += s.Skipped
	total.Deferred += s.Deferred
	total.Failed += s.Failed
	total.Resolved += s.Resolved
	total.Interrupted = total.Interrupted || s.Interrupted
}
