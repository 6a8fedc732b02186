package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"paysync/internal/chain"
	"paysync/internal/felt"
	"paysync/internal/metrics"
	"paysync/internal/model"
)

// Ledger is the read API the fetcher needs from the node.
type Ledger interface {
	LatestBlock(ctx context.Context) (chain.BlockRef, error)
	GetEvents(ctx context.Context, filter chain.EventFilter) (chain.EventsPage, error)
}

// FetcherConfig configures paging, retries and rate limiting.
type FetcherConfig struct {
	ChunkSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	RPCTimeout   time.Duration
	// PagesPerSecond limits getEvents calls; zero means unlimited.
	PagesPerSecond float64
	CursorName     string
	Logger         *zap.Logger
}

// Fetcher reads contract events for a block range, following continuation
// tokens until the node reports the last page.
type Fetcher struct {
	ledger  Ledger
	cfg     FetcherConfig
	retry   retryPolicy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewFetcher builds a Fetcher over ledger. A zero chunk size falls back to 10.
func NewFetcher(ledger Ledger, cfg FetcherConfig) *Fetcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.PagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1)
	}

	return &Fetcher{
		ledger: ledger,
		cfg:    cfg,
		retry: retryPolicy{
			MaxRetries:     cfg.MaxRetries,
			BaseDelay:      cfg.RetryBackoff,
			MaxDelay:       30 * time.Second,
			AttemptTimeout: cfg.RPCTimeout,
		},
		limiter: limiter,
		logger:  cfg.Logger,
	}
}

// Tip returns the latest block height.
func (f *Fetcher) Tip(ctx context.Context) (uint64, error) {
	var ref chain.BlockRef
	err := withRetry(ctx, f.retry, func(ctx context.Context, attempt int) error {
		var err error
		ref, err = f.ledger.LatestBlock(ctx)
		if err != nil {
			f.logger.Warn("latest block failed", zap.Error(err), zap.Int("attempt", attempt))
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("latest block: %w", err)
	}
	return ref.Number, nil
}

// Fetch returns every event emitted by address in r, in node order.
func (f *Fetcher) Fetch(ctx context.Context, address string, r BlockRange) ([]model.RawEvent, error) {
	filter := chain.EventFilter{
		FromBlock: chain.BlockNumber(r.From),
		ToBlock:   chain.BlockNumber(r.To),
		Address:   address,
		Keys:      [][]string{},
		ChunkSize: f.cfg.ChunkSize,
	}

	var out []model.RawEvent
	seen := make(map[string]struct{})
	for pages := 1; ; pages++ {
		page, err := f.fetchPage(ctx, filter)
		if err != nil {
			metrics.FetchErrors.WithLabelValues(f.cfg.CursorName).Inc()
			return nil, fmt.Errorf("get events %s page %d: %w", r, pages, err)
		}
		metrics.FetchPages.WithLabelValues(f.cfg.CursorName).Inc()
		metrics.FetchedEvents.WithLabelValues(f.cfg.CursorName).Add(float64(len(page.Events)))

		for _, ev := range page.Events {
			if !felt.Equal(ev.FromAddress, address) {
				f.logger.Warn("event from unexpected address",
					zap.String("from_address", ev.FromAddress),
					zap.String("tx_hash", ev.TransactionHash),
				)
				continue
			}
			out = append(out, toRawEvent(ev))
		}

		token := page.ContinuationToken
		if token == "" {
			f.logger.Debug("fetched range",
				zap.Stringer("range", r),
				zap.Int("pages", pages),
				zap.Int("events", len(out)),
			)
			return out, nil
		}
		if _, ok := seen[token]; ok {
			metrics.FetchErrors.WithLabelValues(f.cfg.CursorName).Inc()
			return nil, fmt.Errorf("get events %s: continuation token %q repeated", r, token)
		}
		seen[token] = struct{}{}
		filter.ContinuationToken = token
	}
}

func (f *Fetcher) fetchPage(ctx context.Context, filter chain.EventFilter) (chain.EventsPage, error) {
	var page chain.EventsPage
	err := withRetry(ctx, f.retry, func(ctx context.Context, attempt int) error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		page, err = f.ledger.GetEvents(ctx, filter)
		if err != nil {
			f.logger.Warn("get events failed",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Uint64("from", filter.FromBlock.Number),
				zap.Uint64("to", filter.ToBlock.Number),
			)
		}
		return err
	})
	return page, err
}
