package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"paysync/internal/chain"
	"paysync/internal/config"
	"paysync/internal/events"
	"paysync/internal/felt"
	"paysync/internal/indexer"
	"paysync/internal/lock"
	"paysync/internal/storage"
	"paysync/internal/storage/postgres"
)

// app owns the long-lived clients behind one poller.
type app struct {
	chain  *chain.Client
	store  *postgres.Store
	lock   *lock.RedisLock
	dead   *storage.DeadLetterFile
	poller *indexer.Poller
	logger *zap.Logger
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	contract, err := indexer.ParseContractAddress(cfg.ContractAddress)
	if err != nil {
		return nil, err
	}
	if contract == "" {
		logger.Warn("contract address not configured, passes will be skipped")
	}

	a.store, err = postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := a.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if cfg.InitSchema {
		if err := a.store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
	}

	a.chain, err = chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	chainID, err := a.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}

	var passLock indexer.PassLock
	if cfg.RedisURL != "" {
		a.lock, err = lock.NewRedisLock(ctx, cfg.RedisURL, lock.Key(cfg.CursorName), cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		passLock = a.lock
	}

	var deadLetter storage.DeadLetterSink
	if cfg.DeadLetter != "" {
		a.dead = storage.NewDeadLetterFile(cfg.DeadLetter)
		deadLetter = a.dead
	}

	cursorStore := cursorStoreFor(cfg, a.store)
	fetcher := indexer.NewFetcher(a.chain, indexer.FetcherConfig{
		ChunkSize:      cfg.ChunkSize,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		RPCTimeout:     cfg.RPCTimeout,
		PagesPerSecond: cfg.RPCRateLimit,
		CursorName:     cfg.CursorName,
		Logger:         logger,
	})
	applier := events.NewApplier(a.store, events.ApplierConfig{
		DeferPasses: cfg.PendingCompletionPasses,
		DeadLetter:  deadLetter,
		Logger:      logger,
	})
	a.poller = indexer.NewPoller(fetcher, applier,
		indexer.NewCursorTracker(cursorStore, cfg.StartBlock, cfg.Confirmations),
		indexer.PollerConfig{
			ContractAddress: contract,
			PollInterval:    cfg.PollInterval,
			MaxBlockRange:   cfg.MaxBlockRange,
			CursorName:      cfg.CursorName,
			Lock:            passLock,
			Logger:          logger,
		})

	logger.Info("poller configured",
		zap.String("rpc", cfg.RPCURL),
		zap.String("chain_id", felt.Hex(chainID)),
		zap.String("contract", contract),
		zap.String("cursor", cfg.CursorName),
		zap.String("cursor_file", cfg.CursorFile),
		zap.Uint64("start_block", cfg.StartBlock),
		zap.Int("chunk_size", cfg.ChunkSize),
		zap.Bool("redis_lock", passLock != nil),
		zap.Int("pending_completion_passes", cfg.PendingCompletionPasses),
	)
	ok = true
	return a, nil
}

func (a *app) Close() {
	if a.dead != nil {
		if err := a.dead.Close(); err != nil {
			a.logger.Warn("close dead letter file", zap.Error(err))
		}
	}
	if a.lock != nil {
		if err := a.lock.Close(); err != nil {
			a.logger.Warn("close redis", zap.Error(err))
		}
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func cursorStoreFor(cfg config.Config, state indexer.StateStore) indexer.CursorStore {
	if cfg.CursorFile != "" {
		return &indexer.FileCursorStore{Path: cfg.CursorFile}
	}
	return &indexer.StateCursorStore{State: state, Name: cfg.CursorName}
}

// openCursorStore opens only what the cursor commands need.
func openCursorStore(ctx context.Context, cfg config.Config) (indexer.CursorStore, func(), error) {
	if cfg.CursorFile != "" {
		return &indexer.FileCursorStore{Path: cfg.CursorFile}, func() {}, nil
	}
	if cfg.PGDSN == "" {
		return nil, nil, fmt.Errorf("pg dsn or cursor file is required")
	}
	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.InitSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	return cursorStoreFor(cfg, store), store.Close, nil
}
