package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"paysync/internal/config"
	"paysync/internal/events"
	"paysync/internal/indexer"
)

func runPoller(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return app.poller.Run(ctx)
	})
	if cfg.MetricsAddr != "" {
		server := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return group.Wait()
}

func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	result := app.poller.RunOnce(ctx)
	logger.Info("pass finished",
		zap.String("status", string(result.Status)),
		zap.Int("events", result.Events),
		zap.Bool("committed", result.HasCommit),
		zap.Uint64("cursor", result.Committed),
	)
	switch result.Status {
	case indexer.PassFailed, indexer.PassFetchFailed:
		return fmt.Errorf("pass %s: %w", result.Status, result.Err)
	}
	return nil
}

func runCursorShow(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	store, closeFn, err := openCursorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	block, ok, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: no cursor stored\n", cfg.CursorName)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", cfg.CursorName, block)
	return nil
}

func runCursorSet(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	block, err := cmd.Flags().GetUint64("block")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, closeFn, err := openCursorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.Save(ctx, block); err != nil {
		return err
	}
	logger.Info("cursor set", zap.String("cursor", cfg.CursorName), zap.Uint64("block", block))
	return nil
}

func runSelectors(cmd *cobra.Command, _ []string) error {
	selectors := events.Selectors()
	names := make([]string, 0, len(selectors))
	for name := range selectors {
		names = append(names, name)
	}
	sort.Strings(names)

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, name := range names {
		if err := enc.Encode(map[string]string{"event": name, "selector": selectors[name]}); err != nil {
			return err
		}
	}
	return nil
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
