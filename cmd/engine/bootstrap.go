package main

import (
	"context"
	"fmt"
	"os"

	"qql-engine/internal/engine"
	"qql-engine/internal/interfaces"
	"qql-engine/internal/logger"
	"qql-engine/internal/provider"
	"qql-engine/internal/runlog"
	"qql-engine/internal/store"
	"qql-engine/internal/trace"

	"github.com/joho/godotenv"
)

// initializeSystem initializes the logger and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// initializeRunLog creates the run log writer and compresses stale files
func initializeRunLog(ctx context.Context, cfg *store.Config) *runlog.Writer {
	runs := runlog.New(cfg.RunLog.Dir)
	if err := runs.CompressOlder(cfg.RunLog.RetentionDays); err != nil {
		logger.Warn(ctx, "Failed to compress old run logs", "error", err)
	}
	return runs
}

// initializeProvider builds the candle provider stack from config
func initializeProvider(ctx context.Context, cfg *store.Config) (interfaces.Provider, error) {
	p, err := provider.New(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Provider.Mode == "STATIC" {
		logger.Info(ctx, "Using STATIC synthetic candle data")
	} else {
		logger.Info(ctx, "Using HTTP candle data", "base_url", cfg.Provider.BaseURL)
	}
	return p, nil
}

// initializeEngine wires the query engine from its parts
func initializeEngine(cfg *store.Config, p interfaces.Provider, runs *runlog.Writer) *engine.Engine {
	return engine.New(cfg, p, runs)
}
