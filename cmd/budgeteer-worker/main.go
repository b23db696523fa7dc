package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"budgeteer/internal/amqp"
	"budgeteer/internal/config"
	applog "budgeteer/internal/log"
	"budgeteer/internal/sheets"
	sheetsgoogle "budgeteer/internal/sheets/google"
	sheetsmemory "budgeteer/internal/sheets/memory"
	"budgeteer/internal/store"
	storememory "budgeteer/internal/store/memory"
	storesqlite "budgeteer/internal/store/sqlite"
	"budgeteer/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     slog.LevelInfo,
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("Starting budgeteer-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	// The worker reads budgets from the same store the server writes.
	var st store.Store
	switch cfg.DataBackend {
	case "sqlite":
		sqliteStore, err := storesqlite.New(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		st = sqliteStore
	default:
		st = storememory.New()
		logger.Warn("Memory backend holds no server data; exports will be empty",
			"backend", cfg.DataBackend)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var writer sheets.SnapshotWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := sheetsgoogle.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets export enabled", "sheet_name", cfg.GoogleSheetName)
	} else {
		writer = sheetsmemory.New()
		logger.Info("Google Sheets disabled - exporting to in-memory sink")
	}

	exportWorker := worker.NewExportWorker(st, writer)

	if err := exportWorker.StartupExportCheck(ctx); err != nil {
		logger.Error("Startup export check failed", "error", err)
		// Continue; the consume loop still handles fresh events.
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqp.ConsumeWithReconnect(ctx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue,
			exportWorker.Handlers())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
