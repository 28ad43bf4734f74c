package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"wastelog/internal/amqp"
	"wastelog/internal/cli"
	"wastelog/internal/ledger/google"
	applog "wastelog/internal/log"
	"wastelog/internal/services"
	"wastelog/internal/storage"
	"wastelog/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)
	logger.Info("Starting wastelog-worker")

	cfg := cli.LoadAndValidateWorkerConfig(logger.Logger)

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	mirror, err := google.NewFromEnv(context.Background(), cfg.ReportYear)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets mirror", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets mirror initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", mirror.SheetName())

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	processor := services.NewSyncProcessor(repo, mirror, services.SyncProcessorConfig{
		PollInterval: cfg.SyncInterval,
		BatchSize:    cfg.SyncBatchSize,
	})
	mirrorWorker := worker.NewMirrorWorker(repo, processor, mirror)

	ctx, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.Warn("Sync processor did not stop cleanly", applog.FieldError, err)
		}
	})

	logger.Info("Performing startup sync")
	if err := mirrorWorker.StartupSync(ctx); err != nil {
		// the periodic sweep retries whatever is still pending
		logger.Error("Startup sync failed", applog.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.Run(gctx, mirrorWorker.HandleReportVerified)
	})
	g.Go(func() error {
		if err := processor.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		return gctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		_ = processor.Stop(context.Background())
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
