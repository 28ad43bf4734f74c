package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"wastelog/internal/backend"
	"wastelog/internal/cache"
	"wastelog/internal/cli"
	apphttp "wastelog/internal/http"
	applog "wastelog/internal/log"
	"wastelog/internal/workflow"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger.Logger)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.Logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, applog.FieldBackend, cfg.DataBackend)
		os.Exit(1)
	}

	extractor, err := backend.NewExtractor(cfg)
	if err != nil {
		logger.Error("Failed to initialize extractor", applog.FieldError, err, "extractor", cfg.Extractor)
		_ = result.Cleanup()
		os.Exit(1)
	}

	sessions := workflow.NewManager(result.Store, extractor,
		workflow.Options{ExtractionTimeout: cfg.ExtractionTimeout},
		cfg.MaxSessions, cfg.SessionTTL)

	caches := cache.NewManager()
	caches.Register(sessions)
	caches.StartCleanup(5 * time.Minute)

	srv := apphttp.NewServer(":"+cfg.Port, sessions, result.Reader, result.Ready, apphttp.Options{Logger: logger})

	ctx, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		caches.Stop()
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	logger.Info("Starting wastelog server",
		"port", cfg.Port,
		applog.FieldBackend, cfg.DataBackend,
		"extractor", cfg.Extractor,
		"events", cfg.AMQPURL != "")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
