package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wastelog/internal/amqp"
	"wastelog/internal/config"
	"wastelog/internal/core"
	"wastelog/internal/extraction"
	"wastelog/internal/extraction/fixed"
	"wastelog/internal/extraction/remote"
	"wastelog/internal/ledger/memory"
	applog "wastelog/internal/log"
	"wastelog/internal/services"
	"wastelog/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger.With(applog.FieldComponent, applog.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, cfg Config) (*BackendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, cfg)
	case MemoryBackend:
		return f.createMemoryBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", cfg.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, cfg Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	svc := services.NewReportService(repo, f.publisher(ctx, cfg))
	f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)

	return &BackendResult{
		Store:   svc,
		Reader:  repo,
		Ready:   repo.Ping,
		Cleanup: svc.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context, cfg Config) (*BackendResult, error) {
	year := cfg.reportYear()
	store := memory.New(core.NewDate(year, 1, 1))

	svc := services.NewReportService(store, f.publisher(ctx, cfg))
	f.logger.InfoContext(ctx, "Initialized memory backend", "report_year", year)

	return &BackendResult{
		Store:   svc,
		Reader:  store,
		Ready:   func(context.Context) error { return nil },
		Cleanup: svc.Close,
	}, nil
}

// publisher connects to the broker when configured. The server keeps working
// without events if the broker is unreachable.
func (f *DefaultFactory) publisher(ctx context.Context, cfg Config) services.EventPublisher {
	if cfg.AMQPURL == "" {
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events",
			applog.FieldError, err.Error())
		return nil
	}
	f.logger.InfoContext(ctx, "Initialized AMQP client",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)
	return client
}

// NewExtractor builds the extraction port selected by EXTRACTOR.
func NewExtractor(cfg *config.Config) (extraction.Extractor, error) {
	switch cfg.Extractor {
	case "", "fixed":
		return fixed.Simulator{Delay: 2 * time.Second}, nil
	case "remote":
		return remote.NewClient(cfg.ExtractorURL, cfg.ExtractorAPIKey, cfg.ExtractionTimeout)
	default:
		return nil, fmt.Errorf("unsupported extractor: %s", cfg.Extractor)
	}
}
