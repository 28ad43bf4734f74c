package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wastelog/internal/ledger"
	applog "wastelog/internal/log"
	"wastelog/internal/storage"
)

// SyncStore is the outbox side of the SQLite ledger.
type SyncStore interface {
	PendingSync(ctx context.Context, limit int) ([]storage.PendingReport, error)
	MarkSynced(ctx context.Context, monthIndex int, version int64) (bool, error)
	MarkSyncError(ctx context.Context, monthIndex int, version int64) (bool, error)
}

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often pending rows are swept (default: 30s)
	PollInterval time.Duration
	// BatchSize caps rows per sweep (default: 12, the whole ledger)
	BatchSize int
}

func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    12,
	}
}

// SyncProcessor copies ledger rows flagged in the outbox to the mirror. It
// runs as a periodic sweep next to the event consumer so rows whose event was
// lost still reach the spreadsheet.
type SyncProcessor struct {
	store  SyncStore
	mirror ledger.Mirror
	config SyncProcessorConfig

	// serialises sweeps and single-row syncs
	work sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSyncProcessor(store SyncStore, mirror ledger.Mirror, config SyncProcessorConfig) *SyncProcessor {
	def := DefaultSyncProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &SyncProcessor{store: store, mirror: mirror, config: config}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		applog.FieldComponent, applog.ComponentWorker,
		"poll_interval", p.config.PollInterval.String(),
		"batch_size", p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the current sweep to finish.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.ProcessBatch(ctx)
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch mirrors up to BatchSize pending rows and returns how many
// were written.
func (p *SyncProcessor) ProcessBatch(ctx context.Context) int {
	p.work.Lock()
	defer p.work.Unlock()

	items, err := p.store.PendingSync(ctx, p.config.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read pending rows",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldError, err.Error())
		return 0
	}

	synced := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if p.syncOne(ctx, item) {
			synced++
		}
	}
	if len(items) > 0 {
		slog.InfoContext(ctx, "Sync sweep finished",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldOperation, applog.OpSync,
			applog.FieldCount, len(items),
			"synced", synced)
	}
	return synced
}

// SyncMonth mirrors monthIndex if it is still pending. It reports whether
// the row was written; a row already in sync is not an error.
func (p *SyncProcessor) SyncMonth(ctx context.Context, monthIndex int) (bool, error) {
	p.work.Lock()
	defer p.work.Unlock()

	items, err := p.store.PendingSync(ctx, 0)
	if err != nil {
		return false, fmt.Errorf("read pending rows: %w", err)
	}
	for _, item := range items {
		if item.Report.MonthIndex != monthIndex {
			continue
		}
		if !p.syncOne(ctx, item) {
			return false, fmt.Errorf("mirror month %d failed", monthIndex)
		}
		return true, nil
	}
	return false, nil
}

func (p *SyncProcessor) syncOne(ctx context.Context, item storage.PendingReport) bool {
	r := item.Report
	ref, err := p.mirror.WriteReport(ctx, r)
	if err != nil {
		slog.WarnContext(ctx, "Mirror write failed",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldMonthIndex, r.MonthIndex,
			applog.FieldError, err.Error())
		if _, mErr := p.store.MarkSyncError(ctx, r.MonthIndex, item.Version); mErr != nil {
			slog.ErrorContext(ctx, "Failed to mark sync error",
				applog.FieldComponent, applog.ComponentWorker,
				applog.FieldMonthIndex, r.MonthIndex,
				applog.FieldError, mErr.Error())
		}
		return false
	}
	if _, err := p.store.MarkSynced(ctx, r.MonthIndex, item.Version); err != nil {
		// the mirror is already written; the next sweep rewrites the same row
		slog.WarnContext(ctx, "Failed to mark row synced",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldMonthIndex, r.MonthIndex,
			applog.FieldError, err.Error())
	}
	slog.InfoContext(ctx, "Mirrored ledger row",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldMonthIndex, r.MonthIndex,
		applog.FieldKg, r.KgGenerated,
		applog.FieldMirrorRef, ref)
	return true
}
