package worker

import (
	"context"
	"fmt"
	"log/slog"

	"wastelog/internal/amqp"
	"wastelog/internal/core"
	"wastelog/internal/ledger"
	applog "wastelog/internal/log"
)

// Syncer mirrors pending ledger rows.
type Syncer interface {
	SyncMonth(ctx context.Context, monthIndex int) (bool, error)
	ProcessBatch(ctx context.Context) int
}

// LedgerWriter rewrites the whole mirrored ledger at once.
type LedgerWriter interface {
	WriteAll(ctx context.Context, reports []core.MonthlyReport) error
}

// MirrorWorker keeps the spreadsheet copy of the ledger in step with SQLite.
// Events trigger single-row syncs; startup rewrites the whole sheet.
type MirrorWorker struct {
	reader ledger.ReportReader
	syncer Syncer
	full   LedgerWriter
}

// NewMirrorWorker creates a worker. full may be nil, in which case startup
// only sweeps pending rows.
func NewMirrorWorker(reader ledger.ReportReader, syncer Syncer, full LedgerWriter) *MirrorWorker {
	return &MirrorWorker{reader: reader, syncer: syncer, full: full}
}

// HandleReportVerified processes one report.verified event. The event only
// names the month; the row is read back from storage, so a stale or replayed
// event never writes outdated values.
func (w *MirrorWorker) HandleReportVerified(ctx context.Context, msg *amqp.ReportVerifiedMessage) error {
	slog.InfoContext(ctx, "Processing report verified message",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldMonthIndex, msg.MonthIndex,
		applog.FieldKg, msg.KgGenerated)

	synced, err := w.syncer.SyncMonth(ctx, msg.MonthIndex)
	if err != nil {
		return fmt.Errorf("sync month %d: %w", msg.MonthIndex, err)
	}
	if !synced {
		slog.DebugContext(ctx, "Month already in sync",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldMonthIndex, msg.MonthIndex)
	}
	return nil
}

// StartupSync rewrites the full sheet from storage and then clears the
// pending rows. It recovers from events missed while the worker was down.
func (w *MirrorWorker) StartupSync(ctx context.Context) error {
	if w.full != nil {
		reports, err := w.reader.List(ctx)
		if err != nil {
			return fmt.Errorf("list ledger: %w", err)
		}
		if err := w.full.WriteAll(ctx, reports); err != nil {
			return fmt.Errorf("write full ledger: %w", err)
		}
	}
	n := w.syncer.ProcessBatch(ctx)
	slog.InfoContext(ctx, "Startup sync completed",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldOperation, applog.OpStartup,
		"synced", n)
	return nil
}
