package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"wastelog/internal/core"
	"wastelog/internal/ledger"
	applog "wastelog/internal/log"
)

// EventPublisher announces verified ledger records.
type EventPublisher interface {
	PublishReportVerified(ctx context.Context, r core.MonthlyReport) error
}

var _ ledger.ReportStore = (*ReportService)(nil)

// ReportService is the ReportStore handed to the upload workflow when events
// are enabled: it writes locally first and then publishes. A failed publish
// never fails the write; the SQLite outbox catches the row up later.
type ReportService struct {
	store     ledger.ReportStore
	publisher EventPublisher
}

// NewReportService wraps store. A nil publisher disables events.
func NewReportService(store ledger.ReportStore, publisher EventPublisher) *ReportService {
	return &ReportService{store: store, publisher: publisher}
}

func (s *ReportService) Get(ctx context.Context, monthIndex int) (core.MonthlyReport, error) {
	return s.store.Get(ctx, monthIndex)
}

func (s *ReportService) List(ctx context.Context) ([]core.MonthlyReport, error) {
	return s.store.List(ctx)
}

// Upsert saves r and publishes a report.verified event for verified records.
func (s *ReportService) Upsert(ctx context.Context, r core.MonthlyReport) error {
	if err := s.store.Upsert(ctx, r); err != nil {
		return err
	}
	if r.Status != core.StatusVerified {
		return nil
	}
	if s.publisher == nil {
		slog.DebugContext(ctx, "No event publisher configured, skipping report verified event",
			applog.FieldComponent, applog.ComponentLedger,
			applog.FieldMonthIndex, r.MonthIndex)
		return nil
	}
	if err := s.publisher.PublishReportVerified(ctx, r); err != nil {
		slog.ErrorContext(ctx, "Failed to publish report verified event",
			applog.FieldComponent, applog.ComponentLedger,
			applog.FieldOperation, applog.OpPublish,
			applog.FieldMonthIndex, r.MonthIndex,
			applog.FieldError, err.Error())
	}
	return nil
}

// Close closes the wrapped store and publisher when they support it.
func (s *ReportService) Close() error {
	var errs []error
	if c, ok := s.store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	return errors.Join(errs...)
}
