package ledger

import (
	"context"

	"wastelog/internal/core"
)

// Ports for the monthly report ledger.
type (
	// ReportReader is the read-only view handed to dashboards and summaries.
	ReportReader interface {
		// Get returns the record for monthIndex, core.ErrNotFound outside 0..11.
		Get(ctx context.Context, monthIndex int) (core.MonthlyReport, error)
		// List returns the 12 records ordered by month index.
		List(ctx context.Context) ([]core.MonthlyReport, error)
	}

	// ReportWriter replaces a single record atomically. Only a committed
	// upload workflow is handed a writer.
	ReportWriter interface {
		Upsert(ctx context.Context, r core.MonthlyReport) error
	}

	ReportStore interface {
		ReportReader
		ReportWriter
	}

	// Mirror receives a copy of every verified record (spreadsheet export).
	Mirror interface {
		WriteReport(ctx context.Context, r core.MonthlyReport) (ref string, err error)
	}
)
