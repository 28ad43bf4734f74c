package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"wastelog/internal/core"
	"wastelog/internal/ledger"
	applog "wastelog/internal/log"

	_ "modernc.org/sqlite"
)

// Sync states of a ledger row relative to the spreadsheet mirror.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

var _ ledger.ReportStore = (*SQLiteRepository)(nil)

// SQLiteRepository is the durable ReportStore. The table is seeded with twelve
// rows by migration; Upsert is a single UPDATE, so the row count never changes.
type SQLiteRepository struct {
	db *sql.DB
}

// PendingReport is a ledger row whose latest version has not reached the mirror.
type PendingReport struct {
	Report     core.MonthlyReport
	Version    int64
	SyncStatus string
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	slog.Info("SQLite ledger ready",
		applog.FieldComponent, applog.ComponentStorage,
		"path", dbPath)
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const selectReport = `SELECT month_index, kg_generated, status, last_updated, file_url FROM monthly_reports`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(s rowScanner, extra ...any) (core.MonthlyReport, error) {
	var (
		rep     core.MonthlyReport
		status  string
		updated string
		fileURL sql.NullString
	)
	dest := append([]any{&rep.MonthIndex, &rep.KgGenerated, &status, &updated, &fileURL}, extra...)
	if err := s.Scan(dest...); err != nil {
		return core.MonthlyReport{}, err
	}
	rep.Status = core.Status(status)
	rep.FileURL = fileURL.String
	if updated != "" {
		d, err := core.ParseDate(updated)
		if err != nil {
			return core.MonthlyReport{}, err
		}
		rep.LastUpdated = d
	}
	return rep, nil
}

// Get implements ledger.ReportReader.
func (r *SQLiteRepository) Get(ctx context.Context, monthIndex int) (core.MonthlyReport, error) {
	if !core.ValidMonth(monthIndex) {
		return core.MonthlyReport{}, fmt.Errorf("%w: month index %d", core.ErrNotFound, monthIndex)
	}
	row := r.db.QueryRowContext(ctx, selectReport+` WHERE month_index = ?`, monthIndex)
	rep, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.MonthlyReport{}, fmt.Errorf("%w: month index %d", core.ErrNotFound, monthIndex)
	}
	if err != nil {
		return core.MonthlyReport{}, fmt.Errorf("get report %d: %w", monthIndex, err)
	}
	return rep, nil
}

// List implements ledger.ReportReader.
func (r *SQLiteRepository) List(ctx context.Context) ([]core.MonthlyReport, error) {
	rows, err := r.db.QueryContext(ctx, selectReport+` ORDER BY month_index`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := make([]core.MonthlyReport, 0, core.MonthsPerLedger)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	if err := core.CheckLedger(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert implements ledger.ReportWriter. The row is flagged for the mirror in
// the same statement.
func (r *SQLiteRepository) Upsert(ctx context.Context, rep core.MonthlyReport) error {
	if !core.ValidMonth(rep.MonthIndex) {
		return fmt.Errorf("%w: month index %d", core.ErrNotFound, rep.MonthIndex)
	}
	if err := rep.Validate(); err != nil {
		return err
	}

	var fileURL sql.NullString
	if rep.FileURL != "" {
		fileURL = sql.NullString{String: rep.FileURL, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE monthly_reports
		SET kg_generated = ?, status = ?, last_updated = ?, file_url = ?,
		    sync_status = 'pending', version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE month_index = ?`,
		rep.KgGenerated, string(rep.Status), rep.LastUpdated.String(), fileURL, rep.MonthIndex)
	if err != nil {
		return fmt.Errorf("update report %d: %w", rep.MonthIndex, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update report %d: %w", rep.MonthIndex, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: month index %d", core.ErrNotFound, rep.MonthIndex)
	}

	slog.InfoContext(ctx, "Report saved to SQLite", applog.NewFields().
		WithComponent(applog.ComponentStorage).
		WithOperation(applog.OpUpsert).
		WithReport(rep.MonthIndex, rep.KgGenerated, string(rep.Status)).
		ToSlice()...)
	return nil
}

// PendingSync returns rows not yet mirrored, oldest month first. Rows that
// failed earlier are retried.
func (r *SQLiteRepository) PendingSync(ctx context.Context, limit int) ([]PendingReport, error) {
	if limit <= 0 {
		limit = core.MonthsPerLedger
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT month_index, kg_generated, status, last_updated, file_url, version, sync_status
		FROM monthly_reports
		WHERE sync_status IN ('pending', 'error')
		ORDER BY month_index
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync reports: %w", err)
	}
	defer rows.Close()

	var out []PendingReport
	for rows.Next() {
		var p PendingReport
		rep, err := scanReport(rows, &p.Version, &p.SyncStatus)
		if err != nil {
			return nil, fmt.Errorf("scan pending report: %w", err)
		}
		p.Report = rep
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkSynced clears the pending flag, unless the row changed since version
// was read.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, monthIndex int, version int64) (bool, error) {
	return r.setSyncStatus(ctx, monthIndex, version, SyncSynced)
}

// MarkSyncError records a failed mirror write for version.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, monthIndex int, version int64) (bool, error) {
	return r.setSyncStatus(ctx, monthIndex, version, SyncError)
}

func (r *SQLiteRepository) setSyncStatus(ctx context.Context, monthIndex int, version int64, status string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE monthly_reports SET sync_status = ? WHERE month_index = ? AND version = ?`,
		status, monthIndex, version)
	if err != nil {
		return false, fmt.Errorf("mark report %d %s: %w", monthIndex, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark report %d %s: %w", monthIndex, status, err)
	}
	if n == 0 {
		slog.DebugContext(ctx, "Sync status not updated, row changed meanwhile",
			applog.FieldComponent, applog.ComponentStorage,
			applog.FieldMonthIndex, monthIndex,
			"version", version)
		return false, nil
	}
	level := slog.LevelInfo
	if status == SyncError {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "Report sync status updated",
		applog.FieldComponent, applog.ComponentStorage,
		applog.FieldMonthIndex, monthIndex,
		applog.FieldStatus, status)
	return true, nil
}

// Version returns the current version of a row.
func (r *SQLiteRepository) Version(ctx context.Context, monthIndex int) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM monthly_reports WHERE month_index = ?`, monthIndex).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: month index %d", core.ErrNotFound, monthIndex)
	}
	if err != nil {
		return 0, fmt.Errorf("get report version %d: %w", monthIndex, err)
	}
	return v, nil
}
