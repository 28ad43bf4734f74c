// Package google mirrors the 12-month ledger into a Google Sheets tab, one
// fixed row per month, so the facility keeps its spreadsheet copy in step.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"wastelog/internal/core"
	"wastelog/internal/ledger"
	applog "wastelog/internal/log"
)

const (
	DefaultSheetName = "Registro"

	// first ledger row; row 1 holds the header
	firstDataRow = 2
	lastColumn   = "F"
)

var header = []any{"Mes", "Kg generados", "Estado", "Última actualización", "Certificado", "Kg (texto)"}

var _ ledger.Mirror = (*Mirror)(nil)

// Mirror writes ledger rows to a spreadsheet. Writes are retried only when
// the API answers 429.
type Mirror struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	attempts   uint
	retryDelay time.Duration
}

// NewFromEnv creates a mirror using environment variables and a service account.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_SHEET_NAME (default "Registro"), prefixed with year.
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, year int) (*Mirror, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if base == "" {
		base = DefaultSheetName
	}

	creds, err := credentialsFromEnv()
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return New(svc, spreadsheetID, yearPrefixedName(base, year)), nil
}

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, sheetName string) *Mirror {
	return &Mirror{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		attempts:      3,
		retryDelay:    30 * time.Second,
	}
}

func credentialsFromEnv() ([]byte, error) {
	inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	file := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// SheetName returns the tab the mirror writes to.
func (m *Mirror) SheetName() string { return m.sheetName }

// WriteReport overwrites the row of r.MonthIndex and returns its A1 range.
func (m *Mirror) WriteReport(ctx context.Context, r core.MonthlyReport) (string, error) {
	if !core.ValidMonth(r.MonthIndex) {
		return "", fmt.Errorf("%w: month index %d", core.ErrNotFound, r.MonthIndex)
	}
	rng := rowRange(m.sheetName, r.MonthIndex)
	vr := &gsheet.ValueRange{Values: [][]any{reportRow(r)}}

	err := m.withRetry(ctx, func() error {
		_, err := m.svc.Spreadsheets.Values.Update(m.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("update %s: %w", rng, err)
	}
	return rng, nil
}

// WriteAll rewrites the header and all twelve rows in one batch.
func (m *Mirror) WriteAll(ctx context.Context, reports []core.MonthlyReport) error {
	if err := core.CheckLedger(reports); err != nil {
		return err
	}
	values := make([][]any, 0, len(reports)+1)
	values = append(values, header)
	for _, r := range reports {
		values = append(values, reportRow(r))
	}
	rng := fmt.Sprintf("%s!A1:%s%d", quoteSheet(m.sheetName), lastColumn, firstDataRow+core.MonthsPerLedger-1)
	req := &gsheet.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             []*gsheet.ValueRange{{Range: rng, Values: values}},
	}

	err := m.withRetry(ctx, func() error {
		_, err := m.svc.Spreadsheets.Values.BatchUpdate(m.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("batch update %s: %w", rng, err)
	}
	slog.InfoContext(ctx, "Ledger mirrored to spreadsheet",
		applog.FieldComponent, applog.ComponentMirror,
		applog.FieldMirrorRef, rng)
	return nil
}

func (m *Mirror) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.RetryIf(isRateLimited),
		retry.OnRetry(func(n uint, err error) {
			slog.WarnContext(ctx, "Sheets rate limited, retrying",
				applog.FieldComponent, applog.ComponentMirror,
				"attempt", n+1,
				applog.FieldError, err.Error())
		}),
		retry.Attempts(m.attempts),
		retry.Delay(m.retryDelay),
		retry.LastErrorOnly(true),
	)
}

func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests
}

// rowRange is the A1 range of a month's row.
func rowRange(sheet string, monthIndex int) string {
	row := firstDataRow + monthIndex
	return fmt.Sprintf("%s!A%d:%s%d", quoteSheet(sheet), row, lastColumn, row)
}

func reportRow(r core.MonthlyReport) []any {
	return []any{
		core.MonthName(r.MonthIndex),
		r.KgGenerated,
		string(r.Status),
		r.LastUpdated.String(),
		r.FileURL,
		core.FormatKg(r.KgGenerated),
	}
}

// quoteSheet quotes sheet names containing spaces or quotes for A1 notation.
func quoteSheet(name string) string {
	if !strings.ContainsAny(name, " '!") {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
