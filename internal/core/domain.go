package core

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"
)

const (
	StatusPending  Status = "PENDING"
	StatusVerified Status = "VERIFIED"
)

const (
	// MonthsPerLedger is the fixed number of records in a report ledger.
	MonthsPerLedger = 12

	// MaxAttachmentSize is the largest certificate accepted for extraction (5 MB).
	MaxAttachmentSize int64 = 5 * 1024 * 1024

	dateLayout = "2006-01-02"
)

type (
	Status string

	Date struct {
		time.Time
	}

	// MonthlyReport is one row of the 12-month ledger.
	MonthlyReport struct {
		MonthIndex  int // 0 = January ... 11 = December
		KgGenerated float64
		Status      Status
		LastUpdated Date
		FileURL     string // empty when no certificate was ever attached
	}

	// ExtractedCertificate lives only between a successful extraction and confirm/cancel.
	ExtractedCertificate struct {
		Amount         float64
		TypeLabel      string
		SourceFileName string
	}

	// Attachment is a certificate file selected by the user.
	Attachment struct {
		Name string
		Size int64
		Data []byte
	}
)

var allowedExtensions = map[string]struct{}{
	"pdf": {},
	"jpg": {},
	"png": {},
}

// Error taxonomy. Every specific error wraps one of these four.
var (
	ErrValidation        = errors.New("validation error")
	ErrExtractionFailure = errors.New("extraction failure")
	ErrReconciliation    = errors.New("reconciliation error")
	ErrNotFound          = errors.New("not found")
)

var (
	ErrInvalidMonth  = fmt.Errorf("%w: month index must be between 0 and 11", ErrValidation)
	ErrInvalidAmount = fmt.Errorf("%w: amount must be a non-negative number", ErrValidation)
	ErrNoFile        = fmt.Errorf("%w: no certificate file attached", ErrValidation)
	ErrEmptyFileName = fmt.Errorf("%w: empty file name", ErrValidation)
	ErrFileType      = fmt.Errorf("%w: file type not allowed (pdf, jpg, png)", ErrValidation)
	ErrFileTooLarge  = fmt.Errorf("%w: file exceeds 5 MB", ErrValidation)
)

// ValidMonth reports whether i is a month index of the ledger.
func ValidMonth(i int) bool {
	return i >= 0 && i < MonthsPerLedger
}

// ValidateMonth returns ErrInvalidMonth for indexes outside 0..11.
func ValidateMonth(i int) error {
	if !ValidMonth(i) {
		return ErrInvalidMonth
	}
	return nil
}

// ValidateAmount accepts finite, non-negative quantities.
func ValidateAmount(kg float64) error {
	if math.IsNaN(kg) || math.IsInf(kg, 0) || kg < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusVerified
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

// String formats the date as YYYY-MM-DD; the zero date formats as "".
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// Extension returns the lower-cased extension without the dot.
func (a Attachment) Extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(a.Name)), ".")
}

func (a Attachment) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyFileName
	}
	if _, ok := allowedExtensions[a.Extension()]; !ok {
		return ErrFileType
	}
	if a.Size < 0 || a.Size > MaxAttachmentSize {
		return ErrFileTooLarge
	}
	return nil
}

func (r MonthlyReport) Validate() error {
	if err := ValidateMonth(r.MonthIndex); err != nil {
		return err
	}
	if err := ValidateAmount(r.KgGenerated); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, r.Status)
	}
	return nil
}

// EmptyLedger returns the 12 PENDING records a new report year starts with.
func EmptyLedger(created Date) []MonthlyReport {
	out := make([]MonthlyReport, MonthsPerLedger)
	for i := range out {
		out[i] = MonthlyReport{
			MonthIndex:  i,
			Status:      StatusPending,
			LastUpdated: created,
		}
	}
	return out
}

// NewLedger returns the empty ledger for a report year, dated January 1st.
func NewLedger(year int) []MonthlyReport {
	return EmptyLedger(NewDate(year, 1, 1))
}

// CheckLedger verifies the record-count invariant: one record per month, in order.
func CheckLedger(reports []MonthlyReport) error {
	if len(reports) != MonthsPerLedger {
		return fmt.Errorf("%w: ledger has %d records, want %d", ErrReconciliation, len(reports), MonthsPerLedger)
	}
	for i, r := range reports {
		if r.MonthIndex != i {
			return fmt.Errorf("%w: record %d has month index %d", ErrReconciliation, i, r.MonthIndex)
		}
	}
	return nil
}
