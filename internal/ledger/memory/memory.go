package memory

import (
	"context"
	"fmt"
	"sync"

	"wastelog/internal/core"
	"wastelog/internal/ledger"
)

var _ ledger.ReportStore = (*Store)(nil)

// Store keeps the 12-month ledger in process memory.
type Store struct {
	mu      sync.RWMutex
	reports [core.MonthsPerLedger]core.MonthlyReport
}

// New returns a ledger of 12 PENDING records dated created.
func New(created core.Date) *Store {
	s := &Store{}
	copy(s.reports[:], core.EmptyLedger(created))
	return s
}

// NewFromReports seeds the store from an existing ledger snapshot.
func NewFromReports(reports []core.MonthlyReport) (*Store, error) {
	if err := core.CheckLedger(reports); err != nil {
		return nil, err
	}
	s := &Store{}
	copy(s.reports[:], reports)
	return s, nil
}

// Get returns a copy of the record at monthIndex.
func (s *Store) Get(_ context.Context, monthIndex int) (core.MonthlyReport, error) {
	if !core.ValidMonth(monthIndex) {
		return core.MonthlyReport{}, fmt.Errorf("%w: month index %d", core.ErrNotFound, monthIndex)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reports[monthIndex], nil
}

// List returns a snapshot of all 12 records.
func (s *Store) List(_ context.Context) ([]core.MonthlyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.MonthlyReport, core.MonthsPerLedger)
	copy(out, s.reports[:])
	return out, nil
}

// Upsert replaces the record at r.MonthIndex.
func (s *Store) Upsert(_ context.Context, r core.MonthlyReport) error {
	if !core.ValidMonth(r.MonthIndex) {
		return fmt.Errorf("%w: month index %d", core.ErrNotFound, r.MonthIndex)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.MonthIndex] = r
	return nil
}
