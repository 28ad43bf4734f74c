package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"wastelog/internal/core"
	"wastelog/internal/extraction"
	"wastelog/internal/ledger"
	applog "wastelog/internal/log"
)

// Session drives one certificate from file selection to a committed ledger
// record. All transitions are serialised by mu; the extraction runs on its
// own goroutine and re-enters through settle, which discards results whose
// ticket is no longer current.
type Session struct {
	id        string
	store     ledger.ReportStore
	extractor extraction.Extractor
	opts      Options

	mu        sync.Mutex
	state     State
	month     int
	file      *core.Attachment
	ticket    uint64
	cert      *core.ExtractedCertificate
	lastErr   error
	committed *core.MonthlyReport
	abort     context.CancelFunc
	settled   chan struct{}
	updatedAt time.Time
}

// NewSession starts a session in SELECT_FILE with the current month selected.
func NewSession(id string, store ledger.ReportStore, extractor extraction.Extractor, opts Options) *Session {
	opts = opts.withDefaults()
	now := opts.Now()
	return &Session{
		id:        id,
		store:     store,
		extractor: extractor,
		opts:      opts,
		state:     StateSelectFile,
		month:     int(now.Month()) - 1,
		updatedAt: now,
	}
}

func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent extraction failure, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SelectMonth chooses the ledger month the certificate belongs to.
func (s *Session) SelectMonth(monthIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateSelectFile); err != nil {
		return err
	}
	if err := core.ValidateMonth(monthIndex); err != nil {
		return err
	}
	s.month = monthIndex
	s.touch()
	return nil
}

// AttachFile validates and attaches a certificate, replacing any previous one.
func (s *Session) AttachFile(a core.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateSelectFile); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	file := a
	s.file = &file
	s.touch()
	return nil
}

// SubmitForExtraction issues exactly one extraction call for the attached file
// and moves the session to EXTRACTING. It returns the ticket of the attempt
// without waiting for the result; use Wait to block until it settles.
func (s *Session) SubmitForExtraction(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateExtracting {
		return 0, ErrExtractionInFlight
	}
	if err := s.requireState(StateSelectFile); err != nil {
		return 0, err
	}
	if s.file == nil {
		return 0, core.ErrNoFile
	}

	s.ticket++
	ticket := s.ticket
	s.state = StateExtracting
	s.lastErr = nil
	s.settled = make(chan struct{})

	// The extraction outlives the caller's request but not the timeout.
	exCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ExtractionTimeout)
	s.abort = cancel
	req := extraction.Request{File: *s.file, MonthIndex: s.month}
	s.touch()

	slog.InfoContext(ctx, "Extraction submitted",
		applog.FieldComponent, applog.ComponentWorkflow,
		applog.FieldOperation, applog.OpExtract,
		applog.FieldSessionID, s.id,
		applog.FieldTicket, ticket,
		applog.FieldMonthIndex, s.month,
		applog.FieldFileName, req.File.Name)

	go s.run(exCtx, cancel, ticket, req)
	return ticket, nil
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, ticket uint64, req extraction.Request) {
	defer cancel()

	type outcome struct {
		res extraction.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := s.extractor.Extract(ctx, req)
		ch <- outcome{res: res, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-ctx.Done():
		out.err = ctx.Err()
	}
	s.settle(ticket, out.res, out.err)
}

// settle applies an extraction completion. It reports whether the completion
// was accepted; stale or abandoned completions have no effect.
func (s *Session) settle(ticket uint64, res extraction.Result, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateExtracting || ticket != s.ticket {
		slog.Debug("Discarding stale extraction result",
			applog.FieldComponent, applog.ComponentWorkflow,
			applog.FieldSessionID, s.id,
			applog.FieldTicket, ticket,
			"current_ticket", s.ticket,
			"state", string(s.state))
		return false
	}
	s.abort = nil
	defer s.closeSettled()
	s.touch()

	if err == nil {
		if vErr := core.ValidateAmount(res.Amount); vErr != nil {
			err = ErrImplausibleAmount
		}
	}
	if err != nil {
		s.lastErr = extractionFailure(err)
		s.state = StateSelectFile
		slog.Warn("Extraction failed",
			applog.FieldComponent, applog.ComponentWorkflow,
			applog.FieldSessionID, s.id,
			applog.FieldTicket, ticket,
			applog.FieldError, s.lastErr.Error())
		return true
	}

	s.cert = &core.ExtractedCertificate{
		Amount:         res.Amount,
		TypeLabel:      res.TypeLabel,
		SourceFileName: s.file.Name,
	}
	s.state = StateReview
	slog.Info("Extraction completed",
		applog.FieldComponent, applog.ComponentWorkflow,
		applog.FieldSessionID, s.id,
		applog.FieldTicket, ticket,
		applog.FieldKg, res.Amount,
		"type_label", res.TypeLabel)
	return true
}

func extractionFailure(err error) error {
	switch {
	case errors.Is(err, core.ErrExtractionFailure):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return ErrExtractionTimeout
	default:
		return fmt.Errorf("%w: %w", core.ErrExtractionFailure, err)
	}
}

// Wait blocks until no extraction is in flight or ctx is done.
func (s *Session) Wait(ctx context.Context) (View, error) {
	s.mu.Lock()
	ch := s.settled
	s.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
	return s.Snapshot(), nil
}

// ReviewAmend replaces the extracted quantity with the user's correction.
func (s *Session) ReviewAmend(kg float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateReview); err != nil {
		return err
	}
	if s.cert == nil {
		return ErrNoCertificate
	}
	if err := core.ValidateAmount(kg); err != nil {
		return err
	}
	s.cert.Amount = kg
	s.touch()
	return nil
}

// Cancel discards the extracted certificate and returns to SELECT_FILE with
// the attached file kept for a retry. Cancelling while EXTRACTING abandons
// the pending call; its completion is ignored when it arrives.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateReview:
		s.cert = nil
	case StateExtracting:
		if s.abort != nil {
			s.abort()
			s.abort = nil
		}
		s.closeSettled()
	case StateCommitted:
		return ErrSessionCommitted
	default:
		return ErrInvalidState
	}
	s.state = StateSelectFile
	s.touch()
	slog.Info("Session cancelled",
		applog.FieldComponent, applog.ComponentWorkflow,
		applog.FieldSessionID, s.id,
		applog.FieldTicket, s.ticket)
	return nil
}

// Confirm reconciles the reviewed quantity into the ledger with a single
// upsert and commits the session.
func (s *Session) Confirm(ctx context.Context) (core.MonthlyReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateReview); err != nil {
		return core.MonthlyReport{}, err
	}
	if s.cert == nil {
		return core.MonthlyReport{}, ErrNoCertificate
	}
	if !core.ValidMonth(s.month) {
		return core.MonthlyReport{}, fmt.Errorf("%w: month index %d out of range", core.ErrReconciliation, s.month)
	}

	current, err := s.store.List(ctx)
	if err != nil {
		return core.MonthlyReport{}, fmt.Errorf("read ledger: %w", err)
	}
	updated, err := core.Reconcile(current, s.month, s.cert.Amount, s.cert.SourceFileName, core.DateOf(s.opts.Now()))
	if err != nil {
		return core.MonthlyReport{}, err
	}
	if err := s.store.Upsert(ctx, updated); err != nil {
		slog.ErrorContext(ctx, "Ledger upsert failed",
			applog.FieldComponent, applog.ComponentWorkflow,
			applog.FieldSessionID, s.id,
			applog.FieldMonthIndex, s.month,
			applog.FieldError, err.Error())
		return core.MonthlyReport{}, fmt.Errorf("upsert report: %w", err)
	}

	s.cert = nil
	s.committed = &updated
	s.state = StateCommitted
	s.touch()
	slog.InfoContext(ctx, "Certificate committed",
		applog.FieldComponent, applog.ComponentWorkflow,
		applog.FieldOperation, applog.OpReconcile,
		applog.FieldSessionID, s.id,
		applog.FieldMonthIndex, updated.MonthIndex,
		applog.FieldKg, updated.KgGenerated,
		applog.FieldFileName, updated.FileURL)
	return updated, nil
}

// Snapshot returns a copy of the session state safe to hand to readers.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:         s.id,
		State:      s.state,
		MonthIndex: s.month,
		Ticket:     s.ticket,
	}
	if s.file != nil {
		v.FileName = s.file.Name
		v.FileSize = s.file.Size
	}
	if s.cert != nil {
		c := *s.cert
		v.Extracted = &c
	}
	if s.lastErr != nil {
		v.LastError = s.lastErr.Error()
	}
	if s.committed != nil {
		r := *s.committed
		v.Committed = &r
	}
	v.UpdatedAt = s.updatedAt
	return v
}

// abandon cancels any pending extraction; used when the session is dropped.
func (s *Session) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abort != nil {
		s.abort()
		s.abort = nil
	}
}

func (s *Session) requireState(want State) error {
	switch {
	case s.state == want:
		return nil
	case s.state == StateCommitted:
		return ErrSessionCommitted
	case s.state == StateExtracting:
		return ErrExtractionInFlight
	default:
		return ErrInvalidState
	}
}

func (s *Session) closeSettled() {
	if s.settled != nil {
		close(s.settled)
		s.settled = nil
	}
}

func (s *Session) touch() {
	s.updatedAt = s.opts.Now()
}
