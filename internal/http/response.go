package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"wastelog/internal/core"
	applog "wastelog/internal/log"
	"wastelog/internal/workflow"
)

type reportResponse struct {
	MonthIndex  int     `json:"month_index"`
	MonthName   string  `json:"month_name"`
	KgGenerated float64 `json:"kg_generated"`
	KgDisplay   string  `json:"kg_display"`
	Status      string  `json:"status"`
	LastUpdated string  `json:"last_updated"`
	FileURL     string  `json:"file_url,omitempty"`
}

func newReportResponse(r core.MonthlyReport) reportResponse {
	return reportResponse{
		MonthIndex:  r.MonthIndex,
		MonthName:   core.MonthName(r.MonthIndex),
		KgGenerated: r.KgGenerated,
		KgDisplay:   core.FormatKg(r.KgGenerated),
		Status:      string(r.Status),
		LastUpdated: r.LastUpdated.String(),
		FileURL:     r.FileURL,
	}
}

type certificateResponse struct {
	Amount         float64 `json:"amount"`
	TypeLabel      string  `json:"type_label"`
	SourceFileName string  `json:"source_file_name"`
}

type sessionResponse struct {
	ID         string               `json:"id"`
	State      string               `json:"state"`
	MonthIndex int                  `json:"month_index"`
	MonthName  string               `json:"month_name"`
	FileName   string               `json:"file_name,omitempty"`
	FileSize   int64                `json:"file_size,omitempty"`
	Ticket     uint64               `json:"ticket"`
	Extracted  *certificateResponse `json:"extracted,omitempty"`
	LastError  string               `json:"last_error,omitempty"`
	Committed  *reportResponse      `json:"committed,omitempty"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

func newSessionResponse(v workflow.View) sessionResponse {
	out := sessionResponse{
		ID:         v.ID,
		State:      string(v.State),
		MonthIndex: v.MonthIndex,
		MonthName:  core.MonthName(v.MonthIndex),
		FileName:   v.FileName,
		FileSize:   v.FileSize,
		Ticket:     v.Ticket,
		LastError:  v.LastError,
		UpdatedAt:  v.UpdatedAt,
	}
	if v.Extracted != nil {
		out.Extracted = &certificateResponse{
			Amount:         v.Extracted.Amount,
			TypeLabel:      v.Extracted.TypeLabel,
			SourceFileName: v.Extracted.SourceFileName,
		}
	}
	if v.Committed != nil {
		r := newReportResponse(*v.Committed)
		out.Committed = &r
	}
	return out
}

type summaryResponse struct {
	TotalKg        float64 `json:"total_kg"`
	TotalDisplay   string  `json:"total_display"`
	VerifiedMonths int     `json:"verified_months"`
	PendingMonths  int     `json:"pending_months"`
	CO2AvoidedKg   float64 `json:"co2_avoided_kg"`
	LastVerified   string  `json:"last_verified,omitempty"`
}

func newSummaryResponse(s core.LedgerSummary) summaryResponse {
	return summaryResponse{
		TotalKg:        s.TotalKg,
		TotalDisplay:   core.FormatKg(s.TotalKg),
		VerifiedMonths: s.VerifiedMonths,
		PendingMonths:  s.PendingMonths,
		CO2AvoidedKg:   s.CO2AvoidedKg,
		LastVerified:   s.LastVerified.String(),
	}
}

type errorResponse struct {
	Error   string           `json:"error"`
	Kind    string           `json:"kind"`
	Session *sessionResponse `json:"session,omitempty"`
}

// errorStatus maps the domain error taxonomy onto HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrExtractionFailure):
		return http.StatusBadGateway, "extraction_failure"
	case errors.Is(err, core.ErrReconciliation):
		return http.StatusInternalServerError, "reconciliation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError logs server-side failures and writes the error body. view, when
// given, carries the session state the client should resume from.
func writeError(w http.ResponseWriter, r *http.Request, err error, view *workflow.View) {
	status, kind := errorStatus(err)
	logger := applog.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", applog.FieldError, err.Error(), "kind", kind)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", applog.FieldError, err.Error(), "kind", kind)
	}

	body := errorResponse{Error: err.Error(), Kind: kind}
	if status == http.StatusInternalServerError && kind == "internal" {
		body.Error = "internal error"
	}
	if view != nil {
		s := newSessionResponse(*view)
		body.Session = &s
	}
	writeJSON(w, status, body)
}
