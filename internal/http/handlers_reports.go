package http

import (
	"fmt"
	"net/http"

	"wastelog/internal/core"
)

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.List(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("list reports: %w", err), nil)
		return
	}
	out := make([]reportResponse, 0, len(reports))
	for _, rep := range reports {
		out = append(out, newReportResponse(rep))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonthIndex(r.PathValue("month"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: report month %q", core.ErrNotFound, r.PathValue("month")), nil)
		return
	}
	rep, err := s.reports.Get(r.Context(), month)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(rep))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	reports, err := s.reports.List(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("list reports: %w", err), nil)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(core.Summarize(reports)))
}
