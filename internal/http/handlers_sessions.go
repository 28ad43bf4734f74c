package http

import (
	"context"
	"net/http"
	"strconv"

	"wastelog/internal/core"
	applog "wastelog/internal/log"
	"wastelog/internal/workflow"
)

// session resolves {id}, writing a 404 when it is unknown or expired.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*workflow.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err, nil)
		return nil, false
	}
	return sess, true
}

// respond writes the session after an operation. On failure the body carries
// the unchanged session so clients can resume.
func respond(w http.ResponseWriter, r *http.Request, sess *workflow.Session, status int, err error) {
	view := sess.Snapshot()
	if err != nil {
		writeError(w, r, err, &view)
		return
	}
	writeJSON(w, status, newSessionResponse(view))
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Start()
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Upload session started",
		applog.FieldSessionID, sess.ID())
	w.Header().Set("Location", "/sessions/"+sess.ID())
	respond(w, r, sess, http.StatusCreated, nil)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		respond(w, r, sess, http.StatusOK, nil)
	}
}

func (s *Server) handleDiscardSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.session(w, r); !ok {
		return
	}
	s.sessions.Discard(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectMonth(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	raw, err := formValue(w, r, "month")
	if err != nil {
		respond(w, r, sess, 0, err)
		return
	}
	month, err := parseMonthIndex(raw)
	if err != nil {
		respond(w, r, sess, 0, err)
		return
	}
	respond(w, r, sess, http.StatusOK, sess.SelectMonth(month))
}

func (s *Server) handleAttachFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	att, err := readAttachment(w, r)
	if err != nil {
		respond(w, r, sess, 0, err)
		return
	}
	respond(w, r, sess, http.StatusOK, sess.AttachFile(att))
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	ticket, err := sess.SubmitForExtraction(r.Context())
	if err == nil {
		w.Header().Set("Location", "/sessions/"+sess.ID())
		w.Header().Set("X-Extraction-Ticket", strconv.FormatUint(ticket, 10))
	}
	respond(w, r, sess, http.StatusAccepted, err)
}

// handleWait blocks until the pending extraction settles. A failed extraction
// is reported as a 502 with the session back in SELECT_FILE.
func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	timeout, err := waitTimeout(r)
	if err != nil {
		respond(w, r, sess, 0, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	view, err := sess.Wait(ctx)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		if view.State == workflow.StateExtracting {
			// still extracting; the client polls again
			writeJSON(w, http.StatusAccepted, newSessionResponse(view))
			return
		}
	}
	if view.State == workflow.StateSelectFile {
		if lastErr := sess.LastError(); lastErr != nil {
			writeError(w, r, lastErr, &view)
			return
		}
	}
	writeJSON(w, http.StatusOK, newSessionResponse(view))
}

func (s *Server) handleAmend(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	raw, err := formValue(w, r, "amount")
	if err != nil {
		respond(w, r, sess, 0, err)
		return
	}
	kg, err := core.ParseAmount(raw)
	if err != nil {
		respond(w, r, sess, 0, err)
		return
	}
	respond(w, r, sess, http.StatusOK, sess.ReviewAmend(kg))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	respond(w, r, sess, http.StatusOK, sess.Cancel())
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	report, err := sess.Confirm(r.Context())
	if err != nil {
		respond(w, r, sess, 0, err)
		return
	}
	w.Header().Set("Location", "/reports/"+strconv.Itoa(report.MonthIndex))
	respond(w, r, sess, http.StatusOK, nil)
}
