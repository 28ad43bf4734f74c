package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"wastelog/internal/core"
	"wastelog/internal/extraction"
	"wastelog/internal/extraction/fixed"
	"wastelog/internal/ledger/memory"
	applog "wastelog/internal/log"
	"wastelog/internal/workflow"
)

func newTestServer(t *testing.T, ex extraction.Extractor, opts Options) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New(core.NewDate(2025, 1, 1))
	manager := workflow.NewManager(store, ex, workflow.Options{ExtractionTimeout: 5 * time.Second}, 10, time.Hour)
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.Config{Output: io.Discard})
	}
	srv := NewServer(":0", manager, store, nil, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func formRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func uploadRequest(t *testing.T, path, name string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (body=%s)", v, err, rr.Body.String())
	}
	return v
}

func startSession(t *testing.T, srv *Server) string {
	t.Helper()
	rr := serve(srv, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("start session status=%d body=%s", rr.Code, rr.Body.String())
	}
	sess := decode[sessionResponse](t, rr)
	if sess.State != string(workflow.StateSelectFile) || sess.ID == "" {
		t.Fatalf("unexpected new session %+v", sess)
	}
	if loc := rr.Header().Get("Location"); loc != "/sessions/"+sess.ID {
		t.Fatalf("Location=%q", loc)
	}
	return sess.ID
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, fixed.New(1), Options{})
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := serve(srv, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	srv.ready = func(context.Context) error { return errors.New("database is locked") }
	if rr := serve(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when storage is down, got %d", rr.Code)
	}
}

func TestUploadFlowCommitsReport(t *testing.T) {
	srv, store := newTestServer(t, fixed.New(120), Options{})
	id := startSession(t, srv)
	base := "/sessions/" + id

	rr := serve(srv, jsonRequest(http.MethodPost, base+"/month", `{"month": 2}`))
	if rr.Code != http.StatusOK || decode[sessionResponse](t, rr).MonthName != "Marzo" {
		t.Fatalf("select month status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(srv, uploadRequest(t, base+"/file", "march.pdf", []byte("%PDF-1.4 certificate")))
	if rr.Code != http.StatusOK {
		t.Fatalf("attach status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := decode[sessionResponse](t, rr); got.FileName != "march.pdf" || got.FileSize == 0 {
		t.Fatalf("file not attached: %+v", got)
	}

	rr = serve(srv, httptest.NewRequest(http.MethodPost, base+"/extract", nil))
	if rr.Code != http.StatusAccepted || rr.Header().Get("X-Extraction-Ticket") != "1" {
		t.Fatalf("extract status=%d ticket=%q", rr.Code, rr.Header().Get("X-Extraction-Ticket"))
	}

	rr = serve(srv, httptest.NewRequest(http.MethodPost, base+"/wait", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("wait status=%d body=%s", rr.Code, rr.Body.String())
	}
	got := decode[sessionResponse](t, rr)
	if got.State != string(workflow.StateReview) || got.Extracted == nil || got.Extracted.Amount != 120 {
		t.Fatalf("expected review with 120 kg, got %+v", got)
	}

	rr = serve(srv, formRequest(base+"/amount", "amount=118,5"))
	if rr.Code != http.StatusOK || decode[sessionResponse](t, rr).Extracted.Amount != 118.5 {
		t.Fatalf("amend status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(srv, httptest.NewRequest(http.MethodPost, base+"/confirm", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm status=%d body=%s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/reports/2" {
		t.Fatalf("Location=%q", loc)
	}
	committed := decode[sessionResponse](t, rr)
	if committed.State != string(workflow.StateCommitted) || committed.Committed == nil {
		t.Fatalf("expected committed session, got %+v", committed)
	}

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/reports/2", nil))
	rep := decode[reportResponse](t, rr)
	if rep.Status != "VERIFIED" || rep.KgGenerated != 118.5 || rep.FileURL != "march.pdf" || rep.KgDisplay != "118,5 kg" {
		t.Fatalf("unexpected report %+v", rep)
	}
	if stored, _ := store.Get(context.Background(), 2); stored.KgGenerated != 118.5 {
		t.Fatalf("store not updated: %+v", stored)
	}

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/reports/summary", nil))
	sum := decode[summaryResponse](t, rr)
	if sum.VerifiedMonths != 1 || sum.PendingMonths != 11 || sum.TotalKg != 118.5 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	// nothing is allowed after commit
	rr = serve(srv, httptest.NewRequest(http.MethodPost, base+"/cancel", nil))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("cancel after commit status=%d", rr.Code)
	}
}

func TestSessionValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t, fixed.New(10), Options{RateLimit: 1000})
	id := startSession(t, srv)
	base := "/sessions/" + id

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{"month out of range", jsonRequest(http.MethodPost, base+"/month", `{"month": 12}`), http.StatusUnprocessableEntity},
		{"month not a number", formRequest(base+"/month", "month=march"), http.StatusUnprocessableEntity},
		{"month missing", jsonRequest(http.MethodPost, base+"/month", `{}`), http.StatusUnprocessableEntity},
		{"malformed json", jsonRequest(http.MethodPost, base+"/month", `{"month":`), http.StatusUnprocessableEntity},
		{"file type", uploadRequest(t, base+"/file", "cert.exe", []byte("MZ")), http.StatusUnprocessableEntity},
		{"no multipart", formRequest(base+"/file", "file=x"), http.StatusUnprocessableEntity},
		{"extract without file", httptest.NewRequest(http.MethodPost, base+"/extract", nil), http.StatusUnprocessableEntity},
		{"amend outside review", formRequest(base+"/amount", "amount=5"), http.StatusUnprocessableEntity},
		{"confirm outside review", httptest.NewRequest(http.MethodPost, base+"/confirm", nil), http.StatusUnprocessableEntity},
		{"cancel outside review", httptest.NewRequest(http.MethodPost, base+"/cancel", nil), http.StatusUnprocessableEntity},
		{"unknown session", httptest.NewRequest(http.MethodGet, "/sessions/"+uuid.NewString(), nil), http.StatusNotFound},
		{"wrong method", httptest.NewRequest(http.MethodGet, base+"/confirm", nil), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(srv, tt.req)
			if rr.Code != tt.want {
				t.Fatalf("status=%d want %d body=%s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	// rejected operations leave the session where it was
	rr := serve(srv, httptest.NewRequest(http.MethodPost, base+"/confirm", nil))
	body := decode[errorResponse](t, rr)
	if body.Kind != "validation" || body.Session == nil || body.Session.State != string(workflow.StateSelectFile) {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestAttachOversizedFile(t *testing.T) {
	srv, _ := newTestServer(t, fixed.New(10), Options{})
	id := startSession(t, srv)

	data := bytes.Repeat([]byte("x"), int(core.MaxAttachmentSize)+1)
	rr := serve(srv, uploadRequest(t, "/sessions/"+id+"/file", "big.pdf", data))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestExtractionFailureReturnsToSelectFile(t *testing.T) {
	srv, _ := newTestServer(t, fixed.Failing(errors.New("unreadable scan")), Options{})
	id := startSession(t, srv)
	base := "/sessions/" + id

	serve(srv, uploadRequest(t, base+"/file", "scan.png", []byte("png")))
	if rr := serve(srv, httptest.NewRequest(http.MethodPost, base+"/extract", nil)); rr.Code != http.StatusAccepted {
		t.Fatalf("extract status=%d", rr.Code)
	}

	rr := serve(srv, httptest.NewRequest(http.MethodPost, base+"/wait", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("wait status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decode[errorResponse](t, rr)
	if body.Kind != "extraction_failure" || body.Session == nil {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Session.State != string(workflow.StateSelectFile) || body.Session.FileName != "scan.png" {
		t.Fatalf("file should be kept for a retry: %+v", body.Session)
	}
}

func TestWaitWhileExtracting(t *testing.T) {
	ex := &fixed.Extractor{Amount: 80, Delay: 300 * time.Millisecond}
	srv, _ := newTestServer(t, ex, Options{})
	id := startSession(t, srv)
	base := "/sessions/" + id

	serve(srv, uploadRequest(t, base+"/file", "cert.jpg", []byte("jpg")))
	serve(srv, httptest.NewRequest(http.MethodPost, base+"/extract", nil))

	if rr := serve(srv, httptest.NewRequest(http.MethodPost, base+"/extract", nil)); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second submit status=%d", rr.Code)
	}

	rr := serve(srv, httptest.NewRequest(http.MethodPost, base+"/wait?timeout=10ms", nil))
	if rr.Code != http.StatusAccepted || decode[sessionResponse](t, rr).State != string(workflow.StateExtracting) {
		t.Fatalf("short wait status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(srv, httptest.NewRequest(http.MethodPost, base+"/wait?timeout=5s", nil))
	if rr.Code != http.StatusOK || decode[sessionResponse](t, rr).State != string(workflow.StateReview) {
		t.Fatalf("wait status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ex.Calls() != 1 {
		t.Fatalf("expected exactly one extraction call, got %d", ex.Calls())
	}

	if rr := serve(srv, httptest.NewRequest(http.MethodPost, base+"/wait?timeout=soon", nil)); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid timeout status=%d", rr.Code)
	}
}

func TestDiscardSession(t *testing.T) {
	srv, _ := newTestServer(t, fixed.New(10), Options{})
	id := startSession(t, srv)

	if rr := serve(srv, httptest.NewRequest(http.MethodDelete, "/sessions/"+id, nil)); rr.Code != http.StatusNoContent {
		t.Fatalf("discard status=%d", rr.Code)
	}
	if rr := serve(srv, httptest.NewRequest(http.MethodGet, "/sessions/"+id, nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("get after discard status=%d", rr.Code)
	}
}

func TestReportsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, fixed.New(10), Options{})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/reports", nil))
	list := decode[[]reportResponse](t, rr)
	if len(list) != core.MonthsPerLedger {
		t.Fatalf("expected 12 reports, got %d", len(list))
	}
	for i, rep := range list {
		if rep.MonthIndex != i || rep.Status != "PENDING" || rep.LastUpdated != "2025-01-01" {
			t.Fatalf("unexpected report %d: %+v", i, rep)
		}
	}
	if list[11].MonthName != "Diciembre" {
		t.Fatalf("month name=%q", list[11].MonthName)
	}

	for _, path := range []string{"/reports/12", "/reports/-1", "/reports/abc"} {
		if rr := serve(srv, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusNotFound {
			t.Errorf("%s status=%d", path, rr.Code)
		}
	}
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	srv, _ := newTestServer(t, fixed.New(10), Options{RateLimit: 2})

	for i := 0; i < 2; i++ {
		if rr := serve(srv, httptest.NewRequest(http.MethodPost, "/sessions", nil)); rr.Code != http.StatusCreated {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := serve(srv, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected 429 with Retry-After, got %d", rr.Code)
	}
	if rr := serve(srv, httptest.NewRequest(http.MethodGet, "/reports", nil)); rr.Code != http.StatusOK {
		t.Fatalf("reads are not limited, got %d", rr.Code)
	}
	if stats := srv.SecurityStats(); stats.RateLimitHits != 1 {
		t.Fatalf("rate limit hits=%d", stats.RateLimitHits)
	}
}

func TestResponseHeaders(t *testing.T) {
	srv, _ := newTestServer(t, fixed.New(10), Options{})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Cache-Control"} {
		if rr.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
	if _, err := uuid.Parse(rr.Header().Get(requestIDHeader)); err != nil {
		t.Fatalf("expected generated request id, got %q", rr.Header().Get(requestIDHeader))
	}

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, id)
	if got := serve(srv, req).Header().Get(requestIDHeader); got != id {
		t.Fatalf("incoming request id not kept: %q", got)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrInvalidMonth, http.StatusUnprocessableEntity},
		{workflow.ErrSessionNotFound, http.StatusNotFound},
		{workflow.ErrExtractionTimeout, http.StatusBadGateway},
		{core.ErrReconciliation, http.StatusInternalServerError},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
