package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"wastelog/internal/ledger"
	applog "wastelog/internal/log"
	"wastelog/internal/workflow"
)

const requestIDHeader = "X-Request-ID"

// Options tune the server. Zero values fall back to defaults.
type Options struct {
	// RateLimit is the number of mutating requests a client may make per minute.
	RateLimit int
	Logger    *applog.Logger
}

// Server exposes the upload workflow and the read-only ledger as a JSON API.
type Server struct {
	http.Server
	sessions *workflow.Manager
	reports  ledger.ReportReader
	ready    func(context.Context) error
	logger   *applog.Logger

	rateLimiter  *rateLimiter
	metrics      *securityMetrics
	shutdownOnce sync.Once
}

// NewServer wires the routes and middleware, returning a ready-to-run server.
// ready may be nil when the storage has nothing to check.
func NewServer(addr string, sessions *workflow.Manager, reports ledger.ReportReader, ready func(context.Context) error, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	s := &Server{
		sessions:    sessions,
		reports:     reports,
		ready:       ready,
		logger:      logger.WithComponent(applog.ComponentHTTP),
		rateLimiter: newRateLimiter(opts.RateLimit),
		metrics:     &securityMetrics{},
	}
	go s.rateLimiter.startCleanup(5 * time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("POST /sessions", s.handleStartSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDiscardSession)
	mux.HandleFunc("POST /sessions/{id}/month", s.handleSelectMonth)
	mux.HandleFunc("POST /sessions/{id}/file", s.handleAttachFile)
	mux.HandleFunc("POST /sessions/{id}/extract", s.handleSubmit)
	mux.HandleFunc("POST /sessions/{id}/wait", s.handleWait)
	mux.HandleFunc("POST /sessions/{id}/amount", s.handleAmend)
	mux.HandleFunc("POST /sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /sessions/{id}/confirm", s.handleConfirm)

	mux.HandleFunc("GET /reports", s.handleListReports)
	mux.HandleFunc("GET /reports/summary", s.handleSummary)
	mux.HandleFunc("GET /reports/{month}", s.handleGetReport)

	logged := applog.Middleware(s.logger, requestID, extractClientIP)(s.withSecurity(mux))
	s.Server = http.Server{
		Addr:              addr,
		Handler:           withRequestID(logged),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      maxWaitTimeout + 15*time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// withRequestID makes sure every request and response carries an ID.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	return r.Header.Get(requestIDHeader)
}

// withSecurity sets response headers, flags probes and rate limits writes.
func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w.Header())
		clientIP := extractClientIP(r)

		if detectSuspiciousRequest(r, s.metrics) {
			applog.FromContext(r.Context()).WithComponent(applog.ComponentSecurity).WarnContext(r.Context(),
				"Suspicious request",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path,
				applog.FieldUserAgent, r.Header.Get("User-Agent"))
		}

		if r.Method != http.MethodGet && r.Method != http.MethodHead && !s.rateLimiter.allow(clientIP, s.metrics) {
			applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(),
				"Rate limit exceeded",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "rate limit exceeded, try again later",
				Kind:  "rate_limited",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityStats returns the rate-limit and probe counters.
func (s *Server) SecurityStats() SecurityStats {
	return s.metrics.snapshot()
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		stats := s.metrics.snapshot()
		s.logger.InfoContext(ctx, "HTTP server shutting down",
			applog.FieldOperation, applog.OpShutdown,
			"rate_limit_hits", stats.RateLimitHits,
			"suspicious_requests", stats.SuspiciousRequests)
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed",
				applog.FieldError, err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"open_sessions": s.sessions.Open(),
	})
}
