package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{"direct", "203.0.113.7:5555", nil, "203.0.113.7"},
		{"untrusted peer ignores forwarding", "203.0.113.7:5555", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.7"},
		{"trusted proxy forwards", "10.0.0.2:80", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.2"}, "198.51.100.1"},
		{"trusted proxy real ip", "127.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"trusted proxy bad header", "192.168.1.1:80", map[string]string{"X-Forwarded-For": "garbage"}, "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := extractClientIP(req); got != tt.want {
				t.Fatalf("extractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		agent  string
		want   bool
	}{
		{"plain read", http.MethodGet, "/reports", "Mozilla/5.0", false},
		{"path traversal", http.MethodGet, "/reports/../../etc/passwd", "", true},
		{"dotenv probe", http.MethodGet, "/.env", "", true},
		{"scanner agent", http.MethodGet, "/reports", "sqlmap/1.7", true},
		{"query injection", http.MethodGet, "/reports?q=1%20union%20select", "", true},
		{"trace method", "TRACE", "/", "", true},
	}
	metrics := &securityMetrics{}
	flagged := 0
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.target, nil)
		req.Header.Set("User-Agent", tt.agent)
		if got := detectSuspiciousRequest(req, metrics); got != tt.want {
			t.Errorf("%s: detectSuspiciousRequest() = %v, want %v", tt.name, got, tt.want)
		}
		if tt.want {
			flagged++
		}
	}
	if got := metrics.snapshot().SuspiciousRequests; got != int64(flagged) {
		t.Fatalf("suspicious counter = %d, want %d", got, flagged)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2)
	rl.now = func() time.Time { return now }
	defer rl.stop()

	if !rl.allow("a", nil) || !rl.allow("a", nil) {
		t.Fatal("first two requests should pass")
	}
	if rl.allow("a", nil) {
		t.Fatal("third request in the window should be rejected")
	}
	if !rl.allow("b", nil) {
		t.Fatal("clients are limited independently")
	}

	now = now.Add(rateLimitWindow + time.Second)
	if !rl.allow("a", nil) {
		t.Fatal("a new window should reset the counter")
	}

	now = now.Add(staleClientCutoff + time.Minute)
	if removed := rl.cleanupStaleEntries(); removed != 2 {
		t.Fatalf("expected 2 stale clients removed, got %d", removed)
	}
}
