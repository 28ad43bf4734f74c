package workflow

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"wastelog/internal/cache"
	"wastelog/internal/extraction"
	"wastelog/internal/ledger"
	applog "wastelog/internal/log"
)

const (
	DefaultMaxSessions = 500
	DefaultSessionTTL  = 2 * time.Hour
)

// Manager keeps the open upload sessions. Every session shares the same
// ledger store; idle sessions expire after the TTL.
type Manager struct {
	store     ledger.ReportStore
	extractor extraction.Extractor
	opts      Options
	sessions  *cache.LRUCache[*Session]
	newID     func() string
}

var _ cache.Cleaner = (*Manager)(nil)

// NewManager creates a session registry bounded by maxSessions and ttl.
func NewManager(store ledger.ReportStore, extractor extraction.Extractor, opts Options, maxSessions int, ttl time.Duration) *Manager {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	m := &Manager{
		store:     store,
		extractor: extractor,
		opts:      opts.withDefaults(),
		sessions:  cache.NewLRUCache[*Session](maxSessions, ttl),
		newID:     uuid.NewString,
	}
	m.sessions.OnEvict(func(id string, s *Session) {
		s.abandon()
		slog.Info("Upload session expired",
			applog.FieldComponent, applog.ComponentWorkflow,
			applog.FieldSessionID, id)
	})
	return m
}

// Start opens a new session.
func (m *Manager) Start() *Session {
	s := NewSession(m.newID(), m.store, m.extractor, m.opts)
	m.sessions.Set(s.ID(), s)
	return s
}

// Get returns an open session and extends its lifetime.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	m.sessions.Set(id, s)
	return s, nil
}

// Discard drops a session, abandoning any pending extraction.
func (m *Manager) Discard(id string) {
	if s, ok := m.sessions.Get(id); ok {
		s.abandon()
	}
	m.sessions.Delete(id)
}

// CleanExpired implements cache.Cleaner.
func (m *Manager) CleanExpired() int {
	return m.sessions.CleanExpired()
}

// Open returns the number of open sessions.
func (m *Manager) Open() int {
	return m.sessions.Size()
}
