package workflow

import (
	"errors"
	"testing"
	"time"

	"wastelog/internal/core"
	"wastelog/internal/extraction/fixed"
)

func TestManagerStartGetDiscard(t *testing.T) {
	m := NewManager(newStore(), fixed.New(1), Options{Now: fixedClock()}, 10, time.Hour)

	a := m.Start()
	b := m.Start()
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID(), b.ID())
	}
	if m.Open() != 2 {
		t.Fatalf("expected 2 open sessions, got %d", m.Open())
	}

	got, err := m.Get(a.ID())
	if err != nil || got != a {
		t.Fatalf("get: %v", err)
	}

	m.Discard(a.ID())
	if _, err := m.Get(a.ID()); !errors.Is(err, ErrSessionNotFound) || !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestManagerExpiresIdleSessions(t *testing.T) {
	m := NewManager(newStore(), fixed.New(1), Options{}, 10, 10*time.Millisecond)
	s := m.Start()
	time.Sleep(30 * time.Millisecond)

	if n := m.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}
}

func TestManagerCapacity(t *testing.T) {
	m := NewManager(newStore(), fixed.New(1), Options{}, 2, time.Hour)
	first := m.Start()
	m.Start()
	m.Start()
	if m.Open() != 2 {
		t.Fatalf("expected capacity to bound sessions, got %d", m.Open())
	}
	if _, err := m.Get(first.ID()); err == nil {
		t.Fatalf("expected oldest session to be evicted")
	}
}
