package backend

import (
	"context"

	"wastelog/internal/ledger"
)

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// BackendResult is a ready ledger store plus what it takes to shut it down.
type BackendResult struct {
	// Store is handed to the upload workflow. It publishes events when a
	// broker is configured.
	Store ledger.ReportStore
	// Reader is the read side for the HTTP reports endpoints.
	Reader ledger.ReportReader
	// Ready reports whether the storage is reachable.
	Ready   func(context.Context) error
	Cleanup CleanupFunc
}

// Factory creates ledger backends based on configuration.
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Memory
	ReportYear int

	// SQLite
	SQLiteDBPath string

	// Events, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
