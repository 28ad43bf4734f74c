package workflow

import (
	"fmt"
	"time"

	"wastelog/internal/core"
)

const (
	StateSelectFile State = "SELECT_FILE"
	StateExtracting State = "EXTRACTING"
	StateReview     State = "REVIEW"
	StateCommitted  State = "COMMITTED"
)

// DefaultExtractionTimeout bounds how long a session waits in EXTRACTING.
const DefaultExtractionTimeout = 30 * time.Second

type State string

var (
	ErrInvalidState       = fmt.Errorf("%w: operation not allowed in the current state", core.ErrValidation)
	ErrExtractionInFlight = fmt.Errorf("%w: an extraction is already in progress", core.ErrValidation)
	ErrSessionCommitted   = fmt.Errorf("%w: session already committed, start a new one", core.ErrValidation)
	ErrNoCertificate      = fmt.Errorf("%w: no extracted certificate to review", core.ErrValidation)
	ErrExtractionTimeout  = fmt.Errorf("%w: extraction timed out", core.ErrExtractionFailure)
	ErrImplausibleAmount  = fmt.Errorf("%w: extracted amount is not a valid quantity", core.ErrExtractionFailure)
	ErrSessionNotFound    = fmt.Errorf("%w: upload session", core.ErrNotFound)
)

// Options tune a session. Zero values fall back to defaults.
type Options struct {
	ExtractionTimeout time.Duration
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ExtractionTimeout <= 0 {
		o.ExtractionTimeout = DefaultExtractionTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// View is a read-only snapshot of a session.
type View struct {
	ID         string
	State      State
	MonthIndex int
	FileName   string
	FileSize   int64
	Ticket     uint64
	Extracted  *core.ExtractedCertificate
	LastError  string
	Committed  *core.MonthlyReport
	UpdatedAt  time.Time
}
