package fixed

import (
	"context"
	"hash/fnv"
	"sync/atomic"
	"time"

	"wastelog/internal/extraction"
)

var _ extraction.Extractor = (*Extractor)(nil)

// Extractor returns a preconfigured result. It stands in for the document
// recognition service in tests and local runs.
type Extractor struct {
	Amount    float64
	TypeLabel string
	Err       error
	Delay     time.Duration

	calls atomic.Int64
}

// New returns an extractor that always yields amount with the default label.
func New(amount float64) *Extractor {
	return &Extractor{Amount: amount, TypeLabel: extraction.DefaultTypeLabel}
}

// Failing returns an extractor that always fails with err.
func Failing(err error) *Extractor {
	return &Extractor{Err: err}
}

func (e *Extractor) Extract(ctx context.Context, _ extraction.Request) (extraction.Result, error) {
	e.calls.Add(1)
	if e.Delay > 0 {
		t := time.NewTimer(e.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return extraction.Result{}, ctx.Err()
		case <-t.C:
		}
	}
	if e.Err != nil {
		return extraction.Result{}, e.Err
	}
	label := e.TypeLabel
	if label == "" {
		label = extraction.DefaultTypeLabel
	}
	return extraction.Result{Amount: e.Amount, TypeLabel: label}, nil
}

// Calls reports how many extractions were requested.
func (e *Extractor) Calls() int64 {
	return e.calls.Load()
}

// Simulator derives a plausible quantity (50.5 to 199.5 kg) from the file
// itself, so the same certificate always yields the same amount.
type Simulator struct {
	Delay time.Duration
}

func (s Simulator) Extract(ctx context.Context, req extraction.Request) (extraction.Result, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return extraction.Result{}, ctx.Err()
		case <-t.C:
		}
	}
	h := fnv.New32a()
	h.Write([]byte(req.File.Name))
	h.Write(req.File.Data)
	amount := float64(50+h.Sum32()%150) + 0.5
	return extraction.Result{Amount: amount, TypeLabel: extraction.DefaultTypeLabel}, nil
}
