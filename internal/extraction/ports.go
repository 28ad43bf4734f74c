package extraction

import (
	"context"

	"wastelog/internal/core"
)

// DefaultTypeLabel is the waste category most certificates carry.
const DefaultTypeLabel = "Aceite de Cocina Usado (ACU)"

type (
	Request struct {
		File       core.Attachment
		MonthIndex int
	}

	Result struct {
		Amount    float64
		TypeLabel string
	}

	// Extractor reads the disposed quantity out of a certificate. File
	// extension and size are validated by the caller. Implementations should
	// honour ctx cancellation; callers bound the wait regardless.
	Extractor interface {
		Extract(ctx context.Context, req Request) (Result, error)
	}

	// Func adapts a plain function to Extractor.
	Func func(ctx context.Context, req Request) (Result, error)
)

func (f Func) Extract(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
