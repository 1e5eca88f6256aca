// Package embedding defines the embedding capability consumed by the ingest
// path and ships a Voyage AI client implementing it.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Embedder turns text into a fixed-length vector. Implementations report
// transient failures through TransientError so callers can retry with the
// standard backoff policy.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ErrDimensionMismatch is returned when a provider yields a vector of an
// unexpected length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// TransientError marks a failure worth retrying (rate limits, 5xx, network).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient embedding error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
