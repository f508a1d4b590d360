// Package embedding converts text into fixed-length numeric vectors via the
// completion service. Vector length is backend-defined; callers must not
// assume it is stable across models or time.
package embedding

import (
	"context"
	"fmt"
)

// Embedder converts a single text into an embedding vector.
// Implementations must be idempotent per call and perform no local caching.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Error wraps any backend failure (network, quota) surfaced while embedding.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
