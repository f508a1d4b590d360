// Package storage defines the durable blob collaborator the memory store
// persists its snapshots through, plus an in-process implementation. Durable
// backends live in the s3 and postgres subpackages.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no document exists for the given key.
// Callers recover from it locally by initializing a default document.
var ErrNotFound = errors.New("storage: document not found")

// Blob is the minimal durable storage contract: whole documents in, whole
// documents out. Implementations must return ErrNotFound (possibly wrapped)
// from Get when the key does not exist.
type Blob interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}
