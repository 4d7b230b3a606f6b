// Package embed provides embedding generation behind an opaque boundary:
// text in, fixed-dimension vectors out.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for embedding providers.
var (
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	ErrEmptyText           = errors.New("cannot embed empty text")
	ErrContextCanceled     = errors.New("embedding operation canceled")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
)

// Provider defines the interface for embedding backends.
type Provider interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple texts,
	// returned in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding model name.
	Model() string

	// Dimensions returns the dimensionality of the vectors.
	Dimensions() int
}

// ProviderError wraps errors with provider context.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
