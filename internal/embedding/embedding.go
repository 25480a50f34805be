// Package embedding converts text into vectors via an embedding provider.
package embedding

import (
	"context"
	"errors"
)

// ErrProvider indicates the embedding provider rejected or failed a
// request. Callers may retry; the failure mode is transient unless the
// wrapped message says otherwise.
var ErrProvider = errors.New("embedding provider request failed")

// Embedder turns a slice of texts into one vector per text, preserving
// order. An empty input yields an empty result without contacting the
// provider. Implementations never return partial results.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
