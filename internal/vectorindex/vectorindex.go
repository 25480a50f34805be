// Package vectorindex stores and searches embedding vectors grouped into
// named collections.
//
// Collections are created lazily on first write and their dimension is
// fixed by the first batch stored. Each collection is backed by its own
// pgvector table; a registry table maps collection names to dimensions.
package vectorindex

import (
	"context"
	"errors"
	"regexp"
)

var (
	// ErrDimensionMismatch indicates a vector whose dimension differs from
	// the collection's registered dimension. Not retryable.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidCollection indicates a collection name unfit for use as an
	// identifier.
	ErrInvalidCollection = errors.New("invalid collection name")
)

// Point is one stored vector with its payload. Writing a point with an
// existing ID replaces the stored vector and payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Match is one search result. Score is cosine similarity, higher is more
// similar.
type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// Index is the vector store used by ingestion and retrieval.
//
// Search against a collection that was never written returns no matches
// and no error; the caller decides whether to fall back elsewhere.
type Index interface {
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error)
}

// CollectionName returns the collection that stores vectors for the given
// tenant or agent id.
func CollectionName(id string) string {
	return "client_" + id
}

// Collection names become part of a table identifier, so the charset is
// restricted and the length capped below the Postgres identifier limit.
var collectionNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,59}$`)

func validateCollection(name string) error {
	if !collectionNameRe.MatchString(name) {
		return ErrInvalidCollection
	}
	return nil
}
