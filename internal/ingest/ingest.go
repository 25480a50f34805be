// Package ingest runs the document ingestion pipeline: fetch the stored
// upload, chunk it, embed the chunks and index the vectors, plus the
// independent prompt update that may ride along with the same request.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/tomibot/ragserver/internal/chunker"
	"github.com/tomibot/ragserver/internal/promptstore"
	"github.com/tomibot/ragserver/internal/vectorindex"
)

var (
	ErrMissingTenant = errors.New("tenant id is required")
	ErrMissingAgent  = errors.New("agent id is required")
	ErrNothingToDo   = errors.New("request carries neither a document nor a prompt")
)

// Request is one accepted ingestion job. ObjectKey is empty for
// prompt-only requests; UpdatePrompt is false for document-only requests.
type Request struct {
	TenantID     string
	AgentID      string
	ObjectKey    string
	FileName     string
	Prompt       string
	UpdatePrompt bool
}

// Validate checks the request shape before it is queued. A prompt that is
// blank after trimming counts as absent.
func (r Request) Validate() error {
	if r.TenantID == "" {
		return ErrMissingTenant
	}
	if r.AgentID == "" {
		return ErrMissingAgent
	}
	if r.ObjectKey == "" && (!r.UpdatePrompt || strings.TrimSpace(r.Prompt) == "") {
		return ErrNothingToDo
	}
	return nil
}

// Collection returns the vector collection this request writes to.
func (r Request) Collection() string {
	return vectorindex.CollectionName(r.TenantID)
}

// Result reports what one request accomplished. With both legs present a
// request can partially succeed; the accompanying error covers the failed
// leg.
type Result struct {
	IndexedChunks int
	PromptUpdated bool
}

// BlobFetcher loads stored upload bytes by object key.
type BlobFetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Chunker splits document bytes into embedding-ready chunks.
type Chunker interface {
	Split(data []byte, fileName string, base map[string]string) (iter.Seq[chunker.Chunk], error)
}

// Embedder turns chunk texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter writes points into a vector collection.
type Upserter interface {
	Upsert(ctx context.Context, collection string, points []vectorindex.Point) error
}

// Recorder persists prompts and ingestion bookkeeping.
type Recorder interface {
	SavePrompt(ctx context.Context, tenantID, agentID, prompt string) error
	SaveDocumentRecord(ctx context.Context, rec promptstore.DocumentRecord) error
	SaveIngestionFailure(ctx context.Context, f promptstore.Failure) error
}

// legError tags a pipeline failure with the stage that produced it, so the
// dead-letter row names where ingestion stopped.
type legError struct {
	stage string
	err   error
}

func (e *legError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *legError) Unwrap() error { return e.err }

func failAt(stage string, err error) error {
	return &legError{stage: stage, err: err}
}

func stageOf(err error) string {
	var le *legError
	if errors.As(err, &le) {
		return le.stage
	}
	return "unknown"
}
