package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomibot/ragserver/internal/chunker"
	"github.com/tomibot/ragserver/internal/log"
	"github.com/tomibot/ragserver/internal/promptstore"
	"github.com/tomibot/ragserver/internal/vectorindex"
)

// Config tunes the pipeline. Zero values fall back to batch 128, preview
// 800 and three attempts per batch write.
type Config struct {
	BatchSize       int
	PreviewChars    int
	IncludeFullText bool
	RetryAttempts   int
	RetryBase       time.Duration
}

// Pipeline executes ingestion requests. Safe for concurrent use.
type Pipeline struct {
	blobs    BlobFetcher
	chunks   Chunker
	embedder Embedder
	index    Upserter
	store    Recorder
	cfg      Config
	logger   log.Logger
}

// NewPipeline wires the pipeline dependencies. logger may be nil.
func NewPipeline(blobs BlobFetcher, chunks Chunker, embedder Embedder, index Upserter, store Recorder, cfg Config, logger log.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = 800
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		blobs:    blobs,
		chunks:   chunks,
		embedder: embedder,
		index:    index,
		store:    store,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes both legs of a request. The document leg and the prompt
// leg are independent: one failing does not stop the other, and the
// returned Result reports what each leg accomplished. A failed document
// leg leaves a dead-letter record for replay.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	var (
		res       Result
		docErr    error
		promptErr error
		wg        sync.WaitGroup
	)

	if req.ObjectKey != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.IndexedChunks, docErr = p.ingestDocument(ctx, req)
		}()
	}

	if prompt := strings.TrimSpace(req.Prompt); req.UpdatePrompt && prompt != "" {
		if err := p.store.SavePrompt(ctx, req.TenantID, req.AgentID, prompt); err != nil {
			promptErr = fmt.Errorf("updating prompt: %w", err)
		} else {
			res.PromptUpdated = true
		}
	}

	wg.Wait()

	if docErr != nil {
		p.deadLetter(ctx, req, docErr)
	}
	return res, errors.Join(docErr, promptErr)
}

func (p *Pipeline) ingestDocument(ctx context.Context, req Request) (int, error) {
	data, err := p.blobs.Get(ctx, req.ObjectKey)
	if err != nil {
		return 0, failAt("fetch", err)
	}

	base := map[string]string{
		"client_id": req.TenantID,
		"agent_id":  req.AgentID,
		"source":    req.ObjectKey,
		"doc_id":    uuid.NewString(),
		"file_name": req.FileName,
	}
	seq, err := p.chunks.Split(data, req.FileName, base)
	if err != nil {
		return 0, failAt("chunk", err)
	}

	collection := req.Collection()
	total := 0
	batch := make([]chunker.Chunk, 0, p.cfg.BatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.indexBatch(ctx, collection, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for chunk := range seq {
		if strings.TrimSpace(chunk.Content) == "" {
			continue
		}
		batch = append(batch, chunk)
		if len(batch) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	if err := p.store.SaveDocumentRecord(ctx, promptstore.DocumentRecord{
		TenantID:  req.TenantID,
		AgentID:   req.AgentID,
		FileName:  req.FileName,
		ObjectKey: req.ObjectKey,
	}); err != nil {
		return total, failAt("record", err)
	}

	p.logger.Info("document indexed",
		"client_id", req.TenantID, "agent_id", req.AgentID,
		"file_name", req.FileName, "chunks", total)
	return total, nil
}

func (p *Pipeline) indexBatch(ctx context.Context, collection string, batch []chunker.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	var vectors [][]float32
	err := withRetry(ctx, p.logger, "embed", p.cfg.RetryAttempts, p.cfg.RetryBase, func() error {
		var embedErr error
		vectors, embedErr = p.embedder.Embed(ctx, texts)
		return embedErr
	})
	if err != nil {
		return failAt("embed", err)
	}
	if len(vectors) != len(batch) {
		return failAt("embed", fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(batch)))
	}

	points := make([]vectorindex.Point, len(batch))
	for i, c := range batch {
		points[i] = vectorindex.Point{ID: c.ID, Vector: vectors[i], Payload: p.payload(c)}
	}

	err = withRetry(ctx, p.logger, "upsert", p.cfg.RetryAttempts, p.cfg.RetryBase, func() error {
		return p.index.Upsert(ctx, collection, points)
	})
	if err != nil {
		return failAt("index", err)
	}
	return nil
}

// payload builds the stored point payload: chunk metadata plus a bounded
// preview of the text, and the full text when configured.
func (p *Pipeline) payload(c chunker.Chunk) map[string]any {
	payload := make(map[string]any, len(c.Metadata)+3)
	for k, v := range c.Metadata {
		payload[k] = v
	}
	preview, hasMore := previewOf(c.Content, p.cfg.PreviewChars)
	payload["text_preview"] = preview
	payload["has_more"] = hasMore
	if p.cfg.IncludeFullText {
		payload["text"] = c.Content
	}
	return payload
}

func previewOf(text string, limit int) (string, bool) {
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]), true
}

// deadLetter records a failed document leg. The write survives request
// cancellation so the failure is not lost with the request.
func (p *Pipeline) deadLetter(ctx context.Context, req Request, cause error) {
	err := p.store.SaveIngestionFailure(context.WithoutCancel(ctx), promptstore.Failure{
		TenantID:  req.TenantID,
		AgentID:   req.AgentID,
		ObjectKey: req.ObjectKey,
		Stage:     stageOf(cause),
		Err:       cause.Error(),
	})
	if err != nil {
		p.logger.Error("recording ingestion failure",
			"client_id", req.TenantID, "agent_id", req.AgentID, "error", err)
	}
}
