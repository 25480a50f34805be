package embedding

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/tomibot/ragserver/internal/log"
)

const requestTimeout = 30 * time.Second

// OpenAIConfig configures the OpenAI-backed embedder. BaseURL overrides
// the API endpoint, mainly for tests and proxies.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// BatchSize caps how many texts go into a single API request.
	// Larger inputs are split into sequential requests.
	BatchSize int
	// RequestsPerSecond throttles API calls; zero disables throttling.
	RequestsPerSecond float64
}

// OpenAI implements Embedder on top of the OpenAI embeddings API.
// Safe for concurrent use.
type OpenAI struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	batch   int
	limiter *rate.Limiter
	logger  log.Logger
}

// NewOpenAI creates an embedder for the given model. logger may be nil.
func NewOpenAI(cfg OpenAIConfig, logger log.Logger) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   openai.EmbeddingModel(cfg.Model),
		batch:   cfg.BatchSize,
		limiter: limiter,
		logger:  logger,
	}
}

// Embed returns one vector per input text, in input order. Inputs beyond
// the batch size are embedded across multiple sequential requests; any
// request failure aborts the whole call.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += o.batch {
		end := start + o.batch
		if end > len(texts) {
			end = len(texts)
		}
		if err := o.embedBatch(ctx, texts[start:end], out[start:end]); err != nil {
			return nil, fmt.Errorf("texts %d..%d: %w", start, end-1, err)
		}
	}
	return out, nil
}

func (o *OpenAI) embedBatch(ctx context.Context, texts []string, out [][]float32) error {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := o.client.CreateEmbeddings(reqCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: o.model,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
	if len(resp.Data) != len(texts) {
		return fmt.Errorf("%w: got %d embeddings for %d texts", ErrProvider, len(resp.Data), len(texts))
	}

	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return fmt.Errorf("%w: embedding index %d out of range", ErrProvider, item.Index)
		}
		out[item.Index] = item.Embedding
	}
	for i, vec := range out {
		if vec == nil {
			return fmt.Errorf("%w: missing embedding for text %d", ErrProvider, i)
		}
	}

	o.logger.Debug("embedded batch", "texts", len(texts))
	return nil
}
