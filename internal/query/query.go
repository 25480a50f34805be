// Package query answers questions against a tenant's indexed documents:
// embed the question, retrieve the closest chunks, and let the chat model
// compose a grounded answer with the tenant's prompt and the session's
// recent history.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomibot/ragserver/internal/chatmemory"
	"github.com/tomibot/ragserver/internal/llm"
	"github.com/tomibot/ragserver/internal/log"
	"github.com/tomibot/ragserver/internal/vectorindex"
)

var (
	ErrMissingTenant = errors.New("tenant id is required")
	ErrMissingAgent  = errors.New("agent id is required")
	ErrMissingQuery  = errors.New("query text is required")
)

// Request is one question from a conversation channel.
type Request struct {
	TenantID  string
	AgentID   string
	ChannelID string
	Query     string
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.TenantID == "" {
		return ErrMissingTenant
	}
	if r.AgentID == "" {
		return ErrMissingAgent
	}
	if r.Query == "" {
		return ErrMissingQuery
	}
	return nil
}

// Response carries the answer plus which collection served it, for
// logging and debugging. Collection is empty when no collection had
// matches.
type Response struct {
	Answer     string
	Collection string
	Matches    int
}

// SessionID identifies a conversation: one tenant's agent talking on one
// channel.
func SessionID(tenantID, agentID, channelID string) string {
	return tenantID + ":" + agentID + ":" + channelID
}

// Embedder turns the query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher retrieves the closest stored chunks from a collection.
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]vectorindex.Match, error)
}

// PromptSource loads the tenant's custom prompt.
type PromptSource interface {
	GetPrompt(ctx context.Context, tenantID, agentID string) (string, bool, error)
}

// History reads and extends session conversation history. History is
// best effort: failures degrade the answer, they do not block it.
type History interface {
	Recent(ctx context.Context, sessionID string) ([]chatmemory.Turn, error)
	Append(ctx context.Context, sessionID string, turns ...chatmemory.Turn) error
}

// Config tunes retrieval. Zero values fall back to topK 5 and a prompt
// TTL of one minute.
type Config struct {
	TopK      int
	PromptTTL time.Duration
}

// Service executes query requests. Safe for concurrent use.
type Service struct {
	embedder  Embedder
	search    Searcher
	prompts   *promptCache
	history   History
	responder llm.Responder
	topK      int
	logger    log.Logger
}

// NewService wires the query pipeline. logger may be nil.
func NewService(embedder Embedder, search Searcher, prompts PromptSource, history History, responder llm.Responder, cfg Config, logger log.Logger) *Service {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.PromptTTL <= 0 {
		cfg.PromptTTL = time.Minute
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		embedder:  embedder,
		search:    search,
		prompts:   newPromptCache(prompts, cfg.PromptTTL),
		history:   history,
		responder: responder,
		topK:      cfg.TopK,
		logger:    logger,
	}
}

// Process answers one question. Retrieval first tries the tenant's
// collection and falls back to the agent's; when neither has matches the
// model is still asked, with empty context, so it can say it does not
// know.
func (s *Service) Process(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	sessionID := SessionID(req.TenantID, req.AgentID, req.ChannelID)

	history, err := s.history.Recent(ctx, sessionID)
	if err != nil {
		s.logger.Warn("loading history failed, continuing without it",
			"session_id", sessionID, "error", err)
		history = nil
	}

	vectors, err := s.embedder.Embed(ctx, []string{req.Query})
	if err != nil {
		return Response{}, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return Response{}, fmt.Errorf("embedding query: got %d vectors", len(vectors))
	}

	matches, collection, err := s.retrieve(ctx, req, vectors[0])
	if err != nil {
		return Response{}, err
	}

	prompt, _, err := s.prompts.get(ctx, req.TenantID, req.AgentID)
	if err != nil {
		return Response{}, fmt.Errorf("loading prompt: %w", err)
	}

	answer, err := s.responder.Respond(ctx, llm.Request{
		Query:        req.Query,
		SystemPrompt: prompt,
		History:      toLLMTurns(history),
		Context:      matches,
	})
	if err != nil {
		return Response{}, fmt.Errorf("generating answer: %w", err)
	}

	if err := s.history.Append(ctx, sessionID,
		chatmemory.Turn{Role: chatmemory.RoleUser, Content: req.Query},
		chatmemory.Turn{Role: chatmemory.RoleAssistant, Content: answer},
	); err != nil {
		s.logger.Warn("recording history failed", "session_id", sessionID, "error", err)
	}

	s.logger.Info("query answered",
		"session_id", sessionID, "collection", collection, "matches", len(matches))
	return Response{Answer: answer, Collection: collection, Matches: len(matches)}, nil
}

// retrieve searches the candidate collections in order and returns the
// first non-empty result set.
func (s *Service) retrieve(ctx context.Context, req Request, vector []float32) ([]vectorindex.Match, string, error) {
	candidates := []string{vectorindex.CollectionName(req.TenantID)}
	if agentCol := vectorindex.CollectionName(req.AgentID); agentCol != candidates[0] {
		candidates = append(candidates, agentCol)
	}

	for _, collection := range candidates {
		matches, err := s.search.Search(ctx, collection, vector, s.topK)
		if err != nil {
			return nil, "", fmt.Errorf("searching %q: %w", collection, err)
		}
		if len(matches) > 0 {
			return matches, collection, nil
		}
	}
	return nil, "", nil
}

func toLLMTurns(turns []chatmemory.Turn) []llm.Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]llm.Turn, len(turns))
	for i, t := range turns {
		out[i] = llm.Turn{Role: t.Role, Content: t.Content}
	}
	return out
}
