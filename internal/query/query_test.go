package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomibot/ragserver/internal/chatmemory"
	"github.com/tomibot/ragserver/internal/llm"
	"github.com/tomibot/ragserver/internal/vectorindex"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 2}
	}
	return out, nil
}

type fakeSearcher struct {
	results  map[string][]vectorindex.Match
	searched []string
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, collection string, _ []float32, _ int) ([]vectorindex.Match, error) {
	f.searched = append(f.searched, collection)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[collection], nil
}

type fakePrompts struct {
	mu     sync.Mutex
	prompt string
	ok     bool
	err    error
	calls  int
}

func (f *fakePrompts) GetPrompt(_ context.Context, _, _ string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.prompt, f.ok, f.err
}

type fakeMemory struct {
	turns     map[string][]chatmemory.Turn
	recentErr error
	appendErr error
	sessions  []string
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{turns: map[string][]chatmemory.Turn{}}
}

func (f *fakeMemory) Recent(_ context.Context, sessionID string) ([]chatmemory.Turn, error) {
	f.sessions = append(f.sessions, sessionID)
	if f.recentErr != nil {
		return nil, f.recentErr
	}
	return f.turns[sessionID], nil
}

func (f *fakeMemory) Append(_ context.Context, sessionID string, turns ...chatmemory.Turn) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.turns[sessionID] = append(f.turns[sessionID], turns...)
	return nil
}

type fakeResponder struct {
	captured llm.Request
	answer   string
	err      error
}

func (f *fakeResponder) Respond(_ context.Context, req llm.Request) (string, error) {
	f.captured = req
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func matchesFor(text string) []vectorindex.Match {
	return []vectorindex.Match{{ID: "m1", Score: 0.9, Payload: map[string]any{"text_preview": text}}}
}

type testDeps struct {
	embedder  *fakeEmbedder
	search    *fakeSearcher
	prompts   *fakePrompts
	memory    *fakeMemory
	responder *fakeResponder
}

func newTestService(d *testDeps, cfg Config) *Service {
	if d.embedder == nil {
		d.embedder = &fakeEmbedder{}
	}
	if d.search == nil {
		d.search = &fakeSearcher{results: map[string][]vectorindex.Match{
			"client_acme": matchesFor("the fee is $25"),
		}}
	}
	if d.prompts == nil {
		d.prompts = &fakePrompts{}
	}
	if d.memory == nil {
		d.memory = newFakeMemory()
	}
	if d.responder == nil {
		d.responder = &fakeResponder{answer: "The fee is $25."}
	}
	return NewService(d.embedder, d.search, d.prompts, d.memory, d.responder, cfg, nil)
}

func request() Request {
	return Request{TenantID: "acme", AgentID: "support", ChannelID: "web", Query: "What is the wire fee?"}
}

func TestProcessFirstQuery(t *testing.T) {
	d := &testDeps{}
	s := newTestService(d, Config{})

	resp, err := s.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if resp.Answer != "The fee is $25." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Collection != "client_acme" || resp.Matches != 1 {
		t.Errorf("response = %+v", resp)
	}

	req := d.responder.captured
	if req.SystemPrompt != "" {
		t.Errorf("system prompt = %q, want empty without stored prompt", req.SystemPrompt)
	}
	if len(req.History) != 0 {
		t.Errorf("history = %v, want empty for first query", req.History)
	}
	if len(req.Context) != 1 || req.Context[0].Payload["text_preview"] != "the fee is $25" {
		t.Errorf("context = %+v", req.Context)
	}

	session := SessionID("acme", "support", "web")
	turns := d.memory.turns[session]
	if len(turns) != 2 {
		t.Fatalf("stored %d turns, want user and assistant", len(turns))
	}
	if turns[0].Role != chatmemory.RoleUser || turns[0].Content != "What is the wire fee?" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != chatmemory.RoleAssistant || turns[1].Content != "The fee is $25." {
		t.Errorf("turn 1 = %+v", turns[1])
	}
}

func TestProcessUsesStoredPrompt(t *testing.T) {
	d := &testDeps{prompts: &fakePrompts{prompt: "Answer as billing.", ok: true}}
	s := newTestService(d, Config{})

	if _, err := s.Process(context.Background(), request()); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if d.responder.captured.SystemPrompt != "Answer as billing." {
		t.Errorf("system prompt = %q", d.responder.captured.SystemPrompt)
	}
}

func TestProcessFallsBackToAgentCollection(t *testing.T) {
	d := &testDeps{search: &fakeSearcher{results: map[string][]vectorindex.Match{
		"client_support": matchesFor("from agent collection"),
	}}}
	s := newTestService(d, Config{})

	resp, err := s.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(d.search.searched) != 2 || d.search.searched[0] != "client_acme" || d.search.searched[1] != "client_support" {
		t.Errorf("searched = %v", d.search.searched)
	}
	if resp.Collection != "client_support" {
		t.Errorf("collection = %q", resp.Collection)
	}
}

func TestProcessStopsAtFirstCollectionWithMatches(t *testing.T) {
	d := &testDeps{}
	s := newTestService(d, Config{})

	if _, err := s.Process(context.Background(), request()); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(d.search.searched) != 1 {
		t.Errorf("searched = %v, want primary only", d.search.searched)
	}
}

func TestProcessNoMatchesAnywhere(t *testing.T) {
	d := &testDeps{search: &fakeSearcher{results: map[string][]vectorindex.Match{}}}
	s := newTestService(d, Config{})

	resp, err := s.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if resp.Collection != "" || resp.Matches != 0 {
		t.Errorf("response = %+v", resp)
	}
	if len(d.responder.captured.Context) != 0 {
		t.Errorf("context = %v, want empty", d.responder.captured.Context)
	}
}

func TestProcessIncludesPriorHistory(t *testing.T) {
	d := &testDeps{memory: newFakeMemory()}
	session := SessionID("acme", "support", "web")
	d.memory.turns[session] = []chatmemory.Turn{
		{Role: chatmemory.RoleUser, Content: "earlier question"},
		{Role: chatmemory.RoleAssistant, Content: "earlier answer"},
	}
	s := newTestService(d, Config{})

	if _, err := s.Process(context.Background(), request()); err != nil {
		t.Fatalf("Process() error: %v", err)
	}

	history := d.responder.captured.History
	if len(history) != 2 {
		t.Fatalf("history = %v, want the two prior turns", history)
	}
	if history[0].Content != "earlier question" || history[1].Content != "earlier answer" {
		t.Errorf("history = %v", history)
	}
	if len(d.memory.turns[session]) != 4 {
		t.Errorf("stored turns = %d, want 4 after answering", len(d.memory.turns[session]))
	}
}

func TestProcessCachesPromptLookups(t *testing.T) {
	d := &testDeps{prompts: &fakePrompts{prompt: "p", ok: true}}
	s := newTestService(d, Config{PromptTTL: time.Minute})

	for i := 0; i < 3; i++ {
		if _, err := s.Process(context.Background(), request()); err != nil {
			t.Fatalf("Process() error: %v", err)
		}
	}
	if d.prompts.calls != 1 {
		t.Errorf("prompt store hit %d times, want 1 within TTL", d.prompts.calls)
	}
}

func TestProcessDegradesWhenHistoryFails(t *testing.T) {
	mem := newFakeMemory()
	mem.recentErr = errors.New("memory unavailable")
	d := &testDeps{memory: mem}
	s := newTestService(d, Config{})

	resp, err := s.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if resp.Answer == "" {
		t.Error("no answer despite degradable history failure")
	}
}

func TestProcessDegradesWhenAppendFails(t *testing.T) {
	mem := newFakeMemory()
	mem.appendErr = errors.New("memory unavailable")
	d := &testDeps{memory: mem}
	s := newTestService(d, Config{})

	if _, err := s.Process(context.Background(), request()); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
}

func TestProcessPromptStoreFailureIsFatal(t *testing.T) {
	storeErr := errors.New("db down")
	d := &testDeps{prompts: &fakePrompts{err: storeErr}}
	s := newTestService(d, Config{})

	resp, err := s.Process(context.Background(), request())
	if !errors.Is(err, storeErr) {
		t.Fatalf("Process() error = %v, want wrapped prompt store failure", err)
	}
	if resp.Answer != "" {
		t.Errorf("answer = %q, want none when the prompt cannot be loaded", resp.Answer)
	}
	if d.responder.captured.Query != "" {
		t.Error("responder called despite prompt store failure")
	}
}

func TestProcessEmbedFailureIsFatal(t *testing.T) {
	embedErr := errors.New("provider down")
	d := &testDeps{embedder: &fakeEmbedder{err: embedErr}}
	s := newTestService(d, Config{})

	_, err := s.Process(context.Background(), request())
	if !errors.Is(err, embedErr) {
		t.Fatalf("Process() error = %v, want wrapped embed failure", err)
	}
}

func TestProcessSearchFailureIsFatal(t *testing.T) {
	searchErr := errors.New("index down")
	d := &testDeps{search: &fakeSearcher{err: searchErr}}
	s := newTestService(d, Config{})

	_, err := s.Process(context.Background(), request())
	if !errors.Is(err, searchErr) {
		t.Fatalf("Process() error = %v, want wrapped search failure", err)
	}
}

func TestProcessResponderFailureIsFatal(t *testing.T) {
	d := &testDeps{responder: &fakeResponder{err: llm.ErrInvocation}}
	s := newTestService(d, Config{})

	_, err := s.Process(context.Background(), request())
	if !errors.Is(err, llm.ErrInvocation) {
		t.Fatalf("Process() error = %v, want ErrInvocation", err)
	}
}

func TestProcessValidation(t *testing.T) {
	s := newTestService(&testDeps{}, Config{})
	ctx := context.Background()

	if _, err := s.Process(ctx, Request{AgentID: "a", Query: "q"}); !errors.Is(err, ErrMissingTenant) {
		t.Errorf("error = %v, want ErrMissingTenant", err)
	}
	if _, err := s.Process(ctx, Request{TenantID: "t", Query: "q"}); !errors.Is(err, ErrMissingAgent) {
		t.Errorf("error = %v, want ErrMissingAgent", err)
	}
	if _, err := s.Process(ctx, Request{TenantID: "t", AgentID: "a"}); !errors.Is(err, ErrMissingQuery) {
		t.Errorf("error = %v, want ErrMissingQuery", err)
	}
}
