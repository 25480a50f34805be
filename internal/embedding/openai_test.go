package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
)

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embeddingsResponse struct {
	Object string          `json:"object"`
	Data   []embeddingItem `json:"data"`
	Model  string          `json:"model"`
}

// fakeOpenAI serves /v1/embeddings and answers each input "t<N>" with the
// vector [N]. When reverse is set, items are listed out of order but keep
// correct indices.
func fakeOpenAI(t *testing.T, calls *atomic.Int32, reverse bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		items := make([]embeddingItem, len(req.Input))
		for i, text := range req.Input {
			n, err := strconv.Atoi(strings.TrimPrefix(text, "t"))
			if err != nil {
				t.Errorf("unexpected input %q", text)
			}
			items[i] = embeddingItem{Object: "embedding", Index: i, Embedding: []float32{float32(n)}}
		}
		if reverse {
			for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
				items[i], items[j] = items[j], items[i]
			}
		}
		json.NewEncoder(w).Encode(embeddingsResponse{Object: "list", Data: items, Model: req.Model})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestEmbedder(srv *httptest.Server, batch int) *OpenAI {
	return NewOpenAI(OpenAIConfig{
		APIKey:    "test-key",
		BaseURL:   srv.URL + "/v1",
		Model:     "text-embedding-3-large",
		BatchSize: batch,
	}, nil)
}

func texts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = "t" + strconv.Itoa(i)
	}
	return out
}

func TestEmbedEmptyInputSkipsProvider(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOpenAI(t, &calls, false)
	e := newTestEmbedder(srv, 128)

	got, err := e.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d vectors, want 0", len(got))
	}
	if calls.Load() != 0 {
		t.Fatalf("provider called %d times for empty input", calls.Load())
	}
}

func TestEmbedSingleBatch(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOpenAI(t, &calls, false)
	e := newTestEmbedder(srv, 128)

	got, err := e.Embed(context.Background(), texts(3))
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("provider called %d times, want 1", calls.Load())
	}
	for i, vec := range got {
		if len(vec) != 1 || vec[0] != float32(i) {
			t.Errorf("vector %d = %v", i, vec)
		}
	}
}

func TestEmbedSplitsIntoBatches(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOpenAI(t, &calls, false)
	e := newTestEmbedder(srv, 2)

	got, err := e.Embed(context.Background(), texts(5))
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("provider called %d times, want 3", calls.Load())
	}
	if len(got) != 5 {
		t.Fatalf("got %d vectors, want 5", len(got))
	}
	for i, vec := range got {
		if vec[0] != float32(i) {
			t.Errorf("vector %d = %v, want [%d]", i, vec, i)
		}
	}
}

func TestEmbedReordersByIndex(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOpenAI(t, &calls, true)
	e := newTestEmbedder(srv, 128)

	got, err := e.Embed(context.Background(), texts(4))
	if err != nil {
		t.Fatalf("Embed() error: %v", err)
	}
	for i, vec := range got {
		if vec[0] != float32(i) {
			t.Errorf("vector %d = %v, want [%d]", i, vec, i)
		}
	}
}

func TestEmbedProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	e := newTestEmbedder(srv, 128)

	_, err := e.Embed(context.Background(), texts(2))
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("Embed() error = %v, want ErrProvider", err)
	}
}
