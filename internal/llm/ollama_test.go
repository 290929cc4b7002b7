package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quarrydev/quarry/internal/knowledge"
)

func newTestOllama(t *testing.T, handler http.Handler) (*Ollama, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewOllama(OllamaConfig{
		Host:          srv.URL,
		EmbedModel:    "test-embed",
		GenerateModel: "test-gen",
		Dimension:     3,
		Timeout:       2 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	return o, srv
}

func TestNewOllamaValidation(t *testing.T) {
	if _, err := NewOllama(OllamaConfig{Dimension: 3}); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("missing host: want ErrConfiguration, got %v", err)
	}
	if _, err := NewOllama(OllamaConfig{Host: "http://localhost:11434"}); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("missing dimension: want ErrConfiguration, got %v", err)
	}
}

func TestOllamaEmbedBatchOrder(t *testing.T) {
	o, _ := newTestOllama(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		// Echo position-encoded vectors so order is verifiable.
		out := struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 0, 0})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))

	vecs, err := o.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
}

func TestOllamaEmbedDimensionMismatch(t *testing.T) {
	o, _ := newTestOllama(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{1, 2}}, // configured dimension is 3
		})
	}))

	_, err := o.Embed(context.Background(), "hello")
	if !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("want ErrConfiguration, got %v", err)
	}
}

func TestOllamaEmbedEmptyString(t *testing.T) {
	o, _ := newTestOllama(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": [][]float32{{0.1, 0.2, 0.3}},
		})
	}))

	vec, err := o.Embed(context.Background(), "")
	if err != nil {
		t.Fatalf("embedding empty string must succeed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("got dimension %d, want 3", len(vec))
	}
}

func TestOllamaGenerate(t *testing.T) {
	o, _ := newTestOllama(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "the answer"},
		})
	}))

	got, err := o.Generate(context.Background(), "question")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "the answer" {
		t.Errorf("Generate = %q", got)
	}
}

func TestOllamaServerErrorRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	o, _ := newTestOllama(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := o.Embed(context.Background(), "x")
	if !errors.Is(err, knowledge.ErrModelUnavailable) {
		t.Fatalf("want ErrModelUnavailable, got %v", err)
	}
	if got := calls.Load(); got != ollamaMaxRetries+1 {
		t.Errorf("server called %d times, want %d", got, ollamaMaxRetries+1)
	}
}

func TestOllamaClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	o, _ := newTestOllama(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := o.Generate(context.Background(), "x")
	if !errors.Is(err, knowledge.ErrModelUnavailable) {
		t.Fatalf("want ErrModelUnavailable, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server called %d times, want 1 (no retry on 4xx)", got)
	}
}

func TestOllamaUnreachable(t *testing.T) {
	o, err := NewOllama(OllamaConfig{
		Host:      "http://127.0.0.1:1", // nothing listens here
		Dimension: 3,
		Timeout:   200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}

	if _, err := o.Embed(context.Background(), "x"); !errors.Is(err, knowledge.ErrModelUnavailable) {
		t.Errorf("want ErrModelUnavailable, got %v", err)
	}
}
