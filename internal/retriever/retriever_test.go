package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/store"
)

// fakeEmbedder maps known texts to fixed 2D vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("%w: no fixture for %q", knowledge.ErrModelUnavailable, text)
	}
	return v, nil
}

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	m, err := store.NewMemory(2)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	ctx := context.Background()
	docs := map[string][]knowledge.Chunk{
		"install-guide": {
			{DocID: "install-guide", ChunkID: 0, Content: "run the installer",
				Metadata:  map[string]any{"doc_id": "install-guide", "source_uri": "file:///install.md"},
				Embedding: []float32{1, 0}},
		},
		"faq": {
			{DocID: "faq", ChunkID: 0, Content: "frequently asked",
				Metadata:  map[string]any{"doc_id": "faq", "source_uri": "file:///faq.md"},
				Embedding: []float32{0, 1}},
		},
	}
	for id, chunks := range docs {
		if err := m.UpsertChunks(ctx, id, chunks); err != nil {
			t.Fatalf("seeding %s: %v", id, err)
		}
	}
	return m
}

func TestRetrieveRanksNearest(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"how do I install": {1, 0.1}}}
	r, err := New(emb, seedStore(t), 0, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "how do I install")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d chunks, want 2", len(got))
	}
	if got[0].DocID != "install-guide" {
		t.Errorf("nearest chunk is %s, want install-guide", got[0].DocID)
	}
	if got[0].Distance > got[1].Distance {
		t.Error("result not ordered by ascending distance")
	}
}

func TestRetrieveWithTopK(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	r, err := New(emb, seedStore(t), 5, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "q", WithTopK(1))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d chunks, want 1", len(got))
	}
}

func TestRetrieveTopKZeroIsConfigurationError(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	r, err := New(emb, seedStore(t), 5, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := r.Retrieve(context.Background(), "q", WithTopK(0)); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("want ErrConfiguration, got %v", err)
	}
}

func TestRetrieveWithDocumentFilter(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{"q": {1, 0}}}
	r, err := New(emb, seedStore(t), 5, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "q", WithDocument("faq"))
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].DocID != "faq" {
		t.Errorf("document filter returned %+v, want only faq", got)
	}
}

func TestRetrievePropagatesEmbedderError(t *testing.T) {
	emb := &fakeEmbedder{err: fmt.Errorf("%w: backend down", knowledge.ErrModelUnavailable)}
	r, err := New(emb, seedStore(t), 5, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = r.Retrieve(context.Background(), "q")
	if !errors.Is(err, knowledge.ErrModelUnavailable) {
		t.Errorf("want ErrModelUnavailable to survive wrapping, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	emb := &fakeEmbedder{}
	st := seedStore(t)
	if _, err := New(nil, st, 5, nil); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("nil embedder: want ErrConfiguration, got %v", err)
	}
	if _, err := New(emb, nil, 5, nil); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("nil store: want ErrConfiguration, got %v", err)
	}
}
