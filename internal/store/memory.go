package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// Memory is a brute-force in-memory VectorStore. Results rank by exact L2
// distance with insertion order breaking ties, so searches are fully
// deterministic.
//
// Memory is safe for concurrent use by multiple goroutines.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	rows      []knowledge.Chunk // insertion order preserved
}

// NewMemory creates an in-memory store for the given embedding dimension.
func NewMemory(dimension int) (*Memory, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be > 0, got %d", knowledge.ErrConfiguration, dimension)
	}
	return &Memory{dimension: dimension}, nil
}

// Dimension returns the embedding dimension this store accepts.
func (m *Memory) Dimension() int { return m.dimension }

// UpsertChunks replaces all chunks for docID under one lock acquisition.
func (m *Memory) UpsertChunks(ctx context.Context, docID string, chunks []knowledge.Chunk) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: upserting document %s: %v", knowledge.ErrStore, docID, err)
	}
	if docID == "" {
		return fmt.Errorf("%w: document ID is required", knowledge.ErrConfiguration)
	}
	for i, c := range chunks {
		if len(c.Embedding) != m.dimension {
			return fmt.Errorf("%w: chunk %d of document %s has embedding dimension %d, store expects %d",
				knowledge.ErrConfiguration, i, docID, len(c.Embedding), m.dimension)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows = deleteDoc(m.rows, docID)
	for _, c := range chunks {
		stored := c
		stored.DocID = docID
		stored.Metadata = knowledge.CloneMetadata(c.Metadata)
		stored.Embedding = append([]float32(nil), c.Embedding...)
		m.rows = append(m.rows, stored)
	}
	return nil
}

// DeleteDocument removes every chunk of docID. Missing documents are a no-op.
func (m *Memory) DeleteDocument(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: deleting document %s: %v", knowledge.ErrStore, docID, err)
	}
	if docID == "" {
		return fmt.Errorf("%w: document ID is required", knowledge.ErrConfiguration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = deleteDoc(m.rows, docID)
	return nil
}

// Search scans every stored chunk and returns the topK nearest by L2
// distance, ascending.
func (m *Memory) Search(ctx context.Context, vector []float32, topK int, filters map[string]string) (knowledge.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: searching chunks: %v", knowledge.ErrStore, err)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be > 0, got %d", knowledge.ErrConfiguration, topK)
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, store expects %d",
			knowledge.ErrConfiguration, len(vector), m.dimension)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result knowledge.RetrievalResult
	for _, c := range m.rows {
		if !matchesFilters(c.Metadata, filters) {
			continue
		}
		sc := knowledge.ScoredChunk{Chunk: c, Distance: l2Distance(vector, c.Embedding)}
		sc.Metadata = knowledge.CloneMetadata(c.Metadata)
		result = append(result, sc)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Distance < result[j].Distance
	})
	if len(result) > topK {
		result = result[:topK]
	}
	return result, nil
}

// ListDocuments aggregates per-document stats in insertion order of first
// appearance.
func (m *Memory) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", knowledge.ErrStore, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	index := make(map[string]int)
	var docs []DocumentInfo
	for _, c := range m.rows {
		i, seen := index[c.DocID]
		if !seen {
			d := DocumentInfo{DocID: c.DocID}
			if uri, ok := c.Metadata[knowledge.MetaSourceURI].(string); ok {
				d.SourceURI = uri
			}
			if at, err := knowledge.EpochSeconds(c.Metadata[knowledge.MetaIngestedAt]); err == nil {
				d.IngestedAt = at
			}
			index[c.DocID] = len(docs)
			docs = append(docs, d)
			i = len(docs) - 1
		}
		docs[i].Chunks++
	}
	return docs, nil
}

func deleteDoc(rows []knowledge.Chunk, docID string) []knowledge.Chunk {
	kept := rows[:0]
	for _, c := range rows {
		if c.DocID != docID {
			kept = append(kept, c)
		}
	}
	return kept
}

func matchesFilters(meta map[string]any, filters map[string]string) bool {
	for k, want := range filters {
		got, ok := meta[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
