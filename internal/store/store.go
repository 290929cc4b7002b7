// Package store persists embedded chunks and answers nearest-neighbor
// queries over them.
//
// Two implementations share the VectorStore contract: Postgres (pgvector,
// the production path) and Memory (brute force, for tests and
// credential-free local runs). Both enforce the configured embedding
// dimension on every write and every query vector.
package store

import (
	"context"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// VectorStore is the persistence contract for embedded chunks.
type VectorStore interface {
	// UpsertChunks replaces all chunks for docID with the given set in one
	// atomic step. Readers never observe a document half-replaced.
	UpsertChunks(ctx context.Context, docID string, chunks []knowledge.Chunk) error

	// DeleteDocument removes every chunk of docID. Deleting a document that
	// does not exist is a no-op.
	DeleteDocument(ctx context.Context, docID string) error

	// Search returns up to topK chunks nearest to vector by L2 distance,
	// ordered ascending with a stable tie-break. filters restricts results
	// to chunks whose metadata contains every given key/value pair.
	// topK <= 0 is a configuration error.
	Search(ctx context.Context, vector []float32, topK int, filters map[string]string) (knowledge.RetrievalResult, error)

	// Dimension is the embedding dimension this store accepts.
	Dimension() int
}

// DocumentInfo summarizes one stored document for listings.
type DocumentInfo struct {
	DocID      string
	Chunks     int
	SourceURI  string
	IngestedAt int64
}

// DocumentLister is implemented by stores that can enumerate their
// documents. Both Postgres and Memory implement it.
type DocumentLister interface {
	ListDocuments(ctx context.Context) ([]DocumentInfo, error)
}
