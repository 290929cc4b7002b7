// Package ingest orchestrates the write path: validate metadata, chunk,
// embed, and atomically replace the document's chunks in the store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// Chunker splits canonical text into chunks.
type Chunker interface {
	Chunk(text string, meta map[string]any, chunkSize, overlap int) ([]knowledge.Chunk, error)
}

// Embedder embeds chunk contents in batch.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter is the store capability the ingestor needs.
type Upserter interface {
	UpsertChunks(ctx context.Context, docID string, chunks []knowledge.Chunk) error
}

// Ingestor runs the ingestion pipeline.
//
// Ingestor is safe for concurrent use, though ingesting the same document
// concurrently makes the last writer win.
type Ingestor struct {
	chunker   Chunker
	embedder  Embedder
	store     Upserter
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// New creates an Ingestor. Chunk budget violations surface on the first
// IngestText call rather than here, keeping construction infallible for
// valid dependencies.
func New(ch Chunker, emb Embedder, st Upserter, chunkSize, overlap int, logger *slog.Logger) (*Ingestor, error) {
	if ch == nil || emb == nil || st == nil {
		return nil, fmt.Errorf("%w: ingestor requires a chunker, embedder, and store", knowledge.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		chunker:   ch,
		embedder:  emb,
		store:     st,
		chunkSize: chunkSize,
		overlap:   overlap,
		logger:    logger,
	}, nil
}

// IngestText ingests canonical text under docID, generating an ID when
// none is given, and returns the docID. Required metadata is validated
// before any store write; ingested_at is filled when absent.
//
// Re-ingesting an existing docID replaces its chunks atomically.
func (in *Ingestor) IngestText(ctx context.Context, docID, title, text string, meta map[string]any) (string, error) {
	if docID == "" {
		docID = uuid.NewString()
	}

	meta = knowledge.CloneMetadata(meta)
	if meta == nil {
		meta = make(map[string]any)
	}
	if _, ok := meta[knowledge.MetaIngestedAt]; !ok {
		meta[knowledge.MetaIngestedAt] = time.Now().Unix()
	}
	if err := knowledge.ValidateMetadata(meta); err != nil {
		return "", err
	}
	meta[knowledge.MetaDocID] = docID
	if title != "" {
		meta["title"] = title
	}

	chunks, err := in.chunker.Chunk(text, meta, in.chunkSize, in.overlap)
	if err != nil {
		return "", fmt.Errorf("chunking document %s: %w", docID, err)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}

		vecs, err := in.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return "", fmt.Errorf("embedding document %s: %w", docID, err)
		}
		if len(vecs) != len(chunks) {
			return "", fmt.Errorf("%w: got %d embeddings for %d chunks of document %s",
				knowledge.ErrModelUnavailable, len(vecs), len(chunks), docID)
		}

		for i := range chunks {
			chunks[i].DocID = docID
			chunks[i].Embedding = vecs[i]
		}
	}

	// An empty chunk set still runs the upsert so re-ingesting a document
	// as empty clears its old chunks.
	if err := in.store.UpsertChunks(ctx, docID, chunks); err != nil {
		return "", err
	}

	in.logger.Info("ingested document", "doc_id", docID, "chunks", len(chunks))
	return docID, nil
}

// IngestFile ingests a canonical text or markdown file. The docID derives
// from the absolute path, so re-ingesting the same file replaces its
// previous chunks.
func (in *Ingestor) IngestFile(ctx context.Context, path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", knowledge.ErrConfiguration, path, err)
	}

	meta := map[string]any{
		knowledge.MetaSourceURI:  "file://" + absPath,
		knowledge.MetaIngestedAt: time.Now().Unix(),
	}
	title := filepath.Base(absPath)

	return in.IngestText(ctx, fileDocID(absPath), title, string(content), meta)
}

// fileDocID hashes the absolute path so the same file always maps to the
// same document.
func fileDocID(absPath string) string {
	hash := sha256.Sum256([]byte(absPath))
	return "file_" + hex.EncodeToString(hash[:16])
}
