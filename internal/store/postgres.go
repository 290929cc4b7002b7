package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const insertChunkSQL = `INSERT INTO rag_chunks (doc_id, chunk_id, content, metadata, embedding)
	VALUES ($1, $2, $3, $4, $5)`

const deleteDocumentSQL = `DELETE FROM rag_chunks WHERE doc_id = $1`

// Postgres stores chunks in PostgreSQL with pgvector embeddings.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool      *pgxpool.Pool
	dimension int
	logger    *slog.Logger
}

// NewPostgres creates a pgvector-backed store. dimension must match the
// vector(N) column created by the migrations.
func NewPostgres(pool *pgxpool.Pool, dimension int, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: postgres store requires a connection pool", knowledge.ErrConfiguration)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be > 0, got %d", knowledge.ErrConfiguration, dimension)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, dimension: dimension, logger: logger}, nil
}

// Dimension returns the embedding dimension this store accepts.
func (p *Postgres) Dimension() int { return p.dimension }

// UpsertChunks replaces all chunks for docID inside one transaction, so a
// concurrent Search sees either the old set or the new set, never a mix.
func (p *Postgres) UpsertChunks(ctx context.Context, docID string, chunks []knowledge.Chunk) error {
	if docID == "" {
		return fmt.Errorf("%w: document ID is required", knowledge.ErrConfiguration)
	}
	for i, c := range chunks {
		if len(c.Embedding) != p.dimension {
			return fmt.Errorf("%w: chunk %d of document %s has embedding dimension %d, store expects %d",
				knowledge.ErrConfiguration, i, docID, len(c.Embedding), p.dimension)
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: upserting document %s: beginning transaction: %v", knowledge.ErrStore, docID, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			p.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if err := replaceChunks(ctx, tx, docID, chunks); err != nil {
		return fmt.Errorf("%w: upserting document %s: %v", knowledge.ErrStore, docID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: upserting document %s: committing: %v", knowledge.ErrStore, docID, err)
	}

	p.logger.Debug("upserted document", "doc_id", docID, "chunks", len(chunks))
	return nil
}

// replaceChunks clears and rewrites a document's chunks through q, which
// is the transaction during an upsert.
func replaceChunks(ctx context.Context, q querier, docID string, chunks []knowledge.Chunk) error {
	if _, err := q.Exec(ctx, deleteDocumentSQL, docID); err != nil {
		return fmt.Errorf("clearing old chunks: %v", err)
	}
	for _, c := range chunks {
		if _, err := q.Exec(ctx, insertChunkSQL,
			docID, c.ChunkID, c.Content, c.Metadata, pgvector.NewVector(c.Embedding),
		); err != nil {
			return fmt.Errorf("inserting chunk %d: %v", c.ChunkID, err)
		}
	}
	return nil
}

// DeleteDocument removes every chunk of docID. Missing documents are a no-op.
func (p *Postgres) DeleteDocument(ctx context.Context, docID string) error {
	if docID == "" {
		return fmt.Errorf("%w: document ID is required", knowledge.ErrConfiguration)
	}
	tag, err := p.pool.Exec(ctx, deleteDocumentSQL, docID)
	if err != nil {
		return fmt.Errorf("%w: deleting document %s: %v", knowledge.ErrStore, docID, err)
	}
	p.logger.Debug("deleted document", "doc_id", docID, "chunks", tag.RowsAffected())
	return nil
}

// Search returns the topK nearest chunks by L2 distance. Ties on distance
// break by (doc_id, chunk_id) so identical inputs always rank identically.
func (p *Postgres) Search(ctx context.Context, vector []float32, topK int, filters map[string]string) (knowledge.RetrievalResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be > 0, got %d", knowledge.ErrConfiguration, topK)
	}
	if len(vector) != p.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, store expects %d",
			knowledge.ErrConfiguration, len(vector), p.dimension)
	}

	sql := `SELECT doc_id, chunk_id, content, metadata, embedding <-> $1 AS distance
		FROM rag_chunks`
	args := []any{pgvector.NewVector(vector)}

	if len(filters) > 0 {
		payload, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding metadata filters: %v", knowledge.ErrStore, err)
		}
		sql += ` WHERE metadata @> $2`
		args = append(args, payload)
	}

	sql += fmt.Sprintf(` ORDER BY distance, doc_id, chunk_id LIMIT $%d`, len(args)+1)
	args = append(args, topK)

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: searching chunks: %v", knowledge.ErrStore, err)
	}
	defer rows.Close()

	return scanScoredChunks(rows)
}

// ListDocuments aggregates per-document stats from the chunk table.
func (p *Postgres) ListDocuments(ctx context.Context) ([]DocumentInfo, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT doc_id, COUNT(*),
			COALESCE(MIN(metadata->>'source_uri'), ''),
			COALESCE(MIN((metadata->>'ingested_at')::bigint), 0)
		 FROM rag_chunks
		 GROUP BY doc_id
		 ORDER BY doc_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: listing documents: %v", knowledge.ErrStore, err)
	}
	defer rows.Close()

	var docs []DocumentInfo
	for rows.Next() {
		var d DocumentInfo
		if err := rows.Scan(&d.DocID, &d.Chunks, &d.SourceURI, &d.IngestedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning document row: %v", knowledge.ErrStore, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating documents: %v", knowledge.ErrStore, err)
	}
	return docs, nil
}

// scanScoredChunks reads search rows into a RetrievalResult.
func scanScoredChunks(rows pgx.Rows) (knowledge.RetrievalResult, error) {
	var result knowledge.RetrievalResult
	for rows.Next() {
		var sc knowledge.ScoredChunk
		if err := rows.Scan(&sc.DocID, &sc.ChunkID, &sc.Content, &sc.Metadata, &sc.Distance); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk: %v", knowledge.ErrStore, err)
		}
		result = append(result, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating chunks: %v", knowledge.ErrStore, err)
	}
	return result, nil
}
