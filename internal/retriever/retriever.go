// Package retriever turns a natural-language query into ranked chunks:
// embed the query, search the vector store, return results ordered by
// ascending distance.
package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// DefaultTopK is the result count used when no option overrides it.
const DefaultTopK = 5

// Embedder is the single capability the retriever needs from a model
// backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the single capability the retriever needs from a store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, topK int, filters map[string]string) (knowledge.RetrievalResult, error)
}

// Option customizes a single Retrieve call.
type Option func(*searchParams)

type searchParams struct {
	topK    int
	filters map[string]string
}

// WithTopK overrides the number of results for one call.
func WithTopK(k int) Option {
	return func(p *searchParams) { p.topK = k }
}

// WithFilter restricts results to chunks whose metadata key equals value.
// Repeated filters combine with AND.
func WithFilter(key, value string) Option {
	return func(p *searchParams) {
		if p.filters == nil {
			p.filters = make(map[string]string)
		}
		p.filters[key] = value
	}
}

// WithDocument restricts results to a single document.
func WithDocument(docID string) Option {
	return WithFilter(knowledge.MetaDocID, docID)
}

// Retriever embeds queries and searches the chunk store.
//
// Retriever is safe for concurrent use by multiple goroutines.
type Retriever struct {
	embedder Embedder
	store    Searcher
	topK     int
	logger   *slog.Logger
}

// New creates a Retriever. defaultTopK <= 0 falls back to DefaultTopK.
func New(embedder Embedder, store Searcher, defaultTopK int, logger *slog.Logger) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: retriever requires an embedder", knowledge.ErrConfiguration)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: retriever requires a store", knowledge.ErrConfiguration)
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, topK: defaultTopK, logger: logger}, nil
}

// Retrieve embeds queryText and returns the nearest chunks. Embedding and
// store failures propagate unchanged so callers can classify them with
// errors.Is.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, opts ...Option) (knowledge.RetrievalResult, error) {
	params := searchParams{topK: r.topK}
	for _, opt := range opts {
		opt(&params)
	}

	vec, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	result, err := r.store.Search(ctx, vec, params.topK, params.filters)
	if err != nil {
		return nil, fmt.Errorf("searching store: %w", err)
	}

	r.logger.Debug("retrieved chunks", "query_len", len(queryText), "top_k", params.topK, "hits", len(result))
	return result, nil
}
