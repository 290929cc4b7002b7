// Package llm defines the model capability interfaces and their backends.
//
// Embedder and Generator are single-concern contracts: concrete backends
// (Gemini via google.golang.org/genai, a local Ollama server) are selected
// at configuration time and injected, never dispatched on model-name
// strings inside components.
//
// Failure mapping: an unreachable or erroring backend surfaces
// knowledge.ErrModelUnavailable. Callers must never substitute a zero
// vector for a failed embedding; that would corrupt similarity ranking.
package llm

import "context"

// Embedder maps text to a fixed-dimension dense vector.
//
// Dimension is fixed per instance and is checked against the vector
// store's configured dimension at startup; a mismatch is a configuration
// error, never a silent truncation.
type Embedder interface {
	// Embed returns the embedding of text. The empty string is valid input
	// and returns a dimension-correct vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch is semantically equivalent to per-item Embed but may be
	// batched or parallelized internally. Output order matches input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the length of every vector this embedder produces.
	Dimension() int
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
