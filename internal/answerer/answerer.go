// Package answerer produces grounded answers: retrieve relevant chunks,
// build a context-bounded prompt, generate, and attach citations.
package answerer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/retriever"
)

// InsufficientKnowledge is returned as the answer text when retrieval
// finds nothing. It is a successful outcome, not an error.
const InsufficientKnowledge = "I don't have enough information in the knowledge base to answer that question."

// previewRunes bounds citation previews.
const previewRunes = 200

// promptHeader instructs the model to answer from the supplied context
// only. Chunks are numbered so the model can reference them.
const promptHeader = `Answer the question using ONLY the context below.
If the context does not contain enough information to answer, say so plainly.
Do not use outside knowledge. Be concise and factual.`

// Retriever is the capability the answerer needs from the retrieval layer.
type Retriever interface {
	Retrieve(ctx context.Context, queryText string, opts ...retriever.Option) (knowledge.RetrievalResult, error)
}

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Answerer grounds generated answers on retrieved chunks.
//
// Answerer is safe for concurrent use by multiple goroutines.
type Answerer struct {
	retriever Retriever
	generator Generator
	logger    *slog.Logger
}

// New creates an Answerer.
func New(ret Retriever, gen Generator, logger *slog.Logger) (*Answerer, error) {
	if ret == nil {
		return nil, fmt.Errorf("%w: answerer requires a retriever", knowledge.ErrConfiguration)
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: answerer requires a generator", knowledge.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{retriever: ret, generator: gen, logger: logger}, nil
}

// Answer retrieves context for the question and generates a grounded
// answer.
//
// Zero retrieved chunks yields an explicit insufficient-knowledge answer
// and a nil error. A generation failure still returns the Answer, with
// SourcesOnly set and citations populated, alongside an error wrapping
// ErrAnswerGeneration. Retrieval failures propagate unchanged.
func (a *Answerer) Answer(ctx context.Context, question string, opts ...retriever.Option) (*knowledge.Answer, error) {
	chunks, err := a.retriever.Retrieve(ctx, question, opts...)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	if len(chunks) == 0 {
		a.logger.Debug("no chunks retrieved", "question_len", len(question))
		return &knowledge.Answer{Question: question, Text: InsufficientKnowledge}, nil
	}

	answer := &knowledge.Answer{
		Question:  question,
		Citations: Citations(chunks),
	}

	text, err := a.generator.Generate(ctx, BuildPrompt(question, chunks))
	if err != nil {
		answer.SourcesOnly = true
		return answer, fmt.Errorf("%w: %w", knowledge.ErrAnswerGeneration, err)
	}

	answer.Text = text
	return answer, nil
}

// BuildPrompt assembles the grounded prompt: instruction header, numbered
// context blocks, then the question.
func BuildPrompt(question string, chunks knowledge.RetrievalResult) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString("\n\nContext:\n")
	for i, sc := range chunks {
		fmt.Fprintf(&b, "\n[%d] (source: %s)\n%s\n", i+1, citationSource(sc), sc.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// Citations converts retrieved chunks into presentational citations,
// preserving retrieval order.
func Citations(chunks knowledge.RetrievalResult) []knowledge.Citation {
	cites := make([]knowledge.Citation, len(chunks))
	for i, sc := range chunks {
		cites[i] = knowledge.Citation{
			Source:  citationSource(sc),
			Preview: preview(sc.Content),
			Score:   knowledge.Relevance(sc.Distance),
		}
	}
	return cites
}

// citationSource prefers the ingested source URI and falls back to the
// always-present doc_id#chunk_id coordinate.
func citationSource(sc knowledge.ScoredChunk) string {
	if uri, ok := sc.Metadata[knowledge.MetaSourceURI].(string); ok && uri != "" {
		return uri
	}
	return fmt.Sprintf("%s#%d", sc.DocID, sc.ChunkID)
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes]) + "..."
}
