package answerer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/retriever"
)

type fakeRetriever struct {
	result knowledge.RetrievalResult
	err    error
}

func (f *fakeRetriever) Retrieve(context.Context, string, ...retriever.Option) (knowledge.RetrievalResult, error) {
	return f.result, f.err
}

type fakeGenerator struct {
	text string
	err  error
	// lastPrompt records what the generator was asked, for prompt assertions.
	lastPrompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func scored(docID string, chunkID int, content, sourceURI string, distance float64) knowledge.ScoredChunk {
	sc := knowledge.ScoredChunk{Distance: distance}
	sc.DocID = docID
	sc.ChunkID = chunkID
	sc.Content = content
	if sourceURI != "" {
		sc.Metadata = map[string]any{"source_uri": sourceURI}
	}
	return sc
}

func TestAnswerNoChunksIsInsufficientKnowledge(t *testing.T) {
	a, err := New(&fakeRetriever{}, &fakeGenerator{text: "never called"}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := a.Answer(context.Background(), "what is quarry")
	if err != nil {
		t.Fatalf("empty retrieval must not be an error: %v", err)
	}
	if got.Text != InsufficientKnowledge {
		t.Errorf("Text = %q, want the insufficient-knowledge message", got.Text)
	}
	if got.SourcesOnly || len(got.Citations) != 0 {
		t.Errorf("unexpected degrade fields: %+v", got)
	}
}

func TestAnswerGrounded(t *testing.T) {
	gen := &fakeGenerator{text: "Run the installer."}
	ret := &fakeRetriever{result: knowledge.RetrievalResult{
		scored("guide", 0, "run the installer first", "file:///guide.md", 0.1),
		scored("guide", 1, "then reboot", "", 0.4),
	}}
	a, err := New(ret, gen, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := a.Answer(context.Background(), "how do I install?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got.Text != "Run the installer." {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Citations) != 2 {
		t.Fatalf("got %d citations, want 2", len(got.Citations))
	}
	if got.Citations[0].Source != "file:///guide.md" {
		t.Errorf("citation 0 source = %q", got.Citations[0].Source)
	}
	if got.Citations[1].Source != "guide#1" {
		t.Errorf("citation 1 fallback source = %q", got.Citations[1].Source)
	}
	if got.Citations[0].Score <= got.Citations[1].Score {
		t.Error("nearer chunk must score higher")
	}

	// The prompt must contain the instruction, every chunk, and the question.
	for _, want := range []string{"ONLY the context", "run the installer first", "then reboot", "how do I install?"} {
		if !strings.Contains(gen.lastPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestAnswerGenerationFailureKeepsSources(t *testing.T) {
	genErr := fmt.Errorf("%w: model overloaded", knowledge.ErrModelUnavailable)
	ret := &fakeRetriever{result: knowledge.RetrievalResult{
		scored("guide", 0, "run the installer", "file:///guide.md", 0.2),
	}}
	a, err := New(ret, &fakeGenerator{err: genErr}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := a.Answer(context.Background(), "how?")
	if !errors.Is(err, knowledge.ErrAnswerGeneration) {
		t.Fatalf("want ErrAnswerGeneration, got %v", err)
	}
	if !errors.Is(err, knowledge.ErrModelUnavailable) {
		t.Errorf("underlying cause lost: %v", err)
	}
	if got == nil {
		t.Fatal("degraded answer must still be returned")
	}
	if !got.SourcesOnly {
		t.Error("SourcesOnly not set on generation failure")
	}
	if got.Text != "" {
		t.Errorf("degraded answer has text %q", got.Text)
	}
	if len(got.Citations) != 1 || got.Citations[0].Source != "file:///guide.md" {
		t.Errorf("citations missing on degraded answer: %+v", got.Citations)
	}
}

func TestAnswerRetrievalFailurePropagates(t *testing.T) {
	retErr := fmt.Errorf("%w: connection refused", knowledge.ErrStore)
	a, err := New(&fakeRetriever{err: retErr}, &fakeGenerator{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := a.Answer(context.Background(), "q")
	if !errors.Is(err, knowledge.ErrStore) {
		t.Fatalf("want ErrStore, got %v", err)
	}
	if errors.Is(err, knowledge.ErrAnswerGeneration) {
		t.Error("retrieval failure must not be classified as generation failure")
	}
	if got != nil {
		t.Errorf("no answer expected on retrieval failure, got %+v", got)
	}
}

func TestCitationPreviewTruncated(t *testing.T) {
	long := strings.Repeat("word ", 100) // 500 runes
	cites := Citations(knowledge.RetrievalResult{scored("d", 0, long, "", 0.5)})
	if got := len([]rune(cites[0].Preview)); got != previewRunes+3 {
		t.Errorf("preview length = %d runes, want %d plus ellipsis", got, previewRunes)
	}
	if !strings.HasSuffix(cites[0].Preview, "...") {
		t.Error("truncated preview missing ellipsis")
	}
}
