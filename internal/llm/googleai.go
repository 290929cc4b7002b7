package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// Default per-call deadlines for model traffic. Every external call is
// bounded so a stalled backend fails with a named error instead of hanging.
const (
	DefaultEmbedTimeout    = 30 * time.Second
	DefaultGenerateTimeout = 60 * time.Second
)

// GoogleAIConfig configures the Gemini-backed embedder and generator.
type GoogleAIConfig struct {
	APIKey          string
	EmbedModel      string // e.g. "gemini-embedding-001"
	GenerateModel   string // e.g. "gemini-2.5-flash"
	Dimension       int    // requested output dimensionality
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	Logger          *slog.Logger
}

// GoogleAI implements Embedder and Generator on the Gemini API.
// Safe for concurrent use.
type GoogleAI struct {
	client          *genai.Client
	embedModel      string
	generateModel   string
	dimension       int
	embedTimeout    time.Duration
	generateTimeout time.Duration
	logger          *slog.Logger
}

// NewGoogleAI creates a Gemini client. A missing API key is a configuration
// error so callers can fall back to another backend instead of crashing.
func NewGoogleAI(ctx context.Context, cfg GoogleAIConfig) (*GoogleAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is required for the googleai backend", knowledge.ErrConfiguration)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be > 0, got %d", knowledge.ErrConfiguration, cfg.Dimension)
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultGenerateTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GoogleAI{
		client:          client,
		embedModel:      cfg.EmbedModel,
		generateModel:   cfg.GenerateModel,
		dimension:       cfg.Dimension,
		embedTimeout:    cfg.EmbedTimeout,
		generateTimeout: cfg.GenerateTimeout,
		logger:          cfg.Logger,
	}, nil
}

// Dimension returns the configured output dimensionality.
func (g *GoogleAI) Dimension() int { return g.dimension }

// Embed returns the embedding of a single text.
func (g *GoogleAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one API call, preserving input order.
func (g *GoogleAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.embedTimeout)
	defer cancel()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dim := int32(g.dimension)
	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding with %s: %v", knowledge.ErrModelUnavailable, g.embedModel, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: embedding with %s: got %d embeddings for %d inputs",
			knowledge.ErrModelUnavailable, g.embedModel, len(resp.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: embedding with %s: empty embedding at index %d",
				knowledge.ErrModelUnavailable, g.embedModel, i)
		}
		if len(e.Values) != g.dimension {
			return nil, fmt.Errorf("%w: model %s returned dimension %d, configured %d",
				knowledge.ErrConfiguration, g.embedModel, len(e.Values), g.dimension)
		}
		vecs[i] = e.Values
	}

	g.logger.Debug("embedded batch", "model", g.embedModel, "count", len(texts))
	return vecs, nil
}

// Generate produces text for the prompt.
func (g *GoogleAI) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.generateTimeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, g.generateModel, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("%w: generating with %s: %v", knowledge.ErrModelUnavailable, g.generateModel, err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: model %s returned an empty response", knowledge.ErrModelUnavailable, g.generateModel)
	}
	return text, nil
}
