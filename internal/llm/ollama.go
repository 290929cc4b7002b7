package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// ollamaMaxRetries bounds retry attempts against a flaky local server.
const ollamaMaxRetries = 3

// OllamaConfig configures the Ollama-backed embedder and generator.
type OllamaConfig struct {
	Host          string // e.g. "http://localhost:11434"
	EmbedModel    string // e.g. "nomic-embed-text"
	GenerateModel string // e.g. "llama3.2"
	Dimension     int
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Ollama implements Embedder and Generator against a local Ollama server.
// Safe for concurrent use.
type Ollama struct {
	host          string
	embedModel    string
	generateModel string
	dimension     int
	client        *http.Client
	logger        *slog.Logger
}

// NewOllama creates an Ollama client.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: ollama_host is required for the ollama backend", knowledge.ErrConfiguration)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be > 0, got %d", knowledge.ErrConfiguration, cfg.Dimension)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultGenerateTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		host:          cfg.Host,
		embedModel:    cfg.EmbedModel,
		generateModel: cfg.GenerateModel,
		dimension:     cfg.Dimension,
		client:        &http.Client{Timeout: cfg.Timeout},
		logger:        cfg.Logger,
	}, nil
}

// Dimension returns the configured output dimensionality.
func (o *Ollama) Dimension() int { return o.dimension }

// Embed returns the embedding of a single text.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one /api/embed call; the server returns
// embeddings in input order.
func (o *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: o.embedModel, Input: texts}

	var respBody struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := o.post(ctx, "/api/embed", reqBody, &respBody); err != nil {
		return nil, err
	}
	if len(respBody.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: ollama returned %d embeddings for %d inputs",
			knowledge.ErrModelUnavailable, len(respBody.Embeddings), len(texts))
	}
	for i, v := range respBody.Embeddings {
		if len(v) != o.dimension {
			return nil, fmt.Errorf("%w: model %s returned dimension %d at index %d, configured %d",
				knowledge.ErrConfiguration, o.embedModel, len(v), i, o.dimension)
		}
	}
	return respBody.Embeddings, nil
}

// Generate produces text for the prompt via /api/chat.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	reqBody := struct {
		Model    string    `json:"model"`
		Messages []message `json:"messages"`
		Stream   bool      `json:"stream"`
	}{
		Model:    o.generateModel,
		Messages: []message{{Role: "user", Content: prompt}},
		Stream:   false,
	}

	var respBody struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := o.post(ctx, "/api/chat", reqBody, &respBody); err != nil {
		return "", err
	}
	if respBody.Message.Content == "" {
		return "", fmt.Errorf("%w: model %s returned an empty response", knowledge.ErrModelUnavailable, o.generateModel)
	}
	return respBody.Message.Content, nil
}

// post issues a JSON POST with bounded retries and exponential backoff.
// Server errors (5xx) retry; client errors (4xx) fail immediately.
func (o *Ollama) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= ollamaMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", knowledge.ErrModelUnavailable, ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			lastErr = err
			o.logger.Debug("ollama request failed", "path", path, "attempt", attempt, "error", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			continue
		case resp.StatusCode >= 300:
			return fmt.Errorf("%w: ollama %s: %s", knowledge.ErrModelUnavailable, path, resp.Status)
		}

		if readErr != nil {
			lastErr = readErr
			continue
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decoding ollama response: %v", knowledge.ErrModelUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("%w: ollama %s after %d attempts: %v",
		knowledge.ErrModelUnavailable, path, ollamaMaxRetries+1, lastErr)
}

// backoff returns the delay before the given retry attempt, capped at 2s.
func backoff(attempt int) time.Duration {
	d := 100 * time.Millisecond << attempt
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
