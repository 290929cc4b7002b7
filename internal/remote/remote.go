// Package remote adapts a managed, provider-hosted corpus behind the
// same question-in, grounded-answer-out shape as the local pipeline.
//
// Files are uploaded to the Gemini Files API (PDFs, images, text; the
// backend handles extraction and indexing). Corpus membership is tracked
// in a local JSON registry because uploaded files are a flat namespace
// on the provider side.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/quarrydev/quarry/internal/knowledge"
)

const (
	// DefaultUploadTimeout bounds upload plus processing of one file.
	DefaultUploadTimeout = 2 * time.Minute
	// DefaultQueryTimeout bounds one grounded generation call.
	DefaultQueryTimeout = 60 * time.Second

	// pollInterval paces the processing-state checks after an upload.
	pollInterval = 2 * time.Second

	// maxFilesPerQuery caps how many corpus files are attached to a single
	// generation request.
	maxFilesPerQuery = 10
)

// Config configures the remote corpus adapter.
type Config struct {
	APIKey            string
	GenerateModel     string // e.g. "gemini-2.5-flash"
	RegistryPath      string // JSON corpus registry location
	UploadTimeout     time.Duration
	QueryTimeout      time.Duration
	RequestsPerSecond float64 // API rate limit; 0 means 1 rps
	Logger            *slog.Logger
}

// Adapter talks to the managed corpus backend.
//
// Adapter is safe for concurrent use; registry mutations serialize on an
// internal mutex.
type Adapter struct {
	client        *genai.Client
	model         string
	registryPath  string
	uploadTimeout time.Duration
	queryTimeout  time.Duration
	limiter       *rate.Limiter
	logger        *slog.Logger

	mu sync.Mutex // guards registry read-modify-write cycles
}

// New creates the adapter. A missing API key returns ErrRemoteUnavailable
// so callers can run local-only without treating it as a crash.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key configured for the remote corpus", knowledge.ErrRemoteUnavailable)
	}
	if cfg.RegistryPath == "" {
		return nil, fmt.Errorf("%w: corpus registry path is required", knowledge.ErrConfiguration)
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating remote client: %v", knowledge.ErrRemoteUnavailable, err)
	}

	return &Adapter{
		client:        client,
		model:         cfg.GenerateModel,
		registryPath:  cfg.RegistryPath,
		uploadTimeout: cfg.UploadTimeout,
		queryTimeout:  cfg.QueryTimeout,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 2),
		logger:        cfg.Logger,
	}, nil
}

// CreateCorpus registers a new named corpus. The name must be unique.
func (a *Adapter) CreateCorpus(_ context.Context, name, displayName string) (*Corpus, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: corpus name is required", knowledge.ErrConfiguration)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reg, err := loadRegistry(a.registryPath)
	if err != nil {
		return nil, err
	}
	if _, exists := reg.Corpora[name]; exists {
		return nil, fmt.Errorf("%w: corpus %q already exists", knowledge.ErrConfiguration, name)
	}

	corpus := &Corpus{Name: name, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	reg.Corpora[name] = corpus
	if err := reg.save(a.registryPath); err != nil {
		return nil, err
	}

	a.logger.Info("created corpus", "corpus", name)
	return corpus, nil
}

// ListCorpora returns all registered corpora, sorted by name.
func (a *Adapter) ListCorpora(_ context.Context) ([]*Corpus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reg, err := loadRegistry(a.registryPath)
	if err != nil {
		return nil, err
	}
	return reg.list(), nil
}

// Upload sends a local file to the backend, waits until it is processed,
// and records it under corpusName. PDFs, images, and text all work; the
// backend handles extraction.
func (a *Adapter) Upload(ctx context.Context, corpusName, path string, meta map[string]string) (*CorpusFile, error) {
	return a.uploadPath(ctx, corpusName, path, filepath.Base(path), meta)
}

// UploadText uploads collaborator-supplied text under a display name.
func (a *Adapter) UploadText(ctx context.Context, corpusName, name, text string, meta map[string]string) (*CorpusFile, error) {
	tmp, err := os.CreateTemp("", "quarry-upload-*.md")
	if err != nil {
		return nil, fmt.Errorf("%w: staging text upload: %v", knowledge.ErrRemoteUnavailable, err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("%w: staging text upload: %v", knowledge.ErrRemoteUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: staging text upload: %v", knowledge.ErrRemoteUnavailable, err)
	}

	return a.uploadPath(ctx, corpusName, tmp.Name(), name, meta)
}

func (a *Adapter) uploadPath(ctx context.Context, corpusName, path, displayName string, meta map[string]string) (*CorpusFile, error) {
	mimeType, err := detectMIME(path)
	if err != nil {
		return nil, fmt.Errorf("%w: inspecting %s: %v", knowledge.ErrRemoteUnavailable, path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.uploadTimeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for rate limiter: %v", knowledge.ErrRemoteUnavailable, err)
	}

	file, err := a.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: uploading %s: %v", knowledge.ErrRemoteUnavailable, path, err)
	}

	file, err = a.waitActive(ctx, file)
	if err != nil {
		return nil, err
	}

	cf := &CorpusFile{
		Name:        file.Name,
		DisplayName: displayName,
		URI:         file.URI,
		MIMEType:    file.MIMEType,
		UploadedAt:  time.Now().UTC(),
		Meta:        meta,
	}
	if err := a.recordFile(corpusName, cf); err != nil {
		return nil, err
	}

	a.logger.Info("uploaded file", "corpus", corpusName, "file", file.Name, "mime", mimeType)
	return cf, nil
}

// waitActive polls the file until the backend finishes processing it.
func (a *Adapter) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	for {
		switch file.State {
		case genai.FileStateActive:
			return file, nil
		case genai.FileStateFailed:
			return nil, fmt.Errorf("%w: backend failed to process %s", knowledge.ErrRemoteUnavailable, file.Name)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: waiting for %s to become active: %v",
				knowledge.ErrRemoteUnavailable, file.Name, ctx.Err())
		case <-time.After(pollInterval):
		}

		var err error
		file, err = a.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: polling %s: %v", knowledge.ErrRemoteUnavailable, file.Name, err)
		}
	}
}

// recordFile appends the file to the corpus, creating the corpus on first
// upload if it was not explicitly created.
func (a *Adapter) recordFile(corpusName string, cf *CorpusFile) error {
	if corpusName == "" {
		return fmt.Errorf("%w: corpus name is required", knowledge.ErrConfiguration)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reg, err := loadRegistry(a.registryPath)
	if err != nil {
		return err
	}
	corpus, ok := reg.Corpora[corpusName]
	if !ok {
		corpus = &Corpus{Name: corpusName, CreatedAt: time.Now().UTC()}
		reg.Corpora[corpusName] = corpus
	}
	corpus.Files = append(corpus.Files, *cf)
	return reg.save(a.registryPath)
}

// corpusFiles returns the registered files of a corpus.
func (a *Adapter) corpusFiles(corpusName string) ([]CorpusFile, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	reg, err := loadRegistry(a.registryPath)
	if err != nil {
		return nil, err
	}
	corpus, ok := reg.Corpora[corpusName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown corpus %q", knowledge.ErrConfiguration, corpusName)
	}
	return corpus.Files, nil
}

// detectMIME resolves the content type from the extension first and falls
// back to content sniffing.
func detectMIME(path string) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		// Strip charset parameters; the upload API wants the bare type.
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}
