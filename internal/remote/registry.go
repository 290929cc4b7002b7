package remote

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// Corpus is a named collection of files uploaded to the managed backend.
// The backend itself has no corpus concept for uploaded files, so
// membership lives in a local registry owned by this process.
type Corpus struct {
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Files       []CorpusFile `json:"files,omitempty"`
}

// CorpusFile records one uploaded file. URI and MIMEType are what the
// generation API needs to attach the file to a query.
type CorpusFile struct {
	Name        string            `json:"name"` // backend resource name, e.g. "files/abc123"
	DisplayName string            `json:"display_name,omitempty"`
	URI         string            `json:"uri"`
	MIMEType    string            `json:"mime_type"`
	UploadedAt  time.Time         `json:"uploaded_at"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// registry is the on-disk corpus index. Single-writer: the CLI runs one
// command at a time, so a plain read-modify-write with an atomic rename
// is enough.
type registry struct {
	Corpora map[string]*Corpus `json:"corpora"`
}

func loadRegistry(path string) (*registry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &registry{Corpora: make(map[string]*Corpus)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading corpus registry %s: %v", knowledge.ErrRemoteUnavailable, path, err)
	}

	var reg registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("%w: corpus registry %s is corrupt: %v", knowledge.ErrRemoteUnavailable, path, err)
	}
	if reg.Corpora == nil {
		reg.Corpora = make(map[string]*Corpus)
	}
	return &reg, nil
}

func (r *registry) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: creating registry directory: %v", knowledge.ErrRemoteUnavailable, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding corpus registry: %v", knowledge.ErrRemoteUnavailable, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: writing corpus registry: %v", knowledge.ErrRemoteUnavailable, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: replacing corpus registry: %v", knowledge.ErrRemoteUnavailable, err)
	}
	return nil
}

func (r *registry) list() []*Corpus {
	names := make([]string, 0, len(r.Corpora))
	for name := range r.Corpora {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Corpus, len(names))
	for i, name := range names {
		out[i] = r.Corpora[name]
	}
	return out
}
