package remote

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quarrydev/quarry/internal/knowledge"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	a, err := New(context.Background(), Config{
		APIKey:        "test-key",
		GenerateModel: "test-model",
		RegistryPath:  filepath.Join(t.TempDir(), "corpora.json"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewWithoutAPIKey(t *testing.T) {
	_, err := New(context.Background(), Config{RegistryPath: "/tmp/unused.json"})
	if !errors.Is(err, knowledge.ErrRemoteUnavailable) {
		t.Errorf("want ErrRemoteUnavailable, got %v", err)
	}
}

func TestNewWithoutRegistryPath(t *testing.T) {
	_, err := New(context.Background(), Config{APIKey: "k"})
	if !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("want ErrConfiguration, got %v", err)
	}
}

func TestCreateAndListCorpora(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if _, err := a.CreateCorpus(ctx, "manuals", "Product manuals"); err != nil {
		t.Fatalf("CreateCorpus: %v", err)
	}
	if _, err := a.CreateCorpus(ctx, "archive", ""); err != nil {
		t.Fatalf("CreateCorpus: %v", err)
	}

	got, err := a.ListCorpora(ctx)
	if err != nil {
		t.Fatalf("ListCorpora: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d corpora, want 2", len(got))
	}
	// Sorted by name.
	if got[0].Name != "archive" || got[1].Name != "manuals" {
		t.Errorf("listing order: %s, %s", got[0].Name, got[1].Name)
	}
	if got[1].DisplayName != "Product manuals" {
		t.Errorf("display name = %q", got[1].DisplayName)
	}
}

func TestCreateCorpusDuplicate(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	if _, err := a.CreateCorpus(ctx, "manuals", ""); err != nil {
		t.Fatalf("CreateCorpus: %v", err)
	}
	if _, err := a.CreateCorpus(ctx, "manuals", ""); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("duplicate corpus: want ErrConfiguration, got %v", err)
	}
}

func TestCreateCorpusEmptyName(t *testing.T) {
	a := newTestAdapter(t)
	if _, err := a.CreateCorpus(context.Background(), "", ""); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("want ErrConfiguration, got %v", err)
	}
}

func TestRegistryPersistsAcrossAdapters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpora.json")
	ctx := context.Background()

	a1, err := New(ctx, Config{APIKey: "k", RegistryPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a1.CreateCorpus(ctx, "manuals", ""); err != nil {
		t.Fatalf("CreateCorpus: %v", err)
	}
	if err := a1.recordFile("manuals", &CorpusFile{
		Name:       "files/abc",
		URI:        "https://example.com/files/abc",
		MIMEType:   "application/pdf",
		UploadedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("recordFile: %v", err)
	}

	a2, err := New(ctx, Config{APIKey: "k", RegistryPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	files, err := a2.corpusFiles("manuals")
	if err != nil {
		t.Fatalf("corpusFiles: %v", err)
	}
	if len(files) != 1 || files[0].Name != "files/abc" {
		t.Errorf("registry did not survive reload: %+v", files)
	}
}

func TestRecordFileCreatesCorpusImplicitly(t *testing.T) {
	a := newTestAdapter(t)
	if err := a.recordFile("fresh", &CorpusFile{Name: "files/x", URI: "u", MIMEType: "text/plain"}); err != nil {
		t.Fatalf("recordFile: %v", err)
	}
	files, err := a.corpusFiles("fresh")
	if err != nil {
		t.Fatalf("corpusFiles: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("got %d files, want 1", len(files))
	}
}

func TestCorpusFilesUnknownCorpus(t *testing.T) {
	a := newTestAdapter(t)
	if _, err := a.corpusFiles("missing"); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("want ErrConfiguration, got %v", err)
	}
}

func TestQueryEmptyCorpus(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()
	if _, err := a.CreateCorpus(ctx, "empty", ""); err != nil {
		t.Fatalf("CreateCorpus: %v", err)
	}

	// No files attached: answered locally without touching the backend.
	got, err := a.Query(ctx, "anything?", "empty", 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(got.Text, "no documents") {
		t.Errorf("Text = %q, want a no-documents notice", got.Text)
	}
	if len(got.Citations) != 0 {
		t.Errorf("empty corpus produced citations: %+v", got.Citations)
	}
}

func TestQueryMultiRequiresCorpora(t *testing.T) {
	a := newTestAdapter(t)
	if _, err := a.QueryMulti(context.Background(), "q", nil); !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("want ErrConfiguration, got %v", err)
	}
}

func TestMergeCitationsDeduplicates(t *testing.T) {
	got := mergeCitations(
		[]knowledge.Citation{{Source: "a"}, {Source: "b"}},
		[]knowledge.Citation{{Source: "b"}, {Source: "c"}, {Source: "a"}},
	)
	if len(got) != 3 {
		t.Fatalf("got %d citations, want 3", len(got))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if got[i].Source != w {
			t.Errorf("citation %d = %q, want %q", i, got[i].Source, w)
		}
	}
}

func TestDetectMIMEByExtension(t *testing.T) {
	got, err := detectMIME("report.pdf")
	if err != nil {
		t.Fatalf("detectMIME: %v", err)
	}
	if got != "application/pdf" {
		t.Errorf("detectMIME(report.pdf) = %q", got)
	}
}
