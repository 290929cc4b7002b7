package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/quarrydev/quarry/internal/knowledge"
)

func TestCommandsRegistered(t *testing.T) {
	want := []string{"ingest", "query", "docs", "corpus", "hybrid", "version"}

	registered := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		registered[c.Name()] = true
	}
	for _, name := range want {
		if !registered[name] {
			t.Errorf("command %q not registered on root", name)
		}
	}
}

func TestRootPersistentFlags(t *testing.T) {
	for _, name := range []string{"json", "debug"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("persistent flag --%s missing", name)
		}
	}
}

func TestQueryFlags(t *testing.T) {
	for _, name := range []string{"top-k", "doc", "retrieve-only"} {
		if queryCmd.Flags().Lookup(name) == nil {
			t.Errorf("query flag --%s missing", name)
		}
	}
}

func TestHybridFlags(t *testing.T) {
	for _, name := range []string{"corpus", "top-k", "local-only", "remote-only"} {
		if hybridCmd.Flags().Lookup(name) == nil {
			t.Errorf("hybrid flag --%s missing", name)
		}
	}
}

func TestDocsSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range docsCmd.Commands() {
		names[c.Name()] = true
	}
	if !names["list"] || !names["delete"] {
		t.Errorf("docs subcommands = %v, want list and delete", names)
	}
}

func TestCorpusSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range corpusCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"create", "upload", "list"} {
		if !names[want] {
			t.Errorf("corpus subcommand %q missing", want)
		}
	}
}

// Remote-only answering must work with nothing but a Gemini credential:
// no database, no embedder. The corpus is created and queried while empty,
// which exercises the full command path without a network round trip.
func TestHybridRemoteOnlyWithoutDatabase(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("DATABASE_URL", "")

	ctx := context.Background()
	_ = captureStdout(t, func() {
		if err := runCorpusCreate(ctx, "kb"); err != nil {
			t.Errorf("creating corpus: %v", err)
		}
	})

	oldCorpus, oldRemoteOnly := hybridCorpus, hybridRemoteOnly
	hybridCorpus, hybridRemoteOnly = "kb", true
	t.Cleanup(func() { hybridCorpus, hybridRemoteOnly = oldCorpus, oldRemoteOnly })

	out := captureStdout(t, func() {
		if err := runHybrid(ctx, "anything indexed yet?"); err != nil {
			t.Errorf("remote-only hybrid must not need the database: %v", err)
		}
	})
	if !strings.Contains(out, "no documents") {
		t.Errorf("expected the empty-corpus answer, got %q", out)
	}
}

func TestHybridRemoteOnlyRequiresCorpus(t *testing.T) {
	oldCorpus, oldRemoteOnly := hybridCorpus, hybridRemoteOnly
	hybridCorpus, hybridRemoteOnly = "", true
	t.Cleanup(func() { hybridCorpus, hybridRemoteOnly = oldCorpus, oldRemoteOnly })

	err := runHybrid(context.Background(), "question")
	if !errors.Is(err, knowledge.ErrConfiguration) {
		t.Errorf("want ErrConfiguration for missing --corpus, got %v", err)
	}
}

func TestPrintCitations(t *testing.T) {
	out := captureStdout(t, func() {
		printCitations([]knowledge.Citation{
			{Source: "file:///guide.md", Score: 0.83},
			{Source: "doc123#4", Score: 0.51},
		})
	})

	if !strings.Contains(out, "Sources:") {
		t.Errorf("output missing header: %q", out)
	}
	if !strings.Contains(out, "[1] file:///guide.md") || !strings.Contains(out, "[2] doc123#4") {
		t.Errorf("output missing numbered sources: %q", out)
	}
}

func TestPrintCitationsEmptyIsQuiet(t *testing.T) {
	if out := captureStdout(t, func() { printCitations(nil) }); out != "" {
		t.Errorf("expected no output for zero citations, got %q", out)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("creating pipe: %v", err)
	}
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("reading captured output: %v", err)
	}
	return buf.String()
}
