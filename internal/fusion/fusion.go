// Package fusion answers one question from the local pipeline and the
// remote corpus concurrently and combines the outcomes.
//
// Partial failure degrades to the surviving source with an explicit
// notice; only the loss of both sources is an error.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrydev/quarry/internal/knowledge"
	"github.com/quarrydev/quarry/internal/retriever"
)

// DefaultDeadline bounds one hybrid answer end to end.
const DefaultDeadline = 90 * time.Second

// synthesisPrompt asks the generator to reconcile the two answers. The
// answers are already grounded; this pass only merges and flags
// disagreement.
const synthesisPrompt = `Below are two independently produced answers to the same question,
one from a local knowledge base and one from a remote document corpus.
Combine them into a single coherent answer. If they disagree, note the
discrepancy explicitly rather than picking a side silently.`

// LocalAnswerer is the local pipeline capability.
type LocalAnswerer interface {
	Answer(ctx context.Context, question string, opts ...retriever.Option) (*knowledge.Answer, error)
}

// RemoteQuerier is the remote corpus capability.
type RemoteQuerier interface {
	Query(ctx context.Context, question, corpusName string, topK int) (*knowledge.Answer, error)
}

// Generator runs the synthesis pass over two successful answers.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options selects the sources for one hybrid call.
type Options struct {
	UseLocal  bool
	UseRemote bool
	Corpus    string // remote corpus name; required when UseRemote
	TopK      int    // local retrieval depth; 0 uses the retriever default
}

// Result is the outcome of a hybrid answer. Per-source answers and errors
// are always exposed so callers can see exactly what degraded.
type Result struct {
	Combined  string
	Local     *knowledge.Answer
	Remote    *knowledge.Answer
	LocalErr  error
	RemoteErr error
}

// Citations merges the citations of every successful source,
// deduplicated by source, local first.
func (r *Result) Citations() []knowledge.Citation {
	var cites []knowledge.Citation
	seen := make(map[string]bool)
	for _, ans := range []*knowledge.Answer{r.Local, r.Remote} {
		if ans == nil {
			continue
		}
		for _, c := range ans.Citations {
			if !seen[c.Source] {
				seen[c.Source] = true
				cites = append(cites, c)
			}
		}
	}
	return cites
}

// Degraded reports whether a requested source failed.
func (r *Result) Degraded() bool { return r.LocalErr != nil || r.RemoteErr != nil }

// Fusion coordinates local and remote answering.
//
// Fusion is safe for concurrent use by multiple goroutines.
type Fusion struct {
	local    LocalAnswerer
	remote   RemoteQuerier // nil when no remote credential is configured
	gen      Generator
	deadline time.Duration
	logger   *slog.Logger
}

// New creates a Fusion layer. remote may be nil; hybrid calls that request
// the remote source then degrade (or fail, if remote was the only source).
func New(local LocalAnswerer, remote RemoteQuerier, gen Generator, deadline time.Duration, logger *slog.Logger) (*Fusion, error) {
	if local == nil {
		return nil, fmt.Errorf("%w: fusion requires the local answerer", knowledge.ErrConfiguration)
	}
	if gen == nil {
		return nil, fmt.Errorf("%w: fusion requires a generator", knowledge.ErrConfiguration)
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fusion{local: local, remote: remote, gen: gen, deadline: deadline, logger: logger}, nil
}

// HybridAnswer queries the selected sources concurrently and combines
// their answers.
func (f *Fusion) HybridAnswer(ctx context.Context, question string, opts Options) (*Result, error) {
	if !opts.UseLocal && !opts.UseRemote {
		return nil, fmt.Errorf("%w: at least one of local and remote must be selected", knowledge.ErrConfiguration)
	}
	if opts.UseRemote && opts.Corpus == "" {
		return nil, fmt.Errorf("%w: a corpus name is required for remote answering", knowledge.ErrConfiguration)
	}

	ctx, cancel := context.WithTimeout(ctx, f.deadline)
	defer cancel()

	res := &Result{}
	g, gctx := errgroup.WithContext(ctx)

	if opts.UseLocal {
		g.Go(func() error {
			var ropts []retriever.Option
			if opts.TopK > 0 {
				ropts = append(ropts, retriever.WithTopK(opts.TopK))
			}
			res.Local, res.LocalErr = f.local.Answer(gctx, question, ropts...)
			return nil
		})
	}
	if opts.UseRemote {
		g.Go(func() error {
			if f.remote == nil {
				res.RemoteErr = fmt.Errorf("%w: no remote corpus configured", knowledge.ErrRemoteUnavailable)
				return nil
			}
			res.Remote, res.RemoteErr = f.remote.Query(gctx, question, opts.Corpus, opts.TopK)
			return nil
		})
	}
	_ = g.Wait() // goroutines record their own errors

	localOK := opts.UseLocal && res.LocalErr == nil
	remoteOK := opts.UseRemote && res.RemoteErr == nil

	switch {
	case localOK && remoteOK:
		res.Combined = f.synthesize(ctx, question, res.Local, res.Remote)
	case localOK:
		res.Combined = res.Local.Text
		if opts.UseRemote {
			res.Combined += "\n\n(Note: the remote corpus was unavailable; this answer uses local knowledge only.)"
			f.logger.Warn("remote source failed, degraded to local", "error", res.RemoteErr)
		}
	case remoteOK:
		res.Combined = res.Remote.Text
		if opts.UseLocal {
			res.Combined += "\n\n(Note: the local knowledge base was unavailable; this answer uses the remote corpus only.)"
			f.logger.Warn("local source failed, degraded to remote", "error", res.LocalErr)
		}
	default:
		return res, errors.Join(res.LocalErr, res.RemoteErr)
	}

	return res, nil
}

// synthesize runs the third generation pass over both answers, falling
// back to a deterministic labeled concatenation if it fails.
func (f *Fusion) synthesize(ctx context.Context, question string, local, remote *knowledge.Answer) string {
	prompt := fmt.Sprintf("%s\n\nQuestion: %s\n\nLocal answer:\n%s\n\nRemote answer:\n%s\n\nCombined answer:",
		synthesisPrompt, question, local.Text, remote.Text)

	text, err := f.gen.Generate(ctx, prompt)
	if err != nil || text == "" {
		f.logger.Warn("synthesis failed, concatenating answers", "error", err)
		var b strings.Builder
		b.WriteString("[local] ")
		b.WriteString(local.Text)
		b.WriteString("\n\n[remote] ")
		b.WriteString(remote.Text)
		return b.String()
	}
	return text
}
