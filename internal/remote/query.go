package remote

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// remotePromptHeader mirrors the local grounding contract: answer from the
// attached documents only.
const remotePromptHeader = `Answer the question using ONLY the attached documents.
If they do not contain enough information to answer, say so plainly.
Do not use outside knowledge. Be concise and factual.`

// queryConcurrency bounds the fan-out of QueryMulti.
const queryConcurrency = 4

// Query answers a question grounded on the files of one corpus.
//
// A corpus with no files yields an explicit no-knowledge answer, matching
// the local pipeline's empty-retrieval behavior. Citations come from the
// backend's grounding metadata when present, otherwise from the attached
// files themselves; either way every citation carries a resolvable URI.
func (a *Adapter) Query(ctx context.Context, question, corpusName string, topK int) (*knowledge.Answer, error) {
	files, err := a.corpusFiles(corpusName)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &knowledge.Answer{
			Question: question,
			Text:     fmt.Sprintf("Corpus %q has no documents to answer from.", corpusName),
		}, nil
	}

	attach := files
	if len(attach) > maxFilesPerQuery {
		attach = attach[:maxFilesPerQuery]
	}

	parts := make([]*genai.Part, 0, len(attach)+1)
	for _, f := range attach {
		parts = append(parts, genai.NewPartFromURI(f.URI, f.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(remotePromptHeader+"\n\nQuestion: "+question))

	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for rate limiter: %v", knowledge.ErrRemoteUnavailable, err)
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: querying corpus %q: %v", knowledge.ErrRemoteUnavailable, corpusName, err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("%w: corpus %q query returned no text", knowledge.ErrRemoteUnavailable, corpusName)
	}

	citations := groundingCitations(resp)
	if len(citations) == 0 {
		citations = fileCitations(attach)
	}
	if topK > 0 && len(citations) > topK {
		citations = citations[:topK]
	}

	a.logger.Debug("remote query answered", "corpus", corpusName, "files", len(attach), "citations", len(citations))
	return &knowledge.Answer{Question: question, Text: text, Citations: citations}, nil
}

// QueryMulti queries several corpora concurrently and merges the results.
// Per-corpus failures fail the whole call; partial tolerance lives in the
// fusion layer, not here.
func (a *Adapter) QueryMulti(ctx context.Context, question string, corpusNames []string) (*knowledge.Answer, error) {
	if len(corpusNames) == 0 {
		return nil, fmt.Errorf("%w: at least one corpus is required", knowledge.ErrConfiguration)
	}
	if len(corpusNames) == 1 {
		return a.Query(ctx, question, corpusNames[0], 0)
	}

	answers := make([]*knowledge.Answer, len(corpusNames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queryConcurrency)
	for i, name := range corpusNames {
		g.Go(func() error {
			ans, err := a.Query(gctx, question, name, 0)
			if err != nil {
				return err
			}
			answers[i] = ans
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var b strings.Builder
	for i, ans := range answers {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", corpusNames[i], ans.Text)
	}

	merged := &knowledge.Answer{Question: question, Text: b.String()}
	for _, ans := range answers {
		merged.Citations = mergeCitations(merged.Citations, ans.Citations)
	}
	return merged, nil
}

// groundingCitations extracts citations from the backend's grounding
// metadata, deduplicated by URI.
func groundingCitations(resp *genai.GenerateContentResponse) []knowledge.Citation {
	var cites []knowledge.Citation
	for _, cand := range resp.Candidates {
		if cand == nil || cand.GroundingMetadata == nil {
			continue
		}
		for _, gc := range cand.GroundingMetadata.GroundingChunks {
			if gc == nil || gc.RetrievedContext == nil || gc.RetrievedContext.URI == "" {
				continue
			}
			rc := gc.RetrievedContext
			cites = mergeCitations(cites, []knowledge.Citation{{
				Source:  rc.URI,
				Preview: previewText(rc.Text, rc.Title),
				Score:   1,
			}})
		}
	}
	return cites
}

// fileCitations cites the attached files directly when the backend
// returned no grounding metadata.
func fileCitations(files []CorpusFile) []knowledge.Citation {
	cites := make([]knowledge.Citation, len(files))
	for i, f := range files {
		cites[i] = knowledge.Citation{Source: f.URI, Preview: f.DisplayName, Score: 1}
	}
	return cites
}

// mergeCitations appends new citations, skipping sources already present.
func mergeCitations(existing, incoming []knowledge.Citation) []knowledge.Citation {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.Source] = true
	}
	for _, c := range incoming {
		if !seen[c.Source] {
			seen[c.Source] = true
			existing = append(existing, c)
		}
	}
	return existing
}

func previewText(text, title string) string {
	if text == "" {
		return title
	}
	runes := []rune(text)
	if len(runes) > 200 {
		return string(runes[:200]) + "..."
	}
	return text
}
