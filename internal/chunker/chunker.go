// Package chunker splits canonical markdown into overlapping, context
// preserving chunks with provenance metadata.
//
// Chunking is a pure in-memory computation: identical input always yields a
// byte-identical chunk sequence, and no chunking call ever blocks.
package chunker

import (
	"fmt"
	"strings"

	"github.com/quarrydev/quarry/internal/knowledge"
)

// MetaHeadingPath is the chunk metadata key recording the markdown heading
// trail (e.g. "Manual > Install") the chunk was extracted under.
const MetaHeadingPath = "heading_path"

// Chunker splits document text into token-budgeted chunks.
type Chunker struct {
	counter Counter
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithCounter overrides the token counter. Tests use WordCounter to stay
// offline; production uses the default BPE counter.
func WithCounter(c Counter) Option {
	return func(ch *Chunker) { ch.counter = c }
}

// New creates a Chunker. Without options it counts tokens with the cl100k
// BPE encoding, falling back to whitespace words if the encoding cannot be
// loaded.
func New(opts ...Option) *Chunker {
	ch := &Chunker{counter: DefaultCounter()}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Chunk splits text into chunks of roughly chunkSize tokens, preferring
// paragraph and heading boundaries over hard cuts. Adjacent chunks share an
// overlap-word tail so context straddling a boundary is not lost; with the
// carried tail a chunk can run about chunkSize+overlap tokens. chunkSize is
// a target, not a hard ceiling.
//
// chunkSize must be positive and 0 <= overlap < chunkSize; violations
// return knowledge.ErrConfiguration. Empty or whitespace-only text yields
// an empty sequence, not an error. Chunk IDs increase from 0.
func (ch *Chunker) Chunk(text string, meta map[string]any, chunkSize, overlap int) ([]knowledge.Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk_size must be > 0, got %d", knowledge.ErrConfiguration, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, chunk_size), got %d", knowledge.ErrConfiguration, overlap)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	blocks := splitBlocks(text)

	var (
		chunks  []knowledge.Chunk
		cur     []string // blocks accumulated for the current chunk
		curTok  int
		carried int // leading blocks in cur that are overlap carry, 0 or 1
		heading headingPath
		curHead string // heading path at the start of the current chunk
	)

	flush := func() {
		// A chunk holding nothing but the carried overlap would duplicate
		// the previous chunk's tail; drop it.
		if len(cur) <= carried {
			cur, curTok, carried = nil, 0, 0
			return
		}
		content := strings.Join(cur, "\n\n")
		chunks = append(chunks, ch.newChunk(len(chunks), content, curHead, meta))
		cur, curTok, carried = nil, 0, 0
	}

	for _, b := range blocks {
		if b.headingLevel > 0 {
			// Section break: headings never merge into the previous chunk.
			flush()
			heading.push(b.headingLevel, b.headingText)
		}
		if len(cur) == 0 {
			curHead = heading.String()
			// Carry overlap tokens from the previous chunk.
			if overlap > 0 && len(chunks) > 0 {
				if tail := tailWords(chunks[len(chunks)-1].Content, overlap); tail != "" {
					cur = append(cur, tail)
					curTok = ch.counter.Count(tail)
					carried = 1
				}
			}
		}

		n := ch.counter.Count(b.text)
		if n > chunkSize {
			// A single semantic unit over budget: flush and hard-split it.
			flush()
			for _, part := range ch.hardSplit(b.text, chunkSize) {
				chunks = append(chunks, ch.newChunk(len(chunks), part, heading.String(), meta))
			}
			continue
		}

		if curTok+n > chunkSize {
			flush()
			curHead = heading.String()
			// The carried tail sits outside the budget check, so a chunk
			// may run up to chunkSize plus the tail's tokens.
			if overlap > 0 && len(chunks) > 0 {
				if tail := tailWords(chunks[len(chunks)-1].Content, overlap); tail != "" {
					cur = append(cur, tail)
					curTok = ch.counter.Count(tail)
					carried = 1
				}
			}
		}
		cur = append(cur, b.text)
		curTok += n
	}
	flush()

	return chunks, nil
}

func (ch *Chunker) newChunk(id int, content, headingPath string, meta map[string]any) knowledge.Chunk {
	m := knowledge.CloneMetadata(meta)
	if m == nil {
		m = make(map[string]any, 1)
	}
	if headingPath != "" {
		m[MetaHeadingPath] = headingPath
	}
	return knowledge.Chunk{
		ChunkID:  id,
		Content:  content,
		Metadata: m,
	}
}

// hardSplit cuts text into pieces of at most budget tokens on word
// boundaries. Only used when a single block exceeds the chunk budget.
func (ch *Chunker) hardSplit(text string, budget int) []string {
	words := strings.Fields(text)
	var parts []string
	var cur []string
	curTok := 0
	for _, w := range words {
		n := ch.counter.Count(w)
		if n == 0 {
			n = 1
		}
		if curTok+n > budget && len(cur) > 0 {
			parts = append(parts, strings.Join(cur, " "))
			cur = nil
			curTok = 0
		}
		cur = append(cur, w)
		curTok += n
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, " "))
	}
	return parts
}

// block is an atomic markdown unit: a heading line or a paragraph.
type block struct {
	text         string
	headingLevel int // 0 for non-headings
	headingText  string
}

// splitBlocks cuts markdown into heading and paragraph blocks. Blank lines
// separate paragraphs; a heading line is always its own block.
func splitBlocks(text string) []block {
	var blocks []block
	var para []string

	flushPara := func() {
		if len(para) == 0 {
			return
		}
		blocks = append(blocks, block{text: strings.Join(para, "\n")})
		para = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			flushPara()
			continue
		}
		if level, title, ok := parseHeading(trimmed); ok {
			flushPara()
			blocks = append(blocks, block{text: trimmed, headingLevel: level, headingText: title})
			continue
		}
		para = append(para, trimmed)
	}
	flushPara()

	return blocks
}

// parseHeading recognizes ATX headings: 1-6 '#' followed by a space.
func parseHeading(line string) (level int, title string, ok bool) {
	i := 0
	for i < len(line) && line[i] == '#' {
		i++
	}
	if i == 0 || i > 6 || i >= len(line) || line[i] != ' ' {
		return 0, "", false
	}
	return i, strings.TrimSpace(line[i+1:]), true
}

// headingPath tracks the current heading trail while walking blocks.
type headingPath struct {
	levels []int
	titles []string
}

func (h *headingPath) push(level int, title string) {
	// Pop siblings and deeper levels.
	for len(h.levels) > 0 && h.levels[len(h.levels)-1] >= level {
		h.levels = h.levels[:len(h.levels)-1]
		h.titles = h.titles[:len(h.titles)-1]
	}
	h.levels = append(h.levels, level)
	h.titles = append(h.titles, title)
}

func (h *headingPath) String() string {
	return strings.Join(h.titles, " > ")
}

// tailWords returns the last n whitespace-delimited words of text, used as
// the overlap carried into the next chunk.
func tailWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}
