package chunker

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures the token cost of a piece of text against the chunk
// budget.
type Counter interface {
	Count(text string) int
}

// WordCounter counts whitespace-delimited words. Deterministic and
// dependency-free; used as the fallback when the BPE encoding cannot be
// loaded, and by tests that must run offline.
type WordCounter struct{}

// Count returns the number of whitespace-delimited words in text.
func (WordCounter) Count(text string) int { return len(strings.Fields(text)) }

// bpeCounter counts tokens with a tiktoken encoding.
type bpeCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *bpeCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

var (
	defaultOnce    sync.Once
	defaultCounter Counter
)

// DefaultCounter returns the process-wide token counter: the cl100k_base
// BPE encoding when available, WordCounter otherwise. The encoding is
// loaded once; both paths count deterministically.
func DefaultCounter() Counter {
	defaultOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			defaultCounter = WordCounter{}
			return
		}
		defaultCounter = &bpeCounter{enc: enc}
	})
	return defaultCounter
}
