package knowledge

import "time"

// Metadata keys every ingested document must carry. Downstream consumers
// (citation rendering, re-ingestion tooling) depend on these being present.
const (
	MetaSourceURI  = "source_uri"
	MetaIngestedAt = "ingested_at" // epoch seconds
	MetaDocID      = "doc_id"      // written at ingestion so searches can scope to one document
)

// Document is a canonicalized unit of source content. Immutable once
// ingested; re-ingesting the same ID replaces the record and its chunks.
type Document struct {
	ID        string
	Title     string
	Content   string // canonical markdown
	Metadata  map[string]any
	CreatedAt time.Time
}

// Chunk is a contiguous slice of a document's text. (DocID, ChunkID) is
// globally unique; chunks are never mutated after write, only replaced.
type Chunk struct {
	DocID     string
	ChunkID   int
	Content   string
	Metadata  map[string]any
	Embedding []float32
}

// ScoredChunk pairs a chunk with its raw distance from the query vector.
// Lower distance means more relevant.
type ScoredChunk struct {
	Chunk
	Distance float64
}

// RetrievalResult is ordered ascending by distance: for all i < j,
// result[i].Distance <= result[j].Distance.
type RetrievalResult []ScoredChunk

// Citation references the source material that supported an answer.
type Citation struct {
	Source  string  // resolvable URI or doc_id#chunk_id fallback
	Preview string  // truncated chunk content
	Score   float64 // normalized relevance in (0, 1]
}

// Answer is the result of a grounded query. It is produced fresh per query
// and never persisted by the engine.
//
// SourcesOnly is set when retrieval succeeded but answer generation failed:
// Text is empty, Citations report which sources would have been used.
type Answer struct {
	Question    string
	Text        string
	Citations   []Citation
	SourcesOnly bool
}

// Relevance converts a raw distance into a presentational score in (0, 1].
// It is monotonically decreasing in distance and must never be used for
// ranking; ordering is fixed by raw distance.
func Relevance(distance float64) float64 {
	return 1 / (1 + distance)
}
