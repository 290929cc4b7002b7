package knowledge

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Leaf components wrap
// these with fmt.Errorf("%w: ...") so callers can classify failures with
// errors.Is() without depending on concrete backends.
var (
	// ErrConfiguration indicates invalid parameters or a backend mismatch
	// (dimension mismatch, invalid top_k/chunk_size/overlap, missing
	// credential for a requested backend). Fatal at the call site.
	ErrConfiguration = errors.New("configuration error")

	// ErrModelUnavailable indicates the embedding or generation backend is
	// unreachable or erroring. Never masked as an empty or zero result.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrStore indicates a vector store read or write failure. Wrapped
	// messages include the doc_id so a safe re-ingestion is possible.
	ErrStore = errors.New("store error")

	// ErrAnswerGeneration indicates retrieval succeeded but generation
	// failed. The accompanying Answer reports the sources that would have
	// been used.
	ErrAnswerGeneration = errors.New("answer generation failed")

	// ErrRemoteUnavailable indicates the remote corpus backend is
	// unreachable or unconfigured. In hybrid mode this degrades to
	// local-only rather than failing the request.
	ErrRemoteUnavailable = errors.New("remote corpus unavailable")

	// ErrInvalidMetadata indicates required metadata keys are missing or
	// malformed at the ingestion boundary. Wraps ErrConfiguration, so
	// errors.Is matches it against both sentinels.
	ErrInvalidMetadata = fmt.Errorf("invalid metadata: %w", ErrConfiguration)
)
