package knowledge

import (
	"encoding/json"
	"fmt"
)

// ValidateMetadata checks the required keys at the ingestion boundary.
// Metadata stays an open string-keyed map for collaborator-specific fields,
// but source_uri and ingested_at must be present and well-formed before
// anything is written to the store.
func ValidateMetadata(meta map[string]any) error {
	if meta == nil {
		return fmt.Errorf("%w: metadata is required", ErrInvalidMetadata)
	}

	uri, ok := meta[MetaSourceURI]
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrInvalidMetadata, MetaSourceURI)
	}
	s, ok := uri.(string)
	if !ok || s == "" {
		return fmt.Errorf("%w: %q must be a non-empty string, got %T", ErrInvalidMetadata, MetaSourceURI, uri)
	}

	ts, ok := meta[MetaIngestedAt]
	if !ok {
		return fmt.Errorf("%w: missing %q", ErrInvalidMetadata, MetaIngestedAt)
	}
	if _, err := EpochSeconds(ts); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidMetadata, MetaIngestedAt, err)
	}

	return nil
}

// EpochSeconds coerces the ingested_at metadata value into epoch seconds.
// JSON round-trips turn integers into float64 and decoders configured with
// UseNumber produce json.Number, so all three shapes are accepted.
func EpochSeconds(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("not an integer: %v", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// CloneMetadata returns a shallow copy so chunk metadata can extend document
// metadata without aliasing the caller's map.
func CloneMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
