package integrity

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize returns a representation of v whose JSON serialization does
// not depend on map insertion order: map keys are sorted recursively, array
// elements are canonicalized in place, primitives pass through unchanged.
//
// The same logical state gets built with keys in different orders across
// call sites; canonicalization makes the signature a function of content,
// not construction order.
func Canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(val))
		for _, k := range keys {
			out[k] = Canonicalize(val[k])
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = Canonicalize(e)
		}
		return out
	default:
		return v
	}
}

// canonicalJSON serializes v deterministically. Go's encoding/json already
// emits map keys in sorted order, but structs and nested maps arrive here
// normalized through a marshal/unmarshal round trip first so struct field
// order never leaks into the digest.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("serializing value: %w", err)
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalizing value: %w", err)
	}

	return json.Marshal(Canonicalize(generic))
}
