package workflow

import (
	"encoding/json"
	"fmt"
)

// Progress is the append-only fact bag of a record, stored as a JSON
// object. Steps never read it directly; they decode it into their kind's
// typed progress struct.
type Progress map[string]json.RawMessage

// Clone returns a copy of p.
func (p Progress) Clone() Progress {
	out := make(Progress, len(p))
	for k, v := range p {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge returns p with every key of patch added. p is not modified.
func (p Progress) Merge(patch Progress) Progress {
	out := p.Clone()
	for k, v := range patch {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Has reports whether key is set.
func (p Progress) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// PatchOf converts a typed progress value into a patch. Zero-valued fields
// carry omitempty tags and never appear, so a patch can only add facts.
func PatchOf(v any) (Progress, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("workflow: encode progress: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("workflow: encode progress: %w", err)
	}
	return p, nil
}

// DecodeProgress decodes p into the typed progress struct T.
func DecodeProgress[T any](p Progress) (T, error) {
	var out T
	if len(p) == 0 {
		return out, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return out, fmt.Errorf("workflow: decode progress: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("workflow: decode progress: %w", err)
	}
	return out, nil
}
