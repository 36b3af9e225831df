package util

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders any JSON-marshalable value as compact JSON with
// sorted object keys. encoding/json sorts map keys, so a marshal round
// trip through generic values yields the canonical form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("reparse: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("remarshal: %w", err)
	}
	return out, nil
}

// ConstantTimeEqual compares two strings without leaking the position of
// the first difference. Used for checksum and hash comparisons.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
