package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/wardenhq/warden/internal/util"
)

// Reserved top-level fields excluded from the checksum.
const (
	fieldChecksum = "_checksum"
	fieldSavedAt  = "_updated_at"
)

// Canonicalize renders a value as compact JSON with sorted object keys.
func Canonicalize(v any) ([]byte, error) {
	return util.CanonicalJSON(v)
}

// ChecksumDoc computes the hex SHA-256 over the canonical form of a JSON
// document with the excluded fields removed.
func ChecksumDoc(doc map[string]any) (string, error) {
	scrubbed := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == fieldChecksum || k == fieldSavedAt {
			continue
		}
		scrubbed[k] = v
	}
	canonical, err := util.CanonicalJSON(scrubbed)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ChecksumState computes the checksum for a WorkflowState, ignoring any
// checksum and save timestamp it already carries.
func ChecksumState(s *WorkflowState) (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("reparse state: %w", err)
	}
	return ChecksumDoc(doc)
}

// ConstantTimeEqual compares two checksum strings without leaking the
// position of the first difference.
func ConstantTimeEqual(a, b string) bool {
	return util.ConstantTimeEqual(a, b)
}
