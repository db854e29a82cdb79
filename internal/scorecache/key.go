package scorecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"
)

// Key returns the content address of a (document, criteria) pair: the
// SHA-256 of their canonical JSON encoding. Map keys are encoded in sorted
// order, so insertion order never changes the key.
func Key(document, criteria any) (string, error) {
	payload, err := json.Marshal(struct {
		Document any `json:"document"`
		Criteria any `json:"criteria"`
	}{document, criteria})
	if err != nil {
		return "", fmt.Errorf("score cache key: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
