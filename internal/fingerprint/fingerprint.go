// Package fingerprint derives stable content identifiers for uploaded
// documents and query text. Identical bytes always produce identical
// fingerprints; the fingerprints key the result cache.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// File computes the SHA-256 hex digest of everything readable from r.
func File(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hashing file content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Query computes the SHA-256 hex digest of the exact byte content of q.
// Whitespace trimming and default substitution happen at intake, before
// the query reaches this function.
func Query(q string) string {
	sum := sha256.Sum256([]byte(q))
	return hex.EncodeToString(sum[:])
}
