// Package fingerprint provides a deterministic content hash for chunk deduplication.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the hex-encoded SHA-256 of the exact chunk text. The input is
// hashed as raw UTF-8 bytes with no normalization: whitespace differences
// intentionally produce different hashes since they may reflect different
// source formatting. The result is used both as the dedup key at ingestion
// time and as the primary identifier of a stored embedding.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
