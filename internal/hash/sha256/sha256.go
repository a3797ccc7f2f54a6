// Package sha256 names archived content by the SHA-256 digest of its URL.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements sheetsim.Hasher. Length shortens the hex digest used in
// object keys; zero keeps all 64 characters.
type Hasher struct {
	Length int
}

// New returns a full-length hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h.Length > 0 && h.Length < len(digest) {
		digest = digest[:h.Length]
	}
	return digest, nil
}
