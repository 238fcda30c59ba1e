// Package sha256 digests sink payloads so unchanged record lists can be
// recognized across runs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/mylist-importer/internal/mylist"
)

var _ mylist.Hasher = (*Hasher)(nil)

// Hasher implements mylist.Hasher with hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data. It never fails.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
