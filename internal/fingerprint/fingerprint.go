// Package fingerprint computes stable hashes over ordered string parts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
)

// Of returns the hex SHA-256 of the length-framed parts.
// Framing keeps ("ab", "c") and ("a", "bc") distinct.
func Of(parts ...string) string {
	h := New()
	for _, part := range parts {
		h.Add(part)
	}
	return h.Sum()
}

// Hasher accumulates framed parts incrementally.
type Hasher struct {
	h hash.Hash
}

// New returns an empty Hasher.
func New() *Hasher {
	return &Hasher{h: sha256.New()}
}

// Add frames and writes one part.
func (f *Hasher) Add(part string) {
	_, _ = fmt.Fprintf(f.h, "%d:%s|", len(part), part)
}

// Sum returns the hex digest.
func (f *Hasher) Sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}
