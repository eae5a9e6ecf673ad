// Package fingerprint turns record content into the fixed-width digest used
// as the duplicate-equality key across the corpus.
package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the digest width in bytes.
const Size = sha256.Size

// Fingerprint is a SHA-256 digest of a record's content bytes. Two records
// are duplicates iff their fingerprints are bit-identical; content is hashed
// exactly as decoded from the column, with no trimming or case folding.
type Fingerprint [Size]byte

// Of computes the fingerprint of content.
func Of(content []byte) Fingerprint {
	return sha256.Sum256(content)
}

// Compare orders fingerprints lexicographically: -1, 0 or +1.
func (f Fingerprint) Compare(other Fingerprint) int {
	return bytes.Compare(f[:], other[:])
}

// Less reports whether f sorts before other.
func (f Fingerprint) Less(other Fingerprint) bool {
	return bytes.Compare(f[:], other[:]) < 0
}

// Hex returns the digest as a lowercase hex string.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 8 hex characters for log lines.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:4])
}

// FromHex parses a 64-character hex string back into a Fingerprint.
func FromHex(s string) (Fingerprint, error) {
	var f Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return f, fmt.Errorf("parse fingerprint %q: %w", s, err)
	}
	if len(b) != Size {
		return f, fmt.Errorf("parse fingerprint: got %d bytes, want %d", len(b), Size)
	}
	copy(f[:], b)
	return f, nil
}
