// Package domain blobref.go contains functions to generate, parse, and validate
// blob references.
package domain

import (
	"crypto/rand"
	"encoding/hex"
)

// BlobRef is the opaque handle of the bytes backing a share. It is a 128-bit
// random value encoded as 32 lowercase hex characters and is never derived from
// the public token.
type BlobRef string

// NewBlobRef generates a new cryptographically random BlobRef.
func NewBlobRef() (BlobRef, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	dst := make([]byte, 32)
	hex.Encode(dst, b[:]) // hex.Encode always produces lowercase
	return BlobRef(dst), nil
}

// ParseBlobRef validates s and returns it as a BlobRef. It enforces:
// - length == 32
// - only lowercase [0-9a-f]
// Returns ErrInvalidBlobRef on failure.
func ParseBlobRef(s string) (BlobRef, error) {
	if !isValidBlobRef(s) {
		return "", ErrInvalidBlobRef
	}
	return BlobRef(s), nil
}

// String returns the string form of the BlobRef.
func (r BlobRef) String() string { return string(r) }

// Valid reports whether the ref satisfies the same rules as ParseBlobRef.
func (r BlobRef) Valid() bool { return isValidBlobRef(string(r)) }

// isValidBlobRef performs validation without allocating errors.
func isValidBlobRef(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
