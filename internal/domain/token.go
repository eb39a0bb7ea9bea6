// Package domain token.go contains functions to generate, parse, and validate
// the public share tokens.
package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// TokenLen is the fixed length of an encoded Token.
const TokenLen = 22

// tokenAlphabet is the base57 alphabet used by shortuuid. Visually ambiguous
// characters (0, 1, I, O, l) are excluded.
const tokenAlphabet = shortuuid.DefaultAlphabet

// Token is the public identifier of a share and the only routing key of a
// download link. It is a random (v4) UUID, 122 bits of entropy, encoded as 22
// base57 characters.
type Token string

// NewToken generates a new random Token.
func NewToken() (Token, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return Token(shortuuid.DefaultEncoder.Encode(u)), nil
}

// ParseToken validates s and returns it as a Token. Returns ErrInvalidToken
// on failure.
func ParseToken(s string) (Token, error) {
	if !isValidToken(s) {
		return "", ErrInvalidToken
	}
	return Token(s), nil
}

// String returns the string form of the Token.
func (t Token) String() string { return string(t) }

// Valid reports whether the token satisfies the same rules as ParseToken.
func (t Token) Valid() bool { return isValidToken(string(t)) }

func isValidToken(s string) bool {
	if len(s) != TokenLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(tokenAlphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}
