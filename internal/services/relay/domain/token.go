package domain

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// tokenBytes sizes the random payload at 256 bits so brute-force guessing of
// a live token is infeasible.
const tokenBytes = 32

// maxTokenAttempts bounds collision retries. Collisions are effectively
// impossible at this entropy; hitting the bound means the random source or
// the liveness check is broken.
const maxTokenAttempts = 10

// Token is an opaque correlation identifier linking a login attempt to its
// eventual callback and watcher.
type Token string

// NewToken draws a fresh correlation token from a cryptographically secure
// source, base32-encoded without padding. live reports whether a candidate
// is already in use; generation retries until the candidate is free.
func NewToken(live func(Token) bool) (Token, error) {
	for range maxTokenAttempts {
		raw := make([]byte, tokenBytes)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		candidate := Token(strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)))
		if live != nil && live(candidate) {
			continue
		}
		return candidate, nil
	}
	return "", ErrDuplicateToken
}
