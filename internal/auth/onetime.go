package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// NewOneTimeToken generates a raw verification or password-reset
// token and its sha256 hash. Only the hash is ever persisted; the raw
// value goes out in the email link.
func NewOneTimeToken() (raw, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	return raw, HashOneTimeToken(raw), nil
}

// HashOneTimeToken derives the storable hash for a raw token.
func HashOneTimeToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// OneTimeTokenMatches compares a stored hash with a presented raw
// token in constant time.
func OneTimeTokenMatches(storedHash, raw string) bool {
	actual := HashOneTimeToken(raw)
	if len(storedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(actual)) == 1
}
