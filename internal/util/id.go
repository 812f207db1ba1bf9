package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier, prefix_ followed by 32 hex characters.
func NewID(prefix string) string {
	if prefix == "" {
		return Token(16)
	}
	return prefix + "_" + Token(16)
}

// Token returns n random bytes hex-encoded.
func Token(n int) string {
	bytes := make([]byte, n)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
