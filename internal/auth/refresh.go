package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// RefreshEntropyBytes is the amount of randomness behind every refresh token.
const RefreshEntropyBytes = 64

// TokenGenerator produces opaque refresh tokens.
type TokenGenerator interface {
	Generate() (string, error)
}

// RandomGenerator reads entropy from a cryptographic source.
type RandomGenerator struct {
	source io.Reader
}

// NewRandomGenerator uses crypto/rand when source is nil.
func NewRandomGenerator(source io.Reader) *RandomGenerator {
	if source == nil {
		source = rand.Reader
	}
	return &RandomGenerator{source: source}
}

// Generate returns a URL-safe token with no embedded claims.
func (g *RandomGenerator) Generate() (string, error) {
	buf := make([]byte, RefreshEntropyBytes)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken is the lookup key stored in place of the raw token.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
