package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Credential prefixes keep API identifiers and enrollment token keys
// visually distinct on the wire and in logs.
const (
	apiIDPrefix    = "pw_api_"
	tokenKeyPrefix = "pw_tok_"
)

func randomHex(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateAPICredentials mints a host credential pair: a namespaced
// api_id (prefix + 16 hex chars) and a 64 hex char api_key. Collision
// probability is negligible; uniqueness is still enforced by the
// database index.
func GenerateAPICredentials() (apiID, apiKey string, err error) {
	id, err := randomHex(8)
	if err != nil {
		return "", "", err
	}
	key, err := randomHex(32)
	if err != nil {
		return "", "", err
	}
	return apiIDPrefix + id, key, nil
}

// GenerateEnrollmentToken mints an enrollment token pair: a 32 char
// token_key (prefix + 24 hex chars) used for lookup and a 96 hex char
// token_secret. The secret must be stored only as a bcrypt hash.
func GenerateEnrollmentToken() (tokenKey, tokenSecret string, err error) {
	key, err := randomHex(12)
	if err != nil {
		return "", "", err
	}
	secret, err := randomHex(48)
	if err != nil {
		return "", "", err
	}
	return tokenKeyPrefix + key, secret, nil
}

// HashSessionToken returns the SHA-256 hex digest used to store session
// access and refresh tokens at rest.
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// GenerateRefreshToken mints an opaque long random refresh token
// (64 random bytes, hex encoded).
func GenerateRefreshToken() (string, error) {
	return randomHex(64)
}
