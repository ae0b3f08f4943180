package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"
)

// APIKeyPrefix marks tenant credentials so they are recognisable in logs and configs.
const APIKeyPrefix = "tk_"

// GenerateAPIKey returns a new random tenant credential.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// HashAPIKey returns the hex SHA-256 digest stored in place of the credential.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// DigestEqual compares two digests in constant time.
func DigestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
