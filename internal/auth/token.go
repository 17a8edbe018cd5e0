package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	sessionTokenPrefix = "vds_"
	sessionTokenBytes  = 32
)

// GenerateSessionToken returns a fresh session cookie value. Only its hash
// is ever stored.
func GenerateSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return sessionTokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// WellFormedSessionToken reports whether token could have come from
// GenerateSessionToken, so malformed cookies skip the database lookup.
func WellFormedSessionToken(token string) bool {
	body, ok := strings.CutPrefix(token, sessionTokenPrefix)
	if !ok {
		return false
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	return err == nil && len(raw) == sessionTokenBytes
}

// HashToken is the lookup key of a session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
