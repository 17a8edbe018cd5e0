package credential

import (
	"crypto/sha256"
	"encoding/hex"
)

// shortFingerprintLen is the number of hex characters shown for display.
const shortFingerprintLen = 16

// Digest is the full SHA-256 digest of some credential material.
type Digest [sha256.Size]byte

// DigestOf hashes data exactly as given. Callers that need identical
// fingerprints across platforms must normalize line endings first.
func DigestOf(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// Hex returns the full lowercase hex digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// Short returns the truncated display form. It identifies material in the UI
// and the audit ledger; it is not a security identifier.
func (d Digest) Short() string {
	return d.Hex()[:shortFingerprintLen]
}

// Fingerprint returns the 16 hex character display fingerprint of data.
func Fingerprint(data []byte) string {
	return DigestOf(data).Short()
}
