package sshutil

import (
	"bytes"
	"crypto"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// AuthorizedKey renders pub in OpenSSH authorized_keys form together with its
// SHA256 fingerprint as printed by ssh-keygen -l.
func AuthorizedKey(pub crypto.PublicKey) (string, string, error) {
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("failed to convert public key: %w", err)
	}

	authorized := string(bytes.TrimSpace(ssh.MarshalAuthorizedKey(sshPub)))
	return authorized, ssh.FingerprintSHA256(sshPub), nil
}

// GetFingerprint calculates the SHA256 fingerprint of an authorized_keys line
func GetFingerprint(pubkeyStr string) (string, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("failed to parse public key: %w", err)
	}

	return ssh.FingerprintSHA256(pubkey), nil
}
