// Package credential classifies, fingerprints, generates and packages PEM
// credential material for storage in the secret backend.
package credential

import "strings"

// Kind is what a piece of PEM text claims to be.
type Kind string

// Known kinds
const (
	KindEncryptedPrivateKey Kind = "encrypted_private_key"
	KindRSAPrivateKey       Kind = "rsa_private_key"
	KindPrivateKey          Kind = "private_key"
	KindCertificate         Kind = "certificate"
	KindPublicKey           Kind = "public_key"
	KindUnknown             Kind = "unknown"
)

// classifierRules are evaluated in order; the first matching marker wins.
var classifierRules = []struct {
	kind    Kind
	markers []string
}{
	{KindEncryptedPrivateKey, []string{"BEGIN ENCRYPTED PRIVATE KEY"}},
	{KindRSAPrivateKey, []string{"BEGIN RSA PRIVATE KEY"}},
	{KindPrivateKey, []string{"BEGIN PRIVATE KEY", "BEGIN EC PRIVATE KEY", "BEGIN OPENSSH PRIVATE KEY"}},
	{KindCertificate, []string{"BEGIN CERTIFICATE"}},
	{KindPublicKey, []string{"BEGIN PUBLIC KEY", "BEGIN RSA PUBLIC KEY"}},
}

// Classify reports the kind of credential text claims to hold, based only on
// its BEGIN markers. It does not validate the body.
func Classify(text string) Kind {
	for _, rule := range classifierRules {
		for _, marker := range rule.markers {
			if strings.Contains(text, marker) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}

// IsPrivate reports whether the kind carries private key material.
func (k Kind) IsPrivate() bool {
	return k == KindPrivateKey || k == KindRSAPrivateKey || k == KindEncryptedPrivateKey
}

func (k Kind) String() string {
	return string(k)
}
