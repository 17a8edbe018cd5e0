package credential

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallstep/pkcs7"
	"golang.org/x/crypto/ssh"

	"github.com/adamscao/vaultdash/pkg/sshutil"
)

// Inspection is the result of verifying a piece of PEM text.
type Inspection struct {
	Kind    Kind     `json:"kind"`
	Valid   bool     `json:"valid"`
	Details *Details `json:"parsedDetails"`
}

// Details holds whatever could be extracted from the text. Fields that do not
// apply to the kind are left empty.
type Details struct {
	Fingerprint    string         `json:"fingerprint"`
	Blocks         int            `json:"blocks"`
	Subject        string         `json:"subject,omitempty"`
	Issuer         string         `json:"issuer,omitempty"`
	SerialNumber   string         `json:"serialNumber,omitempty"`
	NotBefore      string         `json:"notBefore,omitempty"`
	NotAfter       string         `json:"notAfter,omitempty"`
	Expired        bool           `json:"expired,omitempty"`
	IsCA           bool           `json:"isCA,omitempty"`
	DNSNames       []string       `json:"dnsNames,omitempty"`
	SHA256         string         `json:"sha256,omitempty"`
	KeyAlgorithm   string         `json:"keyAlgorithm,omitempty"`
	KeySize        string         `json:"keySize,omitempty"`
	Encrypted      bool           `json:"encrypted,omitempty"`
	SSHFingerprint string         `json:"sshFingerprint,omitempty"`
	Chain          []CertSummary  `json:"chain,omitempty"`
	Error          string         `json:"error,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// CertSummary describes one certificate of a bundle.
type CertSummary struct {
	Subject  string `json:"subject"`
	Issuer   string `json:"issuer"`
	NotAfter string `json:"notAfter"`
}

// Inspect classifies text and extracts details on a best-effort basis. The
// kind always comes from Classify; Valid reports whether the body actually
// parses as that kind.
func Inspect(text string) *Inspection {
	return inspectAt(text, time.Now())
}

func inspectAt(text string, now time.Time) *Inspection {
	kind := Classify(text)
	in := &Inspection{
		Kind: kind,
		Details: &Details{
			Fingerprint: Fingerprint([]byte(text)),
			Blocks:      countBlocks(text),
		},
	}

	var err error
	switch kind {
	case KindCertificate:
		err = inspectCertificates(text, now, in.Details)
	case KindPrivateKey, KindRSAPrivateKey:
		err = inspectPrivateKey(text, in.Details)
	case KindEncryptedPrivateKey:
		err = inspectEncryptedKey(text, in.Details)
	case KindPublicKey:
		err = inspectPublicKey(text, in.Details)
	default:
		err = inspectOther(text, now, in.Details)
	}

	if err != nil {
		in.Details.Error = err.Error()
		return in
	}
	in.Valid = kind != KindUnknown
	return in
}

func countBlocks(text string) int {
	n := 0
	rest := []byte(text)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return n
		}
		n++
	}
}

// findBlock returns the first PEM block whose type is one of types.
func findBlock(text string, types ...string) (*pem.Block, error) {
	rest := []byte(text)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("no %s PEM block found", strings.Join(types, " or "))
		}
		for _, t := range types {
			if block.Type == t {
				return block, nil
			}
		}
	}
}

// ParseCertificates parses every CERTIFICATE block in text.
func ParseCertificates(text string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(text)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return certs, nil
}

func inspectCertificates(text string, now time.Time, d *Details) error {
	certs, err := ParseCertificates(text)
	if err != nil {
		return err
	}
	describeCertificate(certs[0], now, d)
	if len(certs) > 1 {
		d.Chain = summarize(certs[1:])
	}
	return nil
}

func describeCertificate(cert *x509.Certificate, now time.Time, d *Details) {
	sum := sha256.Sum256(cert.Raw)
	d.Subject = cert.Subject.String()
	d.Issuer = cert.Issuer.String()
	d.SerialNumber = colonHex(cert.SerialNumber.Bytes())
	d.NotBefore = cert.NotBefore.UTC().Format(time.RFC3339)
	d.NotAfter = cert.NotAfter.UTC().Format(time.RFC3339)
	d.Expired = now.After(cert.NotAfter)
	d.IsCA = cert.IsCA
	d.DNSNames = cert.DNSNames
	d.SHA256 = hex.EncodeToString(sum[:])
	d.KeyAlgorithm, d.KeySize = describePublicKey(cert.PublicKey)
}

func summarize(certs []*x509.Certificate) []CertSummary {
	out := make([]CertSummary, 0, len(certs))
	for _, c := range certs {
		out = append(out, CertSummary{
			Subject:  c.Subject.String(),
			Issuer:   c.Issuer.String(),
			NotAfter: c.NotAfter.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// ParsePrivateKey parses the first private key block in text.
func ParsePrivateKey(text string) (crypto.PrivateKey, error) {
	block, err := findBlock(text, "PRIVATE KEY", "RSA PRIVATE KEY", "EC PRIVATE KEY", "OPENSSH PRIVATE KEY")
	if err != nil {
		return nil, err
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "OPENSSH PRIVATE KEY":
		key, err := ssh.ParseRawPrivateKey(pem.EncodeToMemory(block))
		if err != nil {
			return nil, fmt.Errorf("parsing OpenSSH private key: %w", err)
		}
		if ptr, ok := key.(*ed25519.PrivateKey); ok {
			return *ptr, nil
		}
		return key, nil
	default:
		if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
			return key, nil
		}
		// Some tools label PKCS#1 keys as "PRIVATE KEY"
		if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			return key, nil
		}
		if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
			return key, nil
		}
		return nil, errors.New("parsing PRIVATE KEY block with any known format")
	}
}

func inspectPrivateKey(text string, d *Details) error {
	key, err := ParsePrivateKey(text)
	if err != nil {
		return err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return fmt.Errorf("unsupported private key type %T", key)
	}
	d.KeyAlgorithm, d.KeySize = describePublicKey(signer.Public())
	if _, sshFP, err := sshutil.AuthorizedKey(signer.Public()); err == nil {
		d.SSHFingerprint = sshFP
	}
	return nil
}

func inspectEncryptedKey(text string, d *Details) error {
	if _, err := findBlock(text, "ENCRYPTED PRIVATE KEY"); err != nil {
		return err
	}
	d.Encrypted = true
	return nil
}

func inspectPublicKey(text string, d *Details) error {
	block, err := findBlock(text, "PUBLIC KEY", "RSA PUBLIC KEY")
	if err != nil {
		return err
	}

	var pub crypto.PublicKey
	if block.Type == "RSA PUBLIC KEY" {
		pub, err = x509.ParsePKCS1PublicKey(block.Bytes)
	} else {
		pub, err = x509.ParsePKIXPublicKey(block.Bytes)
	}
	if err != nil {
		return fmt.Errorf("parsing public key: %w", err)
	}

	d.KeyAlgorithm, d.KeySize = describePublicKey(pub)
	if _, sshFP, err := sshutil.AuthorizedKey(pub); err == nil {
		d.SSHFingerprint = sshFP
	}
	return nil
}

// inspectOther extracts what it can from text no PEM marker claims: PKCS#7
// bundles and OpenSSH authorized_keys lines. Their kind stays unknown.
func inspectOther(text string, now time.Time, d *Details) error {
	if block, err := findBlock(text, "PKCS7"); err == nil {
		p7, err := pkcs7.Parse(block.Bytes)
		if err != nil {
			return fmt.Errorf("parsing PKCS#7: %w", err)
		}
		if len(p7.Certificates) == 0 {
			return errors.New("PKCS#7 bundle contains no certificates")
		}
		describeCertificate(p7.Certificates[0], now, d)
		d.Chain = summarize(p7.Certificates[1:])
		d.Extra = map[string]any{"format": "pkcs7"}
		return nil
	}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "ssh-") || strings.HasPrefix(trimmed, "ecdsa-") {
		fp, err := sshutil.GetFingerprint(trimmed)
		if err != nil {
			return err
		}
		d.SSHFingerprint = fp
		d.Extra = map[string]any{"format": "openssh"}
		return nil
	}

	return ErrUnclassifiable
}

func describePublicKey(pub crypto.PublicKey) (string, string) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return "RSA", fmt.Sprintf("%d", k.N.BitLen())
	case *ecdsa.PublicKey:
		return "ECDSA", k.Curve.Params().Name
	case ed25519.PublicKey:
		return "Ed25519", "256"
	default:
		return "unknown", "unknown"
	}
}

func colonHex(b []byte) string {
	h := hex.EncodeToString(b)
	parts := make([]string, 0, len(h)/2)
	for i := 0; i < len(h); i += 2 {
		parts = append(parts, h[i:min(i+2, len(h))])
	}
	return strings.Join(parts, ":")
}
