package credential

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/adamscao/vaultdash/pkg/sshutil"
)

// Supported key algorithms
const (
	AlgorithmRSA     = "rsa"
	AlgorithmEC      = "ec"
	AlgorithmEd25519 = "ed25519"
)

// KeyPair is a freshly generated key pair. PrivateKey is handed to the caller
// once and is never persisted by the generator.
type KeyPair struct {
	Algorithm        string
	Size             int
	PublicKey        string
	PrivateKey       string
	PublicKeyOpenSSH string
	SSHFingerprint   string
	Fingerprint      string
	Digest           Digest
}

// GeneratorConfig bounds what callers may request.
type GeneratorConfig struct {
	DefaultAlgorithm string
	DefaultRSASize   int
	MinRSASize       int
	MaxRSASize       int
	MaxConcurrent    int64
}

// Generator produces key pairs on worker goroutines, bounded by a weighted
// semaphore so a burst of 8192-bit requests cannot starve the server.
type Generator struct {
	cfg     GeneratorConfig
	sem     *semaphore.Weighted
	entropy io.Reader
}

// NewGenerator creates a key pair generator
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.DefaultAlgorithm == "" {
		cfg.DefaultAlgorithm = AlgorithmRSA
	}
	if cfg.MinRSASize <= 0 {
		cfg.MinRSASize = 2048
	}
	if cfg.DefaultRSASize < cfg.MinRSASize {
		cfg.DefaultRSASize = cfg.MinRSASize
	}
	if cfg.MaxRSASize < cfg.DefaultRSASize {
		cfg.MaxRSASize = 8192
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	return &Generator{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		entropy: rand.Reader,
	}
}

// NormalizeAlgorithm maps accepted spellings onto the canonical algorithm
// names. An empty value selects the configured default.
func (g *Generator) NormalizeAlgorithm(algorithm string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "":
		return g.cfg.DefaultAlgorithm, nil
	case "rsa":
		return AlgorithmRSA, nil
	case "ec", "ecdsa":
		return AlgorithmEC, nil
	case "ed25519":
		return AlgorithmEd25519, nil
	default:
		return "", fmt.Errorf("%w: %w: %q", ErrInvalidParameter, ErrUnsupportedAlgorithm, algorithm)
	}
}

// ResolveSize validates size for algorithm, applying the default when size
// is zero. It runs before any expensive work.
func (g *Generator) ResolveSize(algorithm string, size int) (int, error) {
	switch algorithm {
	case AlgorithmRSA:
		if size == 0 {
			return g.cfg.DefaultRSASize, nil
		}
		if size < g.cfg.MinRSASize {
			return 0, fmt.Errorf("%w: RSA key size %d is below the minimum of %d", ErrInvalidParameter, size, g.cfg.MinRSASize)
		}
		if size > g.cfg.MaxRSASize {
			return 0, fmt.Errorf("%w: RSA key size %d exceeds the maximum of %d", ErrInvalidParameter, size, g.cfg.MaxRSASize)
		}
		return size, nil
	case AlgorithmEC:
		if size == 0 {
			return 256, nil
		}
		if _, err := curveForSize(size); err != nil {
			return 0, err
		}
		return size, nil
	case AlgorithmEd25519:
		return 256, nil
	default:
		return 0, fmt.Errorf("%w: %w: %q", ErrInvalidParameter, ErrUnsupportedAlgorithm, algorithm)
	}
}

// ParseSize interprets a loosely typed size value from a request body. Absent
// or non-numeric values yield zero, which selects the algorithm default.
func ParseSize(v any) int {
	switch s := v.(type) {
	case float64:
		return int(s)
	case int:
		return s
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// Generate creates a new key pair. Parameters are validated up front; the
// key itself is built on a worker goroutine so ctx cancellation releases the
// caller even though the primitive cannot be interrupted.
func (g *Generator) Generate(ctx context.Context, algorithm string, size int) (*KeyPair, error) {
	alg, err := g.NormalizeAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	bits, err := g.ResolveSize(alg, size)
	if err != nil {
		return nil, err
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	type result struct {
		kp  *KeyPair
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer g.sem.Release(1)
		kp, err := g.generate(alg, bits)
		done <- result{kp: kp, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.kp, r.err
	}
}

func (g *Generator) generate(algorithm string, bits int) (*KeyPair, error) {
	var signer crypto.Signer

	switch algorithm {
	case AlgorithmRSA:
		priv, err := rsa.GenerateKey(g.entropy, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: RSA: %w", ErrGenerationFailed, err)
		}
		signer = priv

	case AlgorithmEC:
		curve, err := curveForSize(bits)
		if err != nil {
			return nil, err
		}
		priv, err := ecdsa.GenerateKey(curve, g.entropy)
		if err != nil {
			return nil, fmt.Errorf("%w: EC: %w", ErrGenerationFailed, err)
		}
		signer = priv

	case AlgorithmEd25519:
		_, priv, err := ed25519.GenerateKey(g.entropy)
		if err != nil {
			return nil, fmt.Errorf("%w: ed25519: %w", ErrGenerationFailed, err)
		}
		signer = priv

	default:
		return nil, fmt.Errorf("%w: %w: %q", ErrInvalidParameter, ErrUnsupportedAlgorithm, algorithm)
	}

	privatePEM, err := MarshalPrivateKeyPEM(signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	publicPEM, err := MarshalPublicKeyPEM(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	authorized, sshFP, err := sshutil.AuthorizedKey(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	digest := DigestOf([]byte(publicPEM))
	return &KeyPair{
		Algorithm:        algorithm,
		Size:             bits,
		PublicKey:        publicPEM,
		PrivateKey:       privatePEM,
		PublicKeyOpenSSH: authorized,
		SSHFingerprint:   sshFP,
		Fingerprint:      digest.Short(),
		Digest:           digest,
	}, nil
}

// MarshalPrivateKeyPEM encodes a private key as PKCS#8 PEM.
func MarshalPrivateKeyPEM(key crypto.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// MarshalPublicKeyPEM encodes a public key as PKIX PEM.
func MarshalPublicKeyPEM(pub crypto.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func curveForSize(size int) (elliptic.Curve, error) {
	switch size {
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	case 521:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("%w: EC key size must be 256, 384 or 521, got %d", ErrInvalidParameter, size)
	}
}
