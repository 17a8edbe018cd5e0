package credential

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/smallstep/pkcs7"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Export formats
const (
	FormatPEM    = "pem"
	FormatPKCS12 = "p12"
	FormatPKCS7  = "p7b"
	FormatJKS    = "jks"
)

// Export is a rendered download.
type Export struct {
	Data        []byte
	Filename    string
	ContentType string
}

// ExportRecord renders r in format. PEM returns the stored material exactly.
// The binary formats need certificates in the record; PKCS#12 and JKS include
// the private key when one is stored alongside the certificate and fall back
// to a trust store otherwise.
func ExportRecord(r *Record, recordPath, format, password string) (*Export, error) {
	name := DownloadName(recordPath, r.Filename)
	stem := strings.TrimSuffix(name, path.Ext(name))

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatPEM:
		return &Export{Data: r.Material, Filename: name, ContentType: "application/x-pem-file"}, nil

	case FormatPKCS7:
		certs, err := ParseCertificates(string(r.Material))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExportUnsupported, err)
		}
		var der []byte
		for _, c := range certs {
			der = append(der, c.Raw...)
		}
		data, err := pkcs7.DegenerateCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("encoding PKCS#7: %w", err)
		}
		return &Export{Data: data, Filename: stem + ".p7b", ContentType: "application/x-pkcs7-certificates"}, nil

	case FormatPKCS12:
		if password == "" {
			return nil, fmt.Errorf("%w: a password is required for PKCS#12 export", ErrInvalidParameter)
		}
		certs, key, err := bundleParts(r)
		if err != nil {
			return nil, err
		}
		var data []byte
		if key == nil {
			data, err = gopkcs12.Modern.EncodeTrustStore(certs, password)
		} else {
			data, err = gopkcs12.Modern.Encode(key, certs[0], certs[1:], password)
		}
		if err != nil {
			return nil, fmt.Errorf("encoding PKCS#12: %w", err)
		}
		return &Export{Data: data, Filename: stem + ".p12", ContentType: "application/x-pkcs12"}, nil

	case FormatJKS:
		if password == "" {
			return nil, fmt.Errorf("%w: a password is required for JKS export", ErrInvalidParameter)
		}
		certs, key, err := bundleParts(r)
		if err != nil {
			return nil, err
		}
		data, err := encodeJKS(key, certs, password)
		if err != nil {
			return nil, err
		}
		return &Export{Data: data, Filename: stem + ".jks", ContentType: "application/octet-stream"}, nil

	default:
		return nil, fmt.Errorf("%w: unknown export format %q", ErrInvalidParameter, format)
	}
}

// bundleParts collects the certificates and, if present, the private key of
// a record. The key may live in the material itself or in the private_key
// field written by the issuance path.
func bundleParts(r *Record) ([]*x509.Certificate, crypto.PrivateKey, error) {
	certs, err := ParseCertificates(string(r.Material))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrExportUnsupported, err)
	}

	keyText := r.PrivateKey
	if keyText == "" && strings.Contains(string(r.Material), "PRIVATE KEY") {
		keyText = string(r.Material)
	}
	if keyText == "" {
		return certs, nil, nil
	}

	key, err := ParsePrivateKey(keyText)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrExportUnsupported, err)
	}
	return certs, key, nil
}

func encodeJKS(key crypto.PrivateKey, certs []*x509.Certificate, password string) ([]byte, error) {
	ks := keystore.New()
	now := time.Now()

	if key != nil {
		pkcs8Key, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("marshaling private key to PKCS#8: %w", err)
		}
		chain := make([]keystore.Certificate, 0, len(certs))
		for _, c := range certs {
			chain = append(chain, keystore.Certificate{Type: "X.509", Content: c.Raw})
		}
		if err := ks.SetPrivateKeyEntry("server", keystore.PrivateKeyEntry{
			CreationTime:     now,
			PrivateKey:       pkcs8Key,
			CertificateChain: chain,
		}, []byte(password)); err != nil {
			return nil, fmt.Errorf("setting JKS private key entry: %w", err)
		}
	} else {
		for i, c := range certs {
			alias := fmt.Sprintf("cert-%d", i)
			if err := ks.SetTrustedCertificateEntry(alias, keystore.TrustedCertificateEntry{
				CreationTime: now,
				Certificate:  keystore.Certificate{Type: "X.509", Content: c.Raw},
			}); err != nil {
				return nil, fmt.Errorf("setting JKS trusted entry: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		return nil, fmt.Errorf("storing JKS: %w", err)
	}
	return buf.Bytes(), nil
}
