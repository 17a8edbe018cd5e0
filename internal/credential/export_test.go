package credential

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/smallstep/pkcs7"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

func issuedRecord(t *testing.T) *Record {
	t.Helper()

	certPEM, keyPEM := selfSigned(t, "export.example.com", time.Now().Add(time.Hour))
	r, err := Pack([]byte(certPEM), "", "", Provenance{Actor: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	r.PrivateKey = keyPEM
	return r
}

func TestExportRecord_PEM(t *testing.T) {
	t.Parallel()

	r := issuedRecord(t)
	out, err := ExportRecord(r, "certificates/export.example.com", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Data, r.Material) {
		t.Error("PEM export altered the material")
	}
	if out.Filename != "export.example.com" {
		t.Errorf("Filename = %q", out.Filename)
	}
}

func TestExportRecord_PKCS7(t *testing.T) {
	t.Parallel()

	r := issuedRecord(t)
	out, err := ExportRecord(r, "pem/web", FormatPKCS7, "")
	if err != nil {
		t.Fatal(err)
	}
	p7, err := pkcs7.Parse(out.Data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p7.Certificates) != 1 || p7.Certificates[0].Subject.CommonName != "export.example.com" {
		t.Errorf("certificates = %v", p7.Certificates)
	}
	if out.Filename != "web.p7b" {
		t.Errorf("Filename = %q", out.Filename)
	}
}

func TestExportRecord_PKCS12(t *testing.T) {
	t.Parallel()

	r := issuedRecord(t)
	out, err := ExportRecord(r, "pem/web", FormatPKCS12, "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	key, leaf, _, err := gopkcs12.DecodeChain(out.Data, "s3cret")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if key == nil || leaf.Subject.CommonName != "export.example.com" {
		t.Errorf("key=%T leaf=%v", key, leaf.Subject)
	}
}

func TestExportRecord_PKCS12TrustStore(t *testing.T) {
	t.Parallel()

	r := issuedRecord(t)
	r.PrivateKey = ""
	out, err := ExportRecord(r, "pem/ca", FormatPKCS12, "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	certs, err := gopkcs12.DecodeTrustStore(out.Data, "s3cret")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(certs) != 1 {
		t.Errorf("got %d certificates", len(certs))
	}
}

func TestExportRecord_JKS(t *testing.T) {
	t.Parallel()

	r := issuedRecord(t)
	out, err := ExportRecord(r, "pem/web", FormatJKS, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	ks := keystore.New()
	if err := ks.Load(bytes.NewReader(out.Data), []byte("changeit")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ks.IsPrivateKeyEntry("server") {
		t.Errorf("aliases = %v", ks.Aliases())
	}
}

func TestExportRecord_Errors(t *testing.T) {
	t.Parallel()

	pub, err := Pack([]byte("-----BEGIN PUBLIC KEY-----\nMIIB\n-----END PUBLIC KEY-----\n"), "", "", Provenance{})
	if err != nil {
		t.Fatal(err)
	}
	cert := issuedRecord(t)

	tests := []struct {
		name     string
		r        *Record
		format   string
		password string
		want     error
	}{
		{"p7b of public key", pub, FormatPKCS7, "", ErrExportUnsupported},
		{"p12 without password", cert, FormatPKCS12, "", ErrInvalidParameter},
		{"jks without password", cert, FormatJKS, "", ErrInvalidParameter},
		{"unknown format", cert, "der", "", ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ExportRecord(tt.r, "pem/x", tt.format, tt.password); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
