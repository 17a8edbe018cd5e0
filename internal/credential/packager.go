package credential

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"
)

// payloadFields is the resolution order for a record's payload. Only
// "material" is written today; the rest are read for records produced by
// the upload, key pair and issuance flows of earlier dashboard versions.
var payloadFields = []string{
	FieldMaterial,
	legacyContent,
	FieldPrivateKey,
	legacyCertificate,
	legacyPEM,
	legacyKey,
}

// Pack builds a record from raw material. Kind, size and fingerprint are
// derived from the bytes; provenance is stamped from prov.
func Pack(material []byte, filename, description string, prov Provenance) (*Record, error) {
	if len(bytes.TrimSpace(material)) == 0 {
		return nil, ErrEmptyMaterial
	}

	at := prov.At
	if at.IsZero() {
		at = time.Now()
	}

	digest := DigestOf(material)
	return &Record{
		Material:          bytes.Clone(material),
		Kind:              Classify(string(material)),
		Filename:          filename,
		Size:              len(material),
		Fingerprint:       digest.Short(),
		FingerprintSHA256: digest.Hex(),
		Description:       description,
		Actor:             prov.Actor,
		CreatedAt:         at.UTC(),
	}, nil
}

// PackKeyPair builds the record retained for a generated key pair. Only the
// public half is persisted; the private key is returned to the caller once.
func PackKeyPair(kp *KeyPair, filename, description string, prov Provenance) (*Record, error) {
	r, err := Pack([]byte(kp.PublicKey), filename, description, prov)
	if err != nil {
		return nil, err
	}
	r.Algorithm = kp.Algorithm
	r.KeySize = kp.Size
	return r, nil
}

// Unpack resolves the payload and filename of a stored document. The first
// non-empty payload field wins.
func Unpack(doc map[string]any) ([]byte, string, error) {
	filename := stringField(doc, FieldFilename)

	for _, field := range payloadFields {
		v, ok := doc[field].(string)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if field == FieldMaterial && stringField(doc, FieldMaterialEncoding) == materialEncodingBase64 {
			raw, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, "", fmt.Errorf("%w: material is not valid base64: %w", ErrEmptyMaterial, err)
			}
			return raw, filename, nil
		}
		return []byte(v), filename, nil
	}

	return nil, "", ErrEmptyMaterial
}

// DownloadName returns filename, or a name synthesized from the record path.
func DownloadName(recordPath, filename string) string {
	if filename != "" {
		return path.Base(filename)
	}
	base := path.Base(strings.TrimSuffix(recordPath, "/"))
	if base == "." || base == "/" || base == "" {
		base = "credential"
	}
	if path.Ext(base) == "" {
		base += ".pem"
	}
	return base
}
