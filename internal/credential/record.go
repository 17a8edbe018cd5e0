package credential

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"time"
	"unicode/utf8"
)

// Document field names as stored in the secret backend.
const (
	FieldMaterial          = "material"
	FieldMaterialEncoding  = "material_encoding"
	FieldKind              = "kind"
	FieldFilename          = "filename"
	FieldSize              = "size"
	FieldFingerprint       = "fingerprint"
	FieldFingerprintSHA256 = "fingerprint_sha256"
	FieldDescription       = "description"
	FieldActor             = "actor"
	FieldCreatedAt         = "created_at"
	FieldAlgorithm         = "algorithm"
	FieldKeySize           = "key_size"
	FieldPrivateKey        = "private_key"
	FieldSerialNumber      = "serial_number"
	FieldCommonName        = "common_name"
	FieldRole              = "role"
	FieldTTL               = "ttl"
)

// Legacy field names written by older producers.
const (
	legacyContent     = "content"
	legacyCertificate = "certificate"
	legacyPEM         = "pem"
	legacyKey         = "key"
)

// materialEncodingBase64 marks material that was not valid UTF-8 on upload.
const materialEncodingBase64 = "base64"

// Provenance identifies who produced a record and when. It always comes from
// the authenticated session, never from the request body.
type Provenance struct {
	Actor string
	At    time.Time
}

// Record is one persisted piece of credential material plus its metadata.
// Material is the single authoritative payload.
type Record struct {
	Material          []byte
	Kind              Kind
	Filename          string
	Size              int
	Fingerprint       string
	FingerprintSHA256 string
	Description       string
	Actor             string
	CreatedAt         time.Time

	// Key pair path
	Algorithm string
	KeySize   int

	// Issuance path
	PrivateKey   string
	SerialNumber string
	CommonName   string
	Role         string
	TTLSeconds   int64
}

// Document flattens the record into the key/value document the secret store
// persists. Empty optional fields are omitted.
func (r *Record) Document() map[string]any {
	doc := map[string]any{
		FieldKind:              string(r.Kind),
		FieldSize:              r.Size,
		FieldFingerprint:       r.Fingerprint,
		FieldFingerprintSHA256: r.FingerprintSHA256,
		FieldActor:             r.Actor,
		FieldCreatedAt:         r.CreatedAt.UTC().Format(time.RFC3339),
	}

	if utf8.Valid(r.Material) {
		doc[FieldMaterial] = string(r.Material)
	} else {
		doc[FieldMaterial] = base64.StdEncoding.EncodeToString(r.Material)
		doc[FieldMaterialEncoding] = materialEncodingBase64
	}

	setString(doc, FieldFilename, r.Filename)
	setString(doc, FieldDescription, r.Description)
	setString(doc, FieldAlgorithm, r.Algorithm)
	if r.KeySize > 0 {
		doc[FieldKeySize] = r.KeySize
	}
	setString(doc, FieldPrivateKey, r.PrivateKey)
	setString(doc, FieldSerialNumber, r.SerialNumber)
	setString(doc, FieldCommonName, r.CommonName)
	setString(doc, FieldRole, r.Role)
	if r.TTLSeconds > 0 {
		doc[FieldTTL] = r.TTLSeconds
	}

	return doc
}

// RecordFromDocument rebuilds a record from a stored document, including
// documents written by legacy producers. Kind, size and fingerprint are
// recomputed from the resolved material rather than trusted.
func RecordFromDocument(doc map[string]any) (*Record, error) {
	material, filename, err := Unpack(doc)
	if err != nil {
		return nil, err
	}

	digest := DigestOf(material)
	r := &Record{
		Material:          material,
		Kind:              Classify(string(material)),
		Filename:          filename,
		Size:              len(material),
		Fingerprint:       digest.Short(),
		FingerprintSHA256: digest.Hex(),
		Description:       stringField(doc, FieldDescription),
		Actor:             firstString(doc, FieldActor, "uploaded_by", "generated_by"),
		Algorithm:         stringField(doc, FieldAlgorithm),
		KeySize:           int(intField(doc, FieldKeySize)),
		SerialNumber:      firstString(doc, FieldSerialNumber, "serial"),
		CommonName:        firstString(doc, FieldCommonName, "domain"),
		Role:              stringField(doc, FieldRole),
		TTLSeconds:        intField(doc, FieldTTL),
	}

	// The private key is a secondary field only when the certificate is the
	// payload; otherwise it already is the material.
	if r.Kind == KindCertificate {
		r.PrivateKey = stringField(doc, FieldPrivateKey)
	}

	// Legacy producers hashed differently; show what they recorded.
	if stored := stringField(doc, FieldFingerprint); stored != "" && stored != r.Fingerprint {
		r.Fingerprint = stored
	}

	createdAt := firstString(doc, FieldCreatedAt, "uploaded_at", "generated_at", "issued_at")
	if createdAt != "" {
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
	}

	return r, nil
}

func setString(doc map[string]any, key, value string) {
	if value != "" {
		doc[key] = value
	}
}

func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := stringField(doc, k); v != "" {
			return v
		}
	}
	return ""
}

func intField(doc map[string]any, key string) int64 {
	switch v := doc[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
