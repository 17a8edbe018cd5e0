// Package vaulttest runs an in-memory stand-in for the Vault endpoints the
// dashboard uses: userpass login, KV v2, the PKI issue endpoint and a few sys
// paths.
package vaulttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// Role is the only PKI role the fake CA accepts.
const Role = "dev-role"

// Server is a fake Vault. The zero value is not usable; call New.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[string]string
	tokens      map[string]string
	kv          map[string]map[string]map[string]any
	failWrites  bool
	issueStatus int
	issueCalls  int
	maxTTL      time.Duration

	caCert *x509.Certificate
	caKey  *ecdsa.PrivateKey
	caPEM  string
}

// New starts a fake Vault with one KV v2 mount named "secret" and a PKI
// mount named "pki". It is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		users:  map[string]string{},
		tokens: map[string]string{},
		kv:     map[string]map[string]map[string]any{"secret": {}},
	}
	if err := s.initCA(); err != nil {
		t.Fatalf("vaulttest: %v", err)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddUser registers a userpass login.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// Token mints a token for username without a login round trip.
func (s *Server) Token(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(username)
}

// AddMount adds another KV v2 mount.
func (s *Server) AddMount(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kv[name]; !ok {
		s.kv[name] = map[string]map[string]any{}
	}
}

// SetFailWrites makes every KV write answer 500.
func (s *Server) SetFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

// SetIssueStatus forces the PKI issue endpoint to answer status. Zero
// restores normal behaviour.
func (s *Server) SetIssueStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issueStatus = status
}

// SetMaxTTL caps the lifetime of issued certificates the way a role's
// max_ttl does. Zero removes the cap.
func (s *Server) SetMaxTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxTTL = d
}

// IssueCalls reports how many issue requests reached the fake CA.
func (s *Server) IssueCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueCalls
}

// Document returns a copy of the stored document at mount/path.
func (s *Server) Document(mount, path string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.kv[mount][strings.Trim(path, "/")]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out, true
}

// Put stores doc at mount/path directly.
func (s *Server) Put(mount, path string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv[mount] == nil {
		s.kv[mount] = map[string]map[string]any{}
	}
	s.kv[mount][strings.Trim(path, "/")] = doc
}

// CAPEM returns the fake CA certificate.
func (s *Server) CAPEM() string {
	return s.caPEM
}

func (s *Server) mintLocked(username string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%d", username, len(s.tokens), time.Now().UnixNano())))
	token := "hvs." + hex.EncodeToString(sum[:12])
	s.tokens[token] = username
	return token
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/"), "/")
	method := r.Method
	if method == http.MethodGet && r.URL.Query().Get("list") == "true" {
		method = "LIST"
	}

	if user, ok := strings.CutPrefix(path, "auth/userpass/login/"); ok && method == http.MethodPost {
		s.login(w, r, user)
		return
	}

	s.mu.Lock()
	_, authed := s.tokens[r.Header.Get("X-Vault-Token")]
	s.mu.Unlock()
	if !authed {
		writeErrors(w, http.StatusForbidden, "permission denied")
		return
	}

	switch {
	case path == "auth/token/revoke-self" && method == http.MethodPost:
		s.mu.Lock()
		delete(s.tokens, r.Header.Get("X-Vault-Token"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case path == "sys/mounts" && method == http.MethodGet:
		s.mounts(w)
	case path == "sys/audit" && method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
	case path == "pki/ca/pem" && method == http.MethodGet:
		w.Header().Set("Content-Type", "application/pem-certificate-chain")
		_, _ = w.Write([]byte(s.caPEM))
	case strings.HasPrefix(path, "pki/issue/") && method == http.MethodPost:
		s.issue(w, r, strings.TrimPrefix(path, "pki/issue/"))
	default:
		s.kvRequest(w, r, method, path)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request, user string) {
	var body struct {
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()
	want, ok := s.users[user]
	if !ok || want != body.Password {
		writeErrors(w, http.StatusBadRequest, "invalid username or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"client_token":   s.mintLocked(user),
			"policies":       []string{"default", "dashboard"},
			"lease_duration": 3600,
		},
	})
}

func (s *Server) mounts(w http.ResponseWriter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data := map[string]any{
		"pki/":       map[string]any{"type": "pki", "description": "internal CA"},
		"cubbyhole/": map[string]any{"type": "cubbyhole", "description": "per-token private secret storage"},
	}
	for name := range s.kv {
		data[name+"/"] = map[string]any{
			"type":        "kv",
			"description": "",
			"options":     map[string]string{"version": "2"},
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) kvRequest(w http.ResponseWriter, r *http.Request, method, path string) {
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		writeErrors(w, http.StatusNotFound, "no handler for route")
		return
	}
	mount, section := parts[0], parts[1]
	key := ""
	if len(parts) == 3 {
		key = strings.Trim(parts[2], "/")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	store, ok := s.kv[mount]
	if !ok {
		writeErrors(w, http.StatusNotFound, "no handler for route")
		return
	}

	switch {
	case section == "data" && method == http.MethodGet:
		doc, ok := store[key]
		if !ok {
			writeErrors(w, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"data": doc, "metadata": map[string]any{"version": 1}},
		})
	case section == "data" && (method == http.MethodPost || method == http.MethodPut):
		if s.failWrites {
			writeErrors(w, http.StatusInternalServerError, "storage backend failure")
			return
		}
		var body struct {
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Data == nil {
			writeErrors(w, http.StatusBadRequest, "no data provided")
			return
		}
		store[key] = body.Data
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"version": 1}})
	case section == "metadata" && method == "LIST":
		keys := listKeys(store, key)
		if len(keys) == 0 {
			writeErrors(w, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"keys": keys}})
	case section == "metadata" && method == http.MethodDelete:
		delete(store, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErrors(w, http.StatusMethodNotAllowed, "unsupported operation")
	}
}

func listKeys(store map[string]map[string]any, prefix string) []string {
	if prefix != "" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var keys []string
	for path := range store {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			continue
		}
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i+1]
		}
		if !seen[rest] {
			seen[rest] = true
			keys = append(keys, rest)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, role string) {
	var body struct {
		CommonName string `json:"common_name"`
		TTL        string `json:"ttl"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	s.issueCalls++
	status := s.issueStatus
	maxTTL := s.maxTTL
	s.mu.Unlock()

	if status != 0 {
		writeErrors(w, status, fmt.Sprintf("forced status %d", status))
		return
	}
	if role != Role {
		writeErrors(w, http.StatusBadRequest, fmt.Sprintf("unknown role: %s", role))
		return
	}
	if body.CommonName == "" || strings.HasPrefix(body.CommonName, "*") {
		writeErrors(w, http.StatusBadRequest, fmt.Sprintf("common name %s not allowed by this role", body.CommonName))
		return
	}

	ttl := 72 * time.Hour
	if body.TTL != "" {
		d, err := time.ParseDuration(body.TTL)
		if err != nil {
			writeErrors(w, http.StatusBadRequest, "invalid ttl")
			return
		}
		ttl = d
	}
	if maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}

	certPEM, keyPEM, leaf, err := s.sign(body.CommonName, ttl)
	if err != nil {
		writeErrors(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"certificate":      certPEM,
			"private_key":      keyPEM,
			"private_key_type": "ec",
			"serial_number":    colonHex(leaf.SerialNumber.Bytes()),
			"issuing_ca":       s.caPEM,
			"ca_chain":         []string{s.caPEM},
			"expiration":       leaf.NotAfter.Unix(),
		},
	})
}

func (s *Server) initCA() error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "vaulttest root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}
	s.caCert = cert
	s.caKey = key
	s.caPEM = strings.TrimSpace(string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})))
	return nil
}

func (s *Server) sign(commonName string, ttl time.Duration) (string, string, *x509.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return "", "", nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     []string{commonName},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(ttl),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, s.caCert, &key.PublicKey, s.caKey)
	if err != nil {
		return "", "", nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return "", "", nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", "", nil, err
	}
	certPEM := strings.TrimSpace(string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})))
	keyPEM := strings.TrimSpace(string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})))
	return certPEM, keyPEM, leaf, nil
}

func colonHex(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, ":")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrors(w http.ResponseWriter, status int, msgs ...string) {
	if msgs == nil {
		msgs = []string{}
	}
	writeJSON(w, status, map[string]any{"errors": msgs})
}
