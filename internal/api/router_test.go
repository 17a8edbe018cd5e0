package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/adamscao/vaultdash/internal/api"
	"github.com/adamscao/vaultdash/internal/auth"
	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/credential"
	"github.com/adamscao/vaultdash/internal/db"
	"github.com/adamscao/vaultdash/internal/db/repository"
	"github.com/adamscao/vaultdash/internal/logging"
	"github.com/adamscao/vaultdash/internal/models"
	"github.com/adamscao/vaultdash/internal/policy"
	"github.com/adamscao/vaultdash/internal/vault"
	"github.com/adamscao/vaultdash/internal/vault/vaulttest"
)

const testCertificate = `-----BEGIN CERTIFICATE-----
MIIBhTCCASugAwIBAgIUHbMGnpEUhPgeUKxSbAxLZZMTXlkwCgYIKoZIzj0EAwIw
FjEUMBIGA1UEAwwLZXhhbXBsZS5jb20wHhcNMjYwMTAxMDAwMDAwWhcNMzYwMTAx
MDAwMDAwWjAWMRQwEgYDVQQDDAtleGFtcGxlLmNvbTBZMBMGByqGSM49AgEGCCqG
SM49AwEHA0IABE3yUe7V0Rc3K4l1
-----END CERTIFICATE-----
`

type testEnv struct {
	t         *testing.T
	cfg       *config.Config
	vault     *vaulttest.Server
	handler   http.Handler
	users     *repository.UserRepository
	issuances *repository.IssuanceRepository
	audit     *repository.AuditRepository
	sealer    *auth.Sealer
	cookie    *http.Cookie
}

func newTestEnv(t *testing.T, tweak func(*config.Config)) *testEnv {
	t.Helper()

	srv := vaulttest.New(t)
	srv.AddUser("alice", "wonderland")

	cfg := config.Default()
	cfg.Vault.Addr = srv.URL
	cfg.Vault.RetryMax = 0
	cfg.Server.StaticDir = ""
	cfg.Encryption.Key = strings.Repeat("ab", 32)
	if tweak != nil {
		tweak(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	sealer, err := auth.NewSealer(cfg.EncryptionKey())
	if err != nil {
		t.Fatal(err)
	}

	logger := logging.New(io.Discard, "error", "text")
	users := repository.NewUserRepository(database.DB)
	issuances := repository.NewIssuanceRepository(database.DB)
	audit := repository.NewAuditRepository(database.DB)

	server := api.NewServer(cfg, api.Dependencies{
		Vault:     vault.NewClient(vault.Options{Addr: cfg.Vault.Addr, Timeout: 5 * time.Second, Logger: logger}),
		Generator: credential.NewGenerator(credential.GeneratorConfig{MaxConcurrent: 2}),
		Validator: policy.NewValidator(cfg, issuances, users),
		Users:     users,
		Sessions:  repository.NewSessionRepository(database.DB),
		Issuances: issuances,
		Audit:     audit,
		Sealer:    sealer,
		Logger:    logger,
	})

	return &testEnv{
		t:         t,
		cfg:       cfg,
		vault:     srv,
		handler:   server.Router(),
		users:     users,
		issuances: issuances,
		audit:     audit,
		sealer:    sealer,
	}
}

func (e *testEnv) do(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	e.t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.cookie != nil {
		req.AddCookie(e.cookie)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(method, path string, v any) *httptest.ResponseRecorder {
	e.t.Helper()

	b, err := json.Marshal(v)
	if err != nil {
		e.t.Fatal(err)
	}
	return e.do(method, path, "application/json", bytes.NewReader(b))
}

func (e *testEnv) login(username, password, code string) *httptest.ResponseRecorder {
	e.t.Helper()

	w := e.doJSON(http.MethodPost, "/api/login", map[string]string{
		"username": username, "password": password, "totp": code,
	})
	for _, c := range w.Result().Cookies() {
		if c.Name == e.cfg.Server.CookieName && c.Value != "" {
			e.cookie = c
		}
	}
	return w
}

func (e *testEnv) mustLogin() {
	e.t.Helper()
	if w := e.login("alice", "wonderland", ""); w.Code != http.StatusOK {
		e.t.Fatalf("login: %d %s", w.Code, w.Body)
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["status"] != "ok" {
		t.Errorf("health: %d %s", w.Code, w.Body)
	}
}

func TestLoginLogout(t *testing.T) {
	e := newTestEnv(t, nil)

	if w := e.do(http.MethodGet, "/api/user", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous /api/user = %d", w.Code)
	}
	if w := e.login("alice", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad password = %d", w.Code)
	}

	e.mustLogin()
	w := e.do(http.MethodGet, "/api/user", "", nil)
	if w.Code != http.StatusOK || decode(t, w)["username"] != "alice" {
		t.Fatalf("/api/user: %d %s", w.Code, w.Body)
	}

	if w := e.do(http.MethodPost, "/api/logout", "", nil); w.Code != http.StatusOK {
		t.Fatalf("logout = %d", w.Code)
	}
	if w := e.do(http.MethodGet, "/api/user", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("/api/user after logout = %d", w.Code)
	}

	events, err := e.audit.List("alice", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, ev := range events {
		actions = append(actions, ev.Action)
	}
	if got := strings.Join(actions, ","); got != "logout,login,login_failed" {
		t.Errorf("audit actions = %s", got)
	}
}

func TestLoginWithTOTP(t *testing.T) {
	e := newTestEnv(t, nil)

	enr, err := auth.GenerateTOTP("alice")
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := e.sealer.Seal(enr.Secret)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.users.Create(&models.User{Username: "alice", TOTPSecret: sealed, Enabled: true}); err != nil {
		t.Fatal(err)
	}

	w := e.login("alice", "wonderland", "")
	if w.Code != http.StatusUnauthorized || decode(t, w)["error"] != "invalid_totp" {
		t.Fatalf("login without code: %d %s", w.Code, w.Body)
	}

	code, err := totp.GenerateCodeCustom(enr.Secret, time.Now(), totp.ValidateOpts{
		Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if w := e.login("alice", "wonderland", code); w.Code != http.StatusOK {
		t.Fatalf("login with code: %d %s", w.Code, w.Body)
	}
}

func uploadBody(t *testing.T, filename string, content []byte, fields map[string]string) (string, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return mw.FormDataContentType(), &buf
}

func TestUploadAndDownload(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mustLogin()

	ct, body := uploadBody(t, "example.pem", []byte(testCertificate), map[string]string{
		"secretPath":  "certificates/example.com",
		"description": "example cert",
	})
	w := e.do(http.MethodPost, "/api/upload-pem", ct, body)
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body)
	}
	resp := decode(t, w)
	if resp["kind"] != "certificate" || resp["path"] != "certificates/example.com" {
		t.Errorf("upload response = %v", resp)
	}
	if resp["fingerprint"] != credential.Fingerprint([]byte(testCertificate)) {
		t.Errorf("fingerprint = %v", resp["fingerprint"])
	}

	doc, ok := e.vault.Document("secret", "certificates/example.com")
	if !ok {
		t.Fatal("record not stored")
	}
	if doc["material"] != testCertificate || doc["actor"] != "alice" {
		t.Errorf("stored record = %v", doc)
	}

	w = e.do(http.MethodGet, "/api/download-pem/secret/certificates/example.com", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("download: %d %s", w.Code, w.Body)
	}
	if w.Body.String() != testCertificate {
		t.Error("downloaded bytes differ from the upload")
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "example.pem") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	if w := e.do(http.MethodGet, "/api/download-pem/secret/certificates/missing", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing record = %d", w.Code)
	}
}

func TestUploadRejectsOversizeAndEmpty(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.Upload.MaxBytes = 128 })
	e.mustLogin()

	ct, body := uploadBody(t, "big.pem", bytes.Repeat([]byte("A"), 4096), nil)
	if w := e.do(http.MethodPost, "/api/upload-pem", ct, body); w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversize upload = %d %s", w.Code, w.Body)
	}

	ct, body = uploadBody(t, "empty.pem", []byte("  \n"), nil)
	if w := e.do(http.MethodPost, "/api/upload-pem", ct, body); w.Code != http.StatusBadRequest {
		t.Errorf("empty upload = %d %s", w.Code, w.Body)
	}
}

func TestGenerateKeyPair(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mustLogin()

	w := e.doJSON(http.MethodPost, "/api/generate-keypair", map[string]any{
		"algorithm": "rsa", "size": 2048, "path": "pem-files/test", "description": "test key",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", w.Code, w.Body)
	}
	resp := decode(t, w)
	pub, _ := resp["publicKey"].(string)
	priv, _ := resp["privateKey"].(string)
	if pub == "" || priv == "" {
		t.Fatalf("response = %v", resp)
	}

	doc, ok := e.vault.Document("secret", "pem-files/test")
	if !ok {
		t.Fatal("record not stored")
	}
	if doc["fingerprint"] != credential.Fingerprint([]byte(pub)) {
		t.Errorf("stored fingerprint %v does not match the public key", doc["fingerprint"])
	}
	for k, v := range doc {
		if s, ok := v.(string); ok && s == priv {
			t.Errorf("private key persisted under %q", k)
		}
	}
}

func TestGenerateKeyPair_LegacyFieldsAndBadSize(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mustLogin()

	w := e.doJSON(http.MethodPost, "/api/generate-keypair", map[string]any{
		"keyType": "ed25519", "secretPath": "pem-files/edge",
	})
	if w.Code != http.StatusOK || decode(t, w)["algorithm"] != "ed25519" {
		t.Fatalf("legacy fields: %d %s", w.Code, w.Body)
	}

	w = e.doJSON(http.MethodPost, "/api/generate-keypair", map[string]any{
		"algorithm": "rsa", "size": 512, "path": "pem-files/weak",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("rsa 512 = %d %s", w.Code, w.Body)
	}
	if _, ok := e.vault.Document("secret", "pem-files/weak"); ok {
		t.Error("rejected request persisted a record")
	}
}

func TestIssueCertificate(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mustLogin()

	w := e.doJSON(http.MethodPost, "/api/pki/issue", map[string]string{
		"role": vaulttest.Role, "common_name": "app.dev.example.com",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("issue: %d %s", w.Code, w.Body)
	}
	resp := decode(t, w)
	cert, _ := resp["certificate"].(string)
	if cert == "" || resp["private_key"] == "" || resp["serial_number"] == "" {
		t.Fatalf("response = %v", resp)
	}
	if resp["ttl"] != float64(720*3600) {
		t.Errorf("ttl = %v", resp["ttl"])
	}

	w = e.do(http.MethodGet, "/api/secret/secret/certificates/app.dev.example.com", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read back: %d %s", w.Code, w.Body)
	}
	var stored struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &stored); err != nil {
		t.Fatal(err)
	}
	if stored.Data.Data["material"] != cert {
		t.Error("stored certificate differs from the issued one")
	}

	recs, err := e.issuances.List("alice", 10)
	if err != nil || len(recs) != 1 || recs[0].CommonName != "app.dev.example.com" {
		t.Errorf("ledger = %v, %v", recs, err)
	}

	if w := e.do(http.MethodGet, "/api/pki/ca", "", nil); w.Code != http.StatusOK || w.Body.String() != e.vault.CAPEM() {
		t.Errorf("ca: %d", w.Code)
	}
}

func TestIssueCertificate_Failures(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.Policy.MaxCertsPerDay = 1 })
	e.mustLogin()

	w := e.doJSON(http.MethodPost, "/api/pki/issue", map[string]string{"role": vaulttest.Role})
	if w.Code != http.StatusBadRequest || e.vault.IssueCalls() != 0 {
		t.Fatalf("missing common name: %d, calls=%d", w.Code, e.vault.IssueCalls())
	}

	w = e.doJSON(http.MethodPost, "/api/pki/issue", map[string]string{"role": "nope", "common_name": "x.example.com"})
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "ca_rejected" {
		t.Fatalf("rejected: %d %s", w.Code, w.Body)
	}
	if _, ok := e.vault.Document("secret", "certificates/x.example.com"); ok {
		t.Error("rejected issuance persisted a record")
	}

	e.vault.SetFailWrites(true)
	w = e.doJSON(http.MethodPost, "/api/pki/issue", map[string]string{"role": vaulttest.Role, "common_name": "y.example.com"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("persist failure: %d %s", w.Code, w.Body)
	}
	e.vault.SetFailWrites(false)

	w = e.doJSON(http.MethodPost, "/api/pki/issue", map[string]string{"role": vaulttest.Role, "common_name": "z.example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("issue: %d %s", w.Code, w.Body)
	}
	calls := e.vault.IssueCalls()
	w = e.doJSON(http.MethodPost, "/api/pki/issue", map[string]string{"role": vaulttest.Role, "common_name": "w.example.com"})
	if w.Code != http.StatusTooManyRequests || e.vault.IssueCalls() != calls {
		t.Errorf("over daily limit: %d calls %d->%d", w.Code, calls, e.vault.IssueCalls())
	}
}

func TestIssueCertificate_TTLForms(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mustLogin()

	tests := []struct {
		name    string
		ttl     any
		want    int
		wantTTL float64
	}{
		{"json number of seconds", 3600, http.StatusOK, 3600},
		{"string of seconds", "7200", http.StatusOK, 7200},
		{"duration string", "48h", http.StatusOK, 48 * 3600},
		{"day suffix", "2d", http.StatusOK, 48 * 3600},
		{"fractional days", "1.5d", http.StatusBadRequest, 0},
		{"above maximum", "100000h", http.StatusBadRequest, 0},
	}
	for i, tt := range tests {
		calls := e.vault.IssueCalls()
		w := e.doJSON(http.MethodPost, "/api/pki/issue", map[string]any{
			"role": vaulttest.Role, "common_name": fmt.Sprintf("ttl%d.example.com", i), "ttl": tt.ttl,
		})
		if w.Code != tt.want {
			t.Errorf("%s: status %d %s", tt.name, w.Code, w.Body)
			continue
		}
		if tt.want != http.StatusOK {
			if e.vault.IssueCalls() != calls {
				t.Errorf("%s: CA called for a refused ttl", tt.name)
			}
			continue
		}
		if got := decode(t, w)["ttl"]; got != tt.wantTTL {
			t.Errorf("%s: ttl = %v, want %v", tt.name, got, tt.wantTTL)
		}
	}
}

func TestIssueCertificate_ReportsCappedTTL(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mustLogin()
	e.vault.SetMaxTTL(24 * time.Hour)

	w := e.doJSON(http.MethodPost, "/api/pki/issue", map[string]any{
		"role": vaulttest.Role, "common_name": "capped.example.com", "ttl": "720h",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("issue: %d %s", w.Code, w.Body)
	}
	ttl, _ := decode(t, w)["ttl"].(float64)
	if ttl < 23*3600 || ttl > 24*3600 {
		t.Errorf("ttl = %v, want about one day", ttl)
	}

	doc, ok := e.vault.Document("secret", "certificates/capped.example.com")
	if !ok {
		t.Fatal("record not persisted")
	}
	if stored, _ := doc["ttl"].(float64); stored != ttl {
		t.Errorf("stored ttl = %v, response ttl = %v", doc["ttl"], ttl)
	}

	recs, err := e.issuances.List("alice", 1)
	if err != nil || len(recs) != 1 || recs[0].TTLSeconds != int64(ttl) {
		t.Errorf("ledger = %v, %v", recs, err)
	}
}

func TestAuditIgnoresUntrustedForwardedFor(t *testing.T) {
	e := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"alice","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.66")
	req.Header.Set("X-Real-IP", "203.0.113.67")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("login = %d", w.Code)
	}

	events, err := e.audit.List("alice", models.ActionLoginFailed, 1)
	if err != nil || len(events) != 1 {
		t.Fatalf("events = %v, %v", events, err)
	}
	if events[0].ClientIP != "192.0.2.1" {
		t.Errorf("client ip = %q, want the connection address", events[0].ClientIP)
	}
}

func TestVerifyPEM(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mustLogin()

	w := e.do(http.MethodPost, "/api/verify-pem", "text/plain", strings.NewReader("-----BEGIN PUBLIC KEY-----\nbad\n-----END PUBLIC KEY-----\n"))
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body)
	}
	resp := decode(t, w)
	if resp["kind"] != "public_key" || resp["valid"] != false {
		t.Errorf("response = %v", resp)
	}
	if _, ok := resp["parsedDetails"].(map[string]any); !ok {
		t.Errorf("parsedDetails missing: %v", resp)
	}

	w = e.doJSON(http.MethodPost, "/api/verify-pem", map[string]string{"content": "hello"})
	if w.Code != http.StatusOK || decode(t, w)["kind"] != "unknown" {
		t.Errorf("json verify: %d %s", w.Code, w.Body)
	}

	if w := e.doJSON(http.MethodPost, "/api/verify-pem", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty verify = %d", w.Code)
	}
}

func TestSecretProxy(t *testing.T) {
	e := newTestEnv(t, nil)
	e.mustLogin()

	w := e.doJSON(http.MethodPost, "/api/secret/secret/app/config", map[string]string{"user": "svc"})
	if w.Code != http.StatusOK {
		t.Fatalf("write: %d %s", w.Code, w.Body)
	}

	w = e.do(http.MethodGet, "/api/list?mount=secret&prefix=app", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"config"`) {
		t.Fatalf("list: %d %s", w.Code, w.Body)
	}

	w = e.do(http.MethodGet, "/api/mounts", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"path":"secret"`) {
		t.Fatalf("mounts: %d %s", w.Code, w.Body)
	}

	w = e.do(http.MethodGet, "/api/stats", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d %s", w.Code, w.Body)
	}
	secrets, _ := decode(t, w)["secrets"].(map[string]any)
	if secrets["secret"] != float64(1) || secrets["team"] != float64(0) {
		t.Errorf("stats secrets = %v", secrets)
	}

	w = e.do(http.MethodDelete, "/api/secret/secret/app/config", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body)
	}
	if w := e.do(http.MethodGet, "/api/secret/secret/app/config", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("read after delete = %d", w.Code)
	}

	w = e.do(http.MethodGet, "/api/audit/events?action=secret_write", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("events: %d %s", w.Code, w.Body)
	}
	events, _ := decode(t, w)["events"].([]any)
	if len(events) != 1 {
		t.Errorf("events = %v", events)
	}
}
