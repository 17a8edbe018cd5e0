package vault_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/adamscao/vaultdash/internal/credential"
	"github.com/adamscao/vaultdash/internal/issuance"
	"github.com/adamscao/vaultdash/internal/vault"
	"github.com/adamscao/vaultdash/internal/vault/vaulttest"
)

func newClient(t *testing.T) (*vault.Client, *vaulttest.Server) {
	t.Helper()
	srv := vaulttest.New(t)
	return vault.NewClient(vault.Options{Addr: srv.URL, Timeout: 5 * time.Second, RetryMax: 1}), srv
}

func TestKV_WriteReadList(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	kv := c.KV(srv.Token("alice"), "secret")
	ctx := context.Background()

	doc := map[string]any{"material": "-----BEGIN PUBLIC KEY-----", "kind": "public_key"}
	for _, p := range []string{"pem-files/a", "pem-files/b", "pem-files/web/c"} {
		if err := kv.Write(ctx, p, doc); err != nil {
			t.Fatalf("Write(%s): %v", p, err)
		}
	}

	got, err := kv.Read(ctx, "pem-files/a")
	if err != nil {
		t.Fatal(err)
	}
	if got["kind"] != "public_key" {
		t.Errorf("read back %v", got)
	}

	keys, err := kv.List(ctx, "pem-files")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(keys, ",") != "a,b,web/" {
		t.Errorf("keys = %v", keys)
	}

	empty, err := kv.List(ctx, "nothing-here")
	if err != nil || len(empty) != 0 {
		t.Errorf("empty prefix: %v, %v", empty, err)
	}

	if err := kv.Delete(ctx, "pem-files/a"); err != nil {
		t.Fatal(err)
	}
	if _, err := kv.Read(ctx, "pem-files/a"); !errors.Is(err, credential.ErrNotFound) {
		t.Errorf("read after delete: %v", err)
	}
}

func TestKV_WriteFailure(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	srv.SetFailWrites(true)

	err := c.KV(srv.Token("alice"), "secret").Write(context.Background(), "x", map[string]any{"a": "b"})
	if !errors.Is(err, credential.ErrStoreUnavailable) {
		t.Errorf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestKV_PermissionDenied(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t)
	_, err := c.KV("bogus", "secret").Read(context.Background(), "x")
	if !errors.Is(err, vault.ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestPKI_Issue(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	pki := c.PKI(srv.Token("alice"), "pki")

	issued, err := pki.Issue(context.Background(), vaulttest.Role, "app.example.com", 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if credential.Classify(issued.Certificate) != credential.KindCertificate {
		t.Error("certificate is not PEM")
	}
	if !credential.Classify(issued.PrivateKey).IsPrivate() {
		t.Error("private key is not PEM")
	}
	if issued.SerialNumber == "" || issued.Expiration.IsZero() {
		t.Errorf("serial=%q expiration=%v", issued.SerialNumber, issued.Expiration)
	}
	if d := time.Until(issued.Expiration); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("expiration in %v", d)
	}
	if issued.TTLSeconds != 24*3600 {
		t.Errorf("TTLSeconds = %d", issued.TTLSeconds)
	}

	ca, err := pki.CAPEM(context.Background())
	if err != nil || string(ca) != srv.CAPEM() {
		t.Errorf("CAPEM = %.30q, %v", ca, err)
	}
}

func TestPKI_IssueReportsCappedTTL(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	srv.SetMaxTTL(720 * time.Hour)

	issued, err := c.PKI(srv.Token("alice"), "pki").Issue(context.Background(), vaulttest.Role, "app.example.com", 8760*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if got := time.Duration(issued.TTLSeconds) * time.Second; got < 719*time.Hour || got > 720*time.Hour {
		t.Errorf("TTLSeconds = %d (%v), want about 720h", issued.TTLSeconds, got)
	}
}

func TestEffectiveTTL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		requested time.Duration
		remaining time.Duration
		want      int64
	}{
		{"granted", time.Hour, time.Hour - 700*time.Millisecond, 3600},
		{"capped", 8760 * time.Hour, 720*time.Hour - time.Second, 720*3600 - 1},
		{"no request", 0, 2 * time.Hour, 7200},
		{"already expired", time.Hour, -time.Second, 0},
	}
	for _, tt := range tests {
		if got := vault.EffectiveTTL(tt.requested, tt.remaining); got != tt.want {
			t.Errorf("%s: effectiveTTL = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestPKI_IssueFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		role    string
		cn      string
		status  int
		want    error
		wantMsg string
	}{
		{"unknown role", "nope", "app.example.com", 0, issuance.ErrCARejected, "unknown role"},
		{"disallowed name", vaulttest.Role, "*.example.com", 0, issuance.ErrCARejected, "not allowed"},
		{"server error", vaulttest.Role, "app.example.com", http.StatusInternalServerError, issuance.ErrCAUnavailable, ""},
		{"sealed", vaulttest.Role, "app.example.com", http.StatusServiceUnavailable, issuance.ErrCAUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, srv := newClient(t)
			srv.SetIssueStatus(tt.status)

			_, err := c.PKI(srv.Token("alice"), "pki").Issue(context.Background(), tt.role, tt.cn, time.Hour)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err = %v, want it to mention %q", err, tt.wantMsg)
			}
			if srv.IssueCalls() != 1 {
				t.Errorf("issue calls = %d, want exactly 1", srv.IssueCalls())
			}
		})
	}
}

func TestPKI_Unreachable(t *testing.T) {
	t.Parallel()

	c := vault.NewClient(vault.Options{Addr: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := c.PKI("t", "pki").Issue(context.Background(), vaulttest.Role, "a.example.com", time.Hour)
	if !errors.Is(err, issuance.ErrCAUnavailable) {
		t.Errorf("err = %v, want ErrCAUnavailable", err)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	srv.AddUser("alice", "wonderland")
	ctx := context.Background()

	auth, err := c.Login(ctx, "alice", "wonderland")
	if err != nil {
		t.Fatal(err)
	}
	if auth.Token == "" || auth.LeaseDuration != 3600 {
		t.Errorf("auth = %+v", auth)
	}

	if _, err := c.Login(ctx, "alice", "wrong"); !errors.Is(err, vault.ErrLoginFailed) {
		t.Errorf("bad password: %v", err)
	}

	if err := c.RevokeSelf(ctx, auth.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := c.KV(auth.Token, "secret").List(ctx, ""); !errors.Is(err, vault.ErrPermissionDenied) {
		t.Errorf("revoked token still works: %v", err)
	}
}

func TestKVMounts(t *testing.T) {
	t.Parallel()

	c, srv := newClient(t)
	srv.AddMount("team")

	mounts, err := c.KVMounts(context.Background(), srv.Token("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if len(mounts) != 2 || mounts[0].Path != "secret" || mounts[1].Path != "team" {
		t.Errorf("mounts = %+v", mounts)
	}
	if mounts[0].Description != "No description" {
		t.Errorf("description = %q", mounts[0].Description)
	}
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"secret", "data", "pem-files/web"}, "secret/data/pem-files/web"},
		{[]string{"secret/", "/data/", ""}, "secret/data"},
		{[]string{"kv", "a b/c?d"}, "kv/a%20b/c%3Fd"},
	}
	for _, tt := range tests {
		if got := vault.JoinPath(tt.parts...); got != tt.want {
			t.Errorf("JoinPath(%q) = %q, want %q", tt.parts, got, tt.want)
		}
	}
}
