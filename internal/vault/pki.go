package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adamscao/vaultdash/internal/issuance"
)

// PKI is a PKI secrets engine mount bound to one caller's token. It
// implements issuance.Authority.
type PKI struct {
	client *Client
	token  string
	mount  string
}

var _ issuance.Authority = (*PKI)(nil)

// PKI binds the PKI mount to token.
func (c *Client) PKI(token, mount string) *PKI {
	return &PKI{client: c, token: token, mount: mount}
}

type issueResponse struct {
	Data struct {
		Certificate    string   `json:"certificate"`
		PrivateKey     string   `json:"private_key"`
		PrivateKeyType string   `json:"private_key_type"`
		SerialNumber   string   `json:"serial_number"`
		IssuingCA      string   `json:"issuing_ca"`
		CAChain        []string `json:"ca_chain"`
		Expiration     int64    `json:"expiration"`
	} `json:"data"`
}

// Issue asks the CA for a certificate. The request is sent exactly once.
func (p *PKI) Issue(ctx context.Context, role, commonName string, ttl time.Duration) (*issuance.IssuedCertificate, error) {
	body := map[string]any{"common_name": commonName}
	if ttl > 0 {
		body["ttl"] = fmt.Sprintf("%ds", int64(ttl/time.Second))
	}

	resp, err := p.client.Do(ctx, http.MethodPost, JoinPath(p.mount, "issue", role), p.token, body)
	if err != nil {
		var re *ResponseError
		if errors.As(err, &re) && re.Status >= 400 && re.Status < 500 {
			return nil, &issuance.RejectedError{Status: re.Status, Reasons: re.Errors}
		}
		return nil, fmt.Errorf("%w: %w", issuance.ErrCAUnavailable, err)
	}

	var out issueResponse
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", issuance.ErrCAUnavailable, err)
	}

	issued := &issuance.IssuedCertificate{
		Certificate:  out.Data.Certificate,
		PrivateKey:   out.Data.PrivateKey,
		SerialNumber: out.Data.SerialNumber,
		CommonName:   commonName,
		IssuingCA:    out.Data.IssuingCA,
		CAChain:      out.Data.CAChain,
		TTLSeconds:   int64(ttl / time.Second),
	}
	if out.Data.Expiration > 0 {
		issued.Expiration = time.Unix(out.Data.Expiration, 0).UTC()
		issued.TTLSeconds = effectiveTTL(ttl, time.Until(issued.Expiration))
	}
	return issued, nil
}

// ttlSlack absorbs second-precision expirations and the round trip.
const ttlSlack = time.Minute

// effectiveTTL reports the lifetime the CA actually granted. The requested
// TTL stands unless the certificate expires noticeably sooner, which means
// the role capped it.
func effectiveTTL(requested, remaining time.Duration) int64 {
	if requested > 0 && remaining > requested-ttlSlack {
		return int64(requested / time.Second)
	}
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Round(time.Second) / time.Second)
}

// CAPEM returns the CA certificate of the mount in PEM form.
func (p *PKI) CAPEM(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Do(ctx, http.MethodGet, JoinPath(p.mount, "ca", "pem"), p.token, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
