// Package issuance drives certificate requests against the CA and persists
// what it returns.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adamscao/vaultdash/internal/credential"
	"github.com/adamscao/vaultdash/internal/models"
)

// Request is what the caller asks the CA for.
type Request struct {
	Role       string
	CommonName string
	TTL        time.Duration
}

// IssuedCertificate is what the CA returned for an accepted request.
type IssuedCertificate struct {
	Certificate  string
	PrivateKey   string
	SerialNumber string
	TTLSeconds   int64
	CommonName   string
	IssuingCA    string
	CAChain      []string
	Expiration   time.Time
}

// Result is a persisted issuance. It is the only place the private key is
// handed back to the caller.
type Result struct {
	*IssuedCertificate
	Path        string
	Fingerprint string
}

// Authority issues certificates. Refusals must be reported as *RejectedError;
// transport and server failures must wrap ErrCAUnavailable.
type Authority interface {
	Issue(ctx context.Context, role, commonName string, ttl time.Duration) (*IssuedCertificate, error)
}

// Policy gates requests before they reach the CA.
type Policy interface {
	ValidateIssueRequest(actor string, requestedTTL time.Duration) (time.Duration, error)
	CertificatePath(commonName string) (string, error)
}

// Ledger keeps the local record of issued certificates.
type Ledger interface {
	Create(rec *models.IssuanceRecord) error
}

// Orchestrator runs Requested -> Issued|Rejected -> Persisted.
type Orchestrator struct {
	ca     Authority
	policy Policy
	ledger Ledger
	mount  string
	logger *slog.Logger
	now    func() time.Time
}

// NewOrchestrator creates an orchestrator. mount is recorded in the ledger
// alongside the record path.
func NewOrchestrator(ca Authority, policy Policy, ledger Ledger, mount string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ca:     ca,
		policy: policy,
		ledger: ledger,
		mount:  mount,
		logger: logger,
		now:    time.Now,
	}
}

// Issue requests a certificate and persists it through store. The CA is
// called exactly once; a rejection leaves nothing behind.
func (o *Orchestrator) Issue(ctx context.Context, store credential.Store, req Request, prov credential.Provenance) (*Result, error) {
	role := strings.TrimSpace(req.Role)
	cn := strings.TrimSpace(req.CommonName)
	if role == "" || cn == "" {
		return nil, fmt.Errorf("%w: role and common_name are required", ErrInvalidRequest)
	}

	recordPath, err := o.policy.CertificatePath(cn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	ttl, err := o.policy.ValidateIssueRequest(prov.Actor, req.TTL)
	if err != nil {
		return nil, err
	}

	issued, err := o.ca.Issue(ctx, role, cn, ttl)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			o.logger.Info("certificate request rejected",
				"actor", prov.Actor, "role", role, "common_name", cn, "status", rejected.Status)
			return nil, err
		}
		if errors.Is(err, ErrCAUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrCAUnavailable, err)
	}
	if issued.CommonName == "" {
		issued.CommonName = cn
	}
	if issued.TTLSeconds == 0 {
		issued.TTLSeconds = int64(ttl / time.Second)
	}

	if prov.At.IsZero() {
		prov.At = o.now()
	}
	record, err := credential.Pack([]byte(issued.Certificate), "", "", prov)
	if err != nil {
		return nil, fmt.Errorf("%w: CA returned no certificate: %w", ErrCAUnavailable, err)
	}
	record.PrivateKey = issued.PrivateKey
	record.SerialNumber = issued.SerialNumber
	record.CommonName = issued.CommonName
	record.Role = role
	record.TTLSeconds = issued.TTLSeconds

	// Issued but not persisted is reported as a failure; the caller must not
	// believe the certificate is retrievable later.
	if err := credential.Save(ctx, store, recordPath, record); err != nil {
		o.logger.Error("issued certificate could not be persisted",
			"actor", prov.Actor, "path", recordPath, "serial", issued.SerialNumber, "error", err)
		return nil, fmt.Errorf("%w: %w", credential.ErrStoreUnavailable, err)
	}

	expires := issued.Expiration
	if expires.IsZero() {
		expires = prov.At.Add(time.Duration(issued.TTLSeconds) * time.Second)
	}
	if err := o.ledger.Create(&models.IssuanceRecord{
		Actor:        prov.Actor,
		Role:         role,
		CommonName:   issued.CommonName,
		SerialNumber: issued.SerialNumber,
		Fingerprint:  record.Fingerprint,
		Mount:        o.mount,
		Path:         recordPath,
		TTLSeconds:   issued.TTLSeconds,
		ExpiresAt:    expires,
		IssuedAt:     prov.At,
	}); err != nil {
		// The certificate is already stored; the ledger only feeds the daily
		// ceiling and the issued list.
		o.logger.Warn("failed to record issuance", "path", recordPath, "serial", issued.SerialNumber, "error", err)
	}

	o.logger.Info("certificate issued",
		"actor", prov.Actor, "role", role, "common_name", issued.CommonName,
		"serial", issued.SerialNumber, "path", recordPath)

	return &Result{
		IssuedCertificate: issued,
		Path:              recordPath,
		Fingerprint:       record.Fingerprint,
	}, nil
}
