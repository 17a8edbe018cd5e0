// Package policy decides where credentials may be stored and whether an
// actor may request another certificate.
package policy

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/adamscao/vaultdash/internal/config"
	"github.com/adamscao/vaultdash/internal/db/repository"
	"github.com/adamscao/vaultdash/internal/issuance"
	"github.com/adamscao/vaultdash/internal/models"
)

// Policy errors. Denials wrap issuance.ErrPolicyDenied; anything else
// returned by ValidateIssueRequest is an infrastructure failure.
var (
	ErrInvalidPath        = errors.New("invalid secret path")
	ErrUserDisabled       = fmt.Errorf("%w: user account is disabled", issuance.ErrPolicyDenied)
	ErrDailyLimitExceeded = fmt.Errorf("%w: daily certificate limit exceeded", issuance.ErrPolicyDenied)
	ErrTTLTooLong         = fmt.Errorf("%w: ttl exceeds the maximum", issuance.ErrInvalidRequest)
	ErrInvalidCommonName  = errors.New("invalid common name")
)

// IssuanceCounter counts an actor's recent issuances.
type IssuanceCounter interface {
	CountSince(actor string, since time.Time) (int, error)
}

// UserLookup finds local user settings.
type UserLookup interface {
	GetByUsername(username string) (*models.User, error)
}

// Validator validates credential placement and issuance requests against policy
type Validator struct {
	config    *config.Config
	issuances IssuanceCounter
	users     UserLookup
	now       func() time.Time
}

// NewValidator creates a new policy validator
func NewValidator(cfg *config.Config, issuances IssuanceCounter, users UserLookup) *Validator {
	return &Validator{
		config:    cfg,
		issuances: issuances,
		users:     users,
		now:       time.Now,
	}
}

// ValidateIssueRequest checks the actor's daily ceiling and returns the TTL
// to request from the CA.
func (v *Validator) ValidateIssueRequest(actor string, requestedTTL time.Duration) (time.Duration, error) {
	maxCerts := v.config.Policy.MaxCertsPerDay

	user, err := v.users.GetByUsername(actor)
	switch {
	case err == nil:
		if !user.Enabled {
			return 0, ErrUserDisabled
		}
		if user.MaxCertsPerDay > 0 {
			maxCerts = user.MaxCertsPerDay
		}
	case errors.Is(err, repository.ErrNotFound):
		// No local row: configured defaults apply.
	default:
		return 0, fmt.Errorf("failed to load user settings: %w", err)
	}

	now := v.now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	count, err := v.issuances.CountSince(actor, startOfDay)
	if err != nil {
		return 0, fmt.Errorf("failed to check daily limit: %w", err)
	}

	if count >= maxCerts {
		return 0, fmt.Errorf("%w (%d/%d)", ErrDailyLimitExceeded, count, maxCerts)
	}

	return v.resolveTTL(requestedTTL)
}

// resolveTTL applies the default to an absent TTL. A TTL above the maximum
// is refused, never shortened.
func (v *Validator) resolveTTL(requested time.Duration) (time.Duration, error) {
	if requested <= 0 {
		return v.config.GetDefaultTTL(), nil
	}
	if maxTTL := v.config.GetMaxTTL(); requested > maxTTL {
		return 0, fmt.Errorf("%w: requested %s, maximum %s", ErrTTLTooLong, requested, maxTTL)
	}
	return requested, nil
}

// CertificatePath returns the record path for an issued certificate.
// Re-issuing for the same common name overwrites the previous record.
func (v *Validator) CertificatePath(commonName string) (string, error) {
	cn := strings.TrimSpace(commonName)
	if cn == "" || strings.ContainsAny(cn, "/\\") || cn == "." || cn == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidCommonName, commonName)
	}
	return v.config.Policy.CertPrefix + cn, nil
}

// SecretPath cleans a caller supplied record path. An empty path falls back
// to the PEM prefix plus fallbackName.
func (v *Validator) SecretPath(requested, fallbackName string) (string, error) {
	p := strings.Trim(strings.TrimSpace(requested), "/")
	if p == "" || p+"/" == v.config.Policy.PEMPrefix {
		name := strings.Trim(path.Base(strings.TrimSpace(fallbackName)), "/")
		if name == "" || name == "." {
			return "", fmt.Errorf("%w: a path or file name is required", ErrInvalidPath)
		}
		name = strings.TrimSuffix(name, path.Ext(name))
		if name == "" {
			return "", fmt.Errorf("%w: a path or file name is required", ErrInvalidPath)
		}
		p = strings.TrimSuffix(v.config.Policy.PEMPrefix, "/") + "/" + name
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, requested)
		}
	}
	return p, nil
}
