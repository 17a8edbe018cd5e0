package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpIssuer = "vaultdash"
)

// Enrollment is a freshly generated TOTP secret and its provisioning URL.
type Enrollment struct {
	Secret string
	URL    string
}

// GenerateTOTP generates a new TOTP secret for username
func GenerateTOTP(username string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: username,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP secret: %w", err)
	}

	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ValidateTOTP validates a code against a secret, allowing one period of
// clock skew either way.
func ValidateTOTP(secret, code string) (bool, error) {
	return validateTOTPAt(secret, code, time.Now())
}

func validateTOTPAt(secret, code string, at time.Time) (bool, error) {
	valid, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// Malformed codes are a failed check, not a server error.
		if err == otp.ErrValidateInputInvalidLength {
			return false, nil
		}
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}
	return valid, nil
}
