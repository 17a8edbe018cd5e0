package issuance

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest indicates a missing role or common name.
	ErrInvalidRequest = errors.New("invalid issuance request")

	// ErrCARejected indicates the CA refused the request.
	ErrCARejected = errors.New("certificate authority rejected the request")

	// ErrCAUnavailable indicates the CA could not be reached or failed internally.
	ErrCAUnavailable = errors.New("certificate authority unavailable")

	// ErrPolicyDenied indicates the request was refused locally before reaching the CA.
	ErrPolicyDenied = errors.New("issuance denied by policy")
)

// RejectedError carries the CA's own reasons for refusing a request.
type RejectedError struct {
	Status  int
	Reasons []string
}

func (e *RejectedError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("%s (status %d)", ErrCARejected, e.Status)
	}
	return fmt.Sprintf("%s (status %d): %s", ErrCARejected, e.Status, strings.Join(e.Reasons, "; "))
}

// Is reports whether target is ErrCARejected.
func (e *RejectedError) Is(target error) bool {
	return target == ErrCARejected
}
