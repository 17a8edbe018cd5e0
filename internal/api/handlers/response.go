package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/vaultdash/internal/credential"
	"github.com/adamscao/vaultdash/internal/issuance"
	"github.com/adamscao/vaultdash/internal/policy"
	"github.com/adamscao/vaultdash/internal/vault"
)

// statusClientClosedRequest is reported when the caller went away first.
const statusClientClosedRequest = 499

// ErrorResponse represents an error response
type ErrorResponse struct {
	OK      bool        `json:"ok"`
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// RespondError sends an error response
func RespondError(c *gin.Context, statusCode int, errorCode string, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// RespondErrorWithDetails sends an error response with details
func RespondErrorWithDetails(c *gin.Context, statusCode int, errorCode string, message string, details interface{}) {
	c.JSON(statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
		Details: details,
	})
}

// RespondSuccess sends a success response
func RespondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// RespondFailure maps a domain error onto a status code and error body.
func RespondFailure(c *gin.Context, err error) {
	var rejected *issuance.RejectedError
	if errors.As(err, &rejected) {
		status := rejected.Status
		if status < 400 || status > 499 {
			status = http.StatusBadRequest
		}
		RespondErrorWithDetails(c, status, "ca_rejected", err.Error(), gin.H{"errors": rejected.Reasons})
		return
	}

	var vaultErr *vault.ResponseError
	switch {
	case errors.Is(err, policy.ErrDailyLimitExceeded):
		RespondError(c, http.StatusTooManyRequests, "rate_limited", err.Error())
	case errors.Is(err, issuance.ErrPolicyDenied):
		RespondError(c, http.StatusForbidden, "policy_violation", err.Error())
	case errors.Is(err, credential.ErrInvalidParameter),
		errors.Is(err, credential.ErrEmptyMaterial),
		errors.Is(err, credential.ErrUnclassifiable),
		errors.Is(err, credential.ErrExportUnsupported),
		errors.Is(err, issuance.ErrInvalidRequest),
		errors.Is(err, policy.ErrInvalidPath),
		errors.Is(err, policy.ErrInvalidCommonName):
		RespondError(c, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, credential.ErrNotFound), errors.Is(err, vault.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, vault.ErrPermissionDenied):
		RespondError(c, http.StatusForbidden, "permission_denied", err.Error())
	case errors.As(err, &vaultErr) && vaultErr.Status >= 400 && vaultErr.Status < 500:
		RespondError(c, vaultErr.Status, "vault_error", err.Error())
	case errors.Is(err, issuance.ErrCAUnavailable),
		errors.Is(err, credential.ErrStoreUnavailable),
		errors.Is(err, vault.ErrUnavailable):
		RespondError(c, http.StatusBadGateway, "backend_unavailable", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		RespondError(c, http.StatusGatewayTimeout, "timeout", "The request timed out")
	case errors.Is(err, context.Canceled):
		_ = c.Error(err)
		RespondError(c, statusClientClosedRequest, "canceled", "The request was canceled")
	default:
		// Internal details stay in the request log.
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}
