package httpx

import (
	"errors"
	"net/http"

	"github.com/dpm-admin/dpm-api/internal/shared"
)

// Error codes carried in the envelope's error_code field.
const (
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeRateLimit      = "RATE_LIMIT_ERROR"
	CodeInternal       = "INTERNAL_ERROR"
	CodeValidation     = "VALIDATION_ERROR"
	CodeBusinessLogic  = "BUSINESS_LOGIC_ERROR"
	CodeDuplicate      = "DUPLICATE_RESOURCE"
	CodeNotFound       = "NOT_FOUND"
	CodeNotImplemented = "NOT_IMPLEMENTED"
)

// ErrBadRequest marks an undecodable request body.
var ErrBadRequest = errors.New("bad request")

// RespondError maps domain errors to envelope responses.
func RespondError(w http.ResponseWriter, err error) {
	var verr *shared.ValidationError
	var rerr *shared.RuleError
	switch {
	case errors.As(err, &verr):
		var details map[string]string
		if verr.Field != "" {
			details = map[string]string{"field": verr.Field}
		}
		Error(w, http.StatusBadRequest, CodeValidation, verr.Message, details)
	case errors.Is(err, ErrBadRequest):
		Error(w, http.StatusBadRequest, CodeValidation, "request body is not valid JSON", nil)
	case errors.Is(err, shared.ErrValidation):
		Error(w, http.StatusBadRequest, CodeValidation, "validation failed", nil)
	case errors.Is(err, shared.ErrInvalidCredentials):
		Error(w, http.StatusUnauthorized, CodeAuthentication, "invalid credentials", nil)
	case errors.Is(err, shared.ErrNotFound):
		Error(w, http.StatusNotFound, CodeNotFound, "resource not found", nil)
	case errors.Is(err, shared.ErrConflict):
		Error(w, http.StatusConflict, CodeDuplicate, "resource already exists with these values", nil)
	case errors.As(err, &rerr):
		Error(w, http.StatusUnprocessableEntity, CodeBusinessLogic, rerr.Message, nil)
	case errors.Is(err, shared.ErrBackendUnavailable):
		Error(w, http.StatusServiceUnavailable, CodeInternal, "service temporarily unavailable", nil)
	default:
		Error(w, http.StatusInternalServerError, CodeInternal, "unexpected error", nil)
	}
}
