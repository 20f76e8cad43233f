package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var (
	errUnauthorized          = domainError(http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
	errInvalidJSON           = domainError(http.StatusBadRequest, "invalid_json", "Request body must be a JSON object", nil)
	errNoFields              = domainError(http.StatusBadRequest, "no_fields", "No updatable fields supplied", nil)
	errInvalidStatus         = domainError(http.StatusBadRequest, "invalid_status", "Status must be draft or deleted", nil)
	errNotFound              = domainError(http.StatusNotFound, "not_found", "Draft not found", nil)
	errVersionConflict       = domainError(http.StatusConflict, "version_conflict", "Draft was changed by another request", nil)
	errEmailPasswordRequired = domainError(http.StatusBadRequest, "email_password_required", "Email and password are required", nil)
	errPasswordTooShort      = domainError(http.StatusBadRequest, "password_too_short", "Password must be at least 8 characters", nil)
	errInvalidEmail          = domainError(http.StatusBadRequest, "invalid_email", "Email address is invalid", nil)
	errEmailTaken            = domainError(http.StatusBadRequest, "email_taken", "Email already registered", nil)
	errInvalidCredentials    = domainError(http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
	errGoogleNotConfigured   = domainError(http.StatusInternalServerError, "google_not_configured", "Google sign-in is not configured", nil)
	errMissingCodeOrState    = domainError(http.StatusBadRequest, "missing_code_or_state", "Missing code or state", nil)
	errInvalidState          = domainError(http.StatusBadRequest, "invalid_state", "Sign-in link expired or was tampered with", nil)
	errGoogleEmailMissing    = domainError(http.StatusBadRequest, "google_email_missing", "Google account has no email address", nil)
	errUpgradeRequired       = domainError(http.StatusUpgradeRequired, "upgrade_required", "Expected a WebSocket upgrade", nil)
	errDBUnavailable         = domainError(http.StatusServiceUnavailable, "db_unavailable", "Database unavailable", nil)
)
