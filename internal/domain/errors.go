package domain

import (
	"errors"
	"net/http"
)

// AuthError is a typed domain failure with a stable code and HTTP status.
// Instances below are sentinels: compare with errors.Is after wrapping.
type AuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *AuthError) Error() string {
	return e.Code + ": " + e.Description
}

var (
	ErrNotFound           = &AuthError{Code: "not_found", Description: "Resource not found.", Status: http.StatusNotFound}
	ErrUserNotFound       = &AuthError{Code: "user_not_found", Description: "User not found.", Status: http.StatusNotFound}
	ErrIdentityNotFound   = &AuthError{Code: "identity_not_found", Description: "Identity not found.", Status: http.StatusNotFound}
	ErrInvalidCredentials = &AuthError{Code: "invalid_credentials", Description: "Wrong identifier or password.", Status: http.StatusUnauthorized}
	ErrAccountBlocked     = &AuthError{Code: "account_blocked", Description: "Account temporarily blocked.", Status: http.StatusLocked}
	ErrTooManyAttempts    = &AuthError{Code: "too_many_attempts", Description: "Too many failed attempts.", Status: http.StatusTooManyRequests}
	ErrAlreadyExists      = &AuthError{Code: "already_exists", Description: "Account already exists.", Status: http.StatusConflict}
	ErrDuplicateIdentity  = &AuthError{Code: "duplicate_identity", Description: "Identity already registered.", Status: http.StatusConflict}
	ErrInvalidTokenVer    = &AuthError{Code: "invalid_token_version", Description: "Token version is stale.", Status: http.StatusUnauthorized}
	ErrTokenExpired       = &AuthError{Code: "token_expired", Description: "Access token expired.", Status: http.StatusUnauthorized}
	ErrTokenMalformed     = &AuthError{Code: "token_malformed", Description: "Access token malformed.", Status: http.StatusUnauthorized}
	ErrInvalidOtp         = &AuthError{Code: "invalid_otp", Description: "Wrong or expired code.", Status: http.StatusUnauthorized}
	ErrOtpProvider        = &AuthError{Code: "otp_provider_error", Description: "Verification provider unavailable.", Status: http.StatusBadGateway}
	ErrSessionMismatch    = &AuthError{Code: "session_mismatch", Description: "Session does not match this client.", Status: http.StatusUnauthorized}
	ErrSessionExpired     = &AuthError{Code: "session_expired", Description: "Session expired.", Status: http.StatusUnauthorized}
	ErrSessionRevoked     = &AuthError{Code: "session_revoked", Description: "Session revoked.", Status: http.StatusUnauthorized}
	ErrUserInactive       = &AuthError{Code: "user_inactive", Description: "Account is deactivated.", Status: http.StatusForbidden}
	ErrInternal           = &AuthError{Code: "internal_failure", Description: "Internal failure.", Status: http.StatusInternalServerError}
)

// AsAuthError unwraps err to its AuthError sentinel, falling back to
// ErrInternal for unrecognized causes so internals are never leaked.
func AsAuthError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	return ErrInternal
}
