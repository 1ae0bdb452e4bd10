package gedauth

import (
	"errors"
	"net/http"

	"github.com/ged-ministere/gedauth/crypto"
)

// Configuration errors.
var (
	ErrInvalidSecretLength  = errors.New("gedauth: secrets must be exactly 32 bytes")
	ErrSecretsNotDistinct   = errors.New("gedauth: access and refresh token secrets must differ")
	ErrSecretsRequired      = errors.New("gedauth: secrets are required (use WithSecrets)")
	ErrAccountStoreRequired = errors.New("gedauth: account store is required (use WithAccountStore)")
)

// Authentication errors - these are safe to show to users.
var (
	ErrInvalidCredentials      = errors.New("invalid email or password")
	ErrAccountLocked           = errors.New("account is locked due to too many failed attempts")
	ErrAccountInactive         = errors.New("account is not active")
	ErrAccountNotFound         = errors.New("account not found")
	ErrEmailAlreadyExists      = errors.New("email already registered")
	ErrInvalidEmail            = errors.New("invalid email address")
	ErrWeakPassword            = errors.New("password must be at least 8 characters and contain an uppercase letter, a lowercase letter and a digit")
	ErrPasswordUnchanged       = errors.New("new password must differ from the current password")
	ErrInvalidPendingChallenge = errors.New("invalid or expired verification challenge")
	ErrInvalidMFACode          = errors.New("invalid verification code")
	ErrMFAAlreadyEnabled       = errors.New("two-factor authentication is already enabled")
	ErrMFANotEnabled           = errors.New("two-factor authentication is not enabled")
	ErrMFASetupExpired         = errors.New("no pending two-factor setup, start again")
	ErrTokenRevoked            = errors.New("token has been revoked")
	ErrTokenFamilyReuse        = errors.New("refresh token reuse detected")
	ErrMissingToken            = errors.New("missing or invalid authorization header")
)

// Token verification errors, shared with the crypto package so callers can
// match them without importing it.
var (
	ErrTokenExpired     = crypto.ErrTokenExpired
	ErrTokenMalformed   = crypto.ErrTokenMalformed
	ErrTokenNotYetValid = crypto.ErrTokenNotYetValid
)

// Internal errors - these should be logged but not shown to users.
var (
	ErrInternal                   = errors.New("internal server error")
	ErrRevocationStoreUnavailable = errors.New("revocation store unavailable")
	ErrEncryptionError            = errors.New("encryption error")
)

// AuthError wraps an error with additional context for API responses.
type AuthError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`
	// Message is a human-readable error message safe for users
	Message string `json:"message"`
	// Status is the HTTP status the error maps to
	Status int `json:"-"`
	// Internal is the underlying error (not included in JSON)
	Internal error `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Internal != nil {
		return e.Internal.Error()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Internal
}

// Error codes for API responses.
const (
	CodeInvalidCredentials      = "INVALID_CREDENTIALS"
	CodeAccountLocked           = "ACCOUNT_LOCKED"
	CodeAccountInactive         = "ACCOUNT_INACTIVE"
	CodeAccountNotFound         = "ACCOUNT_NOT_FOUND"
	CodeEmailExists             = "EMAIL_EXISTS"
	CodeInvalidEmail            = "INVALID_EMAIL"
	CodeWeakPassword            = "WEAK_PASSWORD"
	CodePasswordUnchanged       = "PASSWORD_UNCHANGED"
	CodeInvalidPendingChallenge = "INVALID_PENDING_CHALLENGE"
	CodeInvalidMFACode          = "INVALID_MFA_CODE"
	CodeMFAAlreadyEnabled       = "MFA_ALREADY_ENABLED"
	CodeMFANotEnabled           = "MFA_NOT_ENABLED"
	CodeMFASetupExpired         = "MFA_SETUP_EXPIRED"
	CodeSessionExpired          = "SESSION_EXPIRED"
	CodeSuspiciousActivity      = "SUSPICIOUS_ACTIVITY"
	CodeAuthUnavailable         = "AUTH_UNAVAILABLE"
	CodeForbidden               = "FORBIDDEN"
	CodeInternalError           = "INTERNAL_ERROR"
	CodeBadRequest              = "BAD_REQUEST"
)

const sessionExpiredMessage = "session expired, please sign in again"

// newAuthError creates a new AuthError.
func newAuthError(status int, code string, message string, internal error) *AuthError {
	return &AuthError{
		Code:     code,
		Message:  message,
		Status:   status,
		Internal: internal,
	}
}

type errorMapping struct {
	err     error
	status  int
	code    string
	message string
}

// Order matters: the first match wins.
var errorMappings = []errorMapping{
	{ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials, ""},
	{ErrAccountLocked, http.StatusForbidden, CodeAccountLocked, ""},
	{ErrAccountInactive, http.StatusForbidden, CodeAccountInactive, ""},
	{ErrAccountNotFound, http.StatusNotFound, CodeAccountNotFound, ""},
	{ErrEmailAlreadyExists, http.StatusConflict, CodeEmailExists, ""},
	{ErrInvalidEmail, http.StatusBadRequest, CodeInvalidEmail, ""},
	{ErrWeakPassword, http.StatusBadRequest, CodeWeakPassword, ""},
	{ErrPasswordUnchanged, http.StatusBadRequest, CodePasswordUnchanged, ""},
	{ErrInvalidPendingChallenge, http.StatusUnauthorized, CodeInvalidPendingChallenge, ""},
	{ErrInvalidMFACode, http.StatusUnauthorized, CodeInvalidMFACode, ""},
	{ErrMFAAlreadyEnabled, http.StatusConflict, CodeMFAAlreadyEnabled, ""},
	{ErrMFANotEnabled, http.StatusConflict, CodeMFANotEnabled, ""},
	{ErrMFASetupExpired, http.StatusBadRequest, CodeMFASetupExpired, ""},
	{ErrTokenFamilyReuse, http.StatusUnauthorized, CodeSuspiciousActivity, "suspicious activity detected, please sign in again"},
	{ErrRevocationStoreUnavailable, http.StatusServiceUnavailable, CodeAuthUnavailable, "authentication temporarily unavailable"},
	{ErrTokenRevoked, http.StatusUnauthorized, CodeSessionExpired, sessionExpiredMessage},
	{ErrTokenExpired, http.StatusUnauthorized, CodeSessionExpired, sessionExpiredMessage},
	{ErrTokenMalformed, http.StatusUnauthorized, CodeSessionExpired, sessionExpiredMessage},
	{ErrTokenNotYetValid, http.StatusUnauthorized, CodeSessionExpired, sessionExpiredMessage},
	{ErrMissingToken, http.StatusUnauthorized, CodeSessionExpired, ""},
}

// toAuthError maps any error returned by the service to an AuthError.
// Unknown errors become INTERNAL_ERROR and never leak their message.
func toAuthError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			msg := m.message
			if msg == "" {
				msg = m.err.Error()
			}
			return newAuthError(m.status, m.code, msg, err)
		}
	}
	return newAuthError(http.StatusInternalServerError, CodeInternalError, "internal error", err)
}
