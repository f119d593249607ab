// Package common defines shared constants and sentinel errors used across
// the storage, service and transport layers. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("insufficient permissions")

	// Credential errors. The message is identical for an unknown user and a
	// wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")

	// Second factor errors.
	ErrInvalidTwoFactorCode    = errors.New("invalid 2FA token")
	ErrTwoFactorAlreadyEnabled = errors.New("2FA is already enabled")
	ErrTwoFactorNotConfigured  = errors.New("2FA setup not initiated")
	ErrTwoFactorNotEnabled     = errors.New("2FA is not enabled")
	ErrNoPendingChallenge      = errors.New("no pending 2FA challenge")

	// Password reset errors.
	ErrInvalidOrExpiredResetToken = errors.New("invalid or expired reset token")

	// Profile errors.
	ErrIncorrectCurrentPassword = errors.New("current password is incorrect")
	ErrInvalidRole              = errors.New("invalid role")
	ErrInvalidEmail             = errors.New("invalid email address")
	ErrInvalidUsername          = errors.New("invalid username")
)
