package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotConfirmed indicates the account has not been verified yet.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrDuplicate indicates a unique constraint was hit.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrSessionExpired indicates the access token is unknown or expired.
	ErrSessionExpired = errors.New("session expired")
)
