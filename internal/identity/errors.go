package identity

import (
	"errors"
	"strings"
)

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindEmailNotConfirmed  ErrorKind = "email_not_confirmed"
	KindUserExists         ErrorKind = "user_exists"
	KindValidation         ErrorKind = "validation"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindUnavailable        ErrorKind = "unavailable"
)

// Error is a provider failure surfaced as a kind plus a human readable message.
type Error struct {
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// Is matches errors by kind so callers can compare against the sentinels below.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials, Message: "invalid login credentials"}
	ErrEmailNotConfirmed  = &Error{Kind: KindEmailNotConfirmed, Message: "email not confirmed"}
	ErrUserExists         = &Error{Kind: KindUserExists, Message: "user already registered"}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Message: "session missing or expired"}
)

// NewError builds an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// UserMessage maps provider errors to actionable text for the person at the
// keyboard. Unknown errors fall back to their own message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "Email or password was incorrect. Please try again."
	case errors.Is(err, ErrEmailNotConfirmed):
		return "Please verify your email before signing in."
	case errors.Is(err, ErrUserExists):
		return "This email is already registered. Please sign in instead."
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "Something went wrong. Please try again."
	}
	return msg
}
