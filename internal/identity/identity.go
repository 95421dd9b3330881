// Package identity defines the identity provider contract consumed by the
// session bootstrapper and implemented by the HTTP client in internal/client.
package identity

import (
	"context"
	"time"
)

// User describes an authenticated principal as reported by the provider.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// Session is the runtime proof that a user is signed in. AccessToken is owned
// by the provider and never inspected locally.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// EventKind enumerates session-change notifications.
type EventKind string

const (
	// EventSignedIn fires after a successful sign in.
	EventSignedIn EventKind = "signed_in"
	// EventSignedOut fires on explicit sign out or when the session expires.
	EventSignedOut EventKind = "signed_out"
	// EventTokenRefreshed fires when the provider rotates the access token.
	EventTokenRefreshed EventKind = "token_refreshed"
)

// Event is a single session-change notification. Session is nil for
// EventSignedOut.
type Event struct {
	Kind    EventKind `json:"kind"`
	Session *Session  `json:"session,omitempty"`
}

// Profile carries the optional fields collected at sign up.
type Profile struct {
	Username string `json:"username"`
}

// SignUpResult reports the state of a freshly created account.
type SignUpResult struct {
	UserID              string `json:"user_id"`
	PendingVerification bool   `json:"pending_verification"`
}

// Provider is the identity provider consumed by the application core.
type Provider interface {
	// CurrentSession returns the existing session or nil when nobody is signed in.
	CurrentSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers a long-lived listener. The returned function
	// removes it.
	OnSessionChange(fn func(Event)) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, profile Profile) (SignUpResult, error)
	SignOut(ctx context.Context) error
}
