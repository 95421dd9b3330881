// Package authstate holds the process-wide view of who is signed in and
// whether that user is an administrator.
//
// A Bootstrapper is the single writer of that view. It merges the identity
// provider's one-shot session query with its session-change stream, resolves
// the administrator role for each new user, and publishes immutable State
// values to any number of readers.
package authstate

import "github.com/northwind-digital/agency/internal/identity"

// Phase tells whether a session is known.
type Phase int

const (
	// PhaseLoading means neither the session query nor the change stream has
	// reported yet.
	PhaseLoading Phase = iota
	// PhaseSignedOut means there is confirmed to be no session.
	PhaseSignedOut
	// PhaseSignedIn means a session exists for State.Session.User.
	PhaseSignedIn
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseSignedOut:
		return "signed_out"
	case PhaseSignedIn:
		return "signed_in"
	}
	return "unknown"
}

// RoleStatus distinguishes a pending role lookup from a settled answer.
type RoleStatus int

const (
	RoleUnresolved RoleStatus = iota
	RoleResolved
)

func (r RoleStatus) String() string {
	if r == RoleResolved {
		return "resolved"
	}
	return "unresolved"
}

// State is one published snapshot. User, session and the administrator flag
// always change together in a single State.
type State struct {
	Phase   Phase
	Session *identity.Session
	Role    RoleStatus
	IsAdmin bool
	// Version increases by one with every published State.
	Version uint64
}

// User returns the signed-in user or nil.
func (s State) User() *identity.User {
	if s.Phase != PhaseSignedIn || s.Session == nil {
		return nil
	}
	u := s.Session.User
	return &u
}

// UserID returns the signed-in user's id or "".
func (s State) UserID() string {
	if u := s.User(); u != nil {
		return u.ID
	}
	return ""
}

// Settled reports whether no asynchronous check is outstanding.
func (s State) Settled() bool {
	switch s.Phase {
	case PhaseSignedOut:
		return true
	case PhaseSignedIn:
		return s.Role == RoleResolved
	}
	return false
}

func signedOutState() State {
	return State{Phase: PhaseSignedOut, Role: RoleResolved}
}
