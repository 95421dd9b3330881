package auth

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/northwind-digital/agency/internal/identity"
)

// User represents a registered account.
type User struct {
	ID                string
	Email             string
	Username          string
	PasswordHash      string
	ConfirmationToken string
	ConfirmedAt       *time.Time
	LastSignInAt      *time.Time
	CreatedAt         time.Time
}

// Confirmed reports whether the account passed email verification.
func (u *User) Confirmed() bool {
	return u.ConfirmedAt != nil
}

// Identity returns the public view of the account.
func (u *User) Identity() identity.User {
	return identity.User{ID: u.ID, Email: u.Email, Username: u.Username}
}

// NormalizeEmail trims and case-folds an address so lookups are case insensitive.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}
