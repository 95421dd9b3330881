package identity

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessageMapsKnownKinds(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{NewError(KindInvalidCredentials, "Invalid login credentials"), "Email or password was incorrect. Please try again."},
		{fmt.Errorf("sign in: %w", ErrEmailNotConfirmed), "Please verify your email before signing in."},
		{ErrUserExists, "This email is already registered. Please sign in instead."},
		{errors.New("dial tcp: connection refused"), "dial tcp: connection refused"},
		{nil, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, UserMessage(tc.err))
	}
}

func TestErrorIsComparesKind(t *testing.T) {
	err := NewError(KindUserExists, "duplicate")
	assert.ErrorIs(t, err, ErrUserExists)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
