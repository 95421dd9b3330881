package auth

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northwind-digital/agency/internal/identity"
	"github.com/northwind-digital/agency/internal/shared"
)

func TestSignUpQueuesConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.service.SignUp(ctx, SignUpInput{Email: "  Ada@Example.COM ", Password: "longenough", Username: "ada"})
	require.NoError(t, err)
	assert.True(t, res.PendingVerification)
	assert.NotEmpty(t, res.UserID)

	mail := f.mail.last()
	assert.Equal(t, "ada@example.com", mail.to)
	link, err := url.Parse(mail.link)
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/confirm", link.Path)
	assert.NotEmpty(t, link.Query().Get("token"))
}

func TestSignUpRejectsDuplicateAndInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addUser(t, "ada@example.com", "longenough", true)

	_, err := f.service.SignUp(ctx, SignUpInput{Email: "ADA@example.com", Password: "longenough", Username: "ada"})
	assert.ErrorIs(t, err, shared.ErrDuplicate)

	_, err = f.service.SignUp(ctx, SignUpInput{Email: "not-an-email", Password: "longenough", Username: "x"})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "email")

	_, err = f.service.SignUp(ctx, SignUpInput{Email: "b@example.com", Password: "short", Username: "x"})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.Contains(t, err.Error(), "at least 8")
}

func TestSignInRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.SignUp(ctx, SignUpInput{Email: "ada@example.com", Password: "longenough", Username: "ada"})
	require.NoError(t, err)

	_, err = f.service.SignIn(ctx, SignInInput{Email: "ada@example.com", Password: "longenough"})
	assert.ErrorIs(t, err, shared.ErrEmailNotConfirmed)

	link, err := url.Parse(f.mail.last().link)
	require.NoError(t, err)
	user, err := f.service.Confirm(ctx, link.Query().Get("token"))
	require.NoError(t, err)
	assert.True(t, user.Confirmed())

	_, err = f.service.Confirm(ctx, link.Query().Get("token"))
	assert.ErrorIs(t, err, shared.ErrNotFound)

	sess, err := f.service.SignIn(ctx, SignInInput{Email: "ada@example.com", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, sess.User.ID)
	assert.NotEmpty(t, sess.AccessToken)
	assert.WithinDuration(t, f.clock.Now().Add(time.Hour), sess.ExpiresAt, time.Second)
}

func TestSignInInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addUser(t, "ada@example.com", "longenough", true)

	_, err := f.service.SignIn(ctx, SignInInput{Email: "ada@example.com", Password: "wrongpass"})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = f.service.SignIn(ctx, SignInInput{Email: "nobody@example.com", Password: "longenough"})
	assert.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestRefreshRotatesWithinFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addUser(t, "ada@example.com", "longenough", true)

	first, err := f.service.SignIn(ctx, SignInInput{Email: "ada@example.com", Password: "longenough"})
	require.NoError(t, err)
	_, rec, err := f.service.Session(ctx, first.AccessToken)
	require.NoError(t, err)

	sub, err := f.store.Subscribe(ctx, rec.FamilyID)
	require.NoError(t, err)
	defer sub.Close()

	second, err := f.service.Refresh(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, first.User, second.User)

	_, _, err = f.service.Session(ctx, first.AccessToken)
	assert.ErrorIs(t, err, shared.ErrSessionExpired)
	_, rec2, err := f.service.Session(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, rec.FamilyID, rec2.FamilyID)

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, string(identity.EventTokenRefreshed))
		assert.Contains(t, msg.Payload, second.AccessToken)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh event published")
	}
}

func TestSignOutRevokesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addUser(t, "ada@example.com", "longenough", true)

	sess, err := f.service.SignIn(ctx, SignInInput{Email: "ada@example.com", Password: "longenough"})
	require.NoError(t, err)
	_, rec, err := f.service.Session(ctx, sess.AccessToken)
	require.NoError(t, err)
	sub, err := f.store.Subscribe(ctx, rec.FamilyID)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, f.service.SignOut(ctx, sess.AccessToken))
	_, err = f.service.Authenticate(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, shared.ErrSessionExpired)

	select {
	case msg := <-sub.Channel():
		assert.JSONEq(t, `{"kind":"signed_out"}`, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no sign out event published")
	}

	assert.NoError(t, f.service.SignOut(ctx, sess.AccessToken), "second sign out is a no-op")
}

func TestSessionExpiresWithClock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.addUser(t, "ada@example.com", "longenough", true)

	sess, err := f.service.SignIn(ctx, SignInInput{Email: "ada@example.com", Password: "longenough"})
	require.NoError(t, err)

	principal, err := f.service.Authenticate(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", principal.Email)

	f.clock.Step(time.Hour)
	_, err = f.service.Authenticate(ctx, sess.AccessToken)
	assert.ErrorIs(t, err, shared.ErrSessionExpired)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", NormalizeEmail("  ADA@Example.com\n"))
}
