package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/northwind-digital/agency/internal/identity"
	"github.com/northwind-digital/agency/internal/observability"
	"github.com/northwind-digital/agency/internal/shared"
)

// ConfirmationSender delivers the verification link of a new account.
type ConfirmationSender interface {
	SendConfirmation(ctx context.Context, to, username, link string) error
}

// ServiceConfig collects Service dependencies.
type ServiceConfig struct {
	Repo     Repository
	Sessions *SessionStore
	Mailer   ConfirmationSender
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	// PublicURL prefixes confirmation links.
	PublicURL string
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Service wraps account and session business rules.
type Service struct {
	repo      Repository
	sessions  *SessionStore
	mailer    ConfirmationSender
	metrics   *observability.Metrics
	logger    *slog.Logger
	publicURL string
	cost      int
	validate  *validator.Validate
}

// NewService constructs a new Service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		repo:      cfg.Repo,
		sessions:  cfg.Sessions,
		mailer:    cfg.Mailer,
		metrics:   cfg.Metrics,
		logger:    logger,
		publicURL: cfg.PublicURL,
		cost:      cost,
		validate:  validator.New(),
	}
}

// SignUpInput is the payload of a registration.
type SignUpInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Username string `json:"username" validate:"required,max=64"`
}

// SignInInput is the payload of a password sign in.
type SignInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignUp registers an unconfirmed account and queues its confirmation mail.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (identity.SignUpResult, error) {
	in.Email = NormalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		s.metrics.AuthEvent("sign_up", "validation")
		return identity.SignUpResult{}, fmt.Errorf("%w: %s", shared.ErrValidation, describeValidation(err))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return identity.SignUpResult{}, fmt.Errorf("auth: hash password: %w", err)
	}
	token, err := newToken()
	if err != nil {
		return identity.SignUpResult{}, err
	}
	user := &User{
		Email:             in.Email,
		Username:          in.Username,
		PasswordHash:      string(hash),
		ConfirmationToken: token,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			s.metrics.AuthEvent("sign_up", "user_exists")
		}
		return identity.SignUpResult{}, err
	}
	if s.mailer != nil {
		if err := s.mailer.SendConfirmation(ctx, user.Email, user.Username, s.confirmationLink(token)); err != nil {
			s.logger.Warn("enqueue confirmation", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}
	s.metrics.AuthEvent("sign_up", "ok")
	return identity.SignUpResult{UserID: user.ID, PendingVerification: true}, nil
}

// Confirm verifies the account that owns token.
func (s *Service) Confirm(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, shared.ErrNotFound
	}
	user, err := s.repo.ConfirmByToken(ctx, token, s.sessions.clock.Now())
	if err != nil {
		return nil, err
	}
	s.metrics.AuthEvent("confirm", "ok")
	return user, nil
}

// SignIn checks credentials and opens a session.
func (s *Service) SignIn(ctx context.Context, in SignInInput) (*identity.Session, error) {
	in.Email = NormalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		s.metrics.AuthEvent("sign_in", "validation")
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, describeValidation(err))
	}
	user, err := s.repo.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.metrics.AuthEvent("sign_in", "invalid_credentials")
			return nil, shared.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		s.metrics.AuthEvent("sign_in", "invalid_credentials")
		return nil, shared.ErrInvalidCredentials
	}
	if !user.Confirmed() {
		s.metrics.AuthEvent("sign_in", "email_not_confirmed")
		return nil, shared.ErrEmailNotConfirmed
	}
	token, rec, err := s.sessions.Issue(ctx, user.Identity())
	if err != nil {
		return nil, err
	}
	if err := s.repo.TouchSignIn(ctx, user.ID, s.sessions.clock.Now()); err != nil {
		s.logger.Warn("touch sign in", slog.String("user_id", user.ID), slog.Any("error", err))
	}
	s.metrics.AuthEvent("sign_in", "ok")
	return rec.Session(token), nil
}

// Refresh rotates token and notifies the family.
func (s *Service) Refresh(ctx context.Context, token string) (*identity.Session, error) {
	next, rec, err := s.sessions.Rotate(ctx, token)
	if err != nil {
		s.metrics.AuthEvent("refresh", outcome(err))
		return nil, err
	}
	sess := rec.Session(next)
	if err := s.sessions.Publish(ctx, rec.FamilyID, identity.Event{Kind: identity.EventTokenRefreshed, Session: sess}); err != nil {
		s.logger.Warn("publish refresh", slog.Any("error", err))
	}
	s.metrics.AuthEvent("refresh", "ok")
	return sess, nil
}

// SignOut revokes token and notifies the family. Signing out an unknown
// token succeeds.
func (s *Service) SignOut(ctx context.Context, token string) error {
	rec, err := s.sessions.Revoke(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrSessionExpired) {
			return nil
		}
		return err
	}
	if err := s.sessions.Publish(ctx, rec.FamilyID, identity.Event{Kind: identity.EventSignedOut}); err != nil {
		s.logger.Warn("publish sign out", slog.Any("error", err))
	}
	s.metrics.AuthEvent("sign_out", "ok")
	return nil
}

// Session resolves token into the session it represents.
func (s *Service) Session(ctx context.Context, token string) (*identity.Session, SessionRecord, error) {
	rec, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return nil, SessionRecord{}, err
	}
	return rec.Session(token), rec, nil
}

// Authenticate turns a bearer token into a request principal.
func (s *Service) Authenticate(ctx context.Context, token string) (*shared.Principal, error) {
	rec, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	return &shared.Principal{UserID: rec.UserID, Email: rec.Email, Username: rec.Username, Token: token}, nil
}

func (s *Service) confirmationLink(token string) string {
	return s.publicURL + "/auth/v1/confirm?token=" + url.QueryEscape(token)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, shared.ErrSessionExpired):
		return "expired"
	default:
		return "error"
	}
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fieldName(fe.Field()))
	case "email":
		return "email must be a valid address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fieldName(fe.Field()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fieldName(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fieldName(fe.Field()))
	}
}

func fieldName(f string) string {
	switch f {
	case "Email":
		return "email"
	case "Password":
		return "password"
	case "Username":
		return "username"
	}
	return f
}
