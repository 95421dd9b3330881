package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/northwind-digital/agency/internal/shared"
)

// Repository defines persistence operations for accounts.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	Create(ctx context.Context, user *User) error
	ConfirmByToken(ctx context.Context, token string, at time.Time) (*User, error)
	TouchSignIn(ctx context.Context, id string, at time.Time) error
	DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error)
}

// DBTX is satisfied by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db DBTX
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(db DBTX) *PGRepository {
	return &PGRepository{db: db}
}

const userColumns = `id::text, email, username, password_hash, coalesce(confirmation_token, ''), confirmed_at, last_sign_in_at, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.ConfirmationToken, &u.ConfirmedAt, &u.LastSignInAt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// FindByEmail fetches a user by normalised email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("auth: find user by email: %w", err)
	}
	return user, err
}

// FindByID fetches a user by id.
func (r *PGRepository) FindByID(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("auth: find user by id: %w", err)
	}
	return user, err
}

// Create inserts a new user and fills its generated id and timestamp.
func (r *PGRepository) Create(ctx context.Context, user *User) error {
	var token any
	if user.ConfirmationToken != "" {
		token = user.ConfirmationToken
	}
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (email, username, password_hash, confirmation_token, confirmed_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id::text, created_at`,
		user.Email, user.Username, user.PasswordHash, token, user.ConfirmedAt,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return shared.ErrDuplicate
		}
		return fmt.Errorf("auth: create user: %w", err)
	}
	return nil
}

// ConfirmByToken marks the account owning token as confirmed and burns the token.
func (r *PGRepository) ConfirmByToken(ctx context.Context, token string, at time.Time) (*User, error) {
	user, err := scanUser(r.db.QueryRow(ctx,
		`UPDATE users SET confirmed_at = $2, confirmation_token = NULL
		 WHERE confirmation_token = $1 RETURNING `+userColumns, token, at.UTC()))
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("auth: confirm user: %w", err)
	}
	return user, err
}

// TouchSignIn records the last successful sign in.
func (r *PGRepository) TouchSignIn(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.Exec(ctx, `UPDATE users SET last_sign_in_at = $2 WHERE id = $1`, id, at.UTC()); err != nil {
		return fmt.Errorf("auth: touch sign in: %w", err)
	}
	return nil
}

// DeleteUnconfirmedBefore removes accounts that never verified their email.
func (r *PGRepository) DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM users WHERE confirmed_at IS NULL AND created_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("auth: prune unconfirmed: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
