package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/northwind-digital/agency/internal/platform/db"
	"github.com/northwind-digital/agency/internal/roles"
	"github.com/northwind-digital/agency/internal/shared"
)

// EnsureAdministrator grants the administrator role to the confirmed account
// with email. It reports whether a new assignment was written.
func EnsureAdministrator(ctx context.Context, conn db.TxBeginner, email string) (bool, error) {
	email = NormalizeEmail(email)
	var granted bool
	err := db.WithTx(ctx, conn, func(tx pgx.Tx) error {
		var userID string
		err := tx.QueryRow(ctx, `SELECT id::text FROM users WHERE email = $1 AND confirmed_at IS NOT NULL FOR UPDATE`, email).Scan(&userID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return err
		}
		tag, err := tx.Exec(ctx, `INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT (user_id, role) DO NOTHING`, userID, roles.Administrator)
		if err != nil {
			return err
		}
		granted = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("auth: ensure administrator %s: %w", email, err)
	}
	return granted, nil
}
