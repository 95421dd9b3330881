package roles

import (
	"context"
	"fmt"

	"github.com/northwind-digital/agency/internal/datastore"
)

// Lookup reports whether userID holds role. It issues one filtered read
// against the role assignment table; no matching row is a successful false.
// An empty userID answers false without touching the store.
func Lookup(ctx context.Context, store datastore.Store, userID, role string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	q := datastore.Eq(ColumnUserID, userID).Where(ColumnRole, role).WithLimit(1)
	rows, err := store.Select(ctx, datastore.TableUserRoles, q)
	if err != nil {
		return false, fmt.Errorf("roles: lookup %s: %w", role, err)
	}
	return len(rows) > 0, nil
}

// IsAdministrator is Lookup for the Administrator role.
func IsAdministrator(ctx context.Context, store datastore.Store, userID string) (bool, error) {
	return Lookup(ctx, store, userID, Administrator)
}

// Grant inserts an assignment.
func Grant(ctx context.Context, store datastore.Store, a Assignment) error {
	if _, err := store.Insert(ctx, datastore.TableUserRoles, a.Row()); err != nil {
		return fmt.Errorf("roles: grant: %w", err)
	}
	return nil
}
