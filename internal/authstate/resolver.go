package authstate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/northwind-digital/agency/internal/datastore"
	"github.com/northwind-digital/agency/internal/roles"
)

// Resolver answers whether a user holds the administrator role. It never
// fails: errors resolve to false.
type Resolver interface {
	Resolve(ctx context.Context, userID string) bool
}

// RoleResolver looks up role assignments in a data store.
type RoleResolver struct {
	store  datastore.Store
	role   string
	logger *slog.Logger
}

// NewRoleResolver constructs a RoleResolver for the administrator role.
func NewRoleResolver(store datastore.Store, logger *slog.Logger) *RoleResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleResolver{store: store, role: roles.Administrator, logger: logger}
}

// Resolve issues a single filtered read for userID. A failed lookup is logged
// and answers false; there is no retry.
func (r *RoleResolver) Resolve(ctx context.Context, userID string) bool {
	ok, err := roles.Lookup(ctx, r.store, userID, r.role)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("role lookup failed", slog.String("user_id", userID), slog.Any("error", err))
		}
		return false
	}
	return ok
}

var _ Resolver = (*RoleResolver)(nil)
