package rbac

import (
	"context"
	"fmt"

	"github.com/northwind-digital/agency/internal/datastore"
	"github.com/northwind-digital/agency/internal/roles"
	"github.com/northwind-digital/agency/internal/shared"
)

// Service evaluates the table policy against role assignments in the store.
type Service struct {
	store  datastore.Store
	policy Policy
}

// NewService constructs a Service. A nil policy means DefaultPolicy.
func NewService(store datastore.Store, policy Policy) *Service {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Service{store: store, policy: policy}
}

// HasRole reports whether the principal holds role.
func (s *Service) HasRole(ctx context.Context, p *shared.Principal, role string) (bool, error) {
	if p == nil {
		return false, nil
	}
	return roles.Lookup(ctx, s.store, p.UserID, role)
}

// Authorize checks action on table for the principal and returns the query
// to run. For owner-scoped reads by non-administrators the owner filter is
// forced onto the query, replacing any caller supplied filter on that column.
func (s *Service) Authorize(ctx context.Context, p *shared.Principal, table string, action Action, q datastore.Query) (datastore.Query, error) {
	rule, ok := s.policy[table]
	if !ok {
		rule = Rule{}
	}
	switch rule.access(action) {
	case AccessPublic:
		return q, nil
	case AccessOwner:
		if p == nil {
			return q, ErrUnauthenticated
		}
		admin, err := s.HasRole(ctx, p, roles.Administrator)
		if err != nil {
			return q, fmt.Errorf("rbac: authorize %s %s: %w", action, table, err)
		}
		if admin {
			return q, nil
		}
		return scopeToOwner(q, rule.OwnerColumn, p.UserID), nil
	default:
		if p == nil {
			return q, ErrUnauthenticated
		}
		admin, err := s.HasRole(ctx, p, roles.Administrator)
		if err != nil {
			return q, fmt.Errorf("rbac: authorize %s %s: %w", action, table, err)
		}
		if !admin {
			return q, ErrForbidden
		}
		return q, nil
	}
}

func scopeToOwner(q datastore.Query, column, userID string) datastore.Query {
	filters := make([]datastore.Filter, 0, len(q.Filters)+1)
	for _, f := range q.Filters {
		if f.Column != column {
			filters = append(filters, f)
		}
	}
	q.Filters = append(filters, datastore.Filter{Column: column, Value: userID})
	return q
}
