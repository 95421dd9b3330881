package rbac

import (
	"errors"

	"github.com/northwind-digital/agency/internal/datastore"
)

var (
	// ErrUnauthenticated indicates the operation needs a signed-in caller.
	ErrUnauthenticated = errors.New("rbac: sign in required")
	// ErrForbidden indicates the caller lacks the required role.
	ErrForbidden = errors.New("rbac: forbidden")
)

// Action is a store operation subject to policy.
type Action string

const (
	ActionRead   Action = "read"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Access describes who may perform an action.
type Access int

const (
	// AccessAdmin allows administrators only.
	AccessAdmin Access = iota
	// AccessPublic allows anyone, signed in or not.
	AccessPublic
	// AccessOwner allows signed-in callers restricted to rows whose owner
	// column equals their user id. Administrators see every row.
	AccessOwner
)

// Rule is the access table of one datastore table.
type Rule struct {
	Read   Access
	Insert Access
	Update Access
	Delete Access
	// OwnerColumn names the column AccessOwner compares with the user id.
	OwnerColumn string
}

func (r Rule) access(a Action) Access {
	switch a {
	case ActionRead:
		return r.Read
	case ActionInsert:
		return r.Insert
	case ActionUpdate:
		return r.Update
	case ActionDelete:
		return r.Delete
	}
	return AccessAdmin
}

// Policy maps table names to rules. Tables without a rule are admin-only.
type Policy map[string]Rule

// DefaultPolicy is the agency site policy.
func DefaultPolicy() Policy {
	content := Rule{Read: AccessPublic, Insert: AccessAdmin, Update: AccessAdmin, Delete: AccessAdmin}
	return Policy{
		datastore.TableProjects:           content,
		datastore.TableServices:           content,
		datastore.TableIndustries:         content,
		datastore.TableContactSubmissions: {Read: AccessAdmin, Insert: AccessPublic, Update: AccessAdmin, Delete: AccessAdmin},
		datastore.TableUserRoles:          {Read: AccessOwner, Insert: AccessAdmin, Update: AccessAdmin, Delete: AccessAdmin, OwnerColumn: "user_id"},
	}
}
