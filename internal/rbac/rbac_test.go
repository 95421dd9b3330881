package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northwind-digital/agency/internal/datastore"
	"github.com/northwind-digital/agency/internal/roles"
	"github.com/northwind-digital/agency/internal/shared"
)

func newService(t *testing.T) (*Service, *datastore.MemoryStore) {
	t.Helper()
	store := datastore.NewMemoryStore()
	require.NoError(t, roles.Grant(context.Background(), store, roles.Assignment{UserID: "admin-1", Role: roles.Administrator}))
	return NewService(store, nil), store
}

var (
	admin  = &shared.Principal{UserID: "admin-1"}
	member = &shared.Principal{UserID: "member-1"}
)

func TestAuthorizeContentTables(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Authorize(ctx, nil, datastore.TableProjects, ActionRead, datastore.Query{})
	assert.NoError(t, err)
	_, err = svc.Authorize(ctx, nil, datastore.TableProjects, ActionInsert, datastore.Query{})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Authorize(ctx, member, datastore.TableServices, ActionUpdate, datastore.Query{})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Authorize(ctx, admin, datastore.TableIndustries, ActionDelete, datastore.Query{})
	assert.NoError(t, err)
}

func TestAuthorizeContactSubmissions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Authorize(ctx, nil, datastore.TableContactSubmissions, ActionInsert, datastore.Query{})
	assert.NoError(t, err)
	_, err = svc.Authorize(ctx, member, datastore.TableContactSubmissions, ActionRead, datastore.Query{})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Authorize(ctx, admin, datastore.TableContactSubmissions, ActionRead, datastore.Query{})
	assert.NoError(t, err)
}

func TestAuthorizeScopesRoleReadsToOwner(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Authorize(ctx, nil, datastore.TableUserRoles, ActionRead, datastore.Query{})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	q, err := svc.Authorize(ctx, member, datastore.TableUserRoles, ActionRead, datastore.Eq("user_id", "admin-1").Where("role", "administrator"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []datastore.Filter{
		{Column: "role", Value: "administrator"},
		{Column: "user_id", Value: "member-1"},
	}, q.Filters)

	q, err = svc.Authorize(ctx, admin, datastore.TableUserRoles, ActionRead, datastore.Eq("user_id", "member-1"))
	require.NoError(t, err)
	assert.Equal(t, datastore.Eq("user_id", "member-1"), q)

	_, err = svc.Authorize(ctx, member, datastore.TableUserRoles, ActionInsert, datastore.Query{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUnknownTableIsAdminOnly(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Authorize(context.Background(), member, "secrets", ActionRead, datastore.Query{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRequireRole(t *testing.T) {
	svc, _ := newService(t)
	mw := Middleware{Service: svc}
	handler := mw.RequireRole(" Administrator ")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name      string
		principal *shared.Principal
		want      int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"member", member, http.StatusForbidden},
		{"admin", admin, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.principal != nil {
				req = req.WithContext(shared.ContextWithPrincipal(req.Context(), tc.principal))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
