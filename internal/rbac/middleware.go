package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/northwind-digital/agency/internal/platform/httpx"
	"github.com/northwind-digital/agency/internal/shared"
)

// Middleware wires role checks for HTTP handlers that are not table routes.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
}

// RequireRole ensures the current principal holds role.
func (m Middleware) RequireRole(role string) func(http.Handler) http.Handler {
	return m.RequireAny(role)
}

// RequireAny ensures the current principal holds at least one of roles.
func (m Middleware) RequireAny(roleNames ...string) func(http.Handler) http.Handler {
	normalized := normalizeRoles(roleNames)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			principal := shared.PrincipalFromContext(r.Context())
			if principal == nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
				return
			}
			for _, role := range normalized {
				ok, err := m.Service.HasRole(r.Context(), principal, role)
				if err != nil {
					if m.Logger != nil {
						m.Logger.Error("rbac require role", slog.String("role", role), slog.Any("error", err))
					}
					httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
					return
				}
				if ok {
					next.ServeHTTP(w, r)
					return
				}
			}
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing role")
		})
	}
}

func normalizeRoles(roleNames []string) []string {
	seen := make(map[string]struct{}, len(roleNames))
	normalized := make([]string, 0, len(roleNames))
	for _, r := range roleNames {
		r = strings.TrimSpace(strings.ToLower(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		normalized = append(normalized, r)
	}
	return normalized
}
