package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/northwind-digital/agency/internal/shared"
)

// Middleware resolves bearer tokens into request principals.
type Middleware struct {
	service *Service
	logger  *slog.Logger
}

// NewMiddleware constructs auth middleware.
func NewMiddleware(service *Service, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{service: service, logger: logger}
}

// Authenticate attaches the principal of a valid bearer token. Requests
// without a token pass through anonymously; a bad token is rejected.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := m.service.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, shared.ErrSessionExpired) {
				m.logger.Error("authenticate", slog.Any("error", err))
			}
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequirePrincipal rejects anonymous requests.
func (m *Middleware) RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.PrincipalFromContext(r.Context()) == nil {
			writeError(w, shared.ErrSessionExpired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
