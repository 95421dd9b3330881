package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/northwind-digital/agency/internal/auth"
	"github.com/northwind-digital/agency/internal/datastore/datastorehttp"
	"github.com/northwind-digital/agency/internal/media"
	"github.com/northwind-digital/agency/internal/observability"
	"github.com/northwind-digital/agency/internal/platform/httpx"
	"github.com/northwind-digital/agency/internal/rbac"
	"github.com/northwind-digital/agency/internal/roles"
	"github.com/northwind-digital/agency/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *auth.Handler
	AuthMiddleware *auth.Middleware
	StoreHandler   *datastorehttp.Handler
	MediaHandler   *media.Handler
	JobHandler     *jobs.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router serving the agency API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	if params.AuthHandler != nil {
		r.Route("/auth/v1", func(r chi.Router) {
			// The event stream stays open for the lifetime of a session.
			params.AuthHandler.MountStream(r)
			r.Group(func(r chi.Router) {
				for _, mw := range RequestStack(params.Config) {
					r.Use(mw)
				}
				params.AuthHandler.MountRoutes(r)
			})
		})
	}

	r.Group(func(r chi.Router) {
		for _, mw := range RequestStack(params.Config) {
			r.Use(mw)
		}

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		if params.Metrics != nil {
			r.Handle("/metrics", params.Metrics.Handler())
		}

		r.Group(func(r chi.Router) {
			if params.AuthMiddleware != nil {
				r.Use(params.AuthMiddleware.Authenticate)
			}
			if params.StoreHandler != nil {
				r.Route("/rest/v1", params.StoreHandler.MountRoutes)
			}
			if params.MediaHandler != nil {
				r.Route("/storage/v1", func(r chi.Router) {
					r.Use(params.RBACMiddleware.RequireRole(roles.Administrator))
					params.MediaHandler.MountRoutes(r)
				})
			}
			if params.JobHandler != nil {
				r.Route("/jobs", func(r chi.Router) {
					r.Use(params.RBACMiddleware.RequireRole(roles.Administrator))
					params.JobHandler.MountRoutes(r)
				})
			}
		})
	})

	return r
}
