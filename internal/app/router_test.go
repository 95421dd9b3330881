package app

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northwind-digital/agency/internal/datastore"
	"github.com/northwind-digital/agency/internal/datastore/datastorehttp"
	"github.com/northwind-digital/agency/internal/observability"
	"github.com/northwind-digital/agency/internal/rbac"
	"github.com/northwind-digital/agency/jobs"
)

func newTestRouter() http.Handler {
	logger := slog.New(slog.DiscardHandler)
	mem := datastore.NewMemoryStore()
	policy := rbac.NewService(mem, nil)
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppRequestTimeout: time.Second, RateLimitRequests: 2, RateLimitWindow: time.Minute},
		StoreHandler:   datastorehttp.NewHandler(mem, policy, logger),
		JobHandler:     jobs.NewHandler(nil, logger),
		RBACMiddleware: rbac.Middleware{Service: policy, Logger: logger},
		Metrics:        observability.NewMetrics(),
	})
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRouterProtectsJobsAndServesPublicTables(t *testing.T) {
	router := newTestRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rest/v1/projects", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRouterRateLimitsByIP(t *testing.T) {
	router := newTestRouter()
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
