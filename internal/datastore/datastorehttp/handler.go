// Package datastorehttp exposes a datastore.Store over PostgREST-style routes.
package datastorehttp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/northwind-digital/agency/internal/datastore"
	"github.com/northwind-digital/agency/internal/platform/httpx"
	"github.com/northwind-digital/agency/internal/rbac"
	"github.com/northwind-digital/agency/internal/shared"
)

const maxLimit = 1000

// Handler serves table routes after checking the access policy.
type Handler struct {
	store  datastore.Store
	policy *rbac.Service
	logger *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(store datastore.Store, policy *rbac.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, policy: policy, logger: logger}
}

// MountRoutes registers the table routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{table}", h.handleSelect)
	r.Post("/{table}", h.handleInsert)
	r.Patch("/{table}/{id}", h.handleUpdate)
	r.Delete("/{table}/{id}", h.handleDelete)
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		h.fail(w, err)
		return
	}
	q, err = h.policy.Authorize(r.Context(), shared.PrincipalFromContext(r.Context()), table, rbac.ActionRead, q)
	if err != nil {
		h.fail(w, err)
		return
	}
	rows, err := h.store.Select(r.Context(), table, q)
	if err != nil {
		h.fail(w, err)
		return
	}
	if rows == nil {
		rows = []datastore.Row{}
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !h.authorize(w, r, table, rbac.ActionInsert) {
		return
	}
	var row datastore.Row
	if err := httpx.DecodeJSON(r, &row); err != nil {
		h.fail(w, err)
		return
	}
	created, err := h.store.Insert(r.Context(), table, row)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !h.authorize(w, r, table, rbac.ActionUpdate) {
		return
	}
	var row datastore.Row
	if err := httpx.DecodeJSON(r, &row); err != nil {
		h.fail(w, err)
		return
	}
	updated, err := h.store.Update(r.Context(), table, chi.URLParam(r, "id"), row)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !h.authorize(w, r, table, rbac.ActionDelete) {
		return
	}
	if err := h.store.Delete(r.Context(), table, chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, table string, action rbac.Action) bool {
	_, err := h.policy.Authorize(r.Context(), shared.PrincipalFromContext(r.Context()), table, action, datastore.Query{})
	if err != nil {
		h.fail(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrUnauthenticated):
		httpx.RespondError(w, fmt.Errorf("%w: sign in required", httpx.ErrUnauthorized))
	case errors.Is(err, rbac.ErrForbidden), errors.Is(err, datastore.ErrForbidden):
		httpx.RespondError(w, fmt.Errorf("%w: administrator role required", httpx.ErrForbidden))
	case errors.Is(err, datastore.ErrUnknownTable):
		httpx.RespondError(w, fmt.Errorf("%w: unknown table", httpx.ErrNotFound))
	case errors.Is(err, datastore.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: row", httpx.ErrNotFound))
	case errors.Is(err, datastore.ErrInvalidColumn), errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		h.logger.Error("datastore request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// ParseQuery reads `col=eq.value`, `limit=N` and `order=col.asc|col.desc`
// parameters into a datastore.Query.
func ParseQuery(values url.Values) (datastore.Query, error) {
	var q datastore.Query
	for key, vals := range values {
		for _, raw := range vals {
			switch key {
			case "limit":
				n, err := strconv.Atoi(raw)
				if err != nil || n < 0 {
					return q, fmt.Errorf("%w: limit must be a non-negative integer", httpx.ErrValidation)
				}
				if n > maxLimit {
					n = maxLimit
				}
				q.Limit = n
			case "order":
				order, err := parseOrder(raw)
				if err != nil {
					return q, err
				}
				q.Order = order
			case "select":
				if raw != "*" {
					return q, fmt.Errorf("%w: only select=* is supported", httpx.ErrValidation)
				}
			default:
				value, ok := strings.CutPrefix(raw, "eq.")
				if !ok {
					return q, fmt.Errorf("%w: filter %s must use eq.", httpx.ErrValidation, key)
				}
				if !datastore.ValidColumn(key) {
					return q, datastore.ErrInvalidColumn
				}
				q.Filters = append(q.Filters, datastore.Filter{Column: key, Value: value})
			}
		}
	}
	return q, nil
}

func parseOrder(raw string) (string, error) {
	col, dir, _ := strings.Cut(raw, ".")
	if !datastore.ValidColumn(col) {
		return "", datastore.ErrInvalidColumn
	}
	switch dir {
	case "", "asc":
		return col, nil
	case "desc":
		return "-" + col, nil
	}
	return "", fmt.Errorf("%w: order direction %q", httpx.ErrValidation, dir)
}

// EncodeQuery is the inverse of ParseQuery.
func EncodeQuery(q datastore.Query) url.Values {
	values := url.Values{}
	for _, f := range q.Filters {
		values.Add(f.Column, "eq."+fmt.Sprint(f.Value))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Order != "" {
		if col, ok := strings.CutPrefix(q.Order, "-"); ok {
			values.Set("order", col+".desc")
		} else {
			values.Set("order", q.Order+".asc")
		}
	}
	return values
}
