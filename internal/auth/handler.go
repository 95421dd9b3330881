package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"k8s.io/utils/clock"

	"github.com/northwind-digital/agency/internal/identity"
	"github.com/northwind-digital/agency/internal/observability"
	"github.com/northwind-digital/agency/internal/platform/httpx"
	"github.com/northwind-digital/agency/internal/shared"
)

const defaultHeartbeat = 20 * time.Second

// HandlerConfig collects Handler dependencies.
type HandlerConfig struct {
	Service *Service
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Clock drives stream expiry and heartbeats.
	Clock     clock.WithTicker
	Heartbeat time.Duration
}

// Handler wires HTTP endpoints for the identity provider API.
type Handler struct {
	service   *Service
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clock.WithTicker
	heartbeat time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		service:   cfg.Service,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		heartbeat: cfg.Heartbeat,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.clock == nil {
		h.clock = clock.RealClock{}
	}
	if h.heartbeat <= 0 {
		h.heartbeat = defaultHeartbeat
	}
	return h
}

// MountRoutes registers the request/response auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/signup", h.handleSignUp)
	r.Get("/confirm", h.handleConfirm)
	r.Post("/token", h.handleToken)
	r.Post("/token/refresh", h.handleRefresh)
	r.Get("/session", h.handleSession)
	r.Post("/logout", h.handleLogout)
}

// MountStream registers the long-lived session event stream. It must not sit
// behind a request timeout.
func (h *Handler) MountStream(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var in SignUpInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		writeError(w, fmt.Errorf("%w: malformed body", shared.ErrValidation))
		return
	}
	res, err := h.service.SignUp(r.Context(), in)
	if err != nil {
		h.logFailure("sign up", err)
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Confirm(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			writeAuthError(w, http.StatusNotFound, identity.KindValidation, "confirmation link is invalid or already used")
			return
		}
		h.logFailure("confirm", err)
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"confirmed": true, "email": user.Email})
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	var in SignInInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		writeError(w, fmt.Errorf("%w: malformed body", shared.ErrValidation))
		return
	}
	sess, err := h.service.SignIn(r.Context(), in)
	if err != nil {
		h.logFailure("sign in", err)
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Refresh(r.Context(), BearerToken(r))
	if err != nil {
		h.logFailure("refresh", err)
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.service.Session(r.Context(), BearerToken(r))
	if err != nil {
		h.logFailure("session", err)
		writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context(), BearerToken(r)); err != nil {
		h.logFailure("sign out", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	_, rec, err := h.service.Session(ctx, BearerToken(r))
	if err != nil {
		h.logFailure("events", err)
		writeError(w, err)
		return
	}
	sub, err := h.service.sessions.Subscribe(ctx, rec.FamilyID)
	if err != nil {
		h.logFailure("events", err)
		writeError(w, err)
		return
	}
	defer sub.Close()
	defer h.metrics.StreamOpened()()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream flush", slog.Any("error", err))
		return
	}

	expiry := h.clock.NewTimer(rec.ExpiresAt.Sub(h.clock.Now()))
	defer expiry.Stop()
	heartbeat := h.clock.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var ev identity.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.logger.Warn("decode session event", slog.Any("error", err))
				continue
			}
			if err := writeEvent(w, rc, ev); err != nil {
				return
			}
			switch ev.Kind {
			case identity.EventSignedOut:
				return
			case identity.EventTokenRefreshed:
				if ev.Session != nil {
					if !expiry.Stop() {
						select {
						case <-expiry.C():
						default:
						}
					}
					expiry.Reset(ev.Session.ExpiresAt.Sub(h.clock.Now()))
				}
			}
		case <-expiry.C():
			_ = writeEvent(w, rc, identity.Event{Kind: identity.EventSignedOut})
			return
		case <-heartbeat.C():
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) logFailure(op string, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidCredentials),
		errors.Is(err, shared.ErrEmailNotConfirmed),
		errors.Is(err, shared.ErrDuplicate),
		errors.Is(err, shared.ErrSessionExpired),
		errors.Is(err, shared.ErrNotFound):
		return
	}
	h.logger.Error(op, slog.Any("error", err))
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev identity.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data); err != nil {
		return err
	}
	return rc.Flush()
}

// writeError maps service errors onto the provider error body.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation):
		writeAuthError(w, http.StatusBadRequest, identity.KindValidation, err.Error())
	case errors.Is(err, shared.ErrInvalidCredentials):
		writeAuthError(w, http.StatusBadRequest, identity.KindInvalidCredentials, identity.ErrInvalidCredentials.Message)
	case errors.Is(err, shared.ErrEmailNotConfirmed):
		writeAuthError(w, http.StatusBadRequest, identity.KindEmailNotConfirmed, identity.ErrEmailNotConfirmed.Message)
	case errors.Is(err, shared.ErrDuplicate):
		writeAuthError(w, http.StatusConflict, identity.KindUserExists, identity.ErrUserExists.Message)
	case errors.Is(err, shared.ErrSessionExpired):
		writeAuthError(w, http.StatusUnauthorized, identity.KindUnauthorized, identity.ErrUnauthorized.Message)
	default:
		writeAuthError(w, http.StatusServiceUnavailable, identity.KindUnavailable, "identity service temporarily unavailable")
	}
}

func writeAuthError(w http.ResponseWriter, status int, kind identity.ErrorKind, message string) {
	httpx.JSON(w, status, identity.NewError(kind, message))
}
