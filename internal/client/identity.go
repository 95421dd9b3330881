package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/northwind-digital/agency/internal/identity"
)

const defaultRetryDelay = 2 * time.Second

// Option configures an IdentityClient.
type Option func(*IdentityClient)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *IdentityClient) { c.http = hc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *IdentityClient) { c.logger = l }
}

// WithRetryDelay sets the pause before the event stream reconnects.
func WithRetryDelay(d time.Duration) Option {
	return func(c *IdentityClient) { c.retryDelay = d }
}

// IdentityClient implements identity.Provider against /auth/v1.
type IdentityClient struct {
	baseURL    string
	http       *http.Client
	tokens     TokenStore
	logger     *slog.Logger
	retryDelay time.Duration

	mu        sync.Mutex
	listeners map[int]func(identity.Event)
	nextID    int
	stream    *eventStream
	closed    bool
}

// NewIdentityClient constructs a client for the API at baseURL.
func NewIdentityClient(baseURL string, tokens TokenStore, opts ...Option) *IdentityClient {
	if tokens == nil {
		tokens = &MemoryTokenStore{}
	}
	c := &IdentityClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       http.DefaultClient,
		tokens:     tokens,
		logger:     slog.Default(),
		retryDelay: defaultRetryDelay,
		listeners:  make(map[int]func(identity.Event)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccessToken returns the stored token or "".
func (c *IdentityClient) AccessToken() string {
	sess, err := c.tokens.Load()
	if err != nil || sess == nil {
		return ""
	}
	return sess.AccessToken
}

// CurrentSession validates the stored session with the server. A rejected
// token is cleared and reported as no session.
func (c *IdentityClient) CurrentSession(ctx context.Context) (*identity.Session, error) {
	stored, err := c.tokens.Load()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	res, err := c.do(ctx, http.MethodGet, "/auth/v1/session", stored.AccessToken, nil)
	if err != nil {
		return nil, fmt.Errorf("client: session: %w", err)
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusUnauthorized:
		if err := c.tokens.Clear(); err != nil {
			c.logger.Warn("clear rejected session", slog.Any("error", err))
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("client: session: %w", identityError(res))
	}
	var sess identity.Session
	if err := json.NewDecoder(res.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("client: decode session: %w", err)
	}
	if err := c.tokens.Save(&sess); err != nil {
		return nil, err
	}
	c.ensureStream()
	return &sess, nil
}

// OnSessionChange registers fn. Local sign in and sign out are reported
// directly; server side changes arrive over the event stream while a
// session exists.
func (c *IdentityClient) OnSessionChange(fn func(identity.Event)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	c.ensureStream()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			last := len(c.listeners) == 0
			c.mu.Unlock()
			if last {
				c.stopStream()
			}
		})
	}
}

// SignInWithPassword exchanges credentials for a session.
func (c *IdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	res, err := c.do(ctx, http.MethodPost, "/auth/v1/token", "", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, fmt.Errorf("client: sign in: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, identityError(res)
	}
	var sess identity.Session
	if err := json.NewDecoder(res.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("client: decode session: %w", err)
	}
	c.stopStream()
	if err := c.tokens.Save(&sess); err != nil {
		return nil, err
	}
	signedIn := sess
	c.emit(identity.Event{Kind: identity.EventSignedIn, Session: &signedIn})
	c.ensureStream()
	return &sess, nil
}

// SignUp registers an account. The answer reports pending verification.
func (c *IdentityClient) SignUp(ctx context.Context, email, password string, profile identity.Profile) (identity.SignUpResult, error) {
	body := map[string]string{"email": email, "password": password, "username": profile.Username}
	res, err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", body)
	if err != nil {
		return identity.SignUpResult{}, fmt.Errorf("client: sign up: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return identity.SignUpResult{}, identityError(res)
	}
	var out identity.SignUpResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return identity.SignUpResult{}, fmt.Errorf("client: decode sign up: %w", err)
	}
	return out, nil
}

// SignOut revokes the session on the server and forgets it locally. The
// local session is cleared even when the server cannot be reached.
func (c *IdentityClient) SignOut(ctx context.Context) error {
	c.stopStream()
	token := c.AccessToken()
	var serverErr error
	if token != "" {
		res, err := c.do(ctx, http.MethodPost, "/auth/v1/logout", token, nil)
		if err != nil {
			serverErr = fmt.Errorf("client: sign out: %w", err)
		} else {
			if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusUnauthorized {
				serverErr = identityError(res)
			}
			res.Body.Close()
		}
	}
	if err := c.tokens.Clear(); err != nil {
		return err
	}
	c.emit(identity.Event{Kind: identity.EventSignedOut})
	return serverErr
}

// Refresh rotates the access token. The new session reaches listeners
// through the event stream.
func (c *IdentityClient) Refresh(ctx context.Context) (*identity.Session, error) {
	res, err := c.do(ctx, http.MethodPost, "/auth/v1/token/refresh", c.AccessToken(), nil)
	if err != nil {
		return nil, fmt.Errorf("client: refresh: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, identityError(res)
	}
	var sess identity.Session
	if err := json.NewDecoder(res.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("client: decode session: %w", err)
	}
	if err := c.tokens.Save(&sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// Close stops the event stream and drops every listener.
func (c *IdentityClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.listeners = make(map[int]func(identity.Event))
	c.mu.Unlock()
	c.stopStream()
}

func (c *IdentityClient) emit(ev identity.Event) {
	c.mu.Lock()
	fns := make([]func(identity.Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *IdentityClient) do(ctx context.Context, method, path, token string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.http.Do(req)
}

var _ identity.Provider = (*IdentityClient)(nil)
