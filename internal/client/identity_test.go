package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/northwind-digital/agency/internal/identity"
)

// fakeAuth serves the /auth/v1 routes for a single account.
type fakeAuth struct {
	mu      sync.Mutex
	token   string
	valid   map[string]bool
	logouts int
	streams chan chan identity.Event
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{valid: map[string]bool{}, streams: make(chan chan identity.Event, 4)}
}

func (f *fakeAuth) session(token string) identity.Session {
	return identity.Session{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		User:        identity.User{ID: "u1", Email: "ada@example.com", Username: "ada"},
	}
}

func (f *fakeAuth) authorized(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	return token, f.valid[token]
}

func (f *fakeAuth) writeErr(w http.ResponseWriter, status int, kind identity.ErrorKind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(identity.Error{Kind: kind, Message: msg})
}

func (f *fakeAuth) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/auth/v1/token":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "correct horse" {
			f.writeErr(w, http.StatusBadRequest, identity.KindInvalidCredentials, "Invalid login credentials")
			return
		}
		f.mu.Lock()
		f.token = fmt.Sprintf("tok-%d", len(f.valid)+1)
		f.valid[f.token] = true
		token := f.token
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.session(token))
	case "/auth/v1/signup":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["email"] == "taken@example.com" {
			f.writeErr(w, http.StatusConflict, identity.KindUserExists, "User already registered")
			return
		}
		_ = json.NewEncoder(w).Encode(identity.SignUpResult{UserID: "u2", PendingVerification: true})
	case "/auth/v1/session":
		token, ok := f.authorized(r)
		if !ok {
			f.writeErr(w, http.StatusUnauthorized, identity.KindUnauthorized, "session missing or expired")
			return
		}
		_ = json.NewEncoder(w).Encode(f.session(token))
	case "/auth/v1/logout":
		token, _ := f.authorized(r)
		f.mu.Lock()
		delete(f.valid, token)
		f.logouts++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case "/auth/v1/events":
		if _, ok := f.authorized(r); !ok {
			f.writeErr(w, http.StatusUnauthorized, identity.KindUnauthorized, "session missing or expired")
			return
		}
		events := make(chan identity.Event)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		w.(http.Flusher).Flush()
		f.streams <- events
		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-events:
				data, _ := json.Marshal(ev)
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
				w.(http.Flusher).Flush()
			}
		}
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAuth) nextStream(t *testing.T) chan identity.Event {
	t.Helper()
	select {
	case s := <-f.streams:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no event stream opened")
	}
	return nil
}

type eventLog struct {
	ch chan identity.Event
}

func newEventLog() *eventLog { return &eventLog{ch: make(chan identity.Event, 8)} }

func (l *eventLog) record(ev identity.Event) { l.ch <- ev }

func (l *eventLog) next(t *testing.T) identity.Event {
	t.Helper()
	select {
	case ev := <-l.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no session event")
	}
	return identity.Event{}
}

func newTestClient(t *testing.T) (*IdentityClient, *fakeAuth, *MemoryTokenStore) {
	t.Helper()
	fake := newFakeAuth()
	srv := httptest.NewServer(fake)
	tokens := &MemoryTokenStore{}
	c := NewIdentityClient(srv.URL+"/", tokens, WithHTTPClient(srv.Client()), WithRetryDelay(10*time.Millisecond))
	t.Cleanup(func() {
		c.Close()
		srv.CloseClientConnections()
		srv.Close()
	})
	return c, fake, tokens
}

func TestCurrentSessionWithoutTokenSkipsServer(t *testing.T) {
	c, _, _ := newTestClient(t)
	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestCurrentSessionClearsRejectedToken(t *testing.T) {
	c, _, tokens := newTestClient(t)
	require.NoError(t, tokens.Save(&identity.Session{AccessToken: "stale"}))

	sess, err := c.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sess)
	stored, _ := tokens.Load()
	assert.Nil(t, stored)
}

func TestCurrentSessionReportsUnreachableServer(t *testing.T) {
	tokens := &MemoryTokenStore{}
	require.NoError(t, tokens.Save(&identity.Session{AccessToken: "t"}))
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewIdentityClient(srv.URL, tokens)
	_, err := c.CurrentSession(context.Background())
	assert.Error(t, err)
}

func TestSignInEmitsAndStreamsRefresh(t *testing.T) {
	c, fake, tokens := newTestClient(t)
	log := newEventLog()
	unsubscribe := c.OnSessionChange(log.record)
	defer unsubscribe()

	sess, err := c.SignInWithPassword(context.Background(), "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.User.ID)

	ev := log.next(t)
	assert.Equal(t, identity.EventSignedIn, ev.Kind)
	require.NotNil(t, ev.Session)
	assert.Equal(t, sess.AccessToken, ev.Session.AccessToken)

	stream := fake.nextStream(t)
	refreshed := fake.session("tok-refreshed")
	stream <- identity.Event{Kind: identity.EventTokenRefreshed, Session: &refreshed}

	ev = log.next(t)
	assert.Equal(t, identity.EventTokenRefreshed, ev.Kind)
	assert.Equal(t, "tok-refreshed", ev.Session.AccessToken)
	assert.Equal(t, "tok-refreshed", c.AccessToken())
	stored, _ := tokens.Load()
	assert.Equal(t, "tok-refreshed", stored.AccessToken)
}

func TestServerSignOutClearsSession(t *testing.T) {
	c, fake, tokens := newTestClient(t)
	log := newEventLog()
	defer c.OnSessionChange(log.record)()

	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, identity.EventSignedIn, log.next(t).Kind)

	fake.nextStream(t) <- identity.Event{Kind: identity.EventSignedOut}
	ev := log.next(t)
	assert.Equal(t, identity.EventSignedOut, ev.Kind)
	assert.Nil(t, ev.Session)
	stored, _ := tokens.Load()
	assert.Nil(t, stored)
}

func TestSignInFailureKeepsKind(t *testing.T) {
	c, _, tokens := newTestClient(t)
	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	stored, _ := tokens.Load()
	assert.Nil(t, stored)
}

func TestSignUp(t *testing.T) {
	c, _, _ := newTestClient(t)
	res, err := c.SignUp(context.Background(), "new@example.com", "correct horse", identity.Profile{Username: "new"})
	require.NoError(t, err)
	assert.True(t, res.PendingVerification)

	_, err = c.SignUp(context.Background(), "taken@example.com", "correct horse", identity.Profile{})
	assert.ErrorIs(t, err, identity.ErrUserExists)
}

func TestSignOutRevokesAndEmitsOnce(t *testing.T) {
	c, fake, tokens := newTestClient(t)
	log := newEventLog()
	defer c.OnSessionChange(log.record)()

	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", "correct horse")
	require.NoError(t, err)
	log.next(t)
	fake.nextStream(t)

	require.NoError(t, c.SignOut(context.Background()))
	assert.Equal(t, identity.EventSignedOut, log.next(t).Kind)
	select {
	case ev := <-log.ch:
		t.Fatalf("unexpected extra event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
	fake.mu.Lock()
	assert.Equal(t, 1, fake.logouts)
	fake.mu.Unlock()
	stored, _ := tokens.Load()
	assert.Nil(t, stored)
}

func TestStreamStopsAfterLastUnsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
	fake := newFakeAuth()
	srv := httptest.NewServer(fake)
	defer srv.Close()
	hc := srv.Client()
	defer hc.CloseIdleConnections()

	tokens := &MemoryTokenStore{}
	c := NewIdentityClient(srv.URL, tokens, WithHTTPClient(hc))
	_, err := c.SignInWithPassword(context.Background(), "ada@example.com", "correct horse")
	require.NoError(t, err)

	unsubscribe := c.OnSessionChange(func(identity.Event) {})
	fake.nextStream(t)
	unsubscribe()
	unsubscribe()

	c.mu.Lock()
	assert.Nil(t, c.stream)
	c.mu.Unlock()
	srv.CloseClientConnections()
}

func TestFileTokenStore(t *testing.T) {
	store := &FileTokenStore{Path: filepath.Join(t.TempDir(), "nested", "session.json")}
	sess, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)

	want := &identity.Session{AccessToken: "abc", User: identity.User{ID: "u1"}}
	require.NoError(t, store.Save(want))
	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", got.AccessToken)
	assert.Equal(t, "u1", got.User.ID)

	require.NoError(t, store.Clear())
	require.NoError(t, store.Clear())
	got, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)
}
