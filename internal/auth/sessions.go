package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/utils/clock"

	"github.com/northwind-digital/agency/internal/identity"
	"github.com/northwind-digital/agency/internal/shared"
)

// SessionRecord is the server-side state behind an access token.
type SessionRecord struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	FamilyID  string    `json:"family_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// User returns the identity carried by the record.
func (r SessionRecord) User() identity.User {
	return identity.User{ID: r.UserID, Email: r.Email, Username: r.Username}
}

// Session builds the client view for the given token.
func (r SessionRecord) Session(token string) *identity.Session {
	return &identity.Session{AccessToken: token, ExpiresAt: r.ExpiresAt, User: r.User()}
}

// SessionStore keeps opaque access tokens in Redis. A family groups every
// token minted from one sign in so refreshes and sign outs reach all
// listeners of that sign in.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	clock  clock.PassiveClock
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, ttl time.Duration, clk clock.PassiveClock) *SessionStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &SessionStore{client: client, ttl: ttl, clock: clk}
}

// TTL exposes the configured session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Issue mints a token in a new family.
func (s *SessionStore) Issue(ctx context.Context, user identity.User) (string, SessionRecord, error) {
	rec := SessionRecord{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		FamilyID: uuid.NewString(),
	}
	return s.store(ctx, rec)
}

// Lookup resolves a token. Unknown or expired tokens yield shared.ErrSessionExpired.
func (s *SessionStore) Lookup(ctx context.Context, token string) (SessionRecord, error) {
	if token == "" {
		return SessionRecord{}, shared.ErrSessionExpired
	}
	payload, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	return s.decode(payload, err)
}

// Rotate replaces token with a fresh one in the same family. The old token
// stops working immediately.
func (s *SessionStore) Rotate(ctx context.Context, token string) (string, SessionRecord, error) {
	if token == "" {
		return "", SessionRecord{}, shared.ErrSessionExpired
	}
	rec, err := s.decode(s.client.GetDel(ctx, tokenKey(token)).Bytes())
	if err != nil {
		return "", SessionRecord{}, err
	}
	return s.store(ctx, rec)
}

// Revoke deletes token and returns what it pointed at.
func (s *SessionStore) Revoke(ctx context.Context, token string) (SessionRecord, error) {
	if token == "" {
		return SessionRecord{}, shared.ErrSessionExpired
	}
	return s.decode(s.client.GetDel(ctx, tokenKey(token)).Bytes())
}

// Publish fans an event out to every stream of the family.
func (s *SessionStore) Publish(ctx context.Context, familyID string, ev identity.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, eventsChannel(familyID), data).Err(); err != nil {
		return fmt.Errorf("auth: publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Subscribe opens a pub/sub subscription for the family. The caller closes it.
func (s *SessionStore) Subscribe(ctx context.Context, familyID string) (*redis.PubSub, error) {
	sub := s.client.Subscribe(ctx, eventsChannel(familyID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("auth: subscribe: %w", err)
	}
	return sub, nil
}

func (s *SessionStore) store(ctx context.Context, rec SessionRecord) (string, SessionRecord, error) {
	token, err := newToken()
	if err != nil {
		return "", SessionRecord{}, err
	}
	rec.ExpiresAt = s.clock.Now().Add(s.ttl).UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return "", SessionRecord{}, err
	}
	if err := s.client.Set(ctx, tokenKey(token), data, s.ttl).Err(); err != nil {
		return "", SessionRecord{}, fmt.Errorf("auth: store session: %w", err)
	}
	return token, rec, nil
}

func (s *SessionStore) decode(payload []byte, err error) (SessionRecord, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SessionRecord{}, shared.ErrSessionExpired
		}
		return SessionRecord{}, fmt.Errorf("auth: load session: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return SessionRecord{}, fmt.Errorf("auth: decode session: %w", err)
	}
	if !s.clock.Now().Before(rec.ExpiresAt) {
		return SessionRecord{}, shared.ErrSessionExpired
	}
	return rec, nil
}

func tokenKey(token string) string {
	return "session:" + token
}

func eventsChannel(familyID string) string {
	return "session-events:" + familyID
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
