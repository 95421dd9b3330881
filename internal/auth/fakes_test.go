package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	testingclock "k8s.io/utils/clock/testing"
)

// addUser stores a confirmed account with the given password.
func (m *MemoryRepository) addUser(t *testing.T, email, password string, confirmed bool) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u := &User{Email: email, Username: "user", PasswordHash: string(hash)}
	if confirmed {
		now := time.Now()
		u.ConfirmedAt = &now
	}
	if err := m.Create(context.Background(), u); err != nil {
		t.Fatalf("create: %v", err)
	}
	return u
}

type sentMail struct {
	to, username, link string
}

type mailRecorder struct {
	mu   sync.Mutex
	sent []sentMail
}

func (r *mailRecorder) SendConfirmation(ctx context.Context, to, username, link string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMail{to, username, link})
	return nil
}

func (r *mailRecorder) last() sentMail {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return sentMail{}
	}
	return r.sent[len(r.sent)-1]
}

type fixture struct {
	repo    *MemoryRepository
	mail    *mailRecorder
	clock   *testingclock.FakeClock
	redis   *miniredis.Miniredis
	store   *SessionStore
	service *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := testingclock.NewFakeClock(time.Now())
	store := NewSessionStore(client, time.Hour, clk)
	repo := NewMemoryRepository()
	mail := &mailRecorder{}
	svc := NewService(ServiceConfig{
		Repo:       repo,
		Sessions:   store,
		Mailer:     mail,
		PublicURL:  "https://agency.example",
		BcryptCost: bcrypt.MinCost,
	})
	return &fixture{repo: repo, mail: mail, clock: clk, redis: mr, store: store, service: svc}
}
