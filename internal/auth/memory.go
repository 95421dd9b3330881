package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northwind-digital/agency/internal/shared"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]*User)}
}

// FindByEmail returns a copy of the account with email.
func (m *MemoryRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *MemoryRepository) FindByID(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryRepository) Create(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return shared.ErrDuplicate
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MemoryRepository) ConfirmByToken(ctx context.Context, token string, at time.Time) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ConfirmationToken != "" && u.ConfirmationToken == token {
			u.ConfirmationToken = ""
			u.ConfirmedAt = &at
			cp := *u
			return &cp, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m *MemoryRepository) TouchSignIn(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastSignInAt = &at
	}
	return nil
}

func (m *MemoryRepository) DeleteUnconfirmedBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, u := range m.users {
		if u.ConfirmedAt == nil && u.CreatedAt.Before(before) {
			delete(m.users, id)
			n++
		}
	}
	return n, nil
}

var _ Repository = (*MemoryRepository)(nil)
