// Package client implements the identity provider and data store contracts
// over the agency HTTP API.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/northwind-digital/agency/internal/identity"
)

// TokenStore persists the signed-in session between runs.
type TokenStore interface {
	// Load returns the stored session or nil.
	Load() (*identity.Session, error)
	Save(sess *identity.Session) error
	Clear() error
}

// MemoryTokenStore keeps the session in process.
type MemoryTokenStore struct {
	mu   sync.Mutex
	sess *identity.Session
}

// Load returns a copy of the stored session.
func (m *MemoryTokenStore) Load() (*identity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess == nil {
		return nil, nil
	}
	cp := *m.sess
	return &cp, nil
}

// Save stores a copy of sess.
func (m *MemoryTokenStore) Save(sess *identity.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess == nil {
		m.sess = nil
		return nil
	}
	cp := *sess
	m.sess = &cp
	return nil
}

// Clear forgets the session.
func (m *MemoryTokenStore) Clear() error {
	return m.Save(nil)
}

// FileTokenStore keeps the session as JSON in a user-private file.
type FileTokenStore struct {
	Path string
	mu   sync.Mutex
}

// DefaultTokenPath is the session file under the user config directory.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("client: config dir: %w", err)
	}
	return filepath.Join(dir, "agency", "session.json"), nil
}

// Load reads the session file. A missing file means no session.
func (f *FileTokenStore) Load() (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("client: read session: %w", err)
	}
	var sess identity.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("client: decode session: %w", err)
	}
	if sess.AccessToken == "" {
		return nil, nil
	}
	return &sess, nil
}

// Save atomically replaces the session file.
func (f *FileTokenStore) Save(sess *identity.Session) error {
	if sess == nil {
		return f.Clear()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return fmt.Errorf("client: session dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".session-*")
	if err != nil {
		return fmt.Errorf("client: write session: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("client: write session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("client: write session: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("client: write session: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("client: write session: %w", err)
	}
	return nil
}

// Clear removes the session file.
func (f *FileTokenStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("client: clear session: %w", err)
	}
	return nil
}
