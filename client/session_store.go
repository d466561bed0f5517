package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// WaaSSession is what the client keeps to reattach a custodial signer.
type WaaSSession struct {
	WalletID      string `json:"walletId"`
	WalletAddress string `json:"walletAddress"`
	BaseURL       string `json:"waasBaseUrl"`
	SessionToken  string `json:"waasSessionToken"`
	ExpiresAt     int64  `json:"waasSessionExpiresAt"` // unix millis
	ChainID       int64  `json:"chainId,omitempty"`
}

// Expired reports whether the session token has lapsed at now.
func (w *WaaSSession) Expired(now time.Time) bool {
	return w.ExpiresAt <= now.UnixMilli()
}

// StoredSession is everything persisted between runs: one JWT and at most one
// WaaS session.
type StoredSession struct {
	JWT  string       `json:"jwt,omitempty"`
	WaaS *WaaSSession `json:"waas,omitempty"`
}

// SessionStore persists the client session. Load returns an empty session,
// not an error, when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context) (*StoredSession, error)
	Save(ctx context.Context, session *StoredSession) error
	Clear(ctx context.Context) error
}

// MemorySessionStore keeps the session for the life of the process.
type MemorySessionStore struct {
	mu      sync.Mutex
	session StoredSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (m *MemorySessionStore) Load(context.Context) (*StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone(), nil
}

func (m *MemorySessionStore) Save(_ context.Context, session *StoredSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = *session.clone()
	return nil
}

func (m *MemorySessionStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = StoredSession{}
	return nil
}

// FileSessionStore keeps the session as JSON in a single file readable only
// by the owner.
type FileSessionStore struct {
	mu   sync.Mutex
	path string
}

func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

func (f *FileSessionStore) Load(context.Context) (*StoredSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return &StoredSession{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var s StoredSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	return &s, nil
}

func (f *FileSessionStore) Save(_ context.Context, session *StoredSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}

	// write then rename so a crash never leaves a torn file
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func (f *FileSessionStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

func (s *StoredSession) clone() *StoredSession {
	out := &StoredSession{JWT: s.JWT}
	if s.WaaS != nil {
		w := *s.WaaS
		out.WaaS = &w
	}
	return out
}
