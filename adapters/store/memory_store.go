package store

import (
	"context"
	"sync"
	"time"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
)

// MemoryStore is an in-memory implementation of the IdentityStore interface
type MemoryStore struct {
	mu          sync.RWMutex
	byAddress   map[string]*core.Identity
	byUsername  map[string]*core.Identity
	credentials map[string]*core.PasswordCredential
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAddress:   make(map[string]*core.Identity),
		byUsername:  make(map[string]*core.Identity),
		credentials: make(map[string]*core.PasswordCredential),
	}
}

var _ ports.IdentityStore = (*MemoryStore)(nil)

func (s *MemoryStore) GetByAddress(ctx context.Context, address string) (*core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[address]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return cloneIdentity(id), nil
}

func (s *MemoryStore) GetByUsername(ctx context.Context, username string) (*core.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[core.UsernameKey(username)]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return cloneIdentity(id), nil
}

// Create checks both unique keys and inserts under one lock
func (s *MemoryStore) Create(ctx context.Context, identity *core.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := core.UsernameKey(identity.Username)
	if _, exists := s.byUsername[key]; exists {
		return ports.ErrAlreadyExists
	}
	if _, exists := s.byAddress[identity.Address]; exists {
		return ports.ErrAlreadyExists
	}

	stored := cloneIdentity(identity)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.byUsername[key] = stored
	s.byAddress[stored.Address] = stored
	return nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, address string, profile core.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byAddress[address]
	if !ok {
		return ports.ErrNotFound
	}
	id.Email = profile.Email
	id.UserDetails = cloneDetails(profile.UserDetails)
	return nil
}

func (s *MemoryStore) CreatePasswordIdentity(ctx context.Context, identity *core.Identity, credential *core.PasswordCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := core.UsernameKey(identity.Username)
	credKey := core.UsernameKey(credential.Username)
	if _, exists := s.byUsername[key]; exists {
		return ports.ErrAlreadyExists
	}
	if _, exists := s.byAddress[identity.Address]; exists {
		return ports.ErrAlreadyExists
	}
	if _, exists := s.credentials[credKey]; exists {
		return ports.ErrAlreadyExists
	}

	now := time.Now().UTC()
	stored := cloneIdentity(identity)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	c := *credential
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	s.byUsername[key] = stored
	s.byAddress[stored.Address] = stored
	s.credentials[credKey] = &c
	return nil
}

func (s *MemoryStore) GetCredential(ctx context.Context, username string) (*core.PasswordCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[core.UsernameKey(username)]
	if !ok {
		return nil, ports.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Clear removes all data from the store
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byAddress = make(map[string]*core.Identity)
	s.byUsername = make(map[string]*core.Identity)
	s.credentials = make(map[string]*core.PasswordCredential)
}

func cloneIdentity(id *core.Identity) *core.Identity {
	out := *id
	out.UserDetails = cloneDetails(id.UserDetails)
	return &out
}

func cloneDetails(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
