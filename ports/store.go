package ports

import (
	"context"
	"errors"

	"github.com/0xfutbol/id/core"
)

var (
	// ErrAlreadyExists reports a uniqueness violation on username or address.
	// Concurrent first claims of the same username are arbitrated here.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("record not found")
)

// IdentityStore persists identities and password credentials.
type IdentityStore interface {
	// GetByAddress returns ErrNotFound when the address has no identity.
	GetByAddress(ctx context.Context, address string) (*core.Identity, error)

	// GetByUsername matches case-insensitively and returns ErrNotFound when unclaimed.
	GetByUsername(ctx context.Context, username string) (*core.Identity, error)

	// Create inserts a new identity. It returns ErrAlreadyExists when either the
	// username or the address is already bound.
	Create(ctx context.Context, identity *core.Identity) error

	// UpdateProfile replaces the profile metadata of an existing identity.
	UpdateProfile(ctx context.Context, address string, profile core.Profile) error

	// CreatePasswordIdentity inserts a password identity together with its
	// credential. Either both are stored or neither is; ErrAlreadyExists is
	// returned when the username, the address or the credential is taken.
	CreatePasswordIdentity(ctx context.Context, identity *core.Identity, credential *core.PasswordCredential) error

	// GetCredential returns ErrNotFound when no password is registered for username.
	GetCredential(ctx context.Context, username string) (*core.PasswordCredential, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
