package ports

import (
	"context"

	"github.com/0xfutbol/id/core"
)

// WalletProvisioner creates custodial wallets and their sessions.
type WalletProvisioner interface {
	CreateWallet(ctx context.Context, owner string) (*core.Wallet, error)
	CreateSession(ctx context.Context, walletID string) (*core.WaaSSession, error)
}

// Moderator decides whether a username may be registered.
type Moderator interface {
	// Check returns core.ErrUsernameRejected for disallowed names.
	Check(ctx context.Context, username string) error
}

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
}
