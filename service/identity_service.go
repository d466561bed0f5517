package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/internal/eth"
	"github.com/0xfutbol/id/ports"
)

// MinPasswordLength is the shortest password Register accepts.
const MinPasswordLength = 8

// IdentityService provisions and authenticates password identities backed by
// a custodial wallet.
type IdentityService struct {
	store       ports.IdentityStore
	tokenizer   ports.Tokenizer
	eventPub    ports.EventPublisher
	moderator   ports.Moderator
	hasher      ports.PasswordHasher
	provisioner ports.WalletProvisioner

	sessionTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewIdentityService creates the password identity service
func NewIdentityService(
	store ports.IdentityStore,
	tokenizer ports.Tokenizer,
	eventPub ports.EventPublisher,
	moderator ports.Moderator,
	hasher ports.PasswordHasher,
	provisioner ports.WalletProvisioner,
	opts ...Option,
) *IdentityService {
	o := buildOptions(opts)
	return &IdentityService{
		store:       store,
		tokenizer:   tokenizer,
		eventPub:    eventPub,
		moderator:   moderator,
		hasher:      hasher,
		provisioner: provisioner,
		sessionTTL:  core.MaxSignatureExpiration,
		logger:      o.logger,
		now:         o.now,
	}
}

// PasswordAuth is the outcome of a password registration or login.
type PasswordAuth struct {
	Token       string
	Address     string
	Wallet      *core.Wallet
	WaaSSession *core.WaaSSession
}

// Register creates a password identity: a fresh logical address, a custodial
// wallet for it, the password credential and a first session.
func (s *IdentityService) Register(ctx context.Context, username, password string) (*PasswordAuth, error) {
	if err := core.ValidateUsername(username); err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("password shorter than %d characters: %w", MinPasswordLength, core.ErrInvalidInput)
	}
	if err := s.moderator.Check(ctx, username); err != nil {
		return nil, err
	}
	if err := s.checkUnclaimed(ctx, username); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// the key only names the identity; it is never stored
	key, err := eth.GenerateKeySigner()
	if err != nil {
		return nil, err
	}
	address := strings.ToLower(key.Address().Hex())

	wallet, err := s.provisioner.CreateWallet(ctx, address)
	if err != nil {
		return nil, remoteFailure(err)
	}

	now := s.now().UTC()
	identity := &core.Identity{
		Address:       address,
		Username:      username,
		LoginMethod:   core.LoginMethodWaaSPassword,
		WalletID:      wallet.ID,
		WalletAddress: wallet.Address,
		CreatedAt:     now,
	}
	credential := &core.PasswordCredential{
		Username:     username,
		PasswordHash: hash,
		WalletID:     wallet.ID,
		CreatedAt:    now,
	}
	if err := s.store.CreatePasswordIdentity(ctx, identity, credential); err != nil {
		// nothing was stored, so a retry starts clean; the wallet stays unused
		s.logger.Warn("password identity not stored, wallet left unassigned",
			"username", username, "wallet_id", wallet.ID, "error", err)
		if errors.Is(err, ports.ErrAlreadyExists) {
			return nil, core.ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to store password identity: %w", err)
	}

	s.logger.Info("password identity registered", "username", username, "address", address, "wallet_id", wallet.ID)
	if err := s.eventPub.PublishIdentityRegistered(ctx, identity); err != nil {
		s.logger.Error("failed to publish identity registered", "username", username, "error", err)
	}

	token, err := s.issue(identity)
	if err != nil {
		return nil, err
	}
	session, err := s.provisioner.CreateSession(ctx, wallet.ID)
	if err != nil {
		return nil, remoteFailure(err)
	}

	return &PasswordAuth{Token: token, Address: address, Wallet: wallet, WaaSSession: session}, nil
}

// Login verifies the password and returns a session plus a fresh WaaS
// session when the identity has a wallet.
func (s *IdentityService) Login(ctx context.Context, username, password string) (*PasswordAuth, error) {
	cred, err := s.store.GetCredential(ctx, username)
	if errors.Is(err, ports.ErrNotFound) {
		// same work as a real check so unknown names are not observable by timing
		s.burnVerify(password)
		return nil, core.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	ok, err := s.hasher.Verify(password, cred.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, core.ErrInvalidCredentials
	}

	identity, err := s.store.GetByUsername(ctx, username)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up username: %w", err)
	}

	token, err := s.issue(identity)
	if err != nil {
		return nil, err
	}
	out := &PasswordAuth{Token: token, Address: identity.Address}

	if identity.WalletID != "" {
		out.Wallet = &core.Wallet{ID: identity.WalletID, Address: identity.WalletAddress}
		if out.WaaSSession, err = s.provisioner.CreateSession(ctx, identity.WalletID); err != nil {
			return nil, remoteFailure(err)
		}
	}

	s.logger.Info("password login", "username", identity.Username)
	return out, nil
}

func (s *IdentityService) checkUnclaimed(ctx context.Context, username string) error {
	_, err := s.store.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return core.ErrUsernameTaken
	case !errors.Is(err, ports.ErrNotFound):
		return fmt.Errorf("failed to look up username: %w", err)
	}
	_, err = s.store.GetCredential(ctx, username)
	switch {
	case err == nil:
		return core.ErrUsernameTaken
	case !errors.Is(err, ports.ErrNotFound):
		return fmt.Errorf("failed to look up credential: %w", err)
	}
	return nil
}

// issue signs a password session. The signature claim is a fixed sentinel
// since no wallet signed anything.
func (s *IdentityService) issue(identity *core.Identity) (string, error) {
	now := s.now()
	token, err := s.tokenizer.SessionToToken(&core.Session{
		Username:    identity.Username,
		Owner:       identity.Address,
		Signature:   core.PasswordSentinel,
		Expiration:  now.Add(s.sessionTTL).UnixMilli(),
		LoginMethod: core.LoginMethodWaaSPassword,
		IssuedAt:    now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}
	return token, nil
}

func (s *IdentityService) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-password")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

// remoteFailure tags wallet backend errors so transport maps them to 500.
func remoteFailure(err error) error {
	if errors.Is(err, core.ErrRemoteService) {
		return err
	}
	return fmt.Errorf("%w: %w", core.ErrRemoteService, err)
}
