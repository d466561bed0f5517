package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/internal/eth"
	"github.com/0xfutbol/id/ports"
	"github.com/ethereum/go-ethereum/common"
)

// ClaimService implements the wallet claim and login protocol.
type ClaimService struct {
	store     ports.IdentityStore
	tokenizer ports.Tokenizer
	eventPub  ports.EventPublisher
	moderator ports.Moderator
	authority eth.Signer
	domain    eth.EIP712Domain

	logger  *slog.Logger
	now     func() time.Time
	product string
}

// NewClaimService creates the claim service. authority signs claim
// approvals under domain.
func NewClaimService(
	store ports.IdentityStore,
	tokenizer ports.Tokenizer,
	eventPub ports.EventPublisher,
	moderator ports.Moderator,
	authority eth.Signer,
	domain eth.EIP712Domain,
	opts ...Option,
) *ClaimService {
	o := buildOptions(opts)
	return &ClaimService{
		store:     store,
		tokenizer: tokenizer,
		eventPub:  eventPub,
		moderator: moderator,
		authority: authority,
		domain:    domain,
		logger:    o.logger,
		now:       o.now,
		product:   o.product,
	}
}

// AuthorityAddress is the address claim signatures recover to.
func (s *ClaimService) AuthorityAddress() common.Address {
	return s.authority.Address()
}

// PreResult answers a pre-check. Address lookups fill Username, username
// lookups fill Exists. Claimed reports whether an identity was found.
type PreResult struct {
	Username string
	Exists   bool
	Claimed  bool
}

// Pre looks up an identity by address or, when address is empty, by username.
func (s *ClaimService) Pre(ctx context.Context, address, username string) (*PreResult, error) {
	switch {
	case address != "":
		addr, err := core.NormalizeAddress(address)
		if err != nil {
			return nil, err
		}
		identity, err := s.store.GetByAddress(ctx, addr)
		if errors.Is(err, ports.ErrNotFound) {
			return &PreResult{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up address: %w", err)
		}
		return &PreResult{Username: identity.Username, Exists: true, Claimed: true}, nil

	case username != "":
		_, err := s.store.GetByUsername(ctx, username)
		if errors.Is(err, ports.ErrNotFound) {
			return &PreResult{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up username: %w", err)
		}
		return &PreResult{Exists: true, Claimed: true}, nil

	default:
		return nil, fmt.Errorf("address or username required: %w", core.ErrInvalidInput)
	}
}

// GenerateClaimSignature approves owner registering username. The approval
// is re-issued when owner already holds username.
func (s *ClaimService) GenerateClaimSignature(ctx context.Context, username, owner string) (*core.ClaimSignature, error) {
	owner, err := core.NormalizeAddress(owner)
	if err != nil {
		return nil, err
	}
	if err := core.ValidateUsername(username); err != nil {
		return nil, err
	}

	claimed, err := s.ownedBy(ctx, owner, username)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if err := s.checkAvailable(ctx, username); err != nil {
			return nil, err
		}
	}

	expiration := s.now().Add(core.MaxSignatureExpiration).Unix()
	td := eth.UsernameTypedData(s.domain, username, common.HexToAddress(owner), expiration)
	sig, err := eth.SignTypedData(s.authority, td)
	if err != nil {
		return nil, fmt.Errorf("failed to sign claim: %w", err)
	}

	return &core.ClaimSignature{
		Username:            username,
		Owner:               owner,
		SignatureExpiration: expiration,
		Signature:           eth.EncodeSignature(sig),
		Claimed:             claimed,
	}, nil
}

// IssueRequest carries the inputs of IssueJWT. Message is either a
// "CLAIM:<sig>.<exp>" approval, which needs Owner and OwnerSignature, or the
// personal-sign signature of the auth message for (Username, Expiration).
type IssueRequest struct {
	Username    string
	Message     string
	Expiration  int64 // unix millis
	LoginMethod string
	Owner       string

	// OwnerSignature is Owner's personal-sign signature of Message.
	OwnerSignature string
}

// IssueJWT verifies the request and returns a session token.
func (s *ClaimService) IssueJWT(ctx context.Context, req IssueRequest) (string, error) {
	method, err := core.ParseLoginMethod(req.LoginMethod)
	if err != nil {
		return "", err
	}
	if err := core.ValidateUsername(req.Username); err != nil {
		return "", err
	}
	now := s.now()
	if err := core.CheckExpirationWindow(req.Expiration, now); err != nil {
		return "", err
	}

	username := req.Username
	var owner, signature string
	if core.IsClaimMessage(req.Message) {
		if owner, err = core.NormalizeAddress(req.Owner); err != nil {
			return "", err
		}
		if signature, err = s.verifyClaimApproval(req.Username, owner, req.Message, now); err != nil {
			return "", err
		}
		if err := verifyOwnerProof(owner, req.Message, req.OwnerSignature); err != nil {
			return "", err
		}
		identity := &core.Identity{Address: owner, Username: req.Username, LoginMethod: method}
		if err := s.persist(ctx, identity); err != nil {
			return "", err
		}
	} else {
		identity, err := s.store.GetByUsername(ctx, req.Username)
		if errors.Is(err, ports.ErrNotFound) {
			return "", core.ErrNotFound
		}
		if err != nil {
			return "", fmt.Errorf("failed to look up username: %w", err)
		}
		if err := s.verifyAuthSignature(req.Username, identity.Address, req.Message, req.Expiration); err != nil {
			return "", err
		}
		username, owner, signature = identity.Username, identity.Address, req.Message
	}

	token, err := s.tokenizer.SessionToToken(&core.Session{
		Username:    username,
		Owner:       owner,
		Signature:   signature,
		Expiration:  req.Expiration,
		LoginMethod: method,
		IssuedAt:    now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	s.logger.Info("issued session token", "username", username, "owner", owner, "login_method", method)
	return token, nil
}

// VerifyJWT checks the token signature and its application expiration. The
// embedded wallet signature is carried as is and not re-verified.
func (s *ClaimService) VerifyJWT(token string) (*core.Session, error) {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	if session.Expired(s.now()) {
		return nil, fmt.Errorf("%w: %w", core.ErrUnauthorized, core.ErrTokenExpired)
	}
	return session, nil
}

// ClaimRequest carries the inputs of Claim.
type ClaimRequest struct {
	Username    string
	Owner       string
	Message     string
	Expiration  int64 // unix millis
	UserDetails map[string]string
	UserEmail   string

	// OwnerSignature is required when Message is a claim approval.
	OwnerSignature string
}

// Claim binds username to owner and stores the optional profile. Repeating
// a claim for the same pair succeeds without creating a second identity.
func (s *ClaimService) Claim(ctx context.Context, req ClaimRequest) error {
	owner, err := core.NormalizeAddress(req.Owner)
	if err != nil {
		return err
	}
	if err := core.ValidateUsername(req.Username); err != nil {
		return err
	}
	now := s.now()
	if err := core.CheckExpirationWindow(req.Expiration, now); err != nil {
		return err
	}

	if core.IsClaimMessage(req.Message) {
		if _, err := s.verifyClaimApproval(req.Username, owner, req.Message, now); err != nil {
			return err
		}
		if err := verifyOwnerProof(owner, req.Message, req.OwnerSignature); err != nil {
			return err
		}
	} else if err := s.verifyAuthSignature(req.Username, owner, req.Message, req.Expiration); err != nil {
		return err
	}

	profile := core.Profile{Email: req.UserEmail, UserDetails: req.UserDetails}
	claimed, err := s.ownedBy(ctx, owner, req.Username)
	if err != nil {
		return err
	}
	if claimed {
		if profile.Empty() {
			return nil
		}
		if err := s.store.UpdateProfile(ctx, owner, profile); err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		return nil
	}

	if err := s.checkAvailable(ctx, req.Username); err != nil {
		return err
	}
	return s.persist(ctx, &core.Identity{
		Address:     owner,
		Username:    req.Username,
		LoginMethod: core.LoginMethodWallet,
		Email:       profile.Email,
		UserDetails: profile.UserDetails,
	})
}

// Identity returns the identity bound to address.
func (s *ClaimService) Identity(ctx context.Context, address string) (*core.Identity, error) {
	addr, err := core.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	identity, err := s.store.GetByAddress(ctx, addr)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up address: %w", err)
	}
	return identity, nil
}

// ownedBy reports whether owner already holds username. An owner bound to a
// different username yields ErrAddressAlreadyClaimed.
func (s *ClaimService) ownedBy(ctx context.Context, owner, username string) (bool, error) {
	existing, err := s.store.GetByAddress(ctx, owner)
	if errors.Is(err, ports.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up owner: %w", err)
	}
	if core.UsernameKey(existing.Username) != core.UsernameKey(username) {
		return false, core.ErrAddressAlreadyClaimed
	}
	return true, nil
}

func (s *ClaimService) checkAvailable(ctx context.Context, username string) error {
	_, err := s.store.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return core.ErrUsernameTaken
	case !errors.Is(err, ports.ErrNotFound):
		return fmt.Errorf("failed to look up username: %w", err)
	}
	return s.moderator.Check(ctx, username)
}

// persist creates identity unless its owner already holds the same username.
// A lost race on the store's unique keys is resolved by re-reading.
func (s *ClaimService) persist(ctx context.Context, identity *core.Identity) error {
	claimed, err := s.ownedBy(ctx, identity.Address, identity.Username)
	if err != nil || claimed {
		return err
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = s.now().UTC()
	}
	if err := s.store.Create(ctx, identity); err != nil {
		if errors.Is(err, ports.ErrAlreadyExists) {
			return s.resolveConflict(ctx, identity.Address, identity.Username)
		}
		return fmt.Errorf("failed to store identity: %w", err)
	}

	s.logger.Info("identity claimed", "username", identity.Username, "address", identity.Address)
	if err := s.eventPub.PublishIdentityClaimed(ctx, identity); err != nil {
		s.logger.Error("failed to publish identity claimed", "username", identity.Username, "error", err)
	}
	return nil
}

func (s *ClaimService) resolveConflict(ctx context.Context, owner, username string) error {
	claimed, err := s.ownedBy(ctx, owner, username)
	if err != nil {
		return err
	}
	if claimed {
		return nil
	}
	return core.ErrUsernameTaken
}

// verifyClaimApproval checks a "CLAIM:<sig>.<exp>" message was signed by the
// authority for (username, owner, exp) and returns the approval signature.
func (s *ClaimService) verifyClaimApproval(username, owner, message string, now time.Time) (string, error) {
	sigHex, sigExp, err := core.ParseClaimMessage(message)
	if err != nil {
		return "", err
	}
	if sigExp < now.Unix() {
		return "", core.ErrSignatureExpired
	}
	sig, err := eth.DecodeSignature(sigHex)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidSignature, err)
	}
	td := eth.UsernameTypedData(s.domain, username, common.HexToAddress(owner), sigExp)
	ok, err := eth.VerifySignatureAgainstAddress(td, sig, s.authority.Address())
	if err != nil || !ok {
		return "", core.ErrInvalidSignature
	}
	return sigHex, nil
}

// verifyOwnerProof checks signature is owner's personal-sign signature of
// the claim message. A claim approval alone is public and proves nothing
// about who holds the owner key.
func verifyOwnerProof(owner, message, signature string) error {
	if signature == "" {
		return fmt.Errorf("missing owner signature: %w", core.ErrInvalidSignature)
	}
	sig, err := eth.DecodeSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidSignature, err)
	}
	recovered, err := eth.RecoverPersonal(message, sig)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidSignature, err)
	}
	if !core.SameAddress(recovered.Hex(), owner) {
		return core.ErrInvalidSignature
	}
	return nil
}

// verifyAuthSignature checks signature is owner's personal-sign signature of
// the auth message for (username, expiration).
func (s *ClaimService) verifyAuthSignature(username, owner, signature string, expiration int64) error {
	sig, err := eth.DecodeSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidSignature, err)
	}
	recovered, err := eth.RecoverPersonal(core.AuthMessage(s.product, username, expiration), sig)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrInvalidSignature, err)
	}
	if !core.SameAddress(recovered.Hex(), owner) {
		return core.ErrInvalidSignature
	}
	return nil
}
