package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis implementation of the IdentityStore interface.
// Usernames and addresses are claimed with SETNX, so the first writer wins.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "soccerid:",
	}
}

var _ ports.IdentityStore = (*RedisStore)(nil)

type identityRecord struct {
	Address       string            `json:"address"`
	Username      string            `json:"username"`
	LoginMethod   string            `json:"login_method"`
	WalletID      string            `json:"wallet_id,omitempty"`
	WalletAddress string            `json:"wallet_address,omitempty"`
	Email         string            `json:"email,omitempty"`
	UserDetails   map[string]string `json:"user_details,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

type credentialRecord struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	WalletID     string    `json:"wallet_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *RedisStore) addressKey(address string) string {
	return s.prefix + "identity:address:" + address
}

func (s *RedisStore) usernameKey(username string) string {
	return s.prefix + "identity:username:" + core.UsernameKey(username)
}

func (s *RedisStore) credentialKey(username string) string {
	return s.prefix + "credential:" + core.UsernameKey(username)
}

func (s *RedisStore) GetByAddress(ctx context.Context, address string) (*core.Identity, error) {
	raw, err := s.client.Get(ctx, s.addressKey(address)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return decodeIdentity(raw)
}

func (s *RedisStore) GetByUsername(ctx context.Context, username string) (*core.Identity, error) {
	address, err := s.client.Get(ctx, s.usernameKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve username: %w", err)
	}
	return s.GetByAddress(ctx, address)
}

// Create reserves the username first, then the address. A lost address
// reservation releases the username again.
func (s *RedisStore) Create(ctx context.Context, identity *core.Identity) error {
	rec := toIdentityRecord(identity)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.usernameKey(identity.Username), identity.Address, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve username: %w", err)
	}
	if !ok {
		return ports.ErrAlreadyExists
	}

	ok, err = s.client.SetNX(ctx, s.addressKey(identity.Address), payload, 0).Result()
	if err != nil || !ok {
		if delErr := s.client.Del(ctx, s.usernameKey(identity.Username)).Err(); delErr != nil {
			return fmt.Errorf("failed to release username: %w", delErr)
		}
		if err != nil {
			return fmt.Errorf("failed to store identity: %w", err)
		}
		return ports.ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) UpdateProfile(ctx context.Context, address string, profile core.Profile) error {
	key := s.addressKey(address)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ports.ErrNotFound
			}
			return fmt.Errorf("failed to get identity: %w", err)
		}
		var rec identityRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode identity: %w", err)
		}
		rec.Email = profile.Email
		rec.UserDetails = profile.UserDetails
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal identity: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
}

// passwordIdentityAttempts bounds retries when a watched key changes under
// a CreatePasswordIdentity transaction.
const passwordIdentityAttempts = 3

// CreatePasswordIdentity writes the username, address and credential keys in
// one MULTI/EXEC guarded by WATCH, so a partial identity is never visible.
func (s *RedisStore) CreatePasswordIdentity(ctx context.Context, identity *core.Identity, credential *core.PasswordCredential) error {
	now := time.Now().UTC()
	rec := toIdentityRecord(identity)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	identityPayload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}
	cred := credentialRecord{
		Username:     credential.Username,
		PasswordHash: credential.PasswordHash,
		WalletID:     credential.WalletID,
		CreatedAt:    credential.CreatedAt,
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	credPayload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	usernameKey := s.usernameKey(identity.Username)
	addressKey := s.addressKey(identity.Address)
	credKey := s.credentialKey(credential.Username)

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, usernameKey, addressKey, credKey).Result()
		if err != nil {
			return fmt.Errorf("failed to check keys: %w", err)
		}
		if n > 0 {
			return ports.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, usernameKey, identity.Address, 0)
			pipe.Set(ctx, addressKey, identityPayload, 0)
			pipe.Set(ctx, credKey, credPayload, 0)
			return nil
		})
		return err
	}

	for i := 0; i < passwordIdentityAttempts; i++ {
		err := s.client.Watch(ctx, txf, usernameKey, addressKey, credKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ports.ErrAlreadyExists) {
			return fmt.Errorf("failed to store password identity: %w", err)
		}
		return err
	}
	// every attempt lost to a concurrent writer of the same keys
	return ports.ErrAlreadyExists
}

func (s *RedisStore) GetCredential(ctx context.Context, username string) (*core.PasswordCredential, error) {
	raw, err := s.client.Get(ctx, s.credentialKey(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	var rec credentialRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode credential: %w", err)
	}
	return &core.PasswordCredential{
		Username:     rec.Username,
		PasswordHash: rec.PasswordHash,
		WalletID:     rec.WalletID,
		CreatedAt:    rec.CreatedAt,
	}, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func toIdentityRecord(id *core.Identity) identityRecord {
	return identityRecord{
		Address:       id.Address,
		Username:      id.Username,
		LoginMethod:   string(id.LoginMethod),
		WalletID:      id.WalletID,
		WalletAddress: id.WalletAddress,
		Email:         id.Email,
		UserDetails:   id.UserDetails,
		CreatedAt:     id.CreatedAt,
	}
}

func decodeIdentity(raw []byte) (*core.Identity, error) {
	var rec identityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	return &core.Identity{
		Address:       rec.Address,
		Username:      rec.Username,
		LoginMethod:   core.LoginMethod(rec.LoginMethod),
		WalletID:      rec.WalletID,
		WalletAddress: rec.WalletAddress,
		Email:         rec.Email,
		UserDetails:   rec.UserDetails,
		CreatedAt:     rec.CreatedAt,
	}, nil
}
