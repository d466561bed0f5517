package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type identityModel struct {
	Address       string `gorm:"primaryKey"`
	Username      string `gorm:"not null"`
	UsernameKey   string `gorm:"uniqueIndex;not null"`
	LoginMethod   string `gorm:"not null"`
	WalletID      string
	WalletAddress string
	Email         string
	UserDetails   string
	CreatedAt     time.Time
}

func (identityModel) TableName() string { return "identities" }

type credentialModel struct {
	UsernameKey  string `gorm:"primaryKey"`
	Username     string `gorm:"not null"`
	PasswordHash string `gorm:"not null"`
	WalletID     string
	CreatedAt    time.Time
}

func (credentialModel) TableName() string { return "password_credentials" }

// SQLiteStore is a single-node store backed by an embedded SQLite file.
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens path (":memory:" for a throwaway database) and
// migrates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&identityModel{}, &credentialModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

var _ ports.IdentityStore = (*SQLiteStore)(nil)

func (s *SQLiteStore) GetByAddress(ctx context.Context, address string) (*core.Identity, error) {
	var m identityModel
	if err := s.db.WithContext(ctx).First(&m, "address = ?", address).Error; err != nil {
		return nil, translateGormError(err, "failed to get identity")
	}
	return m.toIdentity()
}

func (s *SQLiteStore) GetByUsername(ctx context.Context, username string) (*core.Identity, error) {
	var m identityModel
	if err := s.db.WithContext(ctx).First(&m, "username_key = ?", core.UsernameKey(username)).Error; err != nil {
		return nil, translateGormError(err, "failed to get identity")
	}
	return m.toIdentity()
}

func (s *SQLiteStore) Create(ctx context.Context, identity *core.Identity) error {
	m, err := newIdentityModel(identity)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return translateGormError(err, "failed to insert identity")
	}
	return nil
}

func newIdentityModel(identity *core.Identity) (*identityModel, error) {
	details, err := encodeDetails(identity.UserDetails)
	if err != nil {
		return nil, err
	}
	m := &identityModel{
		Address:       identity.Address,
		Username:      identity.Username,
		UsernameKey:   core.UsernameKey(identity.Username),
		LoginMethod:   string(identity.LoginMethod),
		WalletID:      identity.WalletID,
		WalletAddress: identity.WalletAddress,
		Email:         identity.Email,
		UserDetails:   details,
		CreatedAt:     identity.CreatedAt,
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m, nil
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, address string, profile core.Profile) error {
	details, err := encodeDetails(profile.UserDetails)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&identityModel{}).
		Where("address = ?", address).
		Updates(map[string]any{"email": profile.Email, "user_details": details})
	if res.Error != nil {
		return fmt.Errorf("failed to update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// CreatePasswordIdentity inserts both rows in one transaction.
func (s *SQLiteStore) CreatePasswordIdentity(ctx context.Context, identity *core.Identity, credential *core.PasswordCredential) error {
	im, err := newIdentityModel(identity)
	if err != nil {
		return err
	}
	cm := credentialModel{
		UsernameKey:  core.UsernameKey(credential.Username),
		Username:     credential.Username,
		PasswordHash: credential.PasswordHash,
		WalletID:     credential.WalletID,
		CreatedAt:    credential.CreatedAt,
	}
	if cm.CreatedAt.IsZero() {
		cm.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(im).Error; err != nil {
			return translateGormError(err, "failed to insert identity")
		}
		if err := tx.Create(&cm).Error; err != nil {
			return translateGormError(err, "failed to insert credential")
		}
		return nil
	})
}

func (s *SQLiteStore) GetCredential(ctx context.Context, username string) (*core.PasswordCredential, error) {
	var m credentialModel
	if err := s.db.WithContext(ctx).First(&m, "username_key = ?", core.UsernameKey(username)).Error; err != nil {
		return nil, translateGormError(err, "failed to get credential")
	}
	return &core.PasswordCredential{
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		WalletID:     m.WalletID,
		CreatedAt:    m.CreatedAt,
	}, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m *identityModel) toIdentity() (*core.Identity, error) {
	id := &core.Identity{
		Address:       m.Address,
		Username:      m.Username,
		LoginMethod:   core.LoginMethod(m.LoginMethod),
		WalletID:      m.WalletID,
		WalletAddress: m.WalletAddress,
		Email:         m.Email,
		CreatedAt:     m.CreatedAt,
	}
	if m.UserDetails != "" {
		if err := json.Unmarshal([]byte(m.UserDetails), &id.UserDetails); err != nil {
			return nil, fmt.Errorf("failed to decode user details: %w", err)
		}
	}
	return id, nil
}

func encodeDetails(details map[string]string) (string, error) {
	if len(details) == 0 {
		return "", nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user details: %w", err)
	}
	return string(b), nil
}

func translateGormError(err error, msg string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ports.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return ports.ErrAlreadyExists
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
