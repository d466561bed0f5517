package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// PostgresStore keeps identities in Postgres. The unique index on
// username_key and the address primary key arbitrate concurrent claims.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn and verifies connectivity. The schema is
// expected to be in place, see ApplyMigrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

var _ ports.IdentityStore = (*PostgresStore)(nil)

const identityColumns = `address, username, login_method, wallet_id, wallet_address, email, user_details, created_at`

func (s *PostgresStore) GetByAddress(ctx context.Context, address string) (*core.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE address = $1`, address)
	return scanIdentity(row)
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (*core.Identity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE username_key = $1`, core.UsernameKey(username))
	return scanIdentity(row)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) Create(ctx context.Context, identity *core.Identity) error {
	return insertIdentity(ctx, s.db, identity)
}

func insertIdentity(ctx context.Context, db execer, identity *core.Identity) error {
	details, err := marshalDetails(identity.UserDetails)
	if err != nil {
		return err
	}
	createdAt := identity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO identities(address, username, username_key, login_method, wallet_id, wallet_address, email, user_details, created_at)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		identity.Address, identity.Username, core.UsernameKey(identity.Username), string(identity.LoginMethod),
		nullString(identity.WalletID), nullString(identity.WalletAddress), nullString(identity.Email), details, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, address string, profile core.Profile) error {
	details, err := marshalDetails(profile.UserDetails)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET email = $2, user_details = $3 WHERE address = $1`,
		address, nullString(profile.Email), details)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// CreatePasswordIdentity inserts both rows in one transaction.
func (s *PostgresStore) CreatePasswordIdentity(ctx context.Context, identity *core.Identity, credential *core.PasswordCredential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertIdentity(ctx, tx, identity); err != nil {
		return err
	}
	if err := insertCredential(ctx, tx, credential); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit password identity: %w", err)
	}
	return nil
}

func insertCredential(ctx context.Context, db execer, credential *core.PasswordCredential) error {
	createdAt := credential.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO password_credentials(username_key, username, password_hash, wallet_id, created_at) VALUES($1, $2, $3, $4, $5)`,
		core.UsernameKey(credential.Username), credential.Username, credential.PasswordHash, nullString(credential.WalletID), createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCredential(ctx context.Context, username string) (*core.PasswordCredential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash, wallet_id, created_at FROM password_credentials WHERE username_key = $1`,
		core.UsernameKey(username))
	var c core.PasswordCredential
	var walletID sql.NullString
	if err := row.Scan(&c.Username, &c.PasswordHash, &walletID, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	c.WalletID = walletID.String
	return &c, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanIdentity(row *sql.Row) (*core.Identity, error) {
	var (
		id                             core.Identity
		method                         string
		walletID, walletAddress, email sql.NullString
		details                        []byte
	)
	err := row.Scan(&id.Address, &id.Username, &method, &walletID, &walletAddress, &email, &details, &id.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	id.LoginMethod = core.LoginMethod(method)
	id.WalletID = walletID.String
	id.WalletAddress = walletAddress.String
	id.Email = email.String
	if len(details) > 0 {
		if err := json.Unmarshal(details, &id.UserDetails); err != nil {
			return nil, fmt.Errorf("failed to decode user details: %w", err)
		}
	}
	return &id, nil
}

func marshalDetails(details map[string]string) (any, error) {
	if len(details) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user details: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
