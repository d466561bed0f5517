package core

import (
	"strings"
	"time"
)

// LoginMethod records how an identity first authenticated.
type LoginMethod string

const (
	LoginMethodWallet       LoginMethod = "wallet"
	LoginMethodWaaSPassword LoginMethod = "waas-password"
	LoginMethodTelegram     LoginMethod = "telegram"
	LoginMethodDiscord      LoginMethod = "discord"
	LoginMethodMatchain     LoginMethod = "matchain"
)

// ParseLoginMethod returns the wallet method for an empty value.
func ParseLoginMethod(s string) (LoginMethod, error) {
	switch m := LoginMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return LoginMethodWallet, nil
	case LoginMethodWallet, LoginMethodWaaSPassword, LoginMethodTelegram, LoginMethodDiscord, LoginMethodMatchain:
		return m, nil
	default:
		return "", ErrInvalidLoginMethod
	}
}

// Identity binds a username to an address. Once stored the pair never changes.
type Identity struct {
	Address       string            // lowercase 0x-prefixed hex
	Username      string            // display form, uniqueness is case-insensitive
	LoginMethod   LoginMethod
	WalletID      string            // custodial wallet handle, password identities only
	WalletAddress string            // custodial wallet address, password identities only
	Email         string
	UserDetails   map[string]string // profile metadata supplied at claim time
	CreatedAt     time.Time
}

// Profile is optional metadata attached to an identity after it is claimed.
type Profile struct {
	Email       string
	UserDetails map[string]string
}

// Empty reports whether the profile carries nothing to persist.
func (p Profile) Empty() bool {
	return p.Email == "" && len(p.UserDetails) == 0
}

// PasswordCredential is the secret half of a password identity.
type PasswordCredential struct {
	Username     string
	PasswordHash string
	WalletID     string
	CreatedAt    time.Time
}

// ClaimSignature is the authority's EIP-712 approval for owner to register username.
type ClaimSignature struct {
	Username            string
	Owner               string
	SignatureExpiration int64 // unix seconds
	Signature           string
	Claimed             bool // owner already holds this username
}

// Session is the decoded content of a session token.
type Session struct {
	Username    string
	Owner       string
	Signature   string // opaque, never re-verified
	Expiration  int64  // unix millis
	LoginMethod LoginMethod
	IssuedAt    time.Time
	Extra       map[string]any
}

// ExpiresAt converts the millisecond expiration to a time.
func (s *Session) ExpiresAt() time.Time {
	return time.UnixMilli(s.Expiration)
}

// Expired reports whether the session expiration has elapsed at now.
func (s *Session) Expired(now time.Time) bool {
	return s.Expiration < now.UnixMilli()
}

// Wallet is a custodial wallet provisioned for a password identity.
type Wallet struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// WaaSSession is a short-lived credential for operating a custodial wallet.
type WaaSSession struct {
	Token     string
	ExpiresAt time.Time
}
