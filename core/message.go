package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxSignatureExpiration bounds how far in the future a signed expiration may lie.
	MaxSignatureExpiration = 7 * 24 * time.Hour

	// DefaultProduct is the product name embedded in the auth message.
	DefaultProduct = "MetaSoccer"

	// PasswordSentinel stands in for the signature claim of password sessions.
	PasswordSentinel = "WAAS_PASSWORD_LOGIN"

	claimPrefix = "CLAIM:"
)

// AuthMessage renders the message a user personal-signs to log in.
// expiration is unix millis.
func AuthMessage(product, username string, expiration int64) string {
	if product == "" {
		product = DefaultProduct
	}
	return fmt.Sprintf("Authenticate with %s\n\nID: %s\n\nExpiration: %d", product, username, expiration)
}

// CheckExpirationWindow accepts an expiration (unix millis) that has not yet
// elapsed and lies at most MaxSignatureExpiration ahead of now.
func CheckExpirationWindow(expiration int64, now time.Time) error {
	nowMs := now.UnixMilli()
	if expiration < nowMs {
		return ErrSignatureExpired
	}
	if expiration-nowMs > MaxSignatureExpiration.Milliseconds() {
		return ErrExpirationTooFar
	}
	return nil
}

// ClaimMessage encodes a claim signature as a login message.
func ClaimMessage(signature string, signatureExpiration int64) string {
	return fmt.Sprintf("%s%s.%d", claimPrefix, signature, signatureExpiration)
}

// IsClaimMessage reports whether message carries a claim signature.
func IsClaimMessage(message string) bool {
	return strings.HasPrefix(message, claimPrefix)
}

// ParseClaimMessage splits "CLAIM:<sig>.<exp>" into its parts.
func ParseClaimMessage(message string) (signature string, signatureExpiration int64, err error) {
	if !IsClaimMessage(message) {
		return "", 0, fmt.Errorf("missing claim prefix: %w", ErrInvalidInput)
	}
	body := strings.TrimPrefix(message, claimPrefix)
	i := strings.LastIndex(body, ".")
	if i <= 0 || i == len(body)-1 {
		return "", 0, fmt.Errorf("malformed claim message: %w", ErrInvalidInput)
	}
	exp, err := strconv.ParseInt(body[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed claim expiration: %w", ErrInvalidInput)
	}
	return body[:i], exp, nil
}
