package core

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{1,61}[a-zA-Z0-9]$`)

// ValidateUsername checks the registration pattern: alphanumerics and inner
// hyphens, no leading or trailing hyphen.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// UsernameKey is the case-insensitive uniqueness key for a username.
func UsernameKey(username string) string {
	return strings.ToLower(username)
}

// NormalizeAddress validates a hex address and returns its lowercase form.
func NormalizeAddress(address string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(address), "0x") || !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
