package moderation

import (
	"context"
	"strings"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
)

// DefaultReserved are names held back for the operator.
var DefaultReserved = []string{"admin", "administrator", "root", "support", "metasoccer", "moderator", "system"}

// Blocklist rejects usernames that equal a reserved name or contain a
// blocked term, ignoring case and hyphens.
type Blocklist struct {
	reserved map[string]struct{}
	terms    []string
}

// NewBlocklist builds a moderator from exact reserved names and blocked substrings.
func NewBlocklist(reserved, terms []string) *Blocklist {
	b := &Blocklist{reserved: make(map[string]struct{}, len(reserved))}
	for _, r := range reserved {
		if r = fold(r); r != "" {
			b.reserved[r] = struct{}{}
		}
	}
	for _, t := range terms {
		if t = fold(t); t != "" {
			b.terms = append(b.terms, t)
		}
	}
	return b
}

var _ ports.Moderator = (*Blocklist)(nil)

func (b *Blocklist) Check(_ context.Context, username string) error {
	name := fold(username)
	if _, ok := b.reserved[name]; ok {
		return core.ErrUsernameRejected
	}
	for _, t := range b.terms {
		if strings.Contains(name, t) {
			return core.ErrUsernameRejected
		}
	}
	return nil
}

func fold(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "")
}

// AllowAll accepts every username.
type AllowAll struct{}

func (AllowAll) Check(context.Context, string) error { return nil }
