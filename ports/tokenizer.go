package ports

import "github.com/0xfutbol/id/core"

// Tokenizer converts between sessions and bearer tokens.
type Tokenizer interface {
	SessionToToken(session *core.Session) (string, error)
	// TokenToSession checks the token signature and decodes it. Expiration is
	// left to the caller.
	TokenToSession(token string) (*core.Session, error)
}
