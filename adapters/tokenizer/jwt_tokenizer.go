package tokenizer

import (
	"errors"
	"fmt"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
	"github.com/golang-jwt/jwt/v5"
)

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs
type JWTTokenizer struct {
	secret []byte
}

// NewJWTTokenizer creates a new JWT tokenizer signing with secret
func NewJWTTokenizer(secret []byte) ports.Tokenizer {
	return &JWTTokenizer{secret: secret}
}

// SessionToToken converts a Session to a signed JWT
func (j *JWTTokenizer) SessionToToken(session *core.Session) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims(session))

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToSession verifies the token signature and registered exp, then
// decodes the session.
func (j *JWTTokenizer) TokenToSession(tokenStr string) (*core.Session, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to parse token: %w", core.ErrInvalidToken)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	return ClaimsToSession(claims)
}
