package tokenizer

import (
	"fmt"

	"github.com/0xfutbol/id/core"
	"github.com/golang-jwt/jwt/v5"
)

// Claim names carried by a session token. Extra claims sit next to them at
// the top level and never override these.
const (
	ClaimUsername    = "username"
	ClaimOwner       = "owner"
	ClaimSignature   = "signature"
	ClaimExpiration  = "expiration"
	ClaimLoginMethod = "loginMethod"
	claimExp         = "exp"
	claimIat         = "iat"
)

var reservedClaims = map[string]struct{}{
	ClaimUsername:    {},
	ClaimOwner:       {},
	ClaimSignature:   {},
	ClaimExpiration:  {},
	ClaimLoginMethod: {},
	claimExp:         {},
	claimIat:         {},
}

// sessionClaims flattens a session into JWT claims. The registered exp mirrors
// the application expiration.
func sessionClaims(session *core.Session) jwt.MapClaims {
	claims := jwt.MapClaims{}
	for k, v := range session.Extra {
		if _, reserved := reservedClaims[k]; !reserved {
			claims[k] = v
		}
	}
	claims[ClaimUsername] = session.Username
	claims[ClaimOwner] = session.Owner
	claims[ClaimSignature] = session.Signature
	claims[ClaimExpiration] = session.Expiration
	claims[ClaimLoginMethod] = string(session.LoginMethod)
	claims[claimExp] = jwt.NewNumericDate(session.ExpiresAt())
	if !session.IssuedAt.IsZero() {
		claims[claimIat] = jwt.NewNumericDate(session.IssuedAt)
	}
	return claims
}

// ClaimsToSession rebuilds a session from decoded claims.
func ClaimsToSession(claims jwt.MapClaims) (*core.Session, error) {
	username, _ := claims[ClaimUsername].(string)
	owner, _ := claims[ClaimOwner].(string)
	if username == "" || owner == "" {
		return nil, fmt.Errorf("missing identity claims: %w", core.ErrInvalidToken)
	}
	expiration, ok := claims[ClaimExpiration].(float64)
	if !ok {
		return nil, fmt.Errorf("missing expiration claim: %w", core.ErrInvalidToken)
	}
	signature, _ := claims[ClaimSignature].(string)
	method, _ := claims[ClaimLoginMethod].(string)

	session := &core.Session{
		Username:    username,
		Owner:       owner,
		Signature:   signature,
		Expiration:  int64(expiration),
		LoginMethod: core.LoginMethod(method),
	}
	if session.LoginMethod == "" {
		session.LoginMethod = core.LoginMethodWallet
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		session.IssuedAt = iat.Time
	}
	for k, v := range claims {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		if session.Extra == nil {
			session.Extra = make(map[string]any)
		}
		session.Extra[k] = v
	}
	return session, nil
}

// ParseUnverified decodes a token without checking its signature or expiry.
// Clients use it to inspect a cached token before deciding to reuse it.
func ParseUnverified(token string) (*core.Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", core.ErrInvalidToken)
	}
	return ClaimsToSession(claims)
}

