package core

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidUsername       = errors.New("invalid username")
	ErrInvalidAddress        = errors.New("invalid ethereum address")
	ErrInvalidLoginMethod    = errors.New("invalid login method")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrSignatureExpired      = errors.New("signature has expired")
	ErrExpirationTooFar      = errors.New("expiration exceeds maximum signature window")
	ErrUsernameTaken         = errors.New("username already taken")
	ErrAddressAlreadyClaimed = errors.New("address already claimed another username")
	ErrUsernameRejected      = errors.New("username rejected by moderation")
	ErrNotFound              = errors.New("identity not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrTokenExpired          = errors.New("token has expired")
	ErrInvalidToken          = errors.New("invalid token")
	ErrInvalidCredentials    = errors.New("invalid username or password")
	ErrRemoteService         = errors.New("remote service error")
)
