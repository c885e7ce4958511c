package storage

import "errors"

// Sentinel errors returned by storage backends. Callers match these with
// errors.Is to map storage failures onto OAuth protocol errors.
var (
	// ErrClientNotFound indicates the client ID is not registered
	ErrClientNotFound = errors.New("client not found")

	// ErrTokenNotFound indicates the token value is unknown
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenRevoked indicates the token exists but has been revoked
	ErrTokenRevoked = errors.New("token revoked")

	// ErrExpired indicates a code or token is past its expiry
	ErrExpired = errors.New("expired")

	// ErrAuthorizationCodeNotFound indicates the authorization code is unknown
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeConsumed indicates the authorization code was
	// already exchanged. Receiving this error may indicate a replay attack.
	ErrAuthorizationCodeConsumed = errors.New("authorization code already consumed")

	// ErrInvalidClientSecret indicates client secret validation failed
	ErrInvalidClientSecret = errors.New("invalid client secret")

	// ErrClientLimitExceeded indicates an IP has registered too many clients
	ErrClientLimitExceeded = errors.New("client registration limit exceeded for IP")
)
