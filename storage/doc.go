// Package storage defines the persistence interfaces for OAuth clients,
// authorization codes, and tokens.
//
// Three interfaces make up the contract: ClientStore for registered
// clients, CodeStore for authorization codes, and TokenStore for access
// and refresh tokens. CodeStore.ConsumeAuthorizationCode and
// TokenStore.RotateRefreshToken must each succeed at most once per
// value, no matter how many callers race on it.
//
// Backends live in subpackages: memory (single process), valkey
// (distributed, TTL-based expiry), and postgres (durable SQL storage).
package storage
