package storage

import (
	"context"
	"time"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	// TokenKindAccess identifies short-lived bearer access tokens
	TokenKindAccess TokenKind = "access"

	// TokenKindRefresh identifies long-lived refresh tokens
	TokenKindRefresh TokenKind = "refresh"
)

// ClientStore defines the interface for managing OAuth client registrations.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient saves a registered client
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID.
	// Returns ErrClientNotFound if no such client exists.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret validates a client's secret.
	// Implementations MUST take constant time regardless of whether the
	// client exists, to prevent client ID enumeration via timing.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// ListClients lists all registered clients (for admin purposes)
	ListClients(ctx context.Context) ([]*Client, error)

	// CheckIPLimit checks if an IP has reached the client registration limit
	CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error

	// TrackClientIP records a successful registration from the given IP
	TrackClientIP(ctx context.Context, ip string) error
}

// CodeStore defines the interface for managing authorization codes.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode saves an issued authorization code
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves an authorization code without consuming it.
	// Returns ErrAuthorizationCodeNotFound if missing, ErrExpired if past its TTL.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that a code is unconsumed
	// and marks it consumed. Exactly ONE concurrent caller can succeed;
	// all others receive ErrAuthorizationCodeConsumed.
	//
	// The code record is returned on success. On ErrAuthorizationCodeConsumed
	// the stored record is also returned so callers can detect replay against
	// a specific client. For other errors nil is returned.
	//
	// SECURITY: This operation MUST be atomic. A read-then-write sequence
	// would allow two concurrent exchanges of the same code to both succeed.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes an authorization code
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore defines the interface for managing issued tokens.
// Both access and refresh tokens are stored as opaque Token records
// keyed by their string value.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// SaveToken saves an issued token
	SaveToken(ctx context.Context, token *Token) error

	// GetToken retrieves a token by value.
	// Returns ErrTokenNotFound if missing or ErrExpired if past its TTL.
	// Revoked tokens ARE returned with Revoked=true so callers can
	// distinguish revocation from absence.
	GetToken(ctx context.Context, value string) (*Token, error)

	// RevokeToken marks a token as revoked. Returns ErrTokenNotFound if the
	// token does not exist. Revoking an already-revoked token is a no-op.
	RevokeToken(ctx context.Context, value string) error

	// RotateRefreshToken atomically validates and invalidates a refresh
	// token so a replacement can be issued. Exactly ONE concurrent caller
	// can succeed; all others receive ErrTokenNotFound or ErrTokenRevoked.
	//
	// Returns the consumed token record on success.
	//
	// SECURITY: This operation MUST be atomic to prevent concurrent refresh
	// requests from each obtaining a valid token pair from the same grant.
	RotateRefreshToken(ctx context.Context, value string) (*Token, error)

	// DeleteToken removes a token record entirely
	DeleteToken(ctx context.Context, value string) error
}

// Client represents a registered OAuth client
type Client struct {
	ClientID                string
	ClientSecretHash        string // bcrypt hash, empty for public clients
	ClientType              string // "public" or "confidential"
	RedirectURIs            []string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	ClientName              string
	ClientURI               string
	Scopes                  []string
	CreatedAt               time.Time
}

// AuthorizationCode represents an issued authorization code.
// The code is bound to the client, redirect URI, and PKCE challenge
// presented on the authorization request, and to the authenticated subject.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	RedirectURI         string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string // authenticated end-user identity
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Consumed            bool
}

// Token represents an issued access or refresh token.
// Token values are opaque random strings; the record holds the grant
// context needed for validation and revocation.
type Token struct {
	Value     string
	Kind      TokenKind
	ClientID  string
	Subject   string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time // zero means no expiry (refresh tokens by default)
	Revoked   bool
	RevokedAt time.Time

	// RotatedFrom is the refresh token value this token replaced, if any.
	// Used for audit trails when investigating rotation chains.
	RotatedFrom string
}
