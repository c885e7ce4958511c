package mcpauth

// Well-known discovery paths (RFC 8414 and RFC 9728)
const (
	MetadataPathAuthorizationServer = "/.well-known/oauth-authorization-server"
	MetadataPathProtectedResource   = "/.well-known/oauth-protected-resource"
	MetadataPathOpenIDConfiguration = "/.well-known/openid-configuration"
)

// Default endpoint paths relative to the issuer
const (
	PathAuthorize    = "/authorize"
	PathToken        = "/token"
	PathRegistration = "/register"
	PathRevocation   = "/revoke"
)

// Client types per RFC 6749 Section 2.1
const (
	ClientTypePublic       = "public"
	ClientTypeConfidential = "confidential"
)

// Token endpoint authentication methods per RFC 7591
const (
	AuthMethodClientSecretPost = "client_secret_post"
	AuthMethodNone             = "none"
)

// Grant types supported by the server
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// PKCE code challenge methods (RFC 7636). Only S256 is accepted.
const (
	PKCEMethodS256 = "S256"
)

// RFC 7636: code_verifier length bounds
const (
	PKCEVerifierMinLength = 43
	PKCEVerifierMaxLength = 128
)

const (
	// tokenTypeBearer is the token_type value in token responses (RFC 6750)
	tokenTypeBearer = "Bearer"

	// ResponseTypeCode is the only supported response_type
	ResponseTypeCode = "code"
)

// SupportedTokenAuthMethods lists the token endpoint auth methods advertised
// in the authorization server metadata.
var SupportedTokenAuthMethods = []string{AuthMethodClientSecretPost, AuthMethodNone}

// SupportedGrantTypes lists the grant types advertised in metadata and
// granted to newly registered clients.
var SupportedGrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
