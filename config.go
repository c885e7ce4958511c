package mcpauth

import (
	"log/slog"
	"time"

	"github.com/lucianfialho/mcp-auth/internal/util"
)

// Config holds the authorization server configuration.
// Zero values are replaced with secure defaults by applySecureDefaults.
type Config struct {
	// Issuer is the server's issuer identifier (base URL, required).
	// Used verbatim in discovery metadata and for building endpoint URLs.
	Issuer string

	// Resource is the protected resource identifier for RFC 9728 metadata.
	// Defaults to the Issuer when empty.
	Resource string

	// SupportedScopes lists the scopes advertised in discovery metadata
	// and allowed on authorization requests. If empty, all scopes pass.
	SupportedScopes []string

	// AuthorizationCodeTTL is how long authorization codes are valid.
	// Default: 10 minutes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid.
	// Default: 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens are valid.
	// Zero means refresh tokens never expire and are invalidated only by
	// rotation or revocation (the default).
	RefreshTokenTTL time.Duration

	// ClockSkewGracePeriod is the grace period for expiry checks.
	// Prevents false expiration errors from time drift between systems.
	// Default: 5 seconds.
	ClockSkewGracePeriod time.Duration

	// MaxClientsPerIP limits client registrations per IP address.
	// Prevents DoS via mass client registration. Default: 10.
	MaxClientsPerIP int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this
	// server, used with TrustProxy to extract the client IP. Default: 1.
	TrustedProxyCount int

	// RateLimit configures per-IP request rate limiting.
	RateLimit RateLimitConfig

	// EnableAuditLogging enables security audit logging.
	// Logs auth events, token operations, and violations (sensitive data hashed).
	EnableAuditLogging bool

	// Logger for structured logging (optional, uses slog.Default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int
}

// applySecureDefaults fills in zero values with secure defaults.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 10 * time.Minute
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = time.Hour
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = 5 * time.Second
	}
	if config.MaxClientsPerIP == 0 {
		config.MaxClientsPerIP = 10
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	if config.Resource == "" {
		config.Resource = config.Issuer
	}

	if config.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP extraction",
			"trusted_proxy_count", config.TrustedProxyCount)
	}

	return config
}

// endpoint joins the issuer with an endpoint path.
func (c *Config) endpoint(path string) string {
	return util.NormalizeURL(c.Issuer) + path
}

// AuthorizationEndpoint returns the absolute URL of the authorization endpoint
func (c *Config) AuthorizationEndpoint() string { return c.endpoint(PathAuthorize) }

// TokenEndpoint returns the absolute URL of the token endpoint
func (c *Config) TokenEndpoint() string { return c.endpoint(PathToken) }

// RegistrationEndpoint returns the absolute URL of the client registration endpoint
func (c *Config) RegistrationEndpoint() string { return c.endpoint(PathRegistration) }

// RevocationEndpoint returns the absolute URL of the token revocation endpoint
func (c *Config) RevocationEndpoint() string { return c.endpoint(PathRevocation) }
