// Package mcpauth implements an OAuth 2.1 authorization server for MCP
// deployments: authorization code flow with mandatory PKCE (S256), dynamic
// client registration (RFC 7591), token revocation (RFC 7009), and
// discovery metadata (RFC 8414, RFC 9728).
//
// The Server type holds the protocol logic against pluggable storage
// backends; the Handler type adapts it to net/http. End-user identity is
// delegated to a sessions.Authenticator supplied by the host application.
package mcpauth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/lucianfialho/mcp-auth/instrumentation"
	"github.com/lucianfialho/mcp-auth/internal/util"
	"github.com/lucianfialho/mcp-auth/security"
	"github.com/lucianfialho/mcp-auth/sessions"
	"github.com/lucianfialho/mcp-auth/storage"
)

// tokenLogLength is the number of characters of a token value included in logs
const tokenLogLength = 8

// dangerousRedirectSchemes lists URI schemes that must never be allowed
// as redirect targets.
var dangerousRedirectSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// Server implements the OAuth 2.1 authorization server logic.
// It is transport-agnostic; Handler adapts it to HTTP.
type Server struct {
	authenticator sessions.Authenticator
	clientStore   storage.ClientStore
	codeStore     storage.CodeStore
	tokenStore    storage.TokenStore

	auditor         *security.Auditor
	rateLimiter     *security.RateLimiter
	instrumentation *instrumentation.Instrumentation

	logger *slog.Logger
	config *Config
}

// NewServer creates a new authorization server
func NewServer(
	authenticator sessions.Authenticator,
	clientStore storage.ClientStore,
	codeStore storage.CodeStore,
	tokenStore storage.TokenStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if clientStore == nil {
		return nil, fmt.Errorf("client store is required")
	}
	if codeStore == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if tokenStore == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if config.Issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	if err := validateIssuer(config.Issuer); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	s := &Server{
		authenticator: authenticator,
		clientStore:   clientStore,
		codeStore:     codeStore,
		tokenStore:    tokenStore,
		config:        config,
		logger:        logger,
	}

	if config.RateLimit.Rate > 0 {
		s.rateLimiter = security.NewRateLimiter(config.RateLimit.Rate, config.RateLimit.Burst, logger)
	}
	if config.EnableAuditLogging {
		s.auditor = security.NewAuditor(logger, true)
	}

	return s, nil
}

// validateIssuer checks that the issuer is an absolute http(s) URL.
func validateIssuer(issuer string) error {
	u, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("issuer URL must have a host")
	}
	return nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.auditor = aud
}

// SetRateLimiter sets the rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.rateLimiter = rl
}

// SetInstrumentation sets OpenTelemetry instrumentation
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// Config returns the effective server configuration
func (s *Server) Config() *Config {
	return s.config
}

// AuthorizationRequest carries the parsed parameters of an authorization
// endpoint request (RFC 6749 Section 4.1.1).
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize validates an authorization request for the given authenticated
// principal and issues a single-use authorization code bound to the client,
// redirect URI, scope, PKCE challenge, and subject.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest, principal *sessions.Principal) (*storage.AuthorizationCode, error) {
	if principal == nil || principal.Subject == "" {
		return nil, ErrAccessDenied("no authenticated user")
	}

	client, err := s.clientStore.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		return nil, ErrServerError("failed to load client")
	}

	if err := s.validateRedirectURI(client, req.RedirectURI); err != nil {
		if s.auditor != nil {
			s.auditor.LogEvent(security.Event{
				Type:     security.EventInvalidRedirect,
				ClientID: req.ClientID,
				Details:  map[string]any{"redirect_uri": req.RedirectURI},
			})
		}
		return nil, err
	}

	// Redirect URI is validated. Remaining failures are reported to the
	// client via error redirect by the HTTP layer.
	if req.ResponseType != ResponseTypeCode {
		return nil, ErrInvalidRequest(fmt.Sprintf("unsupported response_type: %s", req.ResponseType))
	}

	if err := s.validateScopes(req.Scope); err != nil {
		return nil, err
	}

	if err := s.validateCodeChallenge(req.CodeChallenge, req.CodeChallengeMethod); err != nil {
		return nil, err
	}

	now := time.Now()
	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Subject:             principal.Subject,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.config.AuthorizationCodeTTL),
	}

	if err := s.codeStore.SaveAuthorizationCode(ctx, code); err != nil {
		s.logger.Error("Failed to save authorization code", "client_id", client.ClientID, "error", err)
		return nil, ErrServerError("failed to issue authorization code")
	}

	if s.auditor != nil {
		s.auditor.LogEvent(security.Event{
			Type:     security.EventAuthorizationCodeIssued,
			UserID:   principal.Subject,
			ClientID: client.ClientID,
			Details:  map[string]any{"scope": req.Scope},
		})
	}

	s.logger.Info("Issued authorization code",
		"client_id", client.ClientID,
		"code_prefix", util.SafeTruncate(code.Code, tokenLogLength))

	return code, nil
}

// validateRedirectURI checks that the redirect URI exactly matches one of
// the client's registered URIs.
func (s *Server) validateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return ErrInvalidRequest("redirect_uri is required")
	}

	for _, registered := range client.RedirectURIs {
		if registered == redirectURI {
			return nil
		}
	}

	return ErrInvalidRedirectURI("redirect_uri does not match any registered URI")
}

// validateScopes checks the requested scopes against the supported set.
// An empty SupportedScopes config allows any scope.
func (s *Server) validateScopes(scope string) error {
	if scope == "" || len(s.config.SupportedScopes) == 0 {
		return nil
	}

	supported := make(map[string]bool, len(s.config.SupportedScopes))
	for _, sc := range s.config.SupportedScopes {
		supported[sc] = true
	}

	for _, requested := range strings.Fields(scope) {
		if !supported[requested] {
			return ErrInvalidScope(fmt.Sprintf("unsupported scope: %s", requested))
		}
	}

	return nil
}

// validateCodeChallenge checks the PKCE parameters on an authorization
// request. PKCE is mandatory and only the S256 method is accepted.
func (s *Server) validateCodeChallenge(challenge, method string) error {
	if challenge == "" {
		return ErrInvalidRequest("code_challenge is required (PKCE)")
	}

	if method != PKCEMethodS256 {
		return ErrInvalidRequest(fmt.Sprintf("unsupported code_challenge_method: %q (only S256 is supported)", method))
	}

	// S256 challenges are BASE64URL(SHA256) and therefore exactly 43 chars,
	// but accept the full RFC 7636 verifier range to stay lenient on input.
	if len(challenge) < PKCEVerifierMinLength || len(challenge) > PKCEVerifierMaxLength {
		return ErrInvalidRequest("code_challenge must be 43-128 characters")
	}

	return nil
}

// validatePKCE validates the PKCE code verifier against the challenge per RFC 7636
func (s *Server) validatePKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}

	// RFC 7636: code_verifier must be 43-128 characters
	if len(verifier) < PKCEVerifierMinLength {
		return fmt.Errorf("code_verifier must be at least %d characters", PKCEVerifierMinLength)
	}
	if len(verifier) > PKCEVerifierMaxLength {
		return fmt.Errorf("code_verifier must be at most %d characters", PKCEVerifierMaxLength)
	}

	// RFC 7636: code_verifier can only contain [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~"
	for _, ch := range verifier {
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') && (ch < '0' || ch > '9') &&
			ch != '-' && ch != '.' && ch != '_' && ch != '~' {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}

	if method != PKCEMethodS256 {
		return fmt.Errorf("unsupported code_challenge_method: %s (only S256 is supported)", method)
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}

	return nil
}

// ValidateAccessToken validates a bearer access token and returns its record.
// Returns an error for unknown, revoked, expired, or non-access tokens.
func (s *Server) ValidateAccessToken(ctx context.Context, accessToken string) (*storage.Token, error) {
	token, err := s.tokenStore.GetToken(ctx, accessToken)
	if err != nil {
		if s.auditor != nil {
			s.auditor.LogAuthFailure("", "", "", "access_token_lookup_failed")
		}
		return nil, ErrInvalidToken("invalid access token")
	}

	if token.Kind != storage.TokenKindAccess {
		return nil, ErrInvalidToken("invalid access token")
	}

	if token.Revoked {
		if s.auditor != nil {
			s.auditor.LogAuthFailure(token.Subject, token.ClientID, "", "revoked_token_presented")
		}
		return nil, ErrInvalidToken("token has been revoked")
	}

	if security.IsTokenExpiredWithGracePeriod(token.ExpiresAt, s.config.ClockSkewGracePeriod) {
		return nil, ErrInvalidToken("token has expired")
	}

	return token, nil
}

// RevokeToken revokes an access or refresh token per RFC 7009. Revoking a
// token that does not exist, already expired, or was already revoked is not
// an error; the endpoint contract is that revocation never leaks token state.
func (s *Server) RevokeToken(ctx context.Context, tokenValue, clientID, clientIP string) error {
	token, err := s.tokenStore.GetToken(ctx, tokenValue)
	if err != nil {
		// Unknown or expired token: nothing to do, report success
		s.logger.Debug("Revocation requested for unknown token", "client_id", clientID)
		return nil
	}

	// A client may only revoke its own tokens. Per RFC 7009 this is still
	// reported as success to avoid leaking token ownership.
	if clientID != "" && token.ClientID != clientID {
		s.logger.Warn("Revocation attempted for token owned by another client",
			"client_id", clientID, "ip", clientIP)
		if s.auditor != nil {
			s.auditor.LogAuthFailure(token.Subject, clientID, clientIP, "revocation_client_mismatch")
		}
		return nil
	}

	if err := s.tokenStore.RevokeToken(ctx, tokenValue); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	if s.auditor != nil {
		s.auditor.LogTokenRevoked(token.Subject, token.ClientID, clientIP, string(token.Kind))
	}

	s.logger.Info("Token revoked",
		"client_id", token.ClientID,
		"kind", string(token.Kind),
		"ip", clientIP)
	return nil
}

// generateRandomToken generates a cryptographically secure random string
// suitable for authorization codes, token values, and client identifiers.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// writeTokenFromRecord assembles an oauth2.Token from stored records.
func writeTokenFromRecord(access, refresh *storage.Token) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: access.Value,
		TokenType:   tokenTypeBearer,
		Expiry:      access.ExpiresAt,
	}
	if refresh != nil {
		tok.RefreshToken = refresh.Value
	}
	return tok
}
