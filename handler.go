package mcpauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/lucianfialho/mcp-auth/instrumentation"
	"github.com/lucianfialho/mcp-auth/internal/util"
	"github.com/lucianfialho/mcp-auth/security"
	"github.com/lucianfialho/mcp-auth/sessions"
	"github.com/lucianfialho/mcp-auth/storage"
)

// Handler adapts a Server to net/http. It owns request parsing, CORS,
// rate limiting, and response encoding; protocol decisions live in Server.
type Handler struct {
	server *Server
	logger *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a new HTTP handler for the given server
func NewHandler(server *Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
	}

	if server.instrumentation != nil {
		h.tracer = server.instrumentation.Tracer("http")
	}

	return h
}

// Routes registers all OAuth endpoints on the given mux:
// discovery documents, authorization, token, registration, and revocation.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc(MetadataPathAuthorizationServer, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(MetadataPathProtectedResource, h.ServeProtectedResourceMetadata)
	mux.HandleFunc(MetadataPathProtectedResource+"/", h.ServeProtectedResourceMetadata)
	mux.HandleFunc(MetadataPathOpenIDConfiguration, h.ServeOpenIDConfiguration)
	mux.HandleFunc(PathAuthorize, h.ServeAuthorization)
	mux.HandleFunc(PathToken, h.ServeToken)
	mux.HandleFunc(PathRegistration, h.ServeClientRegistration)
	mux.HandleFunc(PathRevocation, h.ServeTokenRevocation)
}

// ==================== Discovery (RFC 8414 / RFC 9728) ====================

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	h.serveDiscovery(w, r, "authorization_server_metadata", h.buildAuthServerMetadata)
}

// ServeProtectedResourceMetadata serves RFC 9728 Protected Resource
// Metadata. A sub-path after the well-known prefix selects a resource
// under the base identifier and is echoed back in the document, so
// /.well-known/oauth-protected-resource/mcp/files describes
// {resource}/mcp/files.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	resourcePath := resourcePathSuffix(r.URL.Path)
	h.serveDiscovery(w, r, "protected_resource_metadata", func() map[string]any {
		return h.buildProtectedResourceMetadata(resourcePath)
	})
}

// resourcePathSuffix extracts the resource path from a protected
// resource metadata URL: "/.well-known/oauth-protected-resource/mcp"
// yields "/mcp". The bare document path yields "".
func resourcePathSuffix(requestPath string) string {
	rest := strings.TrimPrefix(requestPath, MetadataPathProtectedResource)
	if rest == "/" {
		return ""
	}
	return rest
}

// ServeOpenIDConfiguration handles OpenID Connect Discovery 1.0 requests.
// Per RFC 8414 Section 5, this returns the same metadata as the
// Authorization Server Metadata endpoint for compatibility with OIDC clients.
func (h *Handler) ServeOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	h.ServeAuthorizationServerMetadata(w, r)
}

// serveDiscovery is the shared discovery endpoint implementation.
// Discovery documents are public: CORS is fully permissive so browser-based
// clients on any origin can fetch them.
func (h *Handler) serveDiscovery(w http.ResponseWriter, r *http.Request, endpoint string, build func() map[string]any) {
	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
	if h.checkRateLimit(w, r, clientIP, endpoint) {
		return
	}

	h.setCORSHeaders(w)
	security.SetSecurityHeaders(w, h.server.config.Issuer)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(build())
}

// buildAuthServerMetadata builds the RFC 8414 authorization server metadata.
func (h *Handler) buildAuthServerMetadata() map[string]any {
	cfg := h.server.config

	metadata := map[string]any{
		"issuer":                                cfg.Issuer,
		"authorization_endpoint":                cfg.AuthorizationEndpoint(),
		"token_endpoint":                        cfg.TokenEndpoint(),
		"registration_endpoint":                 cfg.RegistrationEndpoint(),
		"revocation_endpoint":                   cfg.RevocationEndpoint(),
		"response_types_supported":              []string{ResponseTypeCode},
		"grant_types_supported":                 SupportedGrantTypes,
		"code_challenge_methods_supported":      []string{PKCEMethodS256},
		"token_endpoint_auth_methods_supported": SupportedTokenAuthMethods,
		"scopes_supported":                      advertisedScopes(cfg),
	}

	return metadata
}

// buildProtectedResourceMetadata builds the RFC 9728 protected resource
// metadata for the resource at resourcePath under the base identifier.
// An empty resourcePath describes the base resource itself.
func (h *Handler) buildProtectedResourceMetadata(resourcePath string) map[string]any {
	cfg := h.server.config

	resource := cfg.Resource
	if resourcePath != "" {
		resource = util.NormalizeURL(cfg.Resource) + resourcePath
	}

	metadata := map[string]any{
		"resource":                 resource,
		"authorization_servers":    []string{cfg.Issuer},
		"bearer_methods_supported": []string{"header"},
		"scopes_supported":         advertisedScopes(cfg),
	}

	return metadata
}

// advertisedScopes returns the scopes_supported value for discovery
// documents. The key is always present; with no configured scopes it is
// an empty list, never null.
func advertisedScopes(cfg *Config) []string {
	if cfg.SupportedScopes == nil {
		return []string{}
	}
	return cfg.SupportedScopes
}

// ==================== Authorization Endpoint ====================

// ServeAuthorization handles authorization requests (RFC 6749 Section 4.1.1).
// The end user is authenticated via the configured sessions.Authenticator;
// on success the client is redirected back with a single-use code.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.authorization")
		defer span.End()
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
	if h.checkRateLimit(w, r, clientIP, "authorize") {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	req := &AuthorizationRequest{
		ClientID:            r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		ResponseType:        r.Form.Get("response_type"),
		Scope:               r.Form.Get("scope"),
		State:               r.Form.Get("state"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrResponseType, req.ResponseType))

	principal, err := h.server.authenticator.Authenticate(ctx, r)
	if err != nil {
		if errors.Is(err, sessions.ErrUnauthenticated) {
			h.recordHTTPMetrics("authorize", r.Method, http.StatusUnauthorized, startTime)
			instrumentation.SetSpanError(span, "no authenticated session")
			h.writeError(w, ErrorCodeAccessDenied, "Authentication required", http.StatusUnauthorized)
			return
		}
		h.logger.Error("Session authentication failed", "error", err)
		h.recordHTTPMetrics("authorize", r.Method, http.StatusInternalServerError, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, ErrorCodeServerError, "Authentication failed", http.StatusInternalServerError)
		return
	}

	code, err := h.server.Authorize(ctx, req, principal)
	if err != nil {
		h.handleAuthorizationError(w, r, req, err, startTime, span)
		return
	}

	if h.server.instrumentation != nil {
		h.server.instrumentation.Metrics().RecordAuthorizationStarted(ctx, req.ClientID)
	}
	h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	redirect, _ := url.Parse(req.RedirectURI)
	q := redirect.Query()
	q.Set("code", code.Code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// handleAuthorizationError reports an authorization failure. Errors found
// before the redirect URI was validated go to the user agent directly;
// everything else is redirected to the client per RFC 6749 Section 4.1.2.1.
func (h *Handler) handleAuthorizationError(w http.ResponseWriter, r *http.Request, req *AuthorizationRequest, err error, startTime time.Time, span trace.Span) {
	oauthErr := asOAuthError(err)
	instrumentation.RecordError(span, err)
	instrumentation.SetSpanError(span, oauthErr.Code)

	// Never redirect to an unvalidated URI
	if req.RedirectURI == "" ||
		oauthErr.Code == ErrorCodeInvalidClient ||
		oauthErr.Code == ErrorCodeInvalidRedirectURI ||
		oauthErr.Code == ErrorCodeServerError {
		h.recordHTTPMetrics("authorize", r.Method, oauthErr.Status, startTime)
		h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
		return
	}

	redirect, parseErr := url.Parse(req.RedirectURI)
	if parseErr != nil {
		h.recordHTTPMetrics("authorize", r.Method, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRedirectURI, "Invalid redirect URI", http.StatusBadRequest)
		return
	}

	q := redirect.Query()
	q.Set("error", oauthErr.Code)
	q.Set("error_description", oauthErr.Description)
	if req.State != "" {
		q.Set("state", req.State)
	}
	redirect.RawQuery = q.Encode()

	h.recordHTTPMetrics("authorize", r.Method, http.StatusFound, startTime)
	security.SetSecurityHeaders(w, h.server.config.Issuer)
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// ==================== Token Endpoint ====================

// ServeToken handles token requests (RFC 6749 Section 3.2), dispatching on
// grant_type to the authorization_code and refresh_token grants.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w)

	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	switch r.FormValue("grant_type") {
	case GrantTypeAuthorizationCode:
		h.handleAuthorizationCodeGrant(w, r)
	case GrantTypeRefreshToken:
		h.handleRefreshTokenGrant(w, r)
	default:
		h.writeError(w, ErrorCodeUnsupportedGrantType,
			fmt.Sprintf("Unsupported grant_type: %s", r.FormValue("grant_type")), http.StatusBadRequest)
	}
}

// handleAuthorizationCodeGrant exchanges an authorization code for tokens
func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_exchange")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
	if h.checkRateLimit(w, r, clientIP, "token") {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")

	if code == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "code is required", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics("token", http.MethodPost, asOAuthError(err).Status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrGrantType, GrantTypeAuthorizationCode))

	token, scope, err := h.server.ExchangeAuthorizationCode(ctx, code, client.ClientID, redirectURI, codeVerifier)
	if err != nil {
		oauthErr := asOAuthError(err)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, oauthErr.Code)
		h.writeOAuthError(w, err)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token, scope)
}

// handleRefreshTokenGrant rotates a refresh token for a new token pair
func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_refresh")
		defer span.End()
	}

	clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
	if h.checkRateLimit(w, r, clientIP, "token") {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	refreshToken := r.FormValue("refresh_token")
	if refreshToken == "" {
		h.recordHTTPMetrics("token", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, ErrorCodeInvalidRequest, "refresh_token is required", http.StatusBadRequest)
		return
	}

	client, err := h.authenticateClient(r, clientIP)
	if err != nil {
		h.writeOAuthError(w, err)
		h.recordHTTPMetrics("token", http.MethodPost, asOAuthError(err).Status, startTime)
		instrumentation.RecordError(span, err)
		return
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrGrantType, GrantTypeRefreshToken))

	token, scope, err := h.server.RefreshAccessToken(ctx, refreshToken, client.ClientID, r.FormValue("scope"))
	if err != nil {
		oauthErr := asOAuthError(err)
		h.recordHTTPMetrics("token", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, oauthErr.Code)
		h.writeOAuthError(w, err)
		return
	}

	h.recordHTTPMetrics("token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)
	h.writeTokenResponse(w, token, scope)
}

// ==================== Revocation Endpoint (RFC 7009) ====================

// ServeTokenRevocation handles token revocation requests. Per RFC 7009 the
// endpoint responds 200 whether or not the token existed; only malformed
// requests and failed client authentication are errors.
func (h *Handler) ServeTokenRevocation(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token_revocation")
		defer span.End()
	}

	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("revoke", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w)

	clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
	if h.checkRateLimit(w, r, clientIP, "revoke") {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	// A missing token is treated like an unknown one: the endpoint never
	// reveals through its response whether a token value was recognized.
	token := r.FormValue("token")
	if token == "" {
		h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusOK, startTime)
		w.WriteHeader(http.StatusOK)
		return
	}

	clientID := r.FormValue("client_id")
	if clientSecret := r.FormValue("client_secret"); clientID != "" && clientSecret != "" {
		if err := h.server.ValidateClientCredentials(ctx, clientID, clientSecret); err != nil {
			h.logger.Warn("Client authentication failed for revocation", "client_id", clientID, "ip", clientIP)
			h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusUnauthorized, startTime)
			instrumentation.RecordError(span, err)
			instrumentation.SetSpanError(span, "client authentication failed")
			h.writeError(w, ErrorCodeInvalidClient, "Client authentication failed", http.StatusUnauthorized)
			return
		}
	}

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientID, clientID))

	if err := h.server.RevokeToken(ctx, token, clientID, clientIP); err != nil {
		// Per RFC 7009, don't fail the request even if revocation failed
		h.logger.Error("Failed to revoke token", "client_id", clientID, "ip", clientIP, "error", err)
		instrumentation.RecordError(span, err)
	}

	if h.server.instrumentation != nil {
		h.server.instrumentation.Metrics().RecordTokenRevocation(ctx, clientID)
	}
	h.recordHTTPMetrics("revoke", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	w.WriteHeader(http.StatusOK)
}

// ==================== Client Registration (RFC 7591) ====================

// ServeClientRegistration handles dynamic client registration
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.client_registration")
		defer span.End()
	}

	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}
	if r.Method != http.MethodPost {
		h.recordHTTPMetrics("register", r.Method, http.StatusMethodNotAllowed, startTime)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.setCORSHeaders(w)

	clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
	if h.checkRateLimit(w, r, clientIP, "register") {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	var req ClientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.recordHTTPMetrics("register", http.MethodPost, http.StatusBadRequest, startTime)
		instrumentation.RecordError(span, err)
		h.writeError(w, ErrorCodeInvalidClientMetadata, "Invalid JSON", http.StatusBadRequest)
		return
	}

	client, clientSecret, err := h.server.RegisterClient(ctx, &req, clientIP)
	if err != nil {
		oauthErr := asOAuthError(err)
		h.logger.Warn("Client registration failed", "ip", clientIP, "error", err)
		h.recordHTTPMetrics("register", http.MethodPost, oauthErr.Status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, oauthErr.Code)
		h.writeOAuthError(w, err)
		return
	}

	if h.server.instrumentation != nil {
		h.server.instrumentation.Metrics().RecordClientRegistration(ctx, client.ClientType)
	}
	h.recordHTTPMetrics("register", http.MethodPost, http.StatusCreated, startTime)
	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, client.ClientID),
		attribute.String(instrumentation.AttrClientType, client.ClientType))
	instrumentation.SetSpanSuccess(span)

	h.writeRegistrationResponse(w, client, clientSecret)
}

// writeRegistrationResponse writes the RFC 7591 registration response
func (h *Handler) writeRegistrationResponse(w http.ResponseWriter, client *storage.Client, clientSecret string) {
	resp := ClientRegistrationResponse{
		ClientID:                client.ClientID,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		RedirectURIs:            client.RedirectURIs,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		ClientName:              client.ClientName,
		ClientURI:               client.ClientURI,
		Scope:                   strings.Join(client.Scopes, " "),
	}

	if clientSecret != "" {
		resp.ClientSecret = clientSecret
		// 0 means the secret does not expire
		resp.ClientSecretExpiresAt = 0
	}

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// ==================== Token Validation Middleware ====================

// ValidateToken is middleware that validates bearer access tokens on
// protected resource requests. On success the token's subject is exposed
// to downstream handlers via sessions.PrincipalFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := security.GetClientIP(r, h.server.config.TrustProxy, h.server.config.TrustedProxyCount)
		if h.checkRateLimit(w, r, clientIP, "resource") {
			return
		}

		accessToken, ok := h.extractBearerToken(w, r)
		if !ok {
			return
		}

		token, err := h.server.ValidateAccessToken(r.Context(), accessToken)
		if err != nil {
			h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Invalid or expired access token")
			return
		}

		ctx := sessions.ContextWithPrincipal(r.Context(), &sessions.Principal{Subject: token.Subject})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken extracts the bearer token from the Authorization header.
// Writes a 401 response and returns false if the header is missing or malformed.
func (h *Handler) extractBearerToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Missing Authorization header")
		return "", false
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Authorization header must use Bearer scheme")
		return "", false
	}

	token := strings.TrimPrefix(authHeader, prefix)
	if token == "" {
		h.writeUnauthorizedError(w, ErrorCodeInvalidToken, "Empty bearer token")
		return "", false
	}

	return token, true
}

// ==================== Client Authentication ====================

// authenticateClient validates client credentials from form parameters
// (client_secret_post). Public clients authenticate with client_id alone;
// confidential clients must present their secret.
func (h *Handler) authenticateClient(r *http.Request, clientIP string) (*clientIdentity, error) {
	clientID := r.FormValue("client_id")
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}

	client, err := h.server.GetClient(r.Context(), clientID)
	if err != nil {
		h.logAuthFailure(clientID, clientIP, "unknown_client", "Unknown client")
		return nil, ErrInvalidClient("Client authentication failed")
	}

	if client.ClientType == ClientTypeConfidential {
		secret := r.FormValue("client_secret")
		if secret == "" {
			h.logAuthFailure(clientID, clientIP, "confidential_client_auth_required", "Confidential client missing credentials")
			return nil, ErrInvalidClient("Client authentication required")
		}
		if err := h.server.ValidateClientCredentials(r.Context(), clientID, secret); err != nil {
			h.logAuthFailure(clientID, clientIP, "client_authentication_failed", "Client authentication failed")
			return nil, ErrInvalidClient("Client authentication failed")
		}
	}

	return &clientIdentity{ClientID: client.ClientID, ClientType: client.ClientType}, nil
}

// clientIdentity is the authenticated client on a token endpoint request
type clientIdentity struct {
	ClientID   string
	ClientType string
}

// logAuthFailure logs authentication failures with optional auditing
func (h *Handler) logAuthFailure(clientID, clientIP, reason, message string) {
	h.logger.Warn(message, "client_id", clientID, "ip", clientIP)
	if h.server.auditor != nil {
		h.server.auditor.LogAuthFailure("", clientID, clientIP, reason)
	}
}

// ==================== Response Helpers ====================

// writeTokenResponse writes a successful RFC 6749 token response
func (h *Handler) writeTokenResponse(w http.ResponseWriter, token *oauth2.Token, scope string) {
	resp := TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    tokenTypeBearer,
		RefreshToken: token.RefreshToken,
		Scope:        scope,
	}
	if !token.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}

	security.SetSecurityHeaders(w, h.server.config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	// Per RFC 6749 Section 5.1, token responses must not be cached
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeError writes an OAuth error response body
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.config.Issuer)

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", tokenTypeBearer)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeOAuthError writes an error response from an error value, mapping
// non-OAuth errors to server_error.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) {
	oauthErr := asOAuthError(err)
	h.writeError(w, oauthErr.Code, oauthErr.Description, oauthErr.Status)
}

// writeUnauthorizedError writes a 401 with a WWW-Authenticate challenge
// carrying the resource metadata URL (RFC 9728 Section 5.1).
func (h *Handler) writeUnauthorizedError(w http.ResponseWriter, code, description string) {
	security.SetSecurityHeaders(w, h.server.config.Issuer)

	metadataURL := h.server.config.endpoint(MetadataPathProtectedResource)
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer resource_metadata=%q, error=%q, error_description=%q`,
		metadataURL, code, description))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// asOAuthError converts any error to an *OAuthError, defaulting to server_error
func asOAuthError(err error) *OAuthError {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return NewOAuthError(ErrorCodeServerError, "Internal server error", http.StatusInternalServerError)
}

// ==================== CORS ====================

// setCORSHeaders sets permissive CORS headers. The OAuth endpoints serve
// public protocol traffic for browser-based MCP clients on arbitrary
// origins, and bearer credentials travel in headers rather than cookies,
// so a wildcard origin does not expose ambient credentials.
func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, mcp-protocol-version")
}

// ServePreflightRequest handles CORS preflight (OPTIONS) requests
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

// ==================== Rate Limiting & Metrics ====================

// checkRateLimit applies per-IP rate limiting. Returns true if the limit
// was exceeded and a response has been written.
func (h *Handler) checkRateLimit(w http.ResponseWriter, r *http.Request, clientIP, endpoint string) bool {
	if h.server.rateLimiter == nil || h.server.rateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)

	if h.server.instrumentation != nil {
		h.server.instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "ip")
	}
	if h.server.auditor != nil {
		h.server.auditor.LogRateLimitExceeded(clientIP, "")
	}

	w.Header().Set("Retry-After", "60")
	http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// recordHTTPMetrics records HTTP request count and duration
func (h *Handler) recordHTTPMetrics(endpoint, method string, status int, startTime time.Time) {
	if h.server.instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000
	h.server.instrumentation.Metrics().RecordHTTPRequest(context.Background(), method, endpoint, status, duration)
}
