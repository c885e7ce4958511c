package mcpauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lucianfialho/mcp-auth/internal/util"
	"github.com/lucianfialho/mcp-auth/storage"
)

// RegisterClient registers a new OAuth client from a validated registration
// request (RFC 7591) with IP-based DoS protection. Returns the stored client
// and, for confidential clients, the plaintext secret for one-time delivery.
func (s *Server) RegisterClient(ctx context.Context, req *ClientRegistrationRequest, clientIP string) (*storage.Client, string, error) {
	if err := validateClientMetadata(req); err != nil {
		return nil, "", err
	}

	if err := s.clientStore.CheckIPLimit(ctx, clientIP, s.config.MaxClientsPerIP); err != nil {
		if errors.Is(err, storage.ErrClientLimitExceeded) {
			return nil, "", NewOAuthError(ErrorCodeInvalidRequest, "client registration limit exceeded", 429)
		}
		return nil, "", ErrServerError("failed to check registration limit")
	}

	clientType, authMethod := resolveClientTypeAndAuthMethod(req.TokenEndpointAuthMethod)

	clientID := generateRandomToken()
	clientSecret, clientSecretHash, err := generateClientSecret(clientType)
	if err != nil {
		return nil, "", ErrServerError("failed to generate client credentials")
	}

	client := &storage.Client{
		ClientID:                clientID,
		ClientSecretHash:        clientSecretHash,
		ClientType:              clientType,
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              SupportedGrantTypes,
		ResponseTypes:           []string{ResponseTypeCode},
		ClientName:              req.ClientName,
		ClientURI:               req.ClientURI,
		Scopes:                  strings.Fields(req.Scope),
		CreatedAt:               time.Now(),
	}

	if err := s.clientStore.SaveClient(ctx, client); err != nil {
		s.logger.Error("Failed to save client", "ip", clientIP, "error", err)
		return nil, "", ErrServerError("failed to save client")
	}

	if err := s.clientStore.TrackClientIP(ctx, clientIP); err != nil {
		s.logger.Warn("Failed to track registration IP", "ip", clientIP, "error", err)
	}

	if s.auditor != nil {
		s.auditor.LogClientRegistered(clientID, clientType, clientIP)
	}

	s.logger.Info("Registered new OAuth client",
		"client_id", clientID,
		"client_name", client.ClientName,
		"client_type", clientType,
		"client_ip", clientIP)

	return client, clientSecret, nil
}

// GetClient retrieves a registered client by ID
func (s *Server) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return s.clientStore.GetClient(ctx, clientID)
}

// ValidateClientCredentials validates client credentials for the token
// and revocation endpoints.
func (s *Server) ValidateClientCredentials(ctx context.Context, clientID, clientSecret string) error {
	return s.clientStore.ValidateClientSecret(ctx, clientID, clientSecret)
}

// validateClientMetadata checks a registration request per RFC 7591.
// Invalid metadata yields invalid_client_metadata errors.
func validateClientMetadata(req *ClientRegistrationRequest) error {
	if len(req.RedirectURIs) == 0 {
		return ErrInvalidClientMetadata("redirect_uris is required and must not be empty")
	}

	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURIForRegistration(uri); err != nil {
			return ErrInvalidClientMetadata(err.Error())
		}
	}

	if req.TokenEndpointAuthMethod != "" && !isValidAuthMethod(req.TokenEndpointAuthMethod) {
		return ErrInvalidClientMetadata(
			fmt.Sprintf("unsupported token_endpoint_auth_method: %s", req.TokenEndpointAuthMethod))
	}

	for _, gt := range req.GrantTypes {
		if gt != GrantTypeAuthorizationCode && gt != GrantTypeRefreshToken {
			return ErrInvalidClientMetadata(fmt.Sprintf("unsupported grant_type: %s", gt))
		}
	}

	for _, rt := range req.ResponseTypes {
		if rt != ResponseTypeCode {
			return ErrInvalidClientMetadata(fmt.Sprintf("unsupported response_type: %s", rt))
		}
	}

	return nil
}

// validateRedirectURIForRegistration validates a single redirect URI at
// registration time. Loopback and custom scheme URIs are allowed for native
// clients; dangerous schemes are always rejected.
func validateRedirectURIForRegistration(uri string) error {
	if uri == "" {
		return fmt.Errorf("redirect_uris must not contain empty values")
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri %q: %w", uri, err)
	}

	if parsed.Scheme == "" {
		return fmt.Errorf("redirect_uri %q must be absolute", uri)
	}

	scheme := strings.ToLower(parsed.Scheme)
	for _, dangerous := range dangerousRedirectSchemes {
		if scheme == dangerous {
			return fmt.Errorf("redirect_uri scheme %q is not allowed", parsed.Scheme)
		}
	}

	if scheme == "http" || scheme == "https" {
		if parsed.Host == "" {
			return fmt.Errorf("redirect_uri %q must have a host", uri)
		}
		if err := checkRedirectHostSSRF(parsed.Hostname()); err != nil {
			return fmt.Errorf("redirect_uri %q: %w", uri, err)
		}
	}

	return nil
}

// checkRedirectHostSSRF rejects literal IP redirect hosts that point at
// link-local or unspecified addresses. Loopback stays allowed for native
// clients per RFC 8252; hostnames are not resolved at registration time.
func checkRedirectHostSSRF(hostname string) error {
	ip := net.ParseIP(hostname)
	if ip == nil {
		return nil
	}

	switch util.ClassifyIP(ip) {
	case util.IPClassificationLinkLocal:
		return fmt.Errorf("link-local redirect hosts are not allowed")
	case util.IPClassificationUnspecified:
		return fmt.Errorf("unspecified redirect hosts are not allowed")
	}
	return nil
}

// resolveClientTypeAndAuthMethod determines the client type from the
// requested token endpoint auth method (RFC 7591 Section 2):
// "none" means a public client, anything else a confidential one.
func resolveClientTypeAndAuthMethod(authMethod string) (clientType, resolvedMethod string) {
	switch authMethod {
	case AuthMethodNone:
		return ClientTypePublic, AuthMethodNone
	case "":
		return ClientTypeConfidential, AuthMethodClientSecretPost
	default:
		return ClientTypeConfidential, authMethod
	}
}

// isValidAuthMethod reports whether the auth method is supported
func isValidAuthMethod(method string) bool {
	for _, m := range SupportedTokenAuthMethods {
		if m == method {
			return true
		}
	}
	return false
}

// generateClientSecret generates a secret and its bcrypt hash for
// confidential clients. Public clients get neither.
func generateClientSecret(clientType string) (secret, hash string, err error) {
	if clientType != ClientTypeConfidential {
		return "", "", nil
	}

	secret = generateRandomToken()
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return secret, string(h), nil
}
