package mcpauth

import (
	"fmt"
	"net/http"
)

// Error codes from RFC 6749 section 5.2, RFC 7591 section 3.2.2, and
// this server's own rate limiting.
const (
	ErrorCodeInvalidRequest        = "invalid_request"
	ErrorCodeInvalidGrant          = "invalid_grant"
	ErrorCodeInvalidClient         = "invalid_client"
	ErrorCodeInvalidScope          = "invalid_scope"
	ErrorCodeInvalidToken          = "invalid_token"
	ErrorCodeUnauthorizedClient    = "unauthorized_client"
	ErrorCodeUnsupportedGrantType  = "unsupported_grant_type"
	ErrorCodeServerError           = "server_error"
	ErrorCodeAccessDenied          = "access_denied"
	ErrorCodeInvalidRedirectURI    = "invalid_redirect_uri"
	ErrorCodeInvalidClientMetadata = "invalid_client_metadata"
	ErrorCodeRateLimitExceeded     = "rate_limit_exceeded"
)

// OAuthError pairs an OAuth error code with the HTTP status it should
// be served under. Handlers unwrap it to build the JSON error body.
type OAuthError struct {
	Code        string
	Description string
	Status      int
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewOAuthError builds an OAuthError with an explicit status code. The
// Err* constructors below cover the standard code-to-status pairings.
func NewOAuthError(code, description string, status int) *OAuthError {
	return &OAuthError{Code: code, Description: description, Status: status}
}

// ErrInvalidRequest flags a malformed request or a missing parameter.
func ErrInvalidRequest(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidRequest, desc, http.StatusBadRequest)
}

// ErrInvalidGrant flags a bad, expired, or already-used authorization
// code or refresh token.
func ErrInvalidGrant(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidGrant, desc, http.StatusBadRequest)
}

// ErrInvalidClient flags failed client authentication. Served as 401.
func ErrInvalidClient(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidClient, desc, http.StatusUnauthorized)
}

// ErrInvalidScope flags a scope the server does not recognize.
func ErrInvalidScope(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidScope, desc, http.StatusBadRequest)
}

// ErrInvalidToken flags a bad or expired access token. Served as 401.
func ErrInvalidToken(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidToken, desc, http.StatusUnauthorized)
}

// ErrUnauthorizedClient flags a client requesting a grant type it was
// not registered for.
func ErrUnauthorizedClient(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeUnauthorizedClient, desc, http.StatusBadRequest)
}

// ErrUnsupportedGrantType flags a grant_type this server does not
// implement.
func ErrUnsupportedGrantType(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeUnsupportedGrantType, desc, http.StatusBadRequest)
}

// ErrServerError flags an internal failure.
func ErrServerError(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeServerError, desc, http.StatusInternalServerError)
}

// ErrAccessDenied flags a request refused by the user or the server.
func ErrAccessDenied(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeAccessDenied, desc, http.StatusForbidden)
}

// ErrInvalidRedirectURI flags a redirect_uri that is unregistered or
// fails validation.
func ErrInvalidRedirectURI(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidRedirectURI, desc, http.StatusBadRequest)
}

// ErrInvalidClientMetadata flags bad metadata in a registration
// request.
func ErrInvalidClientMetadata(desc string) *OAuthError {
	return NewOAuthError(ErrorCodeInvalidClientMetadata, desc, http.StatusBadRequest)
}
