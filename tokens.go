package mcpauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/lucianfialho/mcp-auth/internal/util"
	"github.com/lucianfialho/mcp-auth/security"
	"github.com/lucianfialho/mcp-auth/storage"
)

// ExchangeAuthorizationCode exchanges an authorization code for an access
// and refresh token pair (RFC 6749 Section 4.1.3).
//
// The code is consumed atomically before anything else is checked: exactly
// one concurrent exchange of the same code can win, and a code consumed by
// a request that later fails PKCE or binding checks stays consumed. Codes
// are single-use regardless of the outcome of the exchange.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*oauth2.Token, string, error) {
	authCode, err := s.codeStore.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAuthorizationCodeConsumed):
			// Replay of a spent code. The stored record is available for
			// forensics but the response never distinguishes replay from
			// an unknown code.
			s.logger.Warn("Authorization code replay detected",
				"client_id", clientID,
				"code_prefix", util.SafeTruncate(code, tokenLogLength))
			if s.auditor != nil {
				s.auditor.LogEvent(security.Event{
					Type:     security.EventAuthorizationCodeReuseDetected,
					ClientID: clientID,
					Details:  map[string]any{"code_prefix": util.SafeTruncate(code, tokenLogLength)},
				})
			}
			if s.instrumentation != nil {
				s.instrumentation.Metrics().RecordCodeReuseDetected(ctx, clientID)
			}
			return nil, "", ErrInvalidGrant("invalid authorization code")

		case errors.Is(err, storage.ErrAuthorizationCodeNotFound),
			errors.Is(err, storage.ErrExpired):
			return nil, "", ErrInvalidGrant("invalid authorization code")

		default:
			s.logger.Error("Failed to consume authorization code", "error", err)
			return nil, "", ErrServerError("failed to process authorization code")
		}
	}

	// The code is now consumed. Binding and PKCE failures below do NOT
	// resurrect it.
	if authCode.ClientID != clientID {
		s.logger.Warn("Authorization code presented by wrong client",
			"expected_client", authCode.ClientID, "client_id", clientID)
		if s.auditor != nil {
			s.auditor.LogAuthFailure(authCode.Subject, clientID, "", "code_client_mismatch")
		}
		return nil, "", ErrInvalidGrant("authorization code was not issued to this client")
	}

	if authCode.RedirectURI != redirectURI {
		return nil, "", ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if err := s.validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, codeVerifier); err != nil {
		s.logger.Warn("PKCE validation failed", "client_id", clientID, "error", err)
		if s.auditor != nil {
			s.auditor.LogEvent(security.Event{
				Type:     security.EventPKCEValidationFailed,
				UserID:   authCode.Subject,
				ClientID: clientID,
				Details:  map[string]any{"reason": err.Error()},
			})
		}
		if s.instrumentation != nil {
			s.instrumentation.Metrics().RecordPKCEFailure(ctx, clientID)
		}
		return nil, "", ErrInvalidGrant(err.Error())
	}

	token, err := s.issueTokenPair(ctx, clientID, authCode.Subject, authCode.Scope, "")
	if err != nil {
		return nil, "", err
	}

	if s.auditor != nil {
		s.auditor.LogTokenIssued(authCode.Subject, clientID, "", authCode.Scope)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordCodeExchange(ctx, clientID, PKCEMethodS256)
	}

	s.logger.Info("Exchanged authorization code for tokens",
		"client_id", clientID,
		"code_prefix", util.SafeTruncate(code, tokenLogLength))

	return token, authCode.Scope, nil
}

// RefreshAccessToken exchanges a refresh token for a new token pair
// (RFC 6749 Section 6) with mandatory rotation.
//
// The presented refresh token is invalidated atomically: of N concurrent
// refresh requests with the same token, exactly one receives a new pair and
// the rest fail with invalid_grant. A failed refresh after the rotation won
// leaves the old token spent.
func (s *Server) RefreshAccessToken(ctx context.Context, refreshToken, clientID, requestedScope string) (*oauth2.Token, string, error) {
	old, err := s.tokenStore.RotateRefreshToken(ctx, refreshToken)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenRevoked):
			s.logger.Warn("Revoked refresh token presented", "client_id", clientID)
			if s.auditor != nil {
				s.auditor.LogAuthFailure("", clientID, "", "revoked_refresh_token")
			}
			return nil, "", ErrInvalidGrant("invalid refresh token")

		case errors.Is(err, storage.ErrTokenNotFound), errors.Is(err, storage.ErrExpired):
			// Unknown token, or one already spent by rotation. The latter
			// may indicate token theft; both get the same response.
			if s.instrumentation != nil {
				s.instrumentation.Metrics().RecordTokenReuseDetected(ctx, clientID)
			}
			return nil, "", ErrInvalidGrant("invalid refresh token")

		default:
			s.logger.Error("Failed to rotate refresh token", "error", err)
			return nil, "", ErrServerError("failed to process refresh token")
		}
	}

	if old.Kind != storage.TokenKindRefresh {
		return nil, "", ErrInvalidGrant("invalid refresh token")
	}

	if old.ClientID != clientID {
		s.logger.Warn("Refresh token presented by wrong client",
			"expected_client", old.ClientID, "client_id", clientID)
		if s.auditor != nil {
			s.auditor.LogAuthFailure(old.Subject, clientID, "", "refresh_client_mismatch")
		}
		return nil, "", ErrInvalidGrant("refresh token was not issued to this client")
	}

	scope, err := narrowScope(old.Scope, requestedScope)
	if err != nil {
		return nil, "", err
	}

	token, err := s.issueTokenPair(ctx, clientID, old.Subject, scope, old.Value)
	if err != nil {
		return nil, "", err
	}

	if s.auditor != nil {
		s.auditor.LogTokenRefreshed(old.Subject, clientID, "", true)
	}
	if s.instrumentation != nil {
		s.instrumentation.Metrics().RecordTokenRefresh(ctx, clientID, true)
	}

	s.logger.Info("Rotated refresh token",
		"client_id", clientID,
		"old_prefix", util.SafeTruncate(refreshToken, tokenLogLength))

	return token, scope, nil
}

// narrowScope validates a refresh-time scope request against the scope of
// the original grant (RFC 6749 Section 6). Empty keeps the original scope;
// any scope outside the original grant is rejected.
func narrowScope(granted, requested string) (string, error) {
	if requested == "" {
		return granted, nil
	}

	grantedSet := make(map[string]bool)
	for _, sc := range strings.Fields(granted) {
		grantedSet[sc] = true
	}

	for _, sc := range strings.Fields(requested) {
		if !grantedSet[sc] {
			return "", ErrInvalidScope(fmt.Sprintf("scope %q exceeds the original grant", sc))
		}
	}

	return requested, nil
}

// issueTokenPair creates and persists a fresh access and refresh token for
// the given grant context. rotatedFrom records the refresh token value the
// new pair replaces, if any.
func (s *Server) issueTokenPair(ctx context.Context, clientID, subject, scope, rotatedFrom string) (*oauth2.Token, error) {
	now := time.Now()

	access := &storage.Token{
		Value:     generateRandomToken(),
		Kind:      storage.TokenKindAccess,
		ClientID:  clientID,
		Subject:   subject,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.AccessTokenTTL),
	}

	refresh := &storage.Token{
		Value:       generateRandomToken(),
		Kind:        storage.TokenKindRefresh,
		ClientID:    clientID,
		Subject:     subject,
		Scope:       scope,
		CreatedAt:   now,
		RotatedFrom: rotatedFrom,
	}
	if s.config.RefreshTokenTTL > 0 {
		refresh.ExpiresAt = now.Add(s.config.RefreshTokenTTL)
	}

	if err := s.tokenStore.SaveToken(ctx, access); err != nil {
		s.logger.Error("Failed to save access token", "client_id", clientID, "error", err)
		return nil, ErrServerError("failed to issue tokens")
	}
	if err := s.tokenStore.SaveToken(ctx, refresh); err != nil {
		// Keep state consistent: do not leave a usable access token behind
		_ = s.tokenStore.DeleteToken(ctx, access.Value)
		s.logger.Error("Failed to save refresh token", "client_id", clientID, "error", err)
		return nil, ErrServerError("failed to issue tokens")
	}

	return writeTokenFromRecord(access, refresh), nil
}
