package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lucianfialho/mcp-auth/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken saves an issued token keyed by its value. Tokens with an expiry
// get a matching Valkey TTL; tokens without one persist until rotated,
// revoked, or deleted.
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	if token == nil || token.Value == "" {
		return fmt.Errorf("invalid token")
	}

	data, err := json.Marshal(toTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := s.tokenKey(token.Value)

	var cmdErr error
	if token.ExpiresAt.IsZero() {
		cmdErr = s.client.Do(ctx,
			s.client.B().Set().Key(key).Value(string(data)).Build(),
		).Error()
	} else {
		ttl := calculateTTL(token.ExpiresAt)
		if ttl <= 0 {
			return fmt.Errorf("token already expired")
		}
		cmdErr = s.client.Do(ctx,
			s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
		).Error()
	}
	if cmdErr != nil {
		return fmt.Errorf("failed to save token: %w", cmdErr)
	}

	s.logger.Debug("Saved token",
		"kind", string(token.Kind),
		"token_prefix", safeTruncate(token.Value, tokenIDLogLength))
	return nil
}

// GetToken retrieves a token by value. Revoked tokens are returned with
// Revoked=true so callers can distinguish revocation from absence.
func (s *Store) GetToken(ctx context.Context, value string) (*storage.Token, error) {
	token, err := getAndUnmarshal(ctx, s, s.tokenKey(value),
		storage.ErrTokenNotFound, fromTokenJSON)
	if err != nil {
		return nil, err
	}

	// TTL should handle this, but double-check
	if !token.ExpiresAt.IsZero() && time.Now().After(token.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired", storage.ErrExpired)
	}

	return token, nil
}

// RevokeToken marks a token as revoked, keeping its TTL so the revoked
// record remains visible until the token would have expired anyway.
func (s *Store) RevokeToken(ctx context.Context, value string) error {
	token, err := s.GetToken(ctx, value)
	if err != nil {
		return err
	}

	if token.Revoked {
		return nil
	}

	token.Revoked = true
	token.RevokedAt = time.Now()

	data, err := json.Marshal(toTokenJSON(token))
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := s.tokenKey(value)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Keepttl().Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	s.logger.Debug("Revoked token",
		"kind", string(token.Kind),
		"token_prefix", safeTruncate(value, tokenIDLogLength))
	return nil
}

// RotateRefreshToken atomically validates and deletes a refresh token.
// Only ONE concurrent caller can succeed; replays of a rotated token
// surface as ErrTokenNotFound.
func (s *Store) RotateRefreshToken(ctx context.Context, value string) (*storage.Token, error) {
	key := s.tokenKey(value)

	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaRotateRefreshToken).
			Numkeys(1).
			Key(key).
			Arg(fmt.Sprintf("%d", time.Now().Unix())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic token rotation: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case "REVOKED":
		return nil, storage.ErrTokenRevoked
	case "EXPIRED":
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrExpired)
	}

	var j tokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	s.logger.Debug("Rotated refresh token",
		"token_prefix", safeTruncate(value, tokenIDLogLength))

	return fromTokenJSON(&j), nil
}

// DeleteToken removes a token record entirely
func (s *Store) DeleteToken(ctx context.Context, value string) error {
	key := s.tokenKey(value)

	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	return nil
}
