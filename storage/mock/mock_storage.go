// Package mock provides mock implementations of storage interfaces for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lucianfialho/mcp-auth/storage"
)

// Store is a mock implementation of ClientStore, CodeStore, and TokenStore.
// Every method has an overridable Func field for failure injection; the
// defaults behave like a simple in-memory store. CallCounts records how many
// times each method was invoked.
type Store struct {
	mu         sync.RWMutex
	clients    map[string]*storage.Client
	ipCount    map[string]int
	codes      map[string]*storage.AuthorizationCode
	tokens     map[string]*storage.Token
	CallCounts map[string]int

	SaveClientFunc           func(ctx context.Context, client *storage.Client) error
	GetClientFunc            func(ctx context.Context, clientID string) (*storage.Client, error)
	ValidateClientSecretFunc func(ctx context.Context, clientID, clientSecret string) error
	ListClientsFunc          func(ctx context.Context) ([]*storage.Client, error)
	CheckIPLimitFunc         func(ctx context.Context, ip string, maxClientsPerIP int) error
	TrackClientIPFunc        func(ctx context.Context, ip string) error

	SaveAuthorizationCodeFunc    func(ctx context.Context, code *storage.AuthorizationCode) error
	GetAuthorizationCodeFunc     func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	ConsumeAuthorizationCodeFunc func(ctx context.Context, code string) (*storage.AuthorizationCode, error)
	DeleteAuthorizationCodeFunc  func(ctx context.Context, code string) error

	SaveTokenFunc          func(ctx context.Context, token *storage.Token) error
	GetTokenFunc           func(ctx context.Context, value string) (*storage.Token, error)
	RevokeTokenFunc        func(ctx context.Context, value string) error
	RotateRefreshTokenFunc func(ctx context.Context, value string) (*storage.Token, error)
	DeleteTokenFunc        func(ctx context.Context, value string) error
}

// Compile-time interface checks
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a mock store with default in-memory behavior
func New() *Store {
	return &Store{
		clients:    make(map[string]*storage.Client),
		ipCount:    make(map[string]int),
		codes:      make(map[string]*storage.AuthorizationCode),
		tokens:     make(map[string]*storage.Token),
		CallCounts: make(map[string]int),
	}
}

func (s *Store) count(method string) {
	s.mu.Lock()
	s.CallCounts[method]++
	s.mu.Unlock()
}

// SaveClient implements storage.ClientStore
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	s.count("SaveClient")
	if s.SaveClientFunc != nil {
		return s.SaveClientFunc(ctx, client)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client
	return nil
}

// GetClient implements storage.ClientStore
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.count("GetClient")
	if s.GetClientFunc != nil {
		return s.GetClientFunc(ctx, clientID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	return client, nil
}

// ValidateClientSecret implements storage.ClientStore
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	s.count("ValidateClientSecret")
	if s.ValidateClientSecretFunc != nil {
		return s.ValidateClientSecretFunc(ctx, clientID, clientSecret)
	}
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()
	if !ok || client.ClientSecretHash == "" {
		return storage.ErrInvalidClientSecret
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return storage.ErrInvalidClientSecret
	}
	return nil
}

// ListClients implements storage.ClientStore
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.count("ListClients")
	if s.ListClientsFunc != nil {
		return s.ListClientsFunc(ctx)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]*storage.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients, nil
}

// CheckIPLimit implements storage.ClientStore
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	s.count("CheckIPLimit")
	if s.CheckIPLimitFunc != nil {
		return s.CheckIPLimitFunc(ctx, ip, maxClientsPerIP)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ipCount[ip] >= maxClientsPerIP {
		return storage.ErrClientLimitExceeded
	}
	return nil
}

// TrackClientIP implements storage.ClientStore
func (s *Store) TrackClientIP(ctx context.Context, ip string) error {
	s.count("TrackClientIP")
	if s.TrackClientIPFunc != nil {
		return s.TrackClientIPFunc(ctx, ip)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ipCount[ip]++
	return nil
}

// SaveAuthorizationCode implements storage.CodeStore
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	s.count("SaveAuthorizationCode")
	if s.SaveAuthorizationCodeFunc != nil {
		return s.SaveAuthorizationCodeFunc(ctx, code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return nil
}

// GetAuthorizationCode implements storage.CodeStore
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.count("GetAuthorizationCode")
	if s.GetAuthorizationCodeFunc != nil {
		return s.GetAuthorizationCodeFunc(ctx, code)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	return record, nil
}

// ConsumeAuthorizationCode implements storage.CodeStore
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.count("ConsumeAuthorizationCode")
	if s.ConsumeAuthorizationCodeFunc != nil {
		return s.ConsumeAuthorizationCodeFunc(ctx, code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.codes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}
	if time.Now().After(record.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	if record.Consumed {
		return record, storage.ErrAuthorizationCodeConsumed
	}
	record.Consumed = true
	return record, nil
}

// DeleteAuthorizationCode implements storage.CodeStore
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.count("DeleteAuthorizationCode")
	if s.DeleteAuthorizationCodeFunc != nil {
		return s.DeleteAuthorizationCodeFunc(ctx, code)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

// SaveToken implements storage.TokenStore
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	s.count("SaveToken")
	if s.SaveTokenFunc != nil {
		return s.SaveTokenFunc(ctx, token)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Value] = token
	return nil
}

// GetToken implements storage.TokenStore
func (s *Store) GetToken(ctx context.Context, value string) (*storage.Token, error) {
	s.count("GetToken")
	if s.GetTokenFunc != nil {
		return s.GetTokenFunc(ctx, value)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if !token.ExpiresAt.IsZero() && time.Now().After(token.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	return token, nil
}

// RevokeToken implements storage.TokenStore
func (s *Store) RevokeToken(ctx context.Context, value string) error {
	s.count("RevokeToken")
	if s.RevokeTokenFunc != nil {
		return s.RevokeTokenFunc(ctx, value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[value]
	if !ok {
		return storage.ErrTokenNotFound
	}
	if !token.Revoked {
		token.Revoked = true
		token.RevokedAt = time.Now()
	}
	return nil
}

// RotateRefreshToken implements storage.TokenStore
func (s *Store) RotateRefreshToken(ctx context.Context, value string) (*storage.Token, error) {
	s.count("RotateRefreshToken")
	if s.RotateRefreshTokenFunc != nil {
		return s.RotateRefreshTokenFunc(ctx, value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if token.Kind != storage.TokenKindRefresh {
		return nil, storage.ErrTokenNotFound
	}
	if token.Revoked {
		return nil, storage.ErrTokenRevoked
	}
	if !token.ExpiresAt.IsZero() && time.Now().After(token.ExpiresAt) {
		return nil, storage.ErrExpired
	}
	delete(s.tokens, value)
	return token, nil
}

// DeleteToken implements storage.TokenStore
func (s *Store) DeleteToken(ctx context.Context, value string) error {
	s.count("DeleteToken")
	if s.DeleteTokenFunc != nil {
		return s.DeleteTokenFunc(ctx, value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, value)
	return nil
}
