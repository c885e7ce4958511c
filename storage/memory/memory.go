package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/lucianfialho/mcp-auth/instrumentation"
	"github.com/lucianfialho/mcp-auth/internal/util"
	"github.com/lucianfialho/mcp-auth/storage"
)

// tokenIDLogLength is the number of characters to include when logging
// token and code values. Enough for log correlation without exposing the
// credential itself.
const tokenIDLogLength = 8

// expired reports whether expiresAt has strictly passed. A zero time
// means no expiry. The store compares against its own clock with no
// skew allowance, matching the valkey and postgres backends; any grace
// for cross-machine drift is applied by the validation layer, not here.
func expired(expiresAt time.Time) bool {
	return !expiresAt.IsZero() && time.Now().After(expiresAt)
}

// Store is an in-memory implementation of all storage interfaces.
// It implements storage.ClientStore, storage.CodeStore, and storage.TokenStore.
type Store struct {
	mu sync.RWMutex

	clients      map[string]*storage.Client
	clientsPerIP map[string]int // IP address -> registration count (for DoS protection)

	authCodes map[string]*storage.AuthorizationCode
	tokens    map[string]*storage.Token

	// Instrumentation
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	meter           metric.Meter

	// Atomic counters for metrics (lock-free access during metric collection)
	clientsCountAtomic   atomic.Int64
	authCodesCountAtomic atomic.Int64
	tokensCountAtomic    atomic.Int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		clientsPerIP:    make(map[string]int),
		authCodes:       make(map[string]*storage.AuthorizationCode),
		tokens:          make(map[string]*storage.Token),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
		s.meter = inst.Meter("storage")
	}

	// Initialize atomic counters with current counts
	s.clientsCountAtomic.Store(int64(len(s.clients)))
	s.authCodesCountAtomic.Store(int64(len(s.authCodes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	s.mu.Unlock()

	if inst != nil {
		err := inst.RegisterStorageSizeCallbacks(
			func() int64 { return s.clientsCountAtomic.Load() },
			func() int64 { return s.authCodesCountAtomic.Load() },
			func() int64 { return s.tokensCountAtomic.Load() },
		)
		if err != nil {
			s.logger.Warn("Failed to register storage size callbacks", "error", err)
		}
	}
}

// Stop gracefully stops the cleanup goroutine
func (s *Store) Stop() {
	close(s.stopCleanup)
}

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	ctx, span := s.startStorageSpan(ctx, "save_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_client", err, startTime)
	}()

	if client == nil || client.ClientID == "" {
		err = fmt.Errorf("invalid client")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clientCopy := *client
	s.clients[client.ClientID] = &clientCopy
	s.clientsCountAtomic.Store(int64(len(s.clients)))

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	clientCopy := *client
	return &clientCopy, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison is always performed, against a dummy hash when the
// client does not exist, so response timing does not reveal client existence.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	// Valid bcrypt hash compared when no real hash applies. No caller
	// knows its plaintext; the comparison exists only to equalize timing.
	dummyHash := "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	isPublicClient := false

	if err == nil {
		if client.ClientType == "public" {
			isPublicClient = true
		} else if client.ClientSecretHash != "" {
			hashToCompare = client.ClientSecretHash
		}
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	// Public clients authenticate with client_id alone
	if isPublicClient && err == nil {
		return nil
	}

	if err != nil {
		return storage.ErrInvalidClientSecret
	}

	if bcryptErr != nil {
		return storage.ErrInvalidClientSecret
	}

	return nil
}

// ListClients lists all registered clients
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]*storage.Client, 0, len(s.clients))
	for _, client := range s.clients {
		clientCopy := *client
		clients = append(clients, &clientCopy)
	}

	return clients, nil
}

// CheckIPLimit checks if an IP has reached the client registration limit
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.clientsPerIP[ip] >= maxClientsPerIP {
		return fmt.Errorf("%w: %d clients from %s", storage.ErrClientLimitExceeded, s.clientsPerIP[ip], ip)
	}

	return nil
}

// TrackClientIP records a successful registration from the given IP
func (s *Store) TrackClientIP(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clientsPerIP[ip]++
	return nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := s.startStorageSpan(ctx, "save_authorization_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_authorization_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	codeCopy := *code
	s.authCodes[code.Code] = &codeCopy
	s.authCodesCountAtomic.Store(int64(len(s.authCodes)))

	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves an authorization code without consuming it.
//
// NOTE: For actual code exchange, use ConsumeAuthorizationCode instead
// to prevent race conditions.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if expired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrExpired)
	}

	// Return a COPY to prevent caller from modifying our stored version
	codeCopy := *authCode
	return &codeCopy, nil
}

// ConsumeAuthorizationCode atomically checks that a code is unconsumed and
// marks it consumed. Only ONE concurrent caller can succeed; all other
// concurrent callers receive ErrAuthorizationCodeConsumed.
//
// The record is kept (marked consumed) rather than deleted so replay
// attempts can be detected until the background cleanup removes it.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock() // write lock for atomic check-and-set
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	if expired(authCode.ExpiresAt) {
		return nil, fmt.Errorf("%w: authorization code expired", storage.ErrExpired)
	}

	if authCode.Consumed {
		// Return the record so the caller can audit the replay attempt
		codeCopy := *authCode
		return &codeCopy, storage.ErrAuthorizationCodeConsumed
	}

	authCode.Consumed = true
	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))

	codeCopy := *authCode
	return &codeCopy, nil
}

// DeleteAuthorizationCode removes an authorization code
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.authCodes, code)
	s.authCodesCountAtomic.Store(int64(len(s.authCodes)))
	s.logger.Debug("Deleted authorization code")
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveToken saves an issued token keyed by its value
func (s *Store) SaveToken(ctx context.Context, token *storage.Token) error {
	ctx, span := s.startStorageSpan(ctx, "save_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_token", err, startTime)
	}()

	if token == nil || token.Value == "" {
		err = fmt.Errorf("invalid token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tokenCopy := *token
	s.tokens[token.Value] = &tokenCopy
	s.tokensCountAtomic.Store(int64(len(s.tokens)))

	s.logger.Debug("Saved token",
		"kind", string(token.Kind),
		"token_prefix", util.SafeTruncate(token.Value, tokenIDLogLength))
	return nil
}

// GetToken retrieves a token by value. Revoked tokens are returned with
// Revoked=true; expired tokens yield ErrExpired.
func (s *Store) GetToken(ctx context.Context, value string) (*storage.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	if expired(token.ExpiresAt) {
		return nil, fmt.Errorf("%w: token expired", storage.ErrExpired)
	}

	tokenCopy := *token
	return &tokenCopy, nil
}

// RevokeToken marks a token as revoked. Revoking an already-revoked token
// is a no-op.
func (s *Store) RevokeToken(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return storage.ErrTokenNotFound
	}

	if !token.Revoked {
		token.Revoked = true
		token.RevokedAt = time.Now()
		s.logger.Debug("Revoked token",
			"kind", string(token.Kind),
			"token_prefix", util.SafeTruncate(value, tokenIDLogLength))
	}

	return nil
}

// RotateRefreshToken atomically validates and removes a refresh token.
// Only ONE concurrent caller can succeed; the losers see ErrTokenNotFound
// or ErrTokenRevoked.
func (s *Store) RotateRefreshToken(ctx context.Context, value string) (*storage.Token, error) {
	s.mu.Lock() // write lock for atomic check-and-delete
	defer s.mu.Unlock()

	token, ok := s.tokens[value]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}

	// Only refresh tokens rotate. An access token presented here is
	// rejected without touching the stored record.
	if token.Kind != storage.TokenKindRefresh {
		return nil, storage.ErrTokenNotFound
	}

	if token.Revoked {
		return nil, storage.ErrTokenRevoked
	}

	if expired(token.ExpiresAt) {
		return nil, fmt.Errorf("%w: refresh token expired", storage.ErrExpired)
	}

	delete(s.tokens, value)
	s.tokensCountAtomic.Store(int64(len(s.tokens)))

	s.logger.Debug("Rotated refresh token",
		"token_prefix", util.SafeTruncate(value, tokenIDLogLength))

	tokenCopy := *token
	return &tokenCopy, nil
}

// DeleteToken removes a token record entirely
func (s *Store) DeleteToken(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, value)
	s.tokensCountAtomic.Store(int64(len(s.tokens)))
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := 0

	// Expired and consumed authorization codes. Consumed codes are kept
	// for one cleanup interval so replay attempts against them still
	// surface as ErrAuthorizationCodeConsumed rather than not-found.
	cutoff := time.Now().Add(-s.cleanupInterval)
	for code, authCode := range s.authCodes {
		if expired(authCode.ExpiresAt) ||
			(authCode.Consumed && authCode.CreatedAt.Before(cutoff)) {
			delete(s.authCodes, code)
			cleaned++
		}
	}

	// Expired tokens (zero expiry means the token never expires)
	for value, token := range s.tokens {
		if expired(token.ExpiresAt) {
			delete(s.tokens, value)
			cleaned++
		}
	}

	s.authCodesCountAtomic.Store(int64(len(s.authCodes)))
	s.tokensCountAtomic.Store(int64(len(s.tokens)))

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired entries", "count", cleaned)
	}
}

// ============================================================
// Instrumentation helpers
// ============================================================

// startStorageSpan starts a tracing span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String("operation", operation),
		))

	return ctx, span
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Milliseconds())
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	} else if span != nil {
		span.SetStatus(codes.Ok, "")
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
