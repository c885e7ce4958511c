package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Event is one security-relevant occurrence. UserID is hashed before it
// reaches the log stream; everything else is logged as given.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// Auditor writes security events through a structured logger. A
// disabled Auditor accepts every call and writes nothing, so callers
// never have to nil-check it.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor wraps logger for audit output. A nil logger falls back to
// slog.Default.
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{logger: logger, enabled: enabled}
}

// LogEvent writes one event at Info level under the "security_audit"
// message. The user ID is replaced by a short SHA-256 prefix.
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued records a successful token issuance.
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, scope string) {
	a.log(EventTokenIssued, userID, clientID, ipAddress, map[string]any{"scope": scope})
}

// LogTokenRefreshed records a refresh grant. rotated reports whether a
// new refresh token replaced the presented one.
func (a *Auditor) LogTokenRefreshed(userID, clientID, ipAddress string, rotated bool) {
	a.log(EventTokenRefreshed, userID, clientID, ipAddress, map[string]any{"rotated": rotated})
}

// LogTokenRevoked records a revocation, with the hinted token type.
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenType string) {
	a.log(EventTokenRevoked, userID, clientID, ipAddress, map[string]any{"token_type": tokenType})
}

// LogAuthFailure records a failed authentication attempt.
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.log(EventAuthFailure, userID, clientID, ipAddress, map[string]any{"reason": reason})
}

// LogRateLimitExceeded records a request rejected by the rate limiter.
func (a *Auditor) LogRateLimitExceeded(ipAddress, userID string) {
	a.log(EventRateLimitExceeded, userID, "", ipAddress, nil)
}

// LogClientRegistered records a dynamic client registration.
func (a *Auditor) LogClientRegistered(clientID, clientType, ipAddress string) {
	a.log(EventClientRegistered, "", clientID, ipAddress, map[string]any{"client_type": clientType})
}

// LogInvalidPKCE records a code_verifier that failed verification.
func (a *Auditor) LogInvalidPKCE(clientID, ipAddress, reason string) {
	a.log(EventPKCEValidationFailed, "", clientID, ipAddress, map[string]any{"reason": reason})
}

// LogTokenReuse records a rotated refresh token being presented again.
func (a *Auditor) LogTokenReuse(userID, ipAddress string) {
	a.log(EventTokenReuseDetected, userID, "", ipAddress, nil)
}

// LogSuspiciousActivity records behavior that warrants manual review.
func (a *Auditor) LogSuspiciousActivity(userID, clientID, ipAddress, description string) {
	a.log(EventSuspiciousActivity, userID, clientID, ipAddress, map[string]any{"description": description})
}

// LogInvalidRedirect records a redirect URI that failed validation.
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress, redirectURI, reason string) {
	a.log(EventInvalidRedirect, "", clientID, ipAddress, map[string]any{
		"redirect_uri": redirectURI,
		"reason":       reason,
	})
}

func (a *Auditor) log(eventType, userID, clientID, ipAddress string, details map[string]any) {
	a.LogEvent(Event{
		Type:      eventType,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details:   details,
	})
}

// hashForLogging returns the first 16 hex characters of the SHA-256 of
// sensitive, or "<empty>" for an empty input.
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	sum := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(sum[:])[:16]
}
