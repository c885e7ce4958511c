package security

// Audit event types. Every Event.Type written through the Auditor uses
// one of these so downstream alerting can match on exact strings.
const (
	EventTokenIssued    = "token_issued"
	EventTokenRefreshed = "token_refreshed"
	EventTokenRevoked   = "token_revoked"

	// EventTokenReuseDetected fires when a rotated refresh token is
	// presented again, which indicates theft or a badly broken client.
	EventTokenReuseDetected = "token_reuse_detected" //nolint:gosec // event type name, not a credential

	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeReuseDetected fires when a consumed code is
	// presented again at the token endpoint.
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	EventClientRegistered           = "client_registered"
	EventClientRegistrationRejected = "client_registration_rejected"

	EventAuthFailure          = "auth_failure"
	EventSuspiciousActivity   = "suspicious_activity"
	EventRateLimitExceeded    = "rate_limit_exceeded"
	EventPKCEValidationFailed = "pkce_validation_failed"
	EventInvalidRedirect      = "invalid_redirect"
)
