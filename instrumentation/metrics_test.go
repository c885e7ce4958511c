package instrumentation

import (
	"context"
	"testing"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	inst, err := New(Config{Enabled: true, ServiceName: "metrics-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inst.Metrics()
}

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m := newTestMetrics(t)

	if m.HTTPRequestsTotal == nil || m.HTTPRequestDuration == nil {
		t.Error("HTTP instruments missing")
	}
	if m.AuthorizationStarted == nil || m.CodeExchanged == nil ||
		m.TokenRefreshed == nil || m.TokenRevoked == nil || m.ClientRegistered == nil {
		t.Error("OAuth flow instruments missing")
	}
	if m.RateLimitExceeded == nil || m.PKCEFailed == nil ||
		m.CodeReuseDetected == nil || m.TokenReuseDetected == nil {
		t.Error("security instruments missing")
	}
	if m.StorageOperationTotal == nil || m.StorageOperationDuration == nil ||
		m.StorageClientsCount == nil || m.StorageCodesCount == nil || m.StorageTokensCount == nil {
		t.Error("storage instruments missing")
	}
}

// The recording helpers must be callable from any code path without
// panicking, whether or not an exporter is attached.
func TestRecordHelpers(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "POST", "token", 200, 12.5)
	m.RecordAuthorizationStarted(ctx, "client-1")
	m.RecordCodeExchange(ctx, "client-1", "S256")
	m.RecordTokenRefresh(ctx, "client-1", true)
	m.RecordTokenRevocation(ctx, "client-1")
	m.RecordClientRegistration(ctx, "public")
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordPKCEFailure(ctx, "client-1")
	m.RecordCodeReuseDetected(ctx, "client-1")
	m.RecordTokenReuseDetected(ctx, "client-1")
	m.RecordStorageOperation(ctx, "consume_code", "success", 3.2)
}

func TestRecordHelpersDisabled(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m := inst.Metrics()
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "GET", "authorize", 302, 1.0)
	m.RecordCodeExchange(ctx, "client-1", "S256")
	m.RecordStorageOperation(ctx, "rotate_token", "error", 0.4)
}
