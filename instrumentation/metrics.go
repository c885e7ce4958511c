package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles every instrument the server records. Instruments are
// grouped by meter scope: http, server (OAuth flow), security, and
// storage.
type Metrics struct {
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	AuthorizationStarted metric.Int64Counter
	CodeExchanged        metric.Int64Counter
	TokenRefreshed       metric.Int64Counter
	TokenRevoked         metric.Int64Counter
	ClientRegistered     metric.Int64Counter

	RateLimitExceeded  metric.Int64Counter
	PKCEFailed         metric.Int64Counter
	CodeReuseDetected  metric.Int64Counter
	TokenReuseDetected metric.Int64Counter

	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageClientsCount      metric.Int64ObservableGauge
	StorageCodesCount        metric.Int64ObservableGauge
	StorageTokensCount       metric.Int64ObservableGauge
}

// instrumentSet creates instruments on one meter and remembers the
// first failure, so newMetrics can register everything and check err
// once at the end.
type instrumentSet struct {
	meter metric.Meter
	err   error
}

func (b *instrumentSet) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name,
		metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create counter %s: %w", name, err)
	}
	return c
}

func (b *instrumentSet) histogram(name, desc, unit string) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create histogram %s: %w", name, err)
	}
	return h
}

func (b *instrumentSet) gauge(name, desc, unit string) metric.Int64ObservableGauge {
	g, err := b.meter.Int64ObservableGauge(name,
		metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create gauge %s: %w", name, err)
	}
	return g
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	httpSet := &instrumentSet{meter: inst.Meter("http")}
	serverSet := &instrumentSet{meter: inst.Meter("server")}
	securitySet := &instrumentSet{meter: inst.Meter("security")}
	storageSet := &instrumentSet{meter: inst.Meter("storage")}

	m := &Metrics{
		HTTPRequestsTotal:   httpSet.counter("oauth.http.requests.total", "Total number of HTTP requests", "{request}"),
		HTTPRequestDuration: httpSet.histogram("oauth.http.request.duration", "HTTP request duration in milliseconds", "ms"),

		AuthorizationStarted: serverSet.counter("oauth.authorization.started", "Number of authorization flows started", "{flow}"),
		CodeExchanged:        serverSet.counter("oauth.code.exchanged", "Number of authorization codes exchanged for tokens", "{exchange}"),
		TokenRefreshed:       serverSet.counter("oauth.token.refreshed", "Number of tokens refreshed", "{refresh}"),
		TokenRevoked:         serverSet.counter("oauth.token.revoked", "Number of tokens revoked", "{revocation}"),
		ClientRegistered:     serverSet.counter("oauth.client.registered", "Number of clients registered", "{client}"),

		RateLimitExceeded:  securitySet.counter("oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"),
		PKCEFailed:         securitySet.counter("oauth.pkce.validation_failed", "Number of PKCE validation failures", "{failure}"),
		CodeReuseDetected:  securitySet.counter("oauth.code.reuse_detected", "Number of authorization code reuse attempts detected", "{attempt}"),
		TokenReuseDetected: securitySet.counter("oauth.token.reuse_detected", "Number of refresh token reuse attempts detected", "{attempt}"),

		StorageOperationTotal:    storageSet.counter("storage.operation.total", "Total number of storage operations", "{operation}"),
		StorageOperationDuration: storageSet.histogram("storage.operation.duration", "Storage operation duration in milliseconds", "ms"),
		StorageClientsCount:      storageSet.gauge("storage.clients.count", "Current number of registered clients in storage", "{client}"),
		StorageCodesCount:        storageSet.gauge("storage.authorization_codes.count", "Current number of authorization codes in storage", "{code}"),
		StorageTokensCount:       storageSet.gauge("storage.tokens.count", "Current number of tokens in storage", "{token}"),
	}

	for _, set := range []*instrumentSet{httpSet, serverSet, securitySet, storageSet} {
		if set.err != nil {
			return nil, set.err
		}
	}
	return m, nil
}

// RecordHTTPRequest counts a request and records its latency. The
// duration histogram keeps only the endpoint attribute to hold
// cardinality down.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordAuthorizationStarted counts the start of an authorization flow.
func (m *Metrics) RecordAuthorizationStarted(ctx context.Context, clientID string) {
	m.AuthorizationStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeExchange counts a successful code-for-token exchange.
func (m *Metrics) RecordCodeExchange(ctx context.Context, clientID, pkceMethod string) {
	m.CodeExchanged.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("pkce_method", pkceMethod),
	))
}

// RecordTokenRefresh counts a refresh grant. rotated is always true for
// this server and is kept as an attribute for dashboards that chart it.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string, rotated bool) {
	m.TokenRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.Bool("rotated", rotated),
	))
}

// RecordTokenRevocation counts a revocation request that removed a token.
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordClientRegistration counts a dynamic registration, labeled
// public or confidential.
func (m *Metrics) RecordClientRegistration(ctx context.Context, clientType string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_type", clientType),
	))
}

// RecordRateLimitExceeded counts a rejected request per limiter type.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordPKCEFailure counts a failed code_verifier check.
func (m *Metrics) RecordPKCEFailure(ctx context.Context, clientID string) {
	m.PKCEFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordCodeReuseDetected counts an attempt to redeem a spent
// authorization code.
func (m *Metrics) RecordCodeReuseDetected(ctx context.Context, clientID string) {
	m.CodeReuseDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordTokenReuseDetected counts an attempt to replay a rotated
// refresh token.
func (m *Metrics) RecordTokenReuseDetected(ctx context.Context, clientID string) {
	m.TokenReuseDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
	))
}

// RecordStorageOperation counts a backend call and records its latency.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
