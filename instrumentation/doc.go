// Package instrumentation wires OpenTelemetry metrics and traces
// through the authorization server. With Enabled false (the default)
// every instrument is a no-op and the package costs nothing.
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-auth-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	server.SetInstrumentation(inst)
//
// Metrics cover three layers. HTTP: request totals and durations per
// endpoint. OAuth flows: authorizations started, codes exchanged,
// tokens refreshed/revoked, clients registered, plus the security
// counters for rate limit violations, PKCE failures, and code or
// refresh token reuse detection. Storage: operation totals, durations,
// and occupancy gauges fed by RegisterStorageSizeCallbacks.
//
// Traces follow each request from the HTTP handler span down through
// the server operation and its store round trips, for example
// oauth.http.token_exchange then oauth.server.exchange_code then
// storage.consume_authorization_code.
//
// Only metadata is recorded. Token values, authorization codes,
// secrets, and PKCE verifiers must never reach a span or a metric
// label; telemetry backends retain data longer and are read more
// widely than the server itself. client_id is the one unbounded label,
// so deployments with very large dynamic registration volume should
// aggregate it away in their monitoring pipeline.
package instrumentation
