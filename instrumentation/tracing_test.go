package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func newTestSpan(t *testing.T) trace.Span {
	t.Helper()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, span := inst.Tracer("test").Start(context.Background(), "op")
	return span
}

// Every helper must accept a nil span so call sites need no guards.
func TestHelpersNilSafe(t *testing.T) {
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "failed")
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddOAuthFlowAttributes(nil, "c", "u", "s")
	AddStorageAttributes(nil, "get", "memory")
	AddHTTPAttributes(nil, "GET", "token", 200)
	AddSecurityAttributes(nil, "203.0.113.7")
}

func TestRecordError(t *testing.T) {
	span := newTestSpan(t)
	defer span.End()

	RecordError(span, errors.New("store unavailable"))
	RecordError(span, nil)
}

func TestSpanStatusHelpers(t *testing.T) {
	span := newTestSpan(t)
	defer span.End()

	SetSpanSuccess(span)
	SetSpanError(span, "client mismatch")
	SetSpanAttributes(span,
		attribute.String(AttrClientID, "client-1"),
		attribute.String(AttrGrantType, "authorization_code"),
	)
}

func TestAddOAuthFlowAttributes(t *testing.T) {
	span := newTestSpan(t)
	defer span.End()

	AddOAuthFlowAttributes(span, "client-1", "user-1", "mcp:read")
	// Empty values are skipped rather than recorded blank.
	AddOAuthFlowAttributes(span, "", "", "")
}

func TestCompositeAttributeHelpers(t *testing.T) {
	span := newTestSpan(t)
	defer span.End()

	AddStorageAttributes(span, "consume_code", "valkey")
	AddHTTPAttributes(span, "POST", "token", 400)
	AddSecurityAttributes(span, "203.0.113.7")
	AddSecurityAttributes(span, "")
}
