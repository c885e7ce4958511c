package instrumentation

import (
	"context"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"disabled", Config{Enabled: false}},
		{"enabled with identity", Config{Enabled: true, ServiceName: "auth-test", ServiceVersion: "1.2.3"}},
		{"enabled with empty identity", Config{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() should never be nil")
			}
			if inst.MeterProvider() == nil || inst.TracerProvider() == nil {
				t.Error("providers should be initialized even when disabled")
			}
		})
	}
}

func TestNewAppliesIdentityDefaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if inst.config.ServiceName != "mcp-auth" {
		t.Errorf("ServiceName = %q, want mcp-auth", inst.config.ServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
}

func TestMeterAndTracerScopes(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, scope := range []string{"http", "server", "storage", "security"} {
		if inst.Meter(scope) == nil {
			t.Errorf("Meter(%q) returned nil", scope)
		}
		if inst.Tracer(scope) == nil {
			t.Errorf("Tracer(%q) returned nil", scope)
		}
	}
}

func TestShutdownIdempotent(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestShouldLogClientIPs(t *testing.T) {
	inst, _ := New(Config{LogClientIPs: true})
	if !inst.ShouldLogClientIPs() {
		t.Error("ShouldLogClientIPs() = false, want true")
	}

	inst, _ = New(Config{})
	if inst.ShouldLogClientIPs() {
		t.Error("client IP logging must default off")
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 3 },
		func() int64 { return 2 },
		func() int64 { return 7 },
	)
	if err != nil {
		t.Errorf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	// Nil callbacks skip their gauge without failing registration.
	if err := inst.RegisterStorageSizeCallbacks(nil, nil, nil); err != nil {
		t.Errorf("nil callbacks should register cleanly, got %v", err)
	}
}
