package security

import (
	"testing"
	"time"
)

func TestIsTokenExpired(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{"long expired", time.Now().Add(-time.Hour), true},
		{"expired beyond grace", time.Now().Add(-10 * time.Second), true},
		{"expired within grace", time.Now().Add(-2 * time.Second), false},
		{"still valid", time.Now().Add(time.Hour), false},
		{"zero time never expires", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpired(tt.expiresAt); got != tt.want {
				t.Errorf("IsTokenExpired(%v) = %v, want %v", tt.expiresAt, got, tt.want)
			}
		})
	}
}

func TestIsTokenExpiredWithGracePeriod(t *testing.T) {
	expiresAt := time.Now().Add(-30 * time.Second)

	if !IsTokenExpiredWithGracePeriod(expiresAt, 10*time.Second) {
		t.Error("30s past expiry should be expired with a 10s grace period")
	}
	if IsTokenExpiredWithGracePeriod(expiresAt, time.Minute) {
		t.Error("30s past expiry should survive a 60s grace period")
	}
	if IsTokenExpiredWithGracePeriod(time.Time{}, 0) {
		t.Error("zero expiry must never report expired")
	}
}

func TestIsTokenExpiringSoon(t *testing.T) {
	tests := []struct {
		name      string
		expiresAt time.Time
		threshold time.Duration
		want      bool
	}{
		{"well within lifetime", time.Now().Add(time.Hour), time.Minute, false},
		{"inside threshold", time.Now().Add(30 * time.Second), time.Minute, true},
		{"already expired", time.Now().Add(-time.Minute), time.Minute, true},
		{"zero time never expires", time.Time{}, time.Hour, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTokenExpiringSoon(tt.expiresAt, tt.threshold); got != tt.want {
				t.Errorf("IsTokenExpiringSoon() = %v, want %v", got, tt.want)
			}
		})
	}
}
