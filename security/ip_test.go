package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trustProxy bool
		proxyCount int
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:51234",
			want:       "203.0.113.7",
		},
		{
			name:       "headers ignored without proxy trust",
			remoteAddr: "203.0.113.7:51234",
			xff:        "198.51.100.1",
			xRealIP:    "198.51.100.2",
			want:       "203.0.113.7",
		},
		{
			name:       "single proxy chain",
			remoteAddr: "10.0.0.1:443",
			xff:        "198.51.100.1, 10.0.0.1",
			trustProxy: true,
			want:       "198.51.100.1",
		},
		{
			name:       "two trusted proxies",
			remoteAddr: "10.0.0.1:443",
			xff:        "198.51.100.1, 10.0.0.2, 10.0.0.1",
			trustProxy: true,
			proxyCount: 2,
			want:       "198.51.100.1",
		},
		{
			name:       "short chain clamps to leftmost entry",
			remoteAddr: "10.0.0.1:443",
			xff:        "198.51.100.1",
			trustProxy: true,
			proxyCount: 3,
			want:       "198.51.100.1",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:443",
			xRealIP:    "198.51.100.9",
			trustProxy: true,
			want:       "198.51.100.9",
		},
		{
			name:       "malformed forwarded entry falls through",
			remoteAddr: "10.0.0.1:443",
			xff:        "not-an-ip, 10.0.0.1",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "malformed x-real-ip falls through",
			remoteAddr: "10.0.0.1:443",
			xRealIP:    "bogus",
			trustProxy: true,
			want:       "10.0.0.1",
		},
		{
			name:       "ipv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "remote addr without port",
			remoteAddr: "203.0.113.7",
			want:       "203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				r.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(r, tt.trustProxy, tt.proxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPFromChain(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		proxyCount int
		want       string
	}{
		{"empty header", "", 1, ""},
		{"single entry", "198.51.100.1", 1, "198.51.100.1"},
		{"zero count treated as one proxy", "198.51.100.1, 10.0.0.1", 0, "198.51.100.1"},
		{"spaces trimmed", " 198.51.100.1 , 10.0.0.1", 1, "198.51.100.1"},
		{"invalid candidate rejected", "spoofed, 10.0.0.1", 1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clientIPFromChain(tt.xff, tt.proxyCount); got != tt.want {
				t.Errorf("clientIPFromChain(%q, %d) = %q, want %q", tt.xff, tt.proxyCount, got, tt.want)
			}
		})
	}
}
