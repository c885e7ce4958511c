package security

import (
	"net/http"
	"strings"
)

// Headers applied to every OAuth response. Responses carry codes,
// tokens, and client secrets, so caching is disabled and the pages can
// never be framed or script-injected.
var baseHeaders = map[string]string{
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"X-XSS-Protection":        "1; mode=block",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"Referrer-Policy":         "no-referrer",
	"Cache-Control":           "no-store, no-cache, must-revalidate, private",
	"Pragma":                  "no-cache",
}

// SetSecurityHeaders writes the standard response headers for OAuth
// endpoints. HSTS is added only when the server itself is reached over
// HTTPS, so local plain-HTTP development does not pin browsers.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	h := w.Header()
	for name, value := range baseHeaders {
		h.Set(name, value)
	}
	if strings.HasPrefix(serverURL, "https://") {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
}
