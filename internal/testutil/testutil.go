package testutil

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lucianfialho/mcp-auth/storage"
)

// testSecretHash is a bcrypt hash of "secret", generated once at the
// lowest cost so ValidateClientSecret calls stay fast in tests.
var testSecretHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("testutil: bcrypt.GenerateFromPassword: %v", err))
	}
	return string(h)
}()

// GenerateTestClient returns a confidential client whose secret hash
// matches the plaintext "secret".
func GenerateTestClient() *storage.Client {
	return &storage.Client{
		ClientID:                "test-client-id",
		ClientSecretHash:        testSecretHash,
		ClientType:              "confidential",
		RedirectURIs:            []string{"https://example.com/callback"},
		TokenEndpointAuthMethod: "client_secret_post",
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		ClientName:              "Test Client",
		Scopes:                  []string{"mcp:read", "mcp:write"},
		CreatedAt:               time.Now(),
	}
}

// GenerateTestPublicClient returns a public client that authenticates
// with PKCE alone.
func GenerateTestPublicClient() *storage.Client {
	c := GenerateTestClient()
	c.ClientID = "test-public-client-id"
	c.ClientSecretHash = ""
	c.ClientType = "public"
	c.TokenEndpointAuthMethod = "none"
	return c
}

// GenerateTestAuthorizationCode returns a fresh code bound to the given
// client and PKCE challenge, expiring ten minutes out.
func GenerateTestAuthorizationCode(clientID, challenge string) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                GenerateRandomString(32),
		ClientID:            clientID,
		RedirectURI:         "https://example.com/callback",
		Scope:               "mcp:read mcp:write",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		Subject:             "test-user-123",
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(10 * time.Minute),
	}
}

// GenerateTestToken returns an access token record valid for an hour.
func GenerateTestToken(clientID string) *storage.Token {
	return &storage.Token{
		Value:     GenerateRandomString(32),
		Kind:      storage.TokenKindAccess,
		ClientID:  clientID,
		Subject:   "test-user-123",
		Scope:     "mcp:read",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

// GenerateTestRefreshToken returns a refresh token record. The zero
// ExpiresAt marks it as never expiring.
func GenerateTestRefreshToken(clientID string) *storage.Token {
	tok := GenerateTestToken(clientID)
	tok.Kind = storage.TokenKindRefresh
	tok.ExpiresAt = time.Time{}
	return tok
}

// GenerateRandomString returns length characters of URL-safe base64
// built from crypto/rand bytes.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("testutil: rand.Read: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length]
}

// GeneratePKCEPair returns a matching S256 challenge and verifier.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = GenerateRandomString(50)
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return challenge, verifier
}

// AssertNoError stops the test when err is non-nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError stops the test when err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
}

// AssertEqual reports a failure when got != want.
func AssertEqual(t *testing.T, got, want any) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertNotEqual reports a failure when got == want.
func AssertNotEqual(t *testing.T, got, want any) {
	t.Helper()
	if got == want {
		t.Errorf("got %v, want a different value", got)
	}
}

// AssertStringContains reports a failure when substr is absent from s.
func AssertStringContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("%q does not contain %q", s, substr)
	}
}

// AssertTrue reports a failure, with message, when condition is false.
func AssertTrue(t *testing.T, condition bool, message string) {
	t.Helper()
	if !condition {
		t.Errorf("expected true: %s", message)
	}
}

// AssertFalse reports a failure, with message, when condition is true.
func AssertFalse(t *testing.T, condition bool, message string) {
	t.Helper()
	if condition {
		t.Errorf("expected false: %s", message)
	}
}

// AssertTimeEqual reports a failure when got and want differ by more
// than tolerance.
func AssertTimeEqual(t *testing.T, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	d := got.Sub(want)
	if d < 0 {
		d = -d
	}
	if d > tolerance {
		t.Errorf("time mismatch: got %v, want %v within %v (off by %v)", got, want, tolerance, d)
	}
}
