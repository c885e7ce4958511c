package mcpauth

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/lucianfialho/mcp-auth/internal/testutil"
	"github.com/lucianfialho/mcp-auth/storage"
)

func TestRegisterClient(t *testing.T) {
	ctx := context.Background()

	t.Run("confidential client", func(t *testing.T) {
		server, store := newTestServer(t, nil)

		client, secret, err := server.RegisterClient(ctx, &ClientRegistrationRequest{
			RedirectURIs: []string{"https://example.com/callback"},
			ClientName:   "Confidential App",
			Scope:        "mcp:read mcp:write",
		}, "192.0.2.1")
		testutil.AssertNoError(t, err)

		testutil.AssertEqual(t, client.ClientType, ClientTypeConfidential)
		testutil.AssertEqual(t, client.TokenEndpointAuthMethod, AuthMethodClientSecretPost)
		testutil.AssertTrue(t, secret != "", "confidential client must receive a secret")
		testutil.AssertNotEqual(t, client.ClientSecretHash, secret)
		testutil.AssertNoError(t, bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(secret)))
		testutil.AssertEqual(t, len(client.Scopes), 2)

		// The registered client round-trips through the store
		stored, err := store.GetClient(ctx, client.ClientID)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, stored.ClientName, "Confidential App")
	})

	t.Run("public client", func(t *testing.T) {
		server, _ := newTestServer(t, nil)

		client, secret, err := server.RegisterClient(ctx, &ClientRegistrationRequest{
			RedirectURIs:            []string{"http://127.0.0.1:43217/callback"},
			TokenEndpointAuthMethod: AuthMethodNone,
		}, "192.0.2.1")
		testutil.AssertNoError(t, err)

		testutil.AssertEqual(t, client.ClientType, ClientTypePublic)
		testutil.AssertEqual(t, client.TokenEndpointAuthMethod, AuthMethodNone)
		testutil.AssertEqual(t, secret, "")
		testutil.AssertEqual(t, client.ClientSecretHash, "")
	})

	t.Run("grants and response types assigned", func(t *testing.T) {
		server, _ := newTestServer(t, nil)

		client, _, err := server.RegisterClient(ctx, &ClientRegistrationRequest{
			RedirectURIs: []string{"https://example.com/callback"},
		}, "192.0.2.1")
		testutil.AssertNoError(t, err)

		testutil.AssertEqual(t, len(client.GrantTypes), 2)
		testutil.AssertEqual(t, len(client.ResponseTypes), 1)
		testutil.AssertEqual(t, client.ResponseTypes[0], ResponseTypeCode)
	})

	t.Run("unique client IDs", func(t *testing.T) {
		server, _ := newTestServer(t, nil)

		req := &ClientRegistrationRequest{RedirectURIs: []string{"https://example.com/callback"}}
		a, _, err := server.RegisterClient(ctx, req, "192.0.2.1")
		testutil.AssertNoError(t, err)
		b, _, err := server.RegisterClient(ctx, req, "192.0.2.1")
		testutil.AssertNoError(t, err)
		testutil.AssertNotEqual(t, a.ClientID, b.ClientID)
	})

	t.Run("IP limit enforced", func(t *testing.T) {
		server, _ := newTestServer(t, &Config{
			Issuer:          "https://auth.example.com",
			MaxClientsPerIP: 1,
		})

		req := &ClientRegistrationRequest{RedirectURIs: []string{"https://example.com/callback"}}
		_, _, err := server.RegisterClient(ctx, req, "203.0.113.7")
		testutil.AssertNoError(t, err)

		_, _, err = server.RegisterClient(ctx, req, "203.0.113.7")
		testutil.AssertError(t, err)
		assertOAuthCode(t, err, ErrorCodeInvalidRequest)

		// Other IPs are unaffected
		_, _, err = server.RegisterClient(ctx, req, "203.0.113.8")
		testutil.AssertNoError(t, err)
	})
}

func TestValidateClientMetadata(t *testing.T) {
	valid := func() *ClientRegistrationRequest {
		return &ClientRegistrationRequest{
			RedirectURIs:  []string{"https://example.com/callback"},
			GrantTypes:    []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
			ResponseTypes: []string{ResponseTypeCode},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*ClientRegistrationRequest)
		wantErr string
	}{
		{"valid", func(r *ClientRegistrationRequest) {}, ""},
		{
			"no redirect URIs",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = nil },
			"redirect_uris is required",
		},
		{
			"empty redirect URI",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{""} },
			"empty values",
		},
		{
			"relative redirect URI",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"/callback"} },
			"must be absolute",
		},
		{
			"javascript scheme",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"javascript:alert(1)"} },
			"not allowed",
		},
		{
			"data scheme",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"data:text/html,x"} },
			"not allowed",
		},
		{
			"custom scheme allowed",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"com.example.app:/oauth"} },
			"",
		},
		{
			"https without host",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"https:///callback"} },
			"must have a host",
		},
		{
			"IPv4 link-local host",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"http://169.254.169.254/cb"} },
			"link-local",
		},
		{
			"IPv6 link-local host",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"http://[fe80::1]/cb"} },
			"link-local",
		},
		{
			"unspecified host",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"http://0.0.0.0/cb"} },
			"unspecified",
		},
		{
			"loopback host allowed",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"http://127.0.0.1:8080/cb"} },
			"",
		},
		{
			"IPv6 loopback allowed",
			func(r *ClientRegistrationRequest) { r.RedirectURIs = []string{"http://[::1]:8080/cb"} },
			"",
		},
		{
			"unsupported auth method",
			func(r *ClientRegistrationRequest) { r.TokenEndpointAuthMethod = "private_key_jwt" },
			"unsupported token_endpoint_auth_method",
		},
		{
			"unsupported grant type",
			func(r *ClientRegistrationRequest) { r.GrantTypes = []string{"client_credentials"} },
			"unsupported grant_type",
		},
		{
			"unsupported response type",
			func(r *ClientRegistrationRequest) { r.ResponseTypes = []string{"token"} },
			"unsupported response_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)
			err := validateClientMetadata(req)

			if tt.wantErr == "" {
				testutil.AssertNoError(t, err)
				return
			}
			testutil.AssertError(t, err)
			testutil.AssertStringContains(t, err.Error(), tt.wantErr)
			assertOAuthCode(t, err, ErrorCodeInvalidClientMetadata)
		})
	}
}

func TestResolveClientTypeAndAuthMethod(t *testing.T) {
	tests := []struct {
		method     string
		wantType   string
		wantMethod string
	}{
		{AuthMethodNone, ClientTypePublic, AuthMethodNone},
		{"", ClientTypeConfidential, AuthMethodClientSecretPost},
		{AuthMethodClientSecretPost, ClientTypeConfidential, AuthMethodClientSecretPost},
	}

	for _, tt := range tests {
		clientType, method := resolveClientTypeAndAuthMethod(tt.method)
		testutil.AssertEqual(t, clientType, tt.wantType)
		testutil.AssertEqual(t, method, tt.wantMethod)
	}
}

func TestValidateClientCredentials(t *testing.T) {
	ctx := context.Background()
	server, store := newTestServer(t, nil)

	client := testutil.GenerateTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	testutil.AssertNoError(t, server.ValidateClientCredentials(ctx, client.ClientID, "secret"))
	testutil.AssertError(t, server.ValidateClientCredentials(ctx, client.ClientID, "wrong"))
	testutil.AssertError(t, server.ValidateClientCredentials(ctx, "unknown-client", "secret"))
}

func TestGetClient(t *testing.T) {
	ctx := context.Background()
	server, store := newTestServer(t, nil)

	client := testutil.GenerateTestClient()
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	got, err := server.GetClient(ctx, client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, client.ClientID)

	_, err = server.GetClient(ctx, "missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("expected storage.ErrClientNotFound, got %v", err)
	}
}
