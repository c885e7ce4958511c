package mcpauth

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/lucianfialho/mcp-auth/internal/testutil"
)

func TestTokenResponseJSON(t *testing.T) {
	t.Run("full response", func(t *testing.T) {
		data, err := json.Marshal(TokenResponse{
			AccessToken:  "at-123",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			RefreshToken: "rt-456",
			Scope:        "mcp:read",
		})
		testutil.AssertNoError(t, err)

		body := string(data)
		testutil.AssertStringContains(t, body, `"access_token":"at-123"`)
		testutil.AssertStringContains(t, body, `"token_type":"Bearer"`)
		testutil.AssertStringContains(t, body, `"expires_in":3600`)
		testutil.AssertStringContains(t, body, `"refresh_token":"rt-456"`)
	})

	t.Run("omits empty optional fields", func(t *testing.T) {
		data, err := json.Marshal(TokenResponse{AccessToken: "at", TokenType: "Bearer"})
		testutil.AssertNoError(t, err)

		body := string(data)
		testutil.AssertFalse(t, strings.Contains(body, "refresh_token"), "empty refresh_token must be omitted")
		testutil.AssertFalse(t, strings.Contains(body, "expires_in"), "zero expires_in must be omitted")
		testutil.AssertFalse(t, strings.Contains(body, "scope"), "empty scope must be omitted")
	})
}

func TestClientRegistrationResponseJSON(t *testing.T) {
	t.Run("public client omits secret", func(t *testing.T) {
		data, err := json.Marshal(ClientRegistrationResponse{
			ClientID:                "client-1",
			TokenEndpointAuthMethod: "none",
		})
		testutil.AssertNoError(t, err)
		testutil.AssertFalse(t, strings.Contains(string(data), "client_secret"),
			"public client response must not carry client_secret fields")
	})

	t.Run("confidential client carries secret", func(t *testing.T) {
		data, err := json.Marshal(ClientRegistrationResponse{
			ClientID:     "client-2",
			ClientSecret: "shh",
		})
		testutil.AssertNoError(t, err)
		testutil.AssertStringContains(t, string(data), `"client_secret":"shh"`)
	})
}

func TestErrorResponseJSON(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: "invalid_grant", ErrorDescription: "code expired"})
	testutil.AssertNoError(t, err)
	testutil.AssertStringContains(t, string(data), `"error":"invalid_grant"`)
	testutil.AssertStringContains(t, string(data), `"error_description":"code expired"`)

	data, err = json.Marshal(ErrorResponse{Error: "invalid_request"})
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, strings.Contains(string(data), "error_description"),
		"empty description must be omitted")
}

func TestClientRegistrationRequestJSON(t *testing.T) {
	input := `{
		"redirect_uris": ["https://example.com/callback"],
		"token_endpoint_auth_method": "none",
		"grant_types": ["authorization_code", "refresh_token"],
		"response_types": ["code"],
		"client_name": "Example MCP Client",
		"client_uri": "https://example.com",
		"scope": "mcp:read mcp:write"
	}`

	var req ClientRegistrationRequest
	testutil.AssertNoError(t, json.Unmarshal([]byte(input), &req))
	testutil.AssertEqual(t, len(req.RedirectURIs), 1)
	testutil.AssertEqual(t, req.TokenEndpointAuthMethod, "none")
	testutil.AssertEqual(t, req.ClientName, "Example MCP Client")
	testutil.AssertEqual(t, req.Scope, "mcp:read mcp:write")
}
