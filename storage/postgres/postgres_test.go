package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucianfialho/mcp-auth/internal/testutil"
	"github.com/lucianfialho/mcp-auth/storage"
)

// newTestStore connects to the database named by POSTGRES_TEST_DSN and
// applies the schema. Tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping PostgreSQL integration tests")
	}

	ctx := context.Background()
	store, err := New(ctx, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(store.Close)

	if err := store.Setup(ctx); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	return store
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), Config{})
	testutil.AssertError(t, err)
	testutil.AssertStringContains(t, err.Error(), "DSN is required")
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	client := testutil.GenerateTestClient()
	client.ClientID = "pg-test-" + testutil.GenerateRandomString(16)
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	got, err := store.GetClient(ctx, client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientID, client.ClientID)
	testutil.AssertEqual(t, got.ClientName, client.ClientName)
	testutil.AssertEqual(t, len(got.RedirectURIs), len(client.RedirectURIs))
	testutil.AssertEqual(t, len(got.Scopes), len(client.Scopes))

	// Clients are create-only: a second save with the same client_id
	// fails and the stored record is untouched
	client.ClientName = "Renamed"
	testutil.AssertError(t, store.SaveClient(ctx, client))
	got, err = store.GetClient(ctx, client.ClientID)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.ClientName, "Test Client")

	_, err = store.GetClient(ctx, "pg-missing")
	if !errors.Is(err, storage.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestValidateClientSecretBackend(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	client := testutil.GenerateTestClient()
	client.ClientID = "pg-secret-" + testutil.GenerateRandomString(16)
	testutil.AssertNoError(t, store.SaveClient(ctx, client))

	testutil.AssertNoError(t, store.ValidateClientSecret(ctx, client.ClientID, "secret"))

	if err := store.ValidateClientSecret(ctx, client.ClientID, "wrong"); !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Fatalf("expected ErrInvalidClientSecret, got %v", err)
	}
	if err := store.ValidateClientSecret(ctx, "pg-missing", "secret"); !errors.Is(err, storage.ErrInvalidClientSecret) {
		t.Fatalf("expected ErrInvalidClientSecret for unknown client, got %v", err)
	}
}

func TestIPLimitBackend(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	ip := "198.51.100." + testutil.GenerateRandomString(4)

	testutil.AssertNoError(t, store.CheckIPLimit(ctx, ip, 1))
	testutil.AssertNoError(t, store.TrackClientIP(ctx, ip))

	if err := store.CheckIPLimit(ctx, ip, 1); !errors.Is(err, storage.ErrClientLimitExceeded) {
		t.Fatalf("expected ErrClientLimitExceeded, got %v", err)
	}
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	code := testutil.GenerateTestAuthorizationCode("pg-client", "challenge")
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	got, err := store.GetAuthorizationCode(ctx, code.Code)
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, got.Consumed, "code must start unconsumed")

	consumed, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, consumed.Subject, code.Subject)

	replayed, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	if !errors.Is(err, storage.ErrAuthorizationCodeConsumed) {
		t.Fatalf("expected ErrAuthorizationCodeConsumed, got %v", err)
	}
	if replayed == nil || replayed.ClientID != "pg-client" {
		t.Fatalf("replay must return the stored record, got %+v", replayed)
	}

	testutil.AssertNoError(t, store.DeleteAuthorizationCode(ctx, code.Code))
}

func TestConsumeAuthorizationCodeAtomicity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	code := testutil.GenerateTestAuthorizationCode("pg-client", "challenge")
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, code))

	const workers = 10
	var successes atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.ConsumeAuthorizationCode(ctx, code.Code); err == nil {
				successes.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("%d consumers succeeded, want exactly 1", successes.Load())
	}
}

func TestTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	token := testutil.GenerateTestToken("pg-client")
	testutil.AssertNoError(t, store.SaveToken(ctx, token))

	got, err := store.GetToken(ctx, token.Value)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, got.Kind, storage.TokenKindAccess)

	testutil.AssertNoError(t, store.RevokeToken(ctx, token.Value))
	got, err = store.GetToken(ctx, token.Value)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, got.Revoked, "token must be marked revoked")
	testutil.AssertFalse(t, got.RevokedAt.IsZero(), "revocation time must be recorded")

	testutil.AssertNoError(t, store.DeleteToken(ctx, token.Value))
	if _, err := store.GetToken(ctx, token.Value); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound after delete, got %v", err)
	}
}

func TestTokenWithoutExpiryPersists(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	token := testutil.GenerateTestRefreshToken("pg-client")
	testutil.AssertNoError(t, store.SaveToken(ctx, token))
	t.Cleanup(func() { _ = store.DeleteToken(ctx, token.Value) })

	got, err := store.GetToken(ctx, token.Value)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, got.ExpiresAt.IsZero(), "NULL expires_at must round-trip as zero time")
}

func TestRotateRefreshTokenBackend(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("rotation removes the token", func(t *testing.T) {
		token := testutil.GenerateTestRefreshToken("pg-client")
		testutil.AssertNoError(t, store.SaveToken(ctx, token))

		got, err := store.RotateRefreshToken(ctx, token.Value)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, got.ClientID, "pg-client")

		if _, err := store.RotateRefreshToken(ctx, token.Value); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Fatalf("expected ErrTokenNotFound on replay, got %v", err)
		}
	})

	t.Run("revoked token", func(t *testing.T) {
		token := testutil.GenerateTestRefreshToken("pg-client")
		testutil.AssertNoError(t, store.SaveToken(ctx, token))
		testutil.AssertNoError(t, store.RevokeToken(ctx, token.Value))
		t.Cleanup(func() { _ = store.DeleteToken(ctx, token.Value) })

		if _, err := store.RotateRefreshToken(ctx, token.Value); !errors.Is(err, storage.ErrTokenRevoked) {
			t.Fatalf("expected ErrTokenRevoked, got %v", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token := testutil.GenerateTestRefreshToken("pg-client")
		token.ExpiresAt = time.Now().Add(-time.Minute)
		testutil.AssertNoError(t, store.SaveToken(ctx, token))
		t.Cleanup(func() { _ = store.DeleteToken(ctx, token.Value) })

		if _, err := store.RotateRefreshToken(ctx, token.Value); !errors.Is(err, storage.ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
	})

	t.Run("access token is not rotatable", func(t *testing.T) {
		token := testutil.GenerateTestToken("pg-client")
		testutil.AssertNoError(t, store.SaveToken(ctx, token))
		t.Cleanup(func() { _ = store.DeleteToken(ctx, token.Value) })

		if _, err := store.RotateRefreshToken(ctx, token.Value); !errors.Is(err, storage.ErrTokenNotFound) {
			t.Fatalf("expected ErrTokenNotFound, got %v", err)
		}

		// The failed rotation must not delete the access token
		got, err := store.GetToken(ctx, token.Value)
		testutil.AssertNoError(t, err)
		testutil.AssertEqual(t, got.Kind, storage.TokenKindAccess)
	})
}

func TestRotateRefreshTokenAtomicity(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	token := testutil.GenerateTestRefreshToken("pg-client")
	testutil.AssertNoError(t, store.SaveToken(ctx, token))

	const workers = 10
	var successes atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.RotateRefreshToken(ctx, token.Value); err == nil {
				successes.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("%d rotations succeeded, want exactly 1", successes.Load())
	}
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	expiredCode := testutil.GenerateTestAuthorizationCode("pg-client", "challenge")
	expiredCode.ExpiresAt = time.Now().Add(-time.Hour)
	testutil.AssertNoError(t, store.SaveAuthorizationCode(ctx, expiredCode))

	expiredToken := testutil.GenerateTestToken("pg-client")
	expiredToken.ExpiresAt = time.Now().Add(-time.Hour)
	testutil.AssertNoError(t, store.SaveToken(ctx, expiredToken))

	removed, err := store.CleanupExpired(ctx)
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, removed >= 2, "cleanup must remove the expired rows")
}
