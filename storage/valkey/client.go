package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/lucianfialho/mcp-auth/storage"
)

// Valid bcrypt hash with no known plaintext. ValidateClientSecret
// compares against it when no real hash is available so the call takes
// the same time either way.
const fallbackSecretHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// SaveClient stores a registered client under its client_id key.
// Clients have no TTL; they live until explicitly removed.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("marshal client: %w", err)
	}

	cmd := s.client.B().Set().Key(s.clientKey(client.ClientID)).Value(string(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient looks up a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return getAndUnmarshal(ctx, s, s.clientKey(clientID), storage.ErrClientNotFound, fromClientJSON)
}

// ValidateClientSecret checks a client's secret. It returns the same
// storage.ErrInvalidClientSecret for an unknown client and for a wrong
// secret, and runs exactly one bcrypt comparison on every call, so
// neither the response nor its timing says whether the client exists.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, lookupErr := s.GetClient(ctx, clientID)

	hash := fallbackSecretHash
	public := false
	if lookupErr == nil {
		public = client.ClientType == "public"
		if !public && client.ClientSecretHash != "" {
			hash = client.ClientSecretHash
		}
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hash), []byte(clientSecret))

	switch {
	case lookupErr != nil:
		return storage.ErrInvalidClientSecret
	case public:
		// Public clients carry no secret; client_id alone suffices.
		return nil
	case compareErr != nil:
		return storage.ErrInvalidClientSecret
	default:
		return nil
	}
}

// ListClients returns every registered client. It walks the keyspace
// with SCAN, which may repeat keys between iterations, so results are
// collected into a map before being returned.
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	seen := make(map[string]*storage.Client)

	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(s.clientKey("*")).Count(scanBatchSize).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scan clients: %w", err)
		}

		for _, key := range entry.Elements {
			if _, ok := seen[key]; ok {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				// The key can expire or be deleted between SCAN and GET.
				if isNilError(err) {
					continue
				}
				return nil, fmt.Errorf("get client %s: %w", key, err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Skipping client with unreadable record",
					"key", key,
					"error", err)
				continue
			}
			seen[key] = fromClientJSON(&j)
		}

		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	clients := make([]*storage.Client, 0, len(seen))
	for _, c := range seen {
		clients = append(clients, c)
	}
	return clients, nil
}

// CheckIPLimit reports whether an IP may register another client.
// maxClientsPerIP of zero or less disables the check.
func (s *Store) CheckIPLimit(ctx context.Context, ip string, maxClientsPerIP int) error {
	if maxClientsPerIP <= 0 {
		return nil
	}

	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.clientIPKey(ip)).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil
		}
		return fmt.Errorf("check IP limit: %w", err)
	}

	count, err := strconv.Atoi(raw)
	if err != nil {
		// Unparseable counter, treat as no registrations.
		return nil
	}

	if count >= maxClientsPerIP {
		s.logger.Warn("Client registration limit reached",
			"ip", ip,
			"current_count", count,
			"max_allowed", maxClientsPerIP)
		return storage.ErrClientLimitExceeded
	}
	return nil
}

// TrackClientIP bumps the registration counter for an IP. The counter
// key carries a TTL so counts reset after clientIPTrackingTTL.
func (s *Store) TrackClientIP(ctx context.Context, ip string) error {
	key := s.clientIPKey(ip)

	if _, err := s.client.Do(ctx, s.client.B().Incr().Key(key).Build()).AsInt64(); err != nil {
		return fmt.Errorf("track client IP: %w", err)
	}

	expire := s.client.B().Expire().Key(key).Seconds(int64(clientIPTrackingTTL.Seconds())).Build()
	if err := s.client.Do(ctx, expire).Error(); err != nil {
		s.logger.Warn("Could not set TTL on IP tracking key",
			"ip", ip,
			"error", err)
	}
	return nil
}
