package redis

import (
	"context"
	"time"

	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/redis/go-redis/v9"
)

type preferenceStore struct {
	client *redis.Client
	keys   keyspace
}

// Get retrieves a preference for a client
func (s *preferenceStore) Get(ctx context.Context, clientID, key string) (*storage.Preference, error) {
	data, err := s.client.HGetAll(ctx, s.keys.preference(clientID, key)).Result()
	if err != nil {
		return nil, err
	}
	return parsePreference(data)
}

// Set creates or replaces a preference
func (s *preferenceStore) Set(ctx context.Context, clientID, key, value string) error {
	return s.client.HSet(ctx, s.keys.preference(clientID, key),
		"client_id", clientID,
		"key", key,
		"value", value,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
}

// Delete removes a preference
func (s *preferenceStore) Delete(ctx context.Context, clientID, key string) error {
	n, err := s.client.Del(ctx, s.keys.preference(clientID, key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
