package bolt

import (
	"context"
	"time"

	"github.com/goodtune/mivoportal/internal/storage"
	"go.etcd.io/bbolt"
)

type preferenceStore struct {
	db *bbolt.DB
}

func preferenceKey(clientID, key string) string {
	return clientID + "/" + key
}

func (s *preferenceStore) Get(ctx context.Context, clientID, key string) (*storage.Preference, error) {
	return getBucketValue[storage.Preference](ctx, s.db, bucketPreferences, preferenceKey(clientID, key))
}

func (s *preferenceStore) Set(ctx context.Context, clientID, key, value string) error {
	pref := storage.Preference{
		ClientID:  clientID,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return putBucketValue(ctx, s.db, bucketPreferences, preferenceKey(clientID, key), pref)
}

func (s *preferenceStore) Delete(ctx context.Context, clientID, key string) error {
	return deleteBucketValue(ctx, s.db, bucketPreferences, preferenceKey(clientID, key))
}
