package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/mivoportal/internal/storage"
	"go.etcd.io/bbolt"
)

type scanLogStore struct {
	db *bbolt.DB
}

func (s *scanLogStore) Add(ctx context.Context, log storage.ScanLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	if log.ID == "" {
		key, err := logKey("scan", log.Timestamp)
		if err != nil {
			return err
		}
		log.ID = key
	}
	data, err := marshal(log)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketScanLogs))
		if bucket == nil {
			return fmt.Errorf("scan log bucket missing")
		}
		if err := bucket.Put([]byte(log.ID), data); err != nil {
			return err
		}
		return s.addIndexes(tx, log)
	})
}

// Query walks newest first, through the client index when the filter names
// a client and through the whole log bucket otherwise.
func (s *scanLogStore) Query(ctx context.Context, filter storage.ScanLogFilter) ([]storage.ScanLog, error) {
	logs := make([]storage.ScanLog, 0)
	want := 0
	if filter.Limit > 0 {
		want = filter.Offset + filter.Limit
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketScanLogs))
		if bucket == nil {
			return nil
		}

		var c *bbolt.Cursor
		if filter.ClientID != "" {
			index := lookupIndexBucket(tx, bucketIndexesScan, bucketIndexClient, normalizeIndexKey(filter.ClientID))
			if index == nil {
				return nil
			}
			c = index.Cursor()
		} else {
			c = bucket.Cursor()
		}

		for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			value := bucket.Get(k)
			if value == nil {
				continue
			}
			var log storage.ScanLog
			if err := unmarshal(value, &log); err != nil {
				return err
			}
			if !filter.Matches(log) {
				continue
			}
			logs = append(logs, log)
			if want > 0 && len(logs) >= want {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return filter.Page(logs), nil
}

func (s *scanLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	return deleted, s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		bucket := tx.Bucket([]byte(bucketScanLogs))
		if bucket == nil {
			return nil
		}

		var expired []storage.ScanLog
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var log storage.ScanLog
			if err := unmarshal(v, &log); err != nil {
				return err
			}
			if log.Timestamp.Before(cutoff) {
				expired = append(expired, log)
			}
		}

		for _, log := range expired {
			if err := bucket.Delete([]byte(log.ID)); err != nil {
				return err
			}
			if err := s.removeIndexes(tx, log); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
}

func (s *scanLogStore) addIndexes(tx *bbolt.Tx, log storage.ScanLog) error {
	clientBucket, err := ensureIndexBucket(tx, bucketIndexesScan, bucketIndexClient, normalizeIndexKey(log.ClientID))
	if err != nil {
		return err
	}
	if err := clientBucket.Put([]byte(log.ID), []byte{}); err != nil {
		return err
	}

	outcomeBucket, err := ensureIndexBucket(tx, bucketIndexesScan, bucketIndexOutcome, normalizeIndexKey(string(log.Outcome)))
	if err != nil {
		return err
	}
	return outcomeBucket.Put([]byte(log.ID), []byte{})
}

func (s *scanLogStore) removeIndexes(tx *bbolt.Tx, log storage.ScanLog) error {
	if b := lookupIndexBucket(tx, bucketIndexesScan, bucketIndexClient, normalizeIndexKey(log.ClientID)); b != nil {
		if err := b.Delete([]byte(log.ID)); err != nil {
			return err
		}
	}
	if b := lookupIndexBucket(tx, bucketIndexesScan, bucketIndexOutcome, normalizeIndexKey(string(log.Outcome))); b != nil {
		if err := b.Delete([]byte(log.ID)); err != nil {
			return err
		}
	}
	return nil
}
