package redis

import (
	"context"
	"time"

	"github.com/goodtune/mivoportal/internal/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type scanLogStore struct {
	client *redis.Client
	keys   keyspace
}

// Add stores a scan log and indexes it by time and client
func (s *scanLogStore) Add(ctx context.Context, log storage.ScanLog) error {
	if log.Timestamp.IsZero() {
		log.Timestamp = time.Now().UTC()
	}
	if log.ID == "" {
		log.ID = uuid.NewString()
	}

	script := redis.NewScript(addScanLogScript)
	keys := []string{
		s.keys.scanLog(log.ID),
		s.keys.scanIndex(),
		s.keys.scanClientIndex(log.ClientID),
	}
	args := []interface{}{
		log.ID,
		scanScore(log.Timestamp),
		log.Timestamp.Format(time.RFC3339Nano),
		log.ClientID,
		log.Target,
		log.Intent,
		string(log.Outcome),
		log.Cause,
		log.Host,
		log.Identity,
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// Query returns matching scan logs newest first
func (s *scanLogStore) Query(ctx context.Context, filter storage.ScanLogFilter) ([]storage.ScanLog, error) {
	indexKey := s.keys.scanIndex()
	if filter.ClientID != "" {
		indexKey = s.keys.scanClientIndex(filter.ClientID)
	}

	rangeBy := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if filter.StartTime != nil {
		rangeBy.Min = formatScore(scanScore(*filter.StartTime))
	}
	if filter.EndTime != nil {
		rangeBy.Max = formatScore(scanScore(*filter.EndTime))
	}

	ids, err := s.client.ZRevRangeByScore(ctx, indexKey, rangeBy).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []storage.ScanLog{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.scanLog(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	logs := make([]storage.ScanLog, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		log, err := parseScanLog(data)
		if err != nil || !filter.Matches(*log) {
			continue
		}
		logs = append(logs, *log)
	}

	return filter.Page(logs), nil
}

// DeleteBefore removes scan logs older than cutoff
func (s *scanLogStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	script := redis.NewScript(deleteScanLogsBeforeScript)
	n, err := script.Run(ctx, s.client,
		[]string{s.keys.scanIndex()},
		s.keys.prefix, scanScore(cutoff),
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}
