package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/mivoportal/internal/storage"
)

// keyspace builds every key the store touches under one prefix.
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = "mivo"
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) preference(clientID, key string) string {
	return fmt.Sprintf("%s:pref:%s:%s", k.prefix, clientID, key)
}

func (k keyspace) scanLog(id string) string {
	return fmt.Sprintf("%s:scan:%s", k.prefix, id)
}

func (k keyspace) scanIndex() string {
	return k.prefix + ":scans"
}

func (k keyspace) scanClientIndex(clientID string) string {
	return fmt.Sprintf("%s:scans:client:%s", k.prefix, clientID)
}

// scanScore orders scan logs by millisecond so the score stays exact in a
// float64.
func scanScore(ts time.Time) int64 {
	return ts.UnixMilli()
}

// parsePreference converts a Redis hash to Preference
func parsePreference(data map[string]string) (*storage.Preference, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.Preference{
		ClientID:  data["client_id"],
		Key:       data["key"],
		Value:     data["value"],
		UpdatedAt: updatedAt,
	}, nil
}

// parseScanLog converts a Redis hash to ScanLog
func parseScanLog(data map[string]string) (*storage.ScanLog, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	ts, err := time.Parse(time.RFC3339Nano, data["timestamp"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return &storage.ScanLog{
		ID:        data["id"],
		Timestamp: ts,
		ClientID:  data["client_id"],
		Target:    data["target"],
		Intent:    data["intent"],
		Outcome:   storage.Outcome(data["outcome"]),
		Cause:     data["cause"],
		Host:      data["host"],
		Identity:  data["identity"],
	}, nil
}

func formatScore(score int64) string {
	return strconv.FormatInt(score, 10)
}
