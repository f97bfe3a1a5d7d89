package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Preferences() PreferenceStore
	ScanLogs() ScanLogStore
}

// PreferenceStore persists per-client preferences such as the active language.
type PreferenceStore interface {
	Get(ctx context.Context, clientID, key string) (*Preference, error)
	Set(ctx context.Context, clientID, key, value string) error
	Delete(ctx context.Context, clientID, key string) error
}

// ScanLogStore keeps the audit trail of QR scans.
type ScanLogStore interface {
	Add(ctx context.Context, log ScanLog) error
	Query(ctx context.Context, filter ScanLogFilter) ([]ScanLog, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// ScanLogFilter defines criteria for querying scan logs. Results are
// returned newest first.
type ScanLogFilter struct {
	ClientID  string
	Outcome   Outcome
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Matches reports whether log satisfies every criterion set on the filter.
func (f ScanLogFilter) Matches(log ScanLog) bool {
	if f.ClientID != "" && f.ClientID != log.ClientID {
		return false
	}
	if f.Outcome != "" && f.Outcome != log.Outcome {
		return false
	}
	if f.StartTime != nil && log.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && log.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

// Page applies the filter's offset and limit to an already filtered slice.
func (f ScanLogFilter) Page(logs []ScanLog) []ScanLog {
	if f.Offset > 0 {
		if f.Offset >= len(logs) {
			return []ScanLog{}
		}
		logs = logs[f.Offset:]
	}
	if f.Limit > 0 && len(logs) > f.Limit {
		logs = logs[:f.Limit]
	}
	return logs
}
