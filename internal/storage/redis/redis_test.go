package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/mivoportal/internal/config"
	"github.com/goodtune/mivoportal/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() is already "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "test",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestPreferenceStore(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	prefs := store.Preferences()

	if _, err := prefs.Get(ctx, "client-1", storage.PreferenceLanguage); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get on empty store: err = %v, want ErrNotFound", err)
	}

	if err := prefs.Set(ctx, "client-1", storage.PreferenceLanguage, "id"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if !mr.Exists("test:pref:client-1:mivo_lang") {
		t.Error("Expected preference hash under the configured prefix")
	}

	pref, err := prefs.Get(ctx, "client-1", storage.PreferenceLanguage)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pref.Value != "id" {
		t.Errorf("Expected value id, got %s", pref.Value)
	}
	if pref.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be set")
	}

	if err := prefs.Delete(ctx, "client-1", storage.PreferenceLanguage); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := prefs.Delete(ctx, "client-1", storage.PreferenceLanguage); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Second delete: err = %v, want ErrNotFound", err)
	}
}

func TestScanLogStore_AddAndQuery(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	logs := store.ScanLogs()
	base := time.Now().Add(-time.Hour).UTC()

	entries := []storage.ScanLog{
		{Timestamp: base, ClientID: "client-1", Target: "member", Intent: "login", Outcome: storage.OutcomeConfirmable, Identity: "alice"},
		{Timestamp: base.Add(time.Minute), ClientID: "client-2", Target: "check", Intent: "check", Outcome: storage.OutcomeDispatched, Identity: "VC123"},
		{Timestamp: base.Add(2 * time.Minute), ClientID: "client-1", Target: "voucher", Intent: "login", Outcome: storage.OutcomeRejected, Cause: "host_mismatch"},
	}
	for _, entry := range entries {
		if err := logs.Add(ctx, entry); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	tests := []struct {
		name      string
		filter    storage.ScanLogFilter
		wantCount int
		wantFirst string
	}{
		{"all newest first", storage.ScanLogFilter{}, 3, "client-1"},
		{"by client", storage.ScanLogFilter{ClientID: "client-2"}, 1, "client-2"},
		{"by outcome", storage.ScanLogFilter{Outcome: storage.OutcomeConfirmable}, 1, "client-1"},
		{"limit", storage.ScanLogFilter{Limit: 2}, 2, "client-1"},
		{"offset past end", storage.ScanLogFilter{Offset: 5}, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := logs.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("Expected %d logs, got %d", tt.wantCount, len(got))
			}
			if tt.wantCount > 0 && got[0].ClientID != tt.wantFirst {
				t.Errorf("Expected first client %s, got %s", tt.wantFirst, got[0].ClientID)
			}
		})
	}

	start := base.Add(30 * time.Second)
	windowed, err := logs.Query(ctx, storage.ScanLogFilter{StartTime: &start})
	if err != nil {
		t.Fatalf("Query with StartTime failed: %v", err)
	}
	if len(windowed) != 2 {
		t.Errorf("Expected 2 logs after start time, got %d", len(windowed))
	}
}

func TestScanLogStore_DeleteBefore(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	logs := store.ScanLogs()

	old := storage.ScanLog{ID: "old", Timestamp: time.Now().Add(-72 * time.Hour), ClientID: "client-1", Outcome: storage.OutcomeDispatched}
	recent := storage.ScanLog{ID: "recent", ClientID: "client-1", Outcome: storage.OutcomeDispatched}

	if err := logs.Add(ctx, old); err != nil {
		t.Fatalf("Add old failed: %v", err)
	}
	if err := logs.Add(ctx, recent); err != nil {
		t.Fatalf("Add recent failed: %v", err)
	}

	deleted, err := logs.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted, got %d", deleted)
	}

	if mr.Exists("test:scan:old") {
		t.Error("Expected old scan log hash to be removed")
	}
	if !mr.Exists("test:scan:recent") {
		t.Error("Expected recent scan log hash to remain")
	}

	members, err := mr.ZMembers("test:scans:client:client-1")
	if err != nil {
		t.Fatalf("ZMembers failed: %v", err)
	}
	if len(members) != 1 || members[0] != "recent" {
		t.Errorf("Expected client index [recent], got %v", members)
	}
}
