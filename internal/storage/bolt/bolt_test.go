package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/mivoportal/internal/storage"
)

func TestPreferenceStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	prefs := store.Preferences()

	if _, err := prefs.Get(ctx, "client-a", storage.PreferenceLanguage); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get missing preference: err = %v, want ErrNotFound", err)
	}

	if err := prefs.Set(ctx, "client-a", storage.PreferenceLanguage, "id"); err != nil {
		t.Fatalf("set preference: %v", err)
	}
	if err := prefs.Set(ctx, "client-b", storage.PreferenceLanguage, "en"); err != nil {
		t.Fatalf("set preference: %v", err)
	}

	pref, err := prefs.Get(ctx, "client-a", storage.PreferenceLanguage)
	if err != nil {
		t.Fatalf("get preference: %v", err)
	}
	if pref.Value != "id" {
		t.Fatalf("expected value id, got %q", pref.Value)
	}

	if err := prefs.Delete(ctx, "client-a", storage.PreferenceLanguage); err != nil {
		t.Fatalf("delete preference: %v", err)
	}
	if err := prefs.Delete(ctx, "client-a", storage.PreferenceLanguage); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete: err = %v, want ErrNotFound", err)
	}

	other, err := prefs.Get(ctx, "client-b", storage.PreferenceLanguage)
	if err != nil || other.Value != "en" {
		t.Fatalf("other client preference = %+v, %v", other, err)
	}
}

func TestScanLogStoreQuery(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	logs := store.ScanLogs()
	base := time.Now().Add(-time.Hour)

	entries := []storage.ScanLog{
		{Timestamp: base, ClientID: "client-a", Target: "voucher", Intent: "login", Outcome: storage.OutcomeConfirmable},
		{Timestamp: base.Add(time.Minute), ClientID: "client-a", Target: "voucher", Intent: "login", Outcome: storage.OutcomeRejected, Cause: "host_mismatch"},
		{Timestamp: base.Add(2 * time.Minute), ClientID: "client-b", Target: "check", Intent: "check", Outcome: storage.OutcomeDispatched},
	}
	for _, entry := range entries {
		if err := logs.Add(ctx, entry); err != nil {
			t.Fatalf("add scan log: %v", err)
		}
	}

	all, err := logs.Query(ctx, storage.ScanLogFilter{})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(all))
	}
	if all[0].ClientID != "client-b" {
		t.Fatalf("expected newest first, got %s", all[0].ClientID)
	}

	clientA, err := logs.Query(ctx, storage.ScanLogFilter{ClientID: "client-a"})
	if err != nil {
		t.Fatalf("query client: %v", err)
	}
	if len(clientA) != 2 {
		t.Fatalf("expected 2 logs for client-a, got %d", len(clientA))
	}

	rejected, err := logs.Query(ctx, storage.ScanLogFilter{Outcome: storage.OutcomeRejected})
	if err != nil {
		t.Fatalf("query outcome: %v", err)
	}
	if len(rejected) != 1 || rejected[0].Cause != "host_mismatch" {
		t.Fatalf("unexpected rejected logs: %+v", rejected)
	}

	page, err := logs.Query(ctx, storage.ScanLogFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("query page: %v", err)
	}
	if len(page) != 1 || page[0].Outcome != storage.OutcomeRejected {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestScanLogStoreCleanup(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	logs := store.ScanLogs()

	if err := logs.Add(ctx, storage.ScanLog{
		Timestamp: time.Now().Add(-48 * time.Hour),
		ClientID:  "client-a",
		Outcome:   storage.OutcomeDispatched,
	}); err != nil {
		t.Fatalf("add old scan log: %v", err)
	}
	if err := logs.Add(ctx, storage.ScanLog{
		ClientID: "client-a",
		Outcome:  storage.OutcomeDispatched,
	}); err != nil {
		t.Fatalf("add recent scan log: %v", err)
	}

	deleted, err := logs.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("delete scan logs: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted scan log, got %d", deleted)
	}

	remaining, err := logs.Query(ctx, storage.ScanLogFilter{ClientID: "client-a"})
	if err != nil {
		t.Fatalf("query remaining: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("expected 1 remaining scan log, got %d", len(remaining))
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mivoportal.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
