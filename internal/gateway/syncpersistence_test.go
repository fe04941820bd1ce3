package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/foresthq/guardian/internal/classifier"
	"github.com/foresthq/guardian/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "guardian.db")
	st := store.New(store.Config{Path: dbPath})
	if err := st.Open(); err != nil {
		t.Fatalf("store Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// TestSyncPersistenceSurvivesRestart covers spec.md §4.H/§6: an item
// queued while every classifier tier was unreachable must still be
// present after the Dispatcher is rebuilt from the same store, as
// happens across a hub restart.
func TestSyncPersistenceSurvivesRestart(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	spec, err := st.InsertSpectrogram(context.Background(), &store.Spectrogram{
		NodeID: "GUARDIAN_005", Grid: []byte{1, 2, 3, 4},
	})
	if err != nil {
		t.Fatalf("InsertSpectrogram failed: %v", err)
	}
	identifier := strconv.FormatUint(uint64(spec.ID), 10)

	dir := filepath.Join(t.TempDir(), "sync_queue")
	persistence := NewSyncPersistence(st, dir)

	failing := &fakeClassifier{err: errors.New("hub offline")}
	d := classifier.NewDispatcher(classifier.DispatcherConfig{
		Local: failing, Mode: classifier.ModeLocal, Persistence: persistence,
	})
	if _, err := d.Classify(context.Background(), identifier, spec.Grid); err == nil {
		t.Fatal("expected classification to fail while offline")
	}
	if d.PendingSync() != 1 {
		t.Fatalf("expected 1 pending sync item, got %d", d.PendingSync())
	}

	// Simulate a restart: a fresh Dispatcher against the same store and
	// directory should reload the queued item rather than losing it.
	restarted := classifier.NewDispatcher(classifier.DispatcherConfig{
		Local: failing, Mode: classifier.ModeLocal, Persistence: persistence,
	})
	if restarted.PendingSync() != 1 {
		t.Fatalf("expected persisted queue to survive restart, got %d pending", restarted.PendingSync())
	}

	recovered := &fakeClassifier{result: classifier.Result{Label: classifier.LabelNatural, Confidence: 50, Tier: classifier.TierLocal}}
	restarted2 := classifier.NewDispatcher(classifier.DispatcherConfig{
		Local: recovered, Mode: classifier.ModeLocal, Persistence: persistence,
	})
	completed := restarted2.Sync(context.Background())
	if completed.Synced != 1 || completed.Failed != 0 {
		t.Fatalf("expected the restored item to sync cleanly, got %+v", completed)
	}
	if restarted2.PendingSync() != 0 {
		t.Fatalf("expected queue empty after sync, got %d pending", restarted2.PendingSync())
	}

	entries, err := st.ListSyncQueueEntries(context.Background())
	if err != nil {
		t.Fatalf("ListSyncQueueEntries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected sync_queue table drained, got %d rows", len(entries))
	}
}
