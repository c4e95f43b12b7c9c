package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"scribed/control"
	"scribed/store"
)

func testDispatcher(t *testing.T, backend Backend, lookup LookupFunc) (*Dispatcher, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if lookup == nil {
		lookup = func(string) (string, string, bool) { return "", "", false }
	}
	d := NewDispatcher(DispatcherConfig{Interval: time.Hour, MaxAttempts: 3},
		backend, s, lookup, control.New())
	d.policy.InitialBackoff = time.Millisecond
	d.policy.MaxBackoff = 2 * time.Millisecond
	return d, s
}

func TestSyncCreatesAndIsIdempotent(t *testing.T) {
	backend := NewFakeBackend()
	d, s := testDispatcher(t, backend, nil)
	ctx := context.Background()

	rec, err := d.Sync(ctx, "hourly_20250310T0900", "2025-03-10 09:00 hourly", "summary body")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rec.Status != store.SyncSynced {
		t.Fatalf("Status = %s, want synced", rec.Status)
	}
	if rec.RemoteID == "" || rec.Revision == "" {
		t.Errorf("remote identity not recorded: %+v", rec)
	}
	if got, _ := backend.Content(rec.RemoteID); got != "summary body" {
		t.Errorf("remote content = %q", got)
	}

	// Same content again: no remote call.
	before := backend.Upserts()
	if _, err := d.Sync(ctx, "hourly_20250310T0900", "n", "summary body"); err != nil {
		t.Fatal(err)
	}
	if backend.Upserts() != before {
		t.Error("re-sync of unchanged content hit the backend")
	}

	// Changed content: updates in place.
	rec2, err := d.Sync(ctx, "hourly_20250310T0900", "n", "revised body")
	if err != nil {
		t.Fatal(err)
	}
	if rec2.RemoteID != rec.RemoteID {
		t.Errorf("update created new doc %s, want %s", rec2.RemoteID, rec.RemoteID)
	}
	if got, _ := backend.Content(rec.RemoteID); got != "revised body" {
		t.Errorf("remote content = %q", got)
	}

	stored, err := s.SyncRecord("hourly_20250310T0900")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != store.SyncSynced || stored.Revision != rec2.Revision {
		t.Errorf("stored record = %+v", stored)
	}
}

func TestSyncRetriesTransientFailure(t *testing.T) {
	backend := NewFakeBackend().FailWith(errors.New("network down"), errors.New("network down"))
	d, _ := testDispatcher(t, backend, nil)

	rec, err := d.Sync(context.Background(), "a1", "doc", "body")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if rec.Status != store.SyncSynced {
		t.Errorf("Status = %s, want synced after retries", rec.Status)
	}
	if backend.Upserts() != 3 {
		t.Errorf("Upserts = %d, want 3", backend.Upserts())
	}
}

func TestSyncExhaustionMarksFailedAndStaysQueued(t *testing.T) {
	down := errors.New("network down")
	backend := NewFakeBackend().FailWith(down, down, down)
	d, s := testDispatcher(t, backend, nil)

	if _, err := d.Sync(context.Background(), "a1", "doc", "body"); err == nil {
		t.Fatal("Sync = nil error after exhaustion")
	}

	rec, err := s.SyncRecord("a1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != store.SyncFailed {
		t.Fatalf("Status = %s, want failed", rec.Status)
	}

	unsynced, _ := s.UnsyncedRecords()
	if len(unsynced) != 1 {
		t.Errorf("UnsyncedRecords = %d, want 1 still queued", len(unsynced))
	}
}

func TestSyncConflictKeepsBothVersions(t *testing.T) {
	backend := NewFakeBackend()
	d, s := testDispatcher(t, backend, nil)
	ctx := context.Background()

	rec, err := d.Sync(ctx, "a1", "doc", "local v1")
	if err != nil {
		t.Fatal(err)
	}

	// Another writer edits the remote document.
	backend.EditRemotely(rec.RemoteID, "remote edit")

	rec2, err := d.Sync(ctx, "a1", "doc", "local v2")
	if err != nil {
		t.Fatalf("Sync on conflict = %v, want recorded state not error", err)
	}
	if rec2.Status != store.SyncConflict {
		t.Fatalf("Status = %s, want conflict", rec2.Status)
	}

	// The remote edit survived.
	if got, _ := backend.Content(rec.RemoteID); got != "remote edit" {
		t.Errorf("remote content = %q, conflict overwrote it", got)
	}

	conflicts, err := s.Conflicts("a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1", len(conflicts))
	}
	if conflicts[0].LocalContent != "local v2" || conflicts[0].RemoteContent != "remote edit" {
		t.Errorf("conflict = %+v", conflicts[0])
	}

	// Conflicted artifacts are not retried automatically.
	before := backend.Upserts()
	if _, err := d.Sync(ctx, "a1", "doc", "local v3"); err != nil {
		t.Fatal(err)
	}
	if backend.Upserts() != before {
		t.Error("conflicted artifact was re-synced without resolution")
	}
}

func TestResyncSweepsQueuedRecords(t *testing.T) {
	down := errors.New("network down")
	backend := NewFakeBackend().FailWith(down, down, down)
	content := map[string][2]string{
		"a1": {"doc one", "body one"},
	}
	lookup := func(id string) (string, string, bool) {
		c, ok := content[id]
		return c[0], c[1], ok
	}
	d, s := testDispatcher(t, backend, lookup)
	ctx := context.Background()

	// First attempt exhausts retries and stays queued.
	d.Sync(ctx, "a1", "doc one", "body one")
	rec, _ := s.SyncRecord("a1")
	if rec.Status != store.SyncFailed {
		t.Fatalf("Status = %s, want failed", rec.Status)
	}

	// The sweep picks it up once the backend recovers.
	if err := d.Resync(ctx); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.SyncRecord("a1")
	if rec.Status != store.SyncSynced {
		t.Fatalf("after Resync Status = %s, want synced", rec.Status)
	}
}
