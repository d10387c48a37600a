package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "telemetry", "events.db")
	store, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestStoreRecordAndList(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, status := range []string{"starting", "idle", "busy"} {
		if err := store.Record(ctx, Event{At: base.Add(time.Duration(i) * time.Second), SessionID: "s1", Language: "python", Status: status}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Record(ctx, Event{SessionID: "s2", Language: "mock", Status: "idle"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 2 || events[0].SessionID != "s2" || events[1].Status != "busy" {
		t.Fatalf("unexpected events %+v", events)
	}
	if !events[1].At.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("unexpected time %v", events[1].At)
	}

	session, err := store.ListSession(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("ListSession: %v", err)
	}
	if len(session) != 3 || session[2].Status != "starting" {
		t.Fatalf("unexpected session events %+v", session)
	}
}

func TestStoreReopenKeepsEventsAndSkipsMigrations(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()
	if err := store.Record(ctx, Event{SessionID: "s", Language: "python", Status: "idle"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	events, err := reopened.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event after reopen, got %d", len(events))
	}
	var applied int
	if err := reopened.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != len(migrations) {
		t.Fatalf("expected %d migrations, got %d", len(migrations), applied)
	}
}
