package homegraph

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")
	s, err := NewSQLiteStore(DefaultSQLiteStoreConfig(path))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(SQLiteStoreConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteStoreEntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	e := testEntity("e1", "v1")
	e.Owner = "alice"
	e.ParentVersions = []string{"v0"}
	if err := s.CreateEntity(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected entity")
	}
	if got.Version != "v1" || got.Owner != "alice" || got.Type != EntityDevice {
		t.Errorf("fields lost: %+v", got)
	}
	if !EqualContent(got.Content, e.Content) {
		t.Errorf("content lost: %+v", got.Content)
	}
	if len(got.ParentVersions) != 1 || got.ParentVersions[0] != "v0" {
		t.Errorf("parent versions lost: %v", got.ParentVersions)
	}
	if !got.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("timestamps lost: %v vs %v", got.CreatedAt, e.CreatedAt)
	}
}

func TestSQLiteStoreLatestVersionWins(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	if err := s.CreateEntity(ctx, testEntity("e1", "v1")); err != nil {
		t.Fatal(err)
	}
	v2 := testEntity("e1", "v2")
	v2.Name = "Newer"
	if err := s.UpdateEntity(ctx, v2); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "v2" || got.Name != "Newer" {
		t.Errorf("expected latest version, got %+v", got)
	}

	all, err := s.ListEntities(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Version != "v2" {
		t.Errorf("list should collapse to latest version, got %+v", all)
	}
}

func TestSQLiteStoreDeleteHidesUntilClear(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	if err := s.CreateEntity(ctx, testEntity("e1", "v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteEntity(ctx, "e1"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("deleted entity must be hidden from reads")
	}

	drained, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(drained) != 1 || drained[0].Type != ChangeDelete {
		t.Fatalf("expected one pending delete, got %+v", drained)
	}

	if err := s.ClearPendingChanges(ctx, drained); err != nil {
		t.Fatal(err)
	}
	pending, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("nothing should remain pending, got %+v", pending)
	}
}

func TestSQLiteStorePendingCreateStaysCreate(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	e := testEntity("e1", "v1")
	if err := s.CreateEntity(ctx, e); err != nil {
		t.Fatal(err)
	}
	e.Name = "edited"
	if err := s.UpdateEntity(ctx, e); err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Type != ChangeCreate {
		t.Fatalf("unsynced row stays a create, got %+v", pending)
	}
	if pending[0].Entity.Name != "edited" {
		t.Errorf("pending row should carry latest payload, got %q", pending[0].Entity.Name)
	}
}

func TestSQLiteStoreConcurrentChangesSurviveClear(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	if err := s.CreateEntity(ctx, testEntity("e1", "v1")); err != nil {
		t.Fatal(err)
	}
	drained, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.CreateEntity(ctx, testEntity("e2", "v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearPendingChanges(ctx, drained); err != nil {
		t.Fatal(err)
	}

	remaining, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || remaining[0].Entity.ID != "e2" {
		t.Fatalf("concurrent change must survive, got %+v", remaining)
	}
}

func TestSQLiteStoreRecreateDuringDeleteCycleSurvivesClear(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	// v1 is synced, then deleted; the delete is drained for transmission.
	if err := s.CreateEntity(ctx, testEntity("e1", "v1")); err != nil {
		t.Fatal(err)
	}
	synced, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ClearPendingChanges(ctx, synced); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteEntity(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	drained, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(drained) != 1 || drained[0].Type != ChangeDelete {
		t.Fatalf("expected one pending delete, got %+v", drained)
	}

	// The id is recreated while the delete is in flight.
	if err := s.CreateEntity(ctx, testEntity("e1", "v2")); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearPendingChanges(ctx, drained); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Version != "v2" {
		t.Fatalf("recreated entity must survive the clear, got %+v", got)
	}
	pending, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Type != ChangeCreate || pending[0].Entity.Version != "v2" {
		t.Fatalf("recreate should be pending as a create, got %+v", pending)
	}
}

func TestSQLiteStoreRelationships(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	r := testRelationship("r1", "device-1", "room-1")
	r.Properties = map[string]Value{"since": String("2026")}
	if err := s.CreateRelationship(ctx, r); err != nil {
		t.Fatal(err)
	}

	rels, err := s.GetRelationshipsForEntity(ctx, "device-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 {
		t.Fatalf("expected one relationship, got %d", len(rels))
	}
	if rels[0].Properties["since"].StringVal() != "2026" {
		t.Errorf("properties lost: %+v", rels[0].Properties)
	}

	// Never-synced create drops outright.
	if err := s.DeleteRelationship(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	pending, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("nothing should be pending after dropping unsynced create, got %+v", pending)
	}
}

func TestSQLiteStoreSyncMetadataPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")

	s, err := NewSQLiteStore(DefaultSQLiteStoreConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	meta, err := s.SyncMetadata(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta.DeviceID == "" {
		t.Fatal("device id should be minted")
	}
	clock := NewVectorClockFrom(map[string]uint64{meta.DeviceID: 5})
	if err := s.UpdateSyncMetadata(ctx, clock, "cursor-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen; state survives the process boundary.
	s2, err := NewSQLiteStore(DefaultSQLiteStoreConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	again, err := s2.SyncMetadata(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.DeviceID != meta.DeviceID {
		t.Errorf("device id changed across reopen: %s vs %s", again.DeviceID, meta.DeviceID)
	}
	if again.Cursor != "cursor-1" {
		t.Errorf("cursor lost: %q", again.Cursor)
	}
	if again.VectorClock.Get(meta.DeviceID) != 5 {
		t.Error("clock lost across reopen")
	}
}

func TestSQLiteStoreClearAll(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLiteStore(t)

	if err := s.CreateEntity(ctx, testEntity("e1", "v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateRelationship(ctx, testRelationship("r1", "e1", "e2")); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListEntities(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	pending, err := s.PendingChanges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 || len(pending) != 0 {
		t.Errorf("clear all should empty the store, got %d entities %d pending", len(all), len(pending))
	}
}
