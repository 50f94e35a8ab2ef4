package statedb

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.Save(&SessionRow{
		ID:        "id-1",
		Name:      "ciab_build",
		Label:     "build",
		WorkDir:   "/tmp",
		Kind:      "local",
		Activity:  "idle",
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	rows, err := db2.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(rows) != 1 || rows[0].Name != "ciab_build" {
		t.Fatalf("unexpected rows after reopen: %+v", rows)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)

	created := time.Now().Truncate(time.Second)
	row := &SessionRow{
		ID:           "id-42",
		Name:         "ciab_api_server",
		Label:        "api server",
		WorkDir:      "/home/dev/api",
		Kind:         "remote",
		RemoteURL:    "ws://10.0.0.5:8423",
		Activity:     "running",
		CreatedAt:    created,
		LastAttached: created.Add(time.Minute),
	}
	if err := db.Save(row); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rows, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	got := rows[0]
	if got.ID != row.ID || got.Name != row.Name || got.Label != row.Label {
		t.Errorf("identity mismatch: %+v", got)
	}
	if got.Kind != "remote" || got.RemoteURL != row.RemoteURL {
		t.Errorf("remote fields mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at mismatch: got %v want %v", got.CreatedAt, created)
	}
}

func TestSaveReplacesByName(t *testing.T) {
	db := newTestDB(t)

	base := &SessionRow{ID: "a", Name: "ciab_x", Label: "x", CreatedAt: time.Now()}
	if err := db.Save(base); err != nil {
		t.Fatalf("Save: %v", err)
	}
	base.Activity = "waiting"
	if err := db.Save(base); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	rows, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row after replace, got %d", len(rows))
	}
	if rows[0].Activity != "waiting" {
		t.Errorf("activity not updated: %q", rows[0].Activity)
	}
}

func TestSaveAllPrunesRemoved(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	all := []*SessionRow{
		{ID: "1", Name: "ciab_one", Label: "one", CreatedAt: now},
		{ID: "2", Name: "ciab_two", Label: "two", CreatedAt: now.Add(time.Second)},
		{ID: "3", Name: "ciab_three", Label: "three", CreatedAt: now.Add(2 * time.Second)},
	}
	if err := db.SaveAll(all); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}

	if err := db.SaveAll(all[:2]); err != nil {
		t.Fatalf("SaveAll subset: %v", err)
	}
	rows, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after prune, got %d", len(rows))
	}
	for _, row := range rows {
		if row.Name == "ciab_three" {
			t.Error("pruned row survived")
		}
	}

	if err := db.SaveAll(nil); err != nil {
		t.Fatalf("SaveAll empty: %v", err)
	}
	rows, err = db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(rows))
	}
}

func TestDeleteMissingIsNoop(t *testing.T) {
	db := newTestDB(t)
	if err := db.Delete("ciab_ghost"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	db := newTestDB(t)

	v, err := db.GetMeta("schema_version")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if v != "1" {
		t.Errorf("schema_version = %q, want 1", v)
	}

	if err := db.SetMeta("last_profile", "default"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	v, err = db.GetMeta("last_profile")
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if v != "default" {
		t.Errorf("GetMeta = %q", v)
	}

	v, err = db.GetMeta("missing")
	if err != nil {
		t.Fatalf("GetMeta missing: %v", err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}
}
