package statedb

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMigrateFromJSON(t *testing.T) {
	db := newTestDB(t)

	jsonPath := filepath.Join(t.TempDir(), "state.json")
	state := `{
		"sessions": [
			{
				"id": "a1",
				"name": "ciab_api",
				"label": "api",
				"work_dir": "/tmp/api",
				"activity": "running",
				"created_at": "2026-08-01T10:00:00Z"
			},
			{
				"id": "b2",
				"name": "ciab_worker",
				"label": "worker",
				"remote_url": "ws://host:8423",
				"created_at": "2026-08-02T10:00:00Z"
			},
			{
				"id": "c3",
				"name": "",
				"label": "orphan"
			}
		],
		"updated_at": "2026-08-02T12:00:00Z"
	}`
	if err := os.WriteFile(jsonPath, []byte(state), 0600); err != nil {
		t.Fatalf("write json: %v", err)
	}

	n, err := db.MigrateFromJSON(jsonPath)
	if err != nil {
		t.Fatalf("MigrateFromJSON: %v", err)
	}
	if n != 2 {
		t.Errorf("migrated = %d, want 2 (nameless entry skipped)", n)
	}

	rows, err := db.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	api := rows[0]
	if api.Name != "ciab_api" || api.Kind != "local" || api.Activity != "running" {
		t.Errorf("api row = %+v", api)
	}
	if !api.CreatedAt.Equal(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("api created_at = %v", api.CreatedAt)
	}

	worker := rows[1]
	if worker.Kind != "remote" || worker.RemoteURL != "ws://host:8423" {
		t.Errorf("worker row = %+v", worker)
	}
	if worker.Activity != "unknown" {
		t.Errorf("worker activity = %q, want unknown default", worker.Activity)
	}
}

func TestMigrateFromJSONBadFile(t *testing.T) {
	db := newTestDB(t)

	if _, err := db.MigrateFromJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	badPath := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(badPath, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := db.MigrateFromJSON(badPath); err == nil {
		t.Error("expected error for malformed json")
	}
}
