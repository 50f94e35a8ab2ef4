package statedb

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// jsonStateData mirrors the legacy ~/.ciab/state.json layout from before the
// SQLite store (avoids a circular import on the session package).
type jsonStateData struct {
	Sessions  []*jsonSessionData `json:"sessions"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type jsonSessionData struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Label        string    `json:"label"`
	WorkDir      string    `json:"work_dir,omitempty"`
	Kind         string    `json:"kind,omitempty"`
	RemoteURL    string    `json:"remote_url,omitempty"`
	Activity     string    `json:"activity,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAttached time.Time `json:"last_attached,omitempty"`
}

// MigrateFromJSON reads a legacy state.json file and inserts its sessions into
// the database. Returns the number of sessions migrated. The caller decides
// what to do with the source file afterwards.
func (s *StateDB) MigrateFromJSON(jsonPath string) (int, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return 0, fmt.Errorf("statedb: read json: %w", err)
	}

	var state jsonStateData
	if err := json.Unmarshal(data, &state); err != nil {
		return 0, fmt.Errorf("statedb: parse json: %w", err)
	}

	migrated := 0
	for _, sess := range state.Sessions {
		if sess.Name == "" {
			continue
		}
		kind := sess.Kind
		if kind == "" {
			if sess.RemoteURL != "" {
				kind = "remote"
			} else {
				kind = "local"
			}
		}
		activity := sess.Activity
		if activity == "" {
			activity = "unknown"
		}
		row := &SessionRow{
			ID:           sess.ID,
			Name:         sess.Name,
			Label:        sess.Label,
			WorkDir:      sess.WorkDir,
			Kind:         kind,
			RemoteURL:    sess.RemoteURL,
			Activity:     activity,
			CreatedAt:    sess.CreatedAt,
			LastAttached: sess.LastAttached,
		}
		if row.Label == "" {
			row.Label = row.Name
		}
		if err := s.Save(row); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}
