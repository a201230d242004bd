package descriptor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// registryTTL is the 7-day staleness window: entries older than this are
// ignored by lookups even if the row is still present.
const registryTTL = 7 * 24 * time.Hour

// snapshotFileName returns the per-session snapshot file name for id, e.g.
// "ccb-session-abc123.json".
func snapshotFileName(id string) string {
	return "ccb-session-" + id + ".json"
}

// RegistrySummary is the inverted-index value: enough of a descriptor to
// locate it again without re-parsing every project's JSON file.
type RegistrySummary struct {
	CCBSessionID string `json:"ccb_session_id"`
	PaneID       string `json:"pane_id"`
	Provider     string `json:"provider"`
	DescPath     string `json:"desc_path"`
	WorkDir      string `json:"work_dir"`
	UpdatedAt    int64  `json:"updated_at"`
}

// Registry is the global PaneRegistry: a SQLite-backed inverted index from
// CCB session id / pane id to a descriptor summary, schema-migrated on open
// the same way a chat-history database gets upgraded in place. Lookups read
// SQLite only. Each Put also writes one JSON snapshot file for that CCB
// session id, named ccb-session-<id>.json under snapshotDir, for external
// tooling, and Prune removes the files of the rows it deletes; nothing
// reads the snapshot files back into SQLite.
type Registry struct {
	db          *sql.DB
	snapshotDir string
}

// OpenRegistry opens (creating if absent) the registry database at dbPath
// and ensures its schema, and remembers snapshotDir as the directory holding
// one ccb-session-<id>.json file per tracked session.
func OpenRegistry(dbPath, snapshotDir string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open pane registry: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS panes (
			ccb_session_id TEXT PRIMARY KEY,
			pane_id        TEXT NOT NULL,
			provider       TEXT NOT NULL,
			desc_path      TEXT NOT NULL,
			work_dir       TEXT NOT NULL,
			updated_at     INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate pane registry schema: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_panes_pane_id ON panes(pane_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate pane registry index: %w", err)
	}
	return &Registry{db: db, snapshotDir: snapshotDir}, nil
}

func (r *Registry) Close() error { return r.db.Close() }

// Put records or refreshes a descriptor's entry. Called on every successful
// request.
func (r *Registry) Put(s RegistrySummary) error {
	s.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO panes (ccb_session_id, pane_id, provider, desc_path, work_dir, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ccb_session_id) DO UPDATE SET
			pane_id=excluded.pane_id, provider=excluded.provider,
			desc_path=excluded.desc_path, work_dir=excluded.work_dir,
			updated_at=excluded.updated_at
	`, s.CCBSessionID, s.PaneID, s.Provider, s.DescPath, s.WorkDir, s.UpdatedAt)
	if err != nil {
		return err
	}
	return r.writeSnapshotFor(s)
}

// ByCCBSessionID looks up a non-stale entry by CCB session id.
func (r *Registry) ByCCBSessionID(id string) (RegistrySummary, bool, error) {
	return r.lookup(`ccb_session_id = ?`, id)
}

// ByPaneID looks up a non-stale entry by pane id. If multiple sessions share
// a pane id (shouldn't normally happen), the most recently updated wins.
func (r *Registry) ByPaneID(paneID string) (RegistrySummary, bool, error) {
	return r.lookup(`pane_id = ? ORDER BY updated_at DESC`, paneID)
}

func (r *Registry) lookup(where string, arg any) (RegistrySummary, bool, error) {
	row := r.db.QueryRow(`
		SELECT ccb_session_id, pane_id, provider, desc_path, work_dir, updated_at
		FROM panes WHERE `+where+` LIMIT 1
	`, arg)
	var s RegistrySummary
	if err := row.Scan(&s.CCBSessionID, &s.PaneID, &s.Provider, &s.DescPath, &s.WorkDir, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return RegistrySummary{}, false, nil
		}
		return RegistrySummary{}, false, err
	}
	if time.Since(time.Unix(s.UpdatedAt, 0)) > registryTTL {
		return RegistrySummary{}, false, nil
	}
	return s, true, nil
}

// Prune deletes rows older than the TTL and removes their snapshot files;
// called periodically by the daemon's pruneRegistryPeriodically goroutine.
func (r *Registry) Prune() error {
	cutoff := time.Now().Add(-registryTTL).Unix()
	stale, err := r.db.Query(`SELECT ccb_session_id FROM panes WHERE updated_at < ?`, cutoff)
	if err != nil {
		return err
	}
	var staleIDs []string
	for stale.Next() {
		var id string
		if err := stale.Scan(&id); err != nil {
			stale.Close()
			return err
		}
		staleIDs = append(staleIDs, id)
	}
	stale.Close()

	if _, err := r.db.Exec(`DELETE FROM panes WHERE updated_at < ?`, cutoff); err != nil {
		return err
	}
	for _, id := range staleIDs {
		if err := r.removeSnapshot(id); err != nil {
			return err
		}
	}
	return nil
}

// writeSnapshotFor atomically (re)writes the single ccb-session-<id>.json
// file for s, one file per CCB session id rather than one combined array —
// the external-tooling surface looks up a session's descriptor by its own
// id and shouldn't have to parse every other tracked session to find it.
func (r *Registry) writeSnapshotFor(s RegistrySummary) error {
	if r.snapshotDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.snapshotDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(r.snapshotDir, snapshotFileName(s.CCBSessionID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// removeSnapshot deletes the snapshot file for a pruned session id, if any.
func (r *Registry) removeSnapshot(id string) error {
	if r.snapshotDir == "" {
		return nil
	}
	err := os.Remove(filepath.Join(r.snapshotDir, snapshotFileName(id)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
