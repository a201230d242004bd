package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenCodeReader tails OpenCode's storage: a SQLite database holding
// `message` and `part` tables keyed by session id, with large part payloads
// sometimes spilled to JSON side files on disk. It opens the database
// read-only and queries by session id on each poll rather than caching a
// connection, since the file is owned and written by another process.
type OpenCodeReader struct {
	dbPath       string
	sessionID    string
	sideFileRoot string
	pollInterval time.Duration
	lastPartID   string
}

func NewOpenCodeReader(dbPath, sessionID, sideFileRoot string, pollInterval time.Duration) *OpenCodeReader {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	return &OpenCodeReader{dbPath: dbPath, sessionID: sessionID, sideFileRoot: sideFileRoot, pollInterval: pollInterval}
}

// opencodePart mirrors one row of OpenCode's `part` table: a piece of a
// message's content, ordered by id within a message.
type opencodePart struct {
	ID        string
	MessageID string
	Role      string
	Type      string
	Text      string
	FilePath  string // side-file path, when the row's content spilled to disk
}

func (r *OpenCodeReader) CaptureState(ctx context.Context) (Cursor, error) {
	lastID, err := r.latestPartID(ctx)
	if err != nil {
		return Cursor{}, err
	}
	return Cursor{LogPath: r.dbPath, CarryBytes: []byte(lastID)}, nil
}

func (r *OpenCodeReader) latestPartID(ctx context.Context) (string, error) {
	db, err := r.open()
	if err != nil {
		return "", err
	}
	defer db.Close()
	row := db.QueryRowContext(ctx, `
		SELECT p.id FROM part p JOIN message m ON m.id = p.message_id
		WHERE m.session_id = ? ORDER BY p.id DESC LIMIT 1
	`, r.sessionID)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", nil // TransientIOError policy
	}
	return id, nil
}

func (r *OpenCodeReader) open() (*sql.DB, error) {
	return sql.Open("sqlite", "file:"+r.dbPath+"?mode=ro")
}

func (r *OpenCodeReader) WaitForEvents(ctx context.Context, cursor Cursor, timeout time.Duration) ([]Event, Cursor, error) {
	deadline := time.Now().Add(timeout)
	if timeout < 0 {
		deadline = time.Time{}
	}
	for {
		events, next, err := r.pollOnce(ctx, cursor)
		if err != nil {
			return nil, cursor, err
		}
		if len(events) > 0 {
			return events, next, nil
		}
		cursor = next
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, cursor, nil
		}
		select {
		case <-ctx.Done():
			return nil, cursor, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
}

func (r *OpenCodeReader) pollOnce(ctx context.Context, cursor Cursor) ([]Event, Cursor, error) {
	db, err := r.open()
	if err != nil {
		return nil, cursor, nil
	}
	defer db.Close()

	lastID := string(cursor.CarryBytes)
	rows, err := db.QueryContext(ctx, `
		SELECT p.id, p.message_id, m.role, p.type, p.text, p.file_path
		FROM part p JOIN message m ON m.id = p.message_id
		WHERE m.session_id = ? AND p.id > ?
		ORDER BY p.id ASC
	`, r.sessionID, lastID)
	if err != nil {
		// Row/column may be missing entirely if OpenCode hasn't created the
		// session's tables yet; fall back to filesystem scan of side files.
		return r.fallbackScanSideFiles(cursor)
	}
	defer rows.Close()

	var events []Event
	newLastID := lastID
	for rows.Next() {
		var p opencodePart
		if err := rows.Scan(&p.ID, &p.MessageID, &p.Role, &p.Type, &p.Text, &p.FilePath); err != nil {
			continue
		}
		newLastID = p.ID
		text := p.Text
		if text == "" && p.FilePath != "" {
			if data, err := os.ReadFile(filepath.Join(r.sideFileRoot, p.FilePath)); err == nil {
				text = string(data)
			}
		}
		role := RoleAssistant
		if p.Role == "user" {
			role = RoleUser
		}
		if p.Type == "text" {
			events = append(events, Event{Role: role, Text: text})
		}
	}
	return events, Cursor{LogPath: cursor.LogPath, CarryBytes: []byte(newLastID)}, nil
}

// fallbackScanSideFiles is used when the expected row is missing: scan the
// side-file directory for any JSON part files and emit whatever is found.
func (r *OpenCodeReader) fallbackScanSideFiles(cursor Cursor) ([]Event, Cursor, error) {
	entries, err := os.ReadDir(r.sideFileRoot)
	if err != nil {
		return nil, cursor, nil
	}
	var events []Event
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.sideFileRoot, e.Name()))
		if err != nil {
			continue
		}
		var part struct {
			Role string `json:"role"`
			Text string `json:"text"`
		}
		if json.Unmarshal(data, &part) != nil {
			continue
		}
		role := RoleAssistant
		if part.Role == "user" {
			role = RoleUser
		}
		events = append(events, Event{Role: role, Text: part.Text})
	}
	return events, cursor, nil
}

func (r *OpenCodeReader) Rebind(ctx context.Context, fallbackScan bool, fallbackTailBytes int64) (Cursor, error) {
	return r.CaptureState(ctx)
}
