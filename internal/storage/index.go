// Package storage maintains a per-session SQLite index of workflow
// events. The JSONL log remains the source of truth; the index exists
// so status and history queries do not rescan the whole log.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wardenhq/warden/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id TEXT NOT NULL,
	type        TEXT NOT NULL,
	ts          TEXT NOT NULL,
	data        TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_workflow ON events(workflow_id, ts);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup ON events(workflow_id, type, ts);
`

// Index is a queryable event index backed by SQLite.
type Index struct {
	db   *sql.DB
	path string
}

// Open opens (and if needed creates) the index at path. Use ":memory:"
// for an ephemeral index.
func Open(path string) (*Index, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create index dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event index: %w", err)
	}
	// The index is only ever written by the process holding the session
	// lock; a single connection sidesteps SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply index schema: %w", err)
	}
	return &Index{db: db, path: path}, nil
}

// Close releases the database handle.
func (x *Index) Close() error {
	return x.db.Close()
}

// Path returns the index location.
func (x *Index) Path() string { return x.path }

// Record inserts one event. True duplicates (same workflow, type, and
// timestamp) are ignored, which makes log replay idempotent.
func (x *Index) Record(e events.Event) error {
	var data *string
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		s := string(raw)
		data = &s
	}
	ts := e.Time.UTC().Format("2006-01-02 15:04:05.000000000")

	_, err := x.db.Exec(`
		INSERT OR IGNORE INTO events (workflow_id, type, ts, data)
		VALUES (?, ?, ?, ?)
	`, e.WorkflowID, string(e.Type), ts, data)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Rebuild replays a JSONL event log into the index. Existing rows
// dedupe; calling it repeatedly is safe.
func (x *Index) Rebuild(logPath string) (int, error) {
	evs, err := events.ReadLog(logPath)
	if err != nil {
		return 0, err
	}
	for _, e := range evs {
		if err := x.Record(e); err != nil {
			return 0, err
		}
	}
	return len(evs), nil
}

// QueryOptions filter an event query. Zero values mean "no filter".
type QueryOptions struct {
	WorkflowID string
	Types      []events.EventType
	Since      time.Time
	Limit      int
}

// Row is one indexed event.
type Row struct {
	ID         int64
	WorkflowID string
	Type       events.EventType
	Time       time.Time
	Data       json.RawMessage
}

// Query returns matching events, oldest first.
func (x *Index) Query(opts QueryOptions) ([]Row, error) {
	q := "SELECT id, workflow_id, type, ts, data FROM events WHERE 1=1"
	var args []any
	if opts.WorkflowID != "" {
		q += " AND workflow_id = ?"
		args = append(args, opts.WorkflowID)
	}
	if len(opts.Types) > 0 {
		q += " AND type IN (?" + strings.Repeat(",?", len(opts.Types)-1) + ")"
		for _, t := range opts.Types {
			args = append(args, string(t))
		}
	}
	if !opts.Since.IsZero() {
		q += " AND ts >= ?"
		args = append(args, opts.Since.UTC().Format("2006-01-02 15:04:05.000000000"))
	}
	q += " ORDER BY ts, id"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := x.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r    Row
			typ  string
			ts   string
			data sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.WorkflowID, &typ, &ts, &data); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		r.Type = events.EventType(typ)
		if parsed, err := time.Parse("2006-01-02 15:04:05.000000000", ts); err == nil {
			r.Time = parsed.UTC()
		}
		if data.Valid {
			r.Data = json.RawMessage(data.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns how many events match the options.
func (x *Index) Count(workflowID string) (int, error) {
	q := "SELECT COUNT(*) FROM events"
	var args []any
	if workflowID != "" {
		q += " WHERE workflow_id = ?"
		args = append(args, workflowID)
	}
	var n int
	if err := x.db.QueryRow(q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
