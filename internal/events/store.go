package events

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultDBPath is the default event log location.
const DefaultDBPath = ".minder/events.db"

const schema = `
CREATE TABLE IF NOT EXISTS agent_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	issue_key  TEXT NOT NULL DEFAULT '',
	task_id    TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '',
	timestamp  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_events_issue ON agent_events(issue_key);
CREATE INDEX IF NOT EXISTS idx_agent_events_time ON agent_events(timestamp);
`

// Store persists events to a SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the event log database at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create events directory: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open events database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping events database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize events schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes one event to the log and fills in its assigned id.
func (s *Store) Append(ctx context.Context, event *Event) error {
	data, err := event.marshalData()
	if err != nil {
		return fmt.Errorf("failed to serialize event data: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_events (type, severity, issue_key, task_id, message, data, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(event.Type), string(event.Severity), event.IssueKey, event.TaskID,
		event.Message, data, event.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		event.ID = id
	}
	return nil
}

// Recent returns the most recent events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, severity, issue_key, task_id, message, data, timestamp
		 FROM agent_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ByIssue returns all events for an issue key, oldest first.
func (s *Store) ByIssue(ctx context.Context, issueKey string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, severity, issue_key, task_id, message, data, timestamp
		 FROM agent_events WHERE issue_key = ? ORDER BY id ASC`, issueKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for %s: %w", issueKey, err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var out []*Event
	for rows.Next() {
		var (
			ev   Event
			typ  string
			sev  string
			data string
			ts   string
		)
		if err := rows.Scan(&ev.ID, &typ, &sev, &ev.IssueKey, &ev.TaskID, &ev.Message, &data, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Type = EventType(typ)
		ev.Severity = Severity(sev)
		if err := ev.unmarshalData(data); err != nil {
			return nil, fmt.Errorf("failed to parse event data for event %d: %w", ev.ID, err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp for event %d: %w", ev.ID, err)
		}
		ev.Timestamp = parsed
		out = append(out, &ev)
	}
	return out, rows.Err()
}
