package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal keeps events in a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal: %w", err)
	}

	return j, nil
}

func (j *SQLiteJournal) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS message_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			event TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_message_events_message_id ON message_events(message_id)`,
	}

	for _, query := range queries {
		if _, err := j.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// Record appends event. A zero CreatedAt is set to the current time.
func (j *SQLiteJournal) Record(ctx context.Context, event Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO message_events (message_id, host, event, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		event.MessageID, event.Host, string(event.Type), event.Detail, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s event for %s: %w", event.Type, event.MessageID, err)
	}
	return nil
}

// Events returns the events of messageID in the order they were recorded.
func (j *SQLiteJournal) Events(ctx context.Context, messageID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, message_id, host, event, detail, created_at FROM message_events WHERE message_id = ? ORDER BY id`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Host, &eventType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Type = EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (j *SQLiteJournal) Health() error {
	return j.db.Ping()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
