// Package audit persists a trail of process lifecycle events (create,
// state transitions, delete) to SQLite, the way the teacher's audit
// package persists authentication lifecycle events. This is bookkeeping
// about *who did what to which slug, when* — distinct from the child
// stdout/stderr logs, which spec.md's non-goals explicitly exclude from
// persistence (see SPEC_FULL.md).
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EventType identifies the kind of lifecycle event recorded.
type EventType string

const (
	EventCreate       EventType = "create"
	EventStateChange  EventType = "state_change"
	EventDelete       EventType = "delete"
)

// Event is one row of the audit trail.
type Event struct {
	ID        string `db:"id"`
	Timestamp int64  `db:"timestamp"`
	EventType string `db:"event_type"`
	Slug      string `db:"slug"`
	Detail    string `db:"detail"`
}

// Logger writes lifecycle events to a SQLite-backed audit trail.
type Logger struct {
	db *sqlx.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS lifecycle_events (
	id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	slug TEXT NOT NULL,
	detail TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_events_slug ON lifecycle_events(slug);
CREATE INDEX IF NOT EXISTS idx_lifecycle_events_timestamp ON lifecycle_events(timestamp);
`

// NewLogger opens (creating if necessary) the lifecycle_events table on db.
func NewLogger(db *sqlx.DB) (*Logger, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Logger{db: db}, nil
}

func (l *Logger) record(eventType EventType, slug, detail string) error {
	_, err := l.db.Exec(
		`INSERT INTO lifecycle_events (id, timestamp, event_type, slug, detail) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), time.Now().UTC().Unix(), string(eventType), slug, detail,
	)
	return err
}

// LogCreate records that a process descriptor was created for slug.
func (l *Logger) LogCreate(slug, detail string) error {
	return l.record(EventCreate, slug, detail)
}

// LogStateChange records a supervisor state transition for slug.
func (l *Logger) LogStateChange(slug, detail string) error {
	return l.record(EventStateChange, slug, detail)
}

// LogDelete records that slug was deleted from the registry.
func (l *Logger) LogDelete(slug, detail string) error {
	return l.record(EventDelete, slug, detail)
}

// RecentEvents returns up to limit most recent audit events, newest first.
func (l *Logger) RecentEvents(limit int) ([]Event, error) {
	var events []Event
	err := l.db.Select(&events,
		`SELECT id, timestamp, event_type, slug, detail FROM lifecycle_events ORDER BY timestamp DESC, rowid DESC LIMIT $1`,
		limit)
	return events, err
}

// EventsForSlug returns up to limit audit events recorded for slug, newest
// first.
func (l *Logger) EventsForSlug(slug string, limit int) ([]Event, error) {
	var events []Event
	err := l.db.Select(&events,
		`SELECT id, timestamp, event_type, slug, detail FROM lifecycle_events WHERE slug = $1 ORDER BY timestamp DESC, rowid DESC LIMIT $2`,
		slug, limit)
	return events, err
}
