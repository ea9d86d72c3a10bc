package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sqlx.DB {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test_audit.db")
	db := sqlx.MustConnect("sqlite3", dbPath)
	t.Cleanup(func() {
		db.Close()
		os.Remove(dbPath)
	})
	return db
}

func TestNewLogger(t *testing.T) {
	db := setupTestDB(t)
	logger, err := NewLogger(db)
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}

	var tableName string
	if err := db.Get(&tableName, "SELECT name FROM sqlite_master WHERE type='table' AND name='lifecycle_events'"); err != nil {
		t.Fatalf("table lifecycle_events does not exist: %v", err)
	}
}

func TestLogCreateAndEventsForSlug(t *testing.T) {
	logger, err := NewLogger(setupTestDB(t))
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}

	if err := logger.LogCreate("myapp.node1", "source=http://example.test/a.zip type=web"); err != nil {
		t.Fatalf("LogCreate returned error: %v", err)
	}
	if err := logger.LogStateChange("myapp.node1", "running"); err != nil {
		t.Fatalf("LogStateChange returned error: %v", err)
	}
	if err := logger.LogCreate("myapp.node2", "source=http://example.test/b.zip type=worker"); err != nil {
		t.Fatalf("LogCreate returned error: %v", err)
	}

	events, err := logger.EventsForSlug("myapp.node1", 10)
	if err != nil {
		t.Fatalf("EventsForSlug returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for myapp.node1, got %d", len(events))
	}
	for _, e := range events {
		if e.Slug != "myapp.node1" {
			t.Errorf("expected slug myapp.node1, got %q", e.Slug)
		}
		if e.ID == "" {
			t.Error("expected non-empty event ID")
		}
	}
}

func TestRecentEventsOrdersNewestFirst(t *testing.T) {
	logger, err := NewLogger(setupTestDB(t))
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}

	if err := logger.LogCreate("a.n", "first"); err != nil {
		t.Fatalf("LogCreate returned error: %v", err)
	}
	if err := logger.LogDelete("a.n", "second"); err != nil {
		t.Fatalf("LogDelete returned error: %v", err)
	}

	events, err := logger.RecentEvents(1)
	if err != nil {
		t.Fatalf("RecentEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Detail != "second" {
		t.Errorf("expected most recent event first, got detail %q", events[0].Detail)
	}
}
