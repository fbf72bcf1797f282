package store

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap/zaptest"
)

// newTestStore opens an in-memory database with the pipeline schema. The
// single-connection pool keeps every statement on the same database.
func newTestStore(t *testing.T) *Client {
	t.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	createTestSchema(t, db)

	client := NewClientWithDB(db, zaptest.NewLogger(t))
	t.Cleanup(func() { client.Close() })
	return client
}

func createTestSchema(t *testing.T, db *sqlx.DB) {
	t.Helper()

	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		status TEXT NOT NULL,
		progress REAL DEFAULT 0,
		hours_old INTEGER DEFAULT 0,
		min_score REAL DEFAULT 0,
		tier TEXT DEFAULT 'bulk',
		tags TEXT DEFAULT '[]',
		target_roles TEXT DEFAULT '[]',
		total_jobs INTEGER DEFAULT 0,
		admitted_jobs INTEGER DEFAULT 0,
		total_contacts INTEGER DEFAULT 0,
		verified_contacts INTEGER DEFAULT 0,
		total_campaigns INTEGER DEFAULT 0,
		failed_units INTEGER DEFAULT 0,
		error TEXT DEFAULT '',
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		completed_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		source_id TEXT DEFAULT '',
		title TEXT NOT NULL,
		company TEXT NOT NULL,
		location TEXT DEFAULT '',
		remote BOOLEAN DEFAULT 0,
		description TEXT DEFAULT '',
		url TEXT DEFAULT '',
		site TEXT NOT NULL,
		posted_at TIMESTAMP,
		score REAL DEFAULT 0,
		admitted BOOLEAN DEFAULT 0,
		scored BOOLEAN DEFAULT 0,
		created_at TIMESTAMP,
		UNIQUE (agent_id, company, title, site)
	);

	CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		first_name TEXT DEFAULT '',
		last_name TEXT DEFAULT '',
		email TEXT NOT NULL,
		company TEXT NOT NULL,
		role TEXT DEFAULT '',
		verified BOOLEAN DEFAULT 0,
		checked BOOLEAN DEFAULT 0,
		confidence REAL DEFAULT 0,
		source TEXT DEFAULT '',
		created_at TIMESTAMP,
		UNIQUE (agent_id, email, company)
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		name TEXT DEFAULT '',
		company TEXT DEFAULT '',
		provider TEXT DEFAULT '',
		tier TEXT DEFAULT 'bulk',
		status TEXT DEFAULT 'ready',
		subject TEXT DEFAULT '',
		body TEXT DEFAULT '',
		target_count INTEGER DEFAULT 0,
		sent_count INTEGER DEFAULT 0,
		suppressed_count INTEGER DEFAULT 0,
		open_count INTEGER DEFAULT 0,
		reply_count INTEGER DEFAULT 0,
		bounce_count INTEGER DEFAULT 0,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		level TEXT NOT NULL,
		stage TEXT DEFAULT '',
		message TEXT DEFAULT '',
		meta TEXT,
		created_at TIMESTAMP,
		UNIQUE (agent_id, seq)
	);
	`

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}
}
