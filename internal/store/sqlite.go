package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeFormat is how timestamps are stored in TEXT columns.
const timeFormat = time.RFC3339Nano

// DB wraps *sql.DB for agentcheck storage. Schema is owned by the app.
type DB struct {
	*sql.DB
	Logs *LogStore

	healthMu     sync.Mutex
	lastHealthOK time.Time
}

// Open opens the SQLite database at path and applies the schema. Creates file if missing.
// SQLite allows one writer, so the pool is limited to a single connection; this
// also keeps ":memory:" databases shared across callers.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	logs := NewLogStore(db)
	if err := logs.createTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating system_logs: %w", err)
	}
	if n, err := logs.Prune(ctx); err != nil {
		log.Printf("[STORE] Log prune failed: %v", err)
	} else if n > 0 {
		log.Printf("[STORE] Pruned %d old log line(s)", n)
	}
	return &DB{DB: db, Logs: logs}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.DB.Close()
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
