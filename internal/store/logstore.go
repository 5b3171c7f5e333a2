package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// LogEntry is one row of system_logs.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// LogFilter narrows Recent. Empty fields match everything.
type LogFilter struct {
	Level     string
	Component string
	Limit     int
}

// DefaultLogLimit applies when a filter carries no positive limit.
const DefaultLogLimit = 100

// logTimeFormat is fixed width so timestamps order lexically.
const logTimeFormat = "2006-01-02T15:04:05.000000000Z"

// LogStore keeps operational lines from decision sessions and queue workers.
// Retention is enforced by Prune, not on write.
type LogStore struct {
	db *sql.DB
	mu sync.Mutex

	MaxEntries int
	MaxAge     time.Duration
}

// NewLogStore returns a store keeping 10000 lines for at most a week.
func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db, MaxEntries: 10000, MaxAge: 7 * 24 * time.Hour}
}

const logSchema = `
CREATE TABLE IF NOT EXISTS system_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	level TEXT NOT NULL,
	component TEXT NOT NULL,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON system_logs(timestamp);
CREATE INDEX IF NOT EXISTS idx_logs_component ON system_logs(component, level);
`

func (s *LogStore) createTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, logSchema)
	return err
}

// Log appends a line stamped with the current UTC time.
func (s *LogStore) Log(level, component, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO system_logs (timestamp, level, component, message) VALUES (?, ?, ?, ?)",
		time.Now().UTC().Format(logTimeFormat), level, component, message,
	)
	return err
}

func (s *LogStore) LogError(component, message string) error {
	return s.Log("error", component, message)
}

func (s *LogStore) LogInfo(component, message string) error {
	return s.Log("info", component, message)
}

// Recent returns matching lines, newest first.
func (s *LogStore) Recent(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, timestamp, level, component, message FROM system_logs
		WHERE (? = '' OR level = ?) AND (? = '' OR component = ?)
		ORDER BY id DESC LIMIT ?`,
		f.Level, f.Level, f.Component, f.Component, limit)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Level, &e.Component, &e.Message); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune drops lines older than MaxAge and then everything beyond the newest
// MaxEntries. Zero limits disable the matching rule. Returns rows removed.
func (s *LogStore) Prune(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	if s.MaxAge > 0 {
		cutoff := time.Now().UTC().Add(-s.MaxAge).Format(logTimeFormat)
		res, err := s.db.ExecContext(ctx, "DELETE FROM system_logs WHERE timestamp < ?", cutoff)
		if err != nil {
			return removed, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	if s.MaxEntries > 0 {
		res, err := s.db.ExecContext(ctx, `DELETE FROM system_logs WHERE id NOT IN (
			SELECT id FROM system_logs ORDER BY id DESC LIMIT ?)`, s.MaxEntries)
		if err != nil {
			return removed, fmt.Errorf("prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}
