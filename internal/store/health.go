package store

import (
	"fmt"
	"time"

	"github.com/agentcheck/agentcheck/internal/health"
)

// HealthCheck pings the database and reports the queue backlog.
func (db *DB) HealthCheck() health.ComponentHealth {
	h := health.ComponentHealth{Name: "database", Status: health.StatusOK}

	if err := db.Ping(); err != nil {
		h.Status = health.StatusError
		h.Message = err.Error()
		h.LastError = time.Now()
		return h
	}

	var pending, running int
	err := db.QueryRow(`SELECT
		COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'IN_PROGRESS' THEN 1 ELSE 0 END), 0)
		FROM tasks`).Scan(&pending, &running)
	if err != nil {
		h.Status = health.StatusDegraded
		h.Message = "cannot query tasks: " + err.Error()
		h.LastError = time.Now()
		return h
	}
	h.Message = fmt.Sprintf("%d pending, %d in progress", pending, running)

	db.healthMu.Lock()
	db.lastHealthOK = time.Now()
	h.LastOK = db.lastHealthOK
	db.healthMu.Unlock()
	return h
}
