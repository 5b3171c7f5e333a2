package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// TaskStatus is the lifecycle of a queued verification.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// ErrInvalidTransition is returned when a task is not in the expected state.
var ErrInvalidTransition = errors.New("invalid task status transition")

var transitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress},
	TaskInProgress: {TaskCompleted, TaskFailed},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Task is one queued verification. Seed is the JSON-encoded case.
type Task struct {
	ID            string          `json:"id"`
	CertificateID string          `json:"certificate_id,omitempty"`
	Seed          json.RawMessage `json:"seed"`
	Status        TaskStatus      `json:"status"`
	SessionID     string          `json:"session_id,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CreateTask inserts a PENDING task.
func (db *DB) CreateTask(ctx context.Context, id, certificateID string, seed []byte) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := db.ExecContext(ctx,
		`INSERT INTO tasks (id, certificate_id, seed, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, nullString(certificateID), string(seed), TaskPending, now, now,
	)
	return err
}

// TransitionTask moves a task from one status to another. It fails with
// ErrInvalidTransition when the move is not allowed or the task is no longer in from.
func (db *DB) TransitionTask(ctx context.Context, id string, from, to TaskStatus, sessionID, errMsg string) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	res, err := db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, session_id = COALESCE(?, session_id), error = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, nullString(sessionID), nullString(errMsg), time.Now().UTC().Format(timeFormat), id, from,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// GetTask returns a task by id, or sql.ErrNoRows.
func (db *DB) GetTask(ctx context.Context, id string) (*Task, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, certificate_id, seed, status, session_id, error, created_at, updated_at FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks returns tasks in creation order, optionally filtered by status.
func (db *DB) ListTasks(ctx context.Context, status TaskStatus) ([]Task, error) {
	query := `SELECT id, certificate_id, seed, status, session_id, error, created_at, updated_at FROM tasks`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at, id"
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(s scanner) (Task, error) {
	var t Task
	var certID, sessionID, errMsg sql.NullString
	var seed, created, updated string
	if err := s.Scan(&t.ID, &certID, &seed, &t.Status, &sessionID, &errMsg, &created, &updated); err != nil {
		return Task{}, err
	}
	t.CertificateID = certID.String
	t.Seed = json.RawMessage(seed)
	t.SessionID = sessionID.String
	t.Error = errMsg.String
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}
