package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// VerdictRecord is a persisted session verdict. Body holds the full verdict JSON.
type VerdictRecord struct {
	SessionID      string          `json:"session_id"`
	CertificateID  string          `json:"certificate_id,omitempty"`
	Status         string          `json:"status"`
	Confidence     *float64        `json:"confidence,omitempty"`
	ReviewRequired bool            `json:"review_required"`
	State          string          `json:"state"`
	Body           json.RawMessage `json:"body"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SaveVerdict inserts or replaces the verdict of a session.
func (db *DB) SaveVerdict(ctx context.Context, v VerdictRecord) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	var conf sql.NullFloat64
	if v.Confidence != nil {
		conf = sql.NullFloat64{Float64: *v.Confidence, Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO verdicts (session_id, certificate_id, status, confidence, review_required, state, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.SessionID, nullString(v.CertificateID), v.Status, conf, boolInt(v.ReviewRequired), v.State, string(v.Body),
		v.CreatedAt.UTC().Format(timeFormat),
	)
	return err
}

// GetVerdict returns the verdict of sessionID, or sql.ErrNoRows.
func (db *DB) GetVerdict(ctx context.Context, sessionID string) (*VerdictRecord, error) {
	row := db.QueryRowContext(ctx,
		`SELECT session_id, certificate_id, status, confidence, review_required, state, body, created_at
		 FROM verdicts WHERE session_id = ?`, sessionID)
	v, err := scanVerdict(row)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVerdicts returns verdicts newest first, optionally filtered by status.
func (db *DB) ListVerdicts(ctx context.Context, status string, limit int) ([]VerdictRecord, error) {
	query := `SELECT session_id, certificate_id, status, confidence, review_required, state, body, created_at
		FROM verdicts WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VerdictRecord
	for rows.Next() {
		v, err := scanVerdict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanVerdict(s scanner) (VerdictRecord, error) {
	var v VerdictRecord
	var certID sql.NullString
	var conf sql.NullFloat64
	var review int
	var body, created string
	if err := s.Scan(&v.SessionID, &certID, &v.Status, &conf, &review, &v.State, &body, &created); err != nil {
		return VerdictRecord{}, err
	}
	v.CertificateID = certID.String
	if conf.Valid {
		c := conf.Float64
		v.Confidence = &c
	}
	v.ReviewRequired = review != 0
	v.Body = json.RawMessage(body)
	v.CreatedAt = parseTime(created)
	return v, nil
}
