package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/agentcheck/agentcheck/internal/audit"
)

// AppendAuditRecord stores one audit record. (session_id, seq) is unique, so a
// record can never be written twice.
func (db *DB) AppendAuditRecord(ctx context.Context, sessionID string, rec audit.Record) error {
	input, err := marshalMap(rec.Input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	output, err := marshalMap(rec.Output)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO audit_records (session_id, seq, ts, step, actor, tool, input, output, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.Seq, rec.Timestamp.UTC().Format(timeFormat), rec.Step, rec.Actor,
		nullString(rec.Tool), input, output, boolInt(rec.Success), nullString(rec.Error),
	)
	return err
}

// LoadAuditLog returns the records of a session ordered by seq.
func (db *DB) LoadAuditLog(ctx context.Context, sessionID string) ([]audit.Record, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT seq, ts, step, actor, tool, input, output, success, error
		 FROM audit_records WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Record
	for rows.Next() {
		var rec audit.Record
		var ts string
		var tool, input, output, errMsg sql.NullString
		var success int
		if err := rows.Scan(&rec.Seq, &ts, &rec.Step, &rec.Actor, &tool, &input, &output, &success, &errMsg); err != nil {
			return nil, err
		}
		rec.Timestamp = parseTime(ts)
		rec.Tool = tool.String
		rec.Success = success != 0
		rec.Error = errMsg.String
		if input.Valid {
			if err := json.Unmarshal([]byte(input.String), &rec.Input); err != nil {
				return nil, fmt.Errorf("decode input of seq %d: %w", rec.Seq, err)
			}
		}
		if output.Valid {
			if err := json.Unmarshal([]byte(output.String), &rec.Output); err != nil {
				return nil, fmt.Errorf("decode output of seq %d: %w", rec.Seq, err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AuditMirror adapts the DB to audit.Mirror.
func (db *DB) AuditMirror() audit.Mirror {
	return auditMirror{db: db}
}

type auditMirror struct {
	db *DB
}

func (m auditMirror) Append(sessionID string, rec audit.Record) error {
	return m.db.AppendAuditRecord(context.Background(), sessionID, rec)
}

func marshalMap(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
