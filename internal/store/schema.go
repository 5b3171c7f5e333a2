package store

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts TEXT NOT NULL,
	step TEXT NOT NULL,
	actor TEXT NOT NULL,
	tool TEXT,
	input TEXT,
	output TEXT,
	success INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	UNIQUE(session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id, seq);

CREATE TABLE IF NOT EXISTS verdicts (
	session_id TEXT PRIMARY KEY,
	certificate_id TEXT,
	status TEXT NOT NULL,
	confidence REAL,
	review_required INTEGER NOT NULL DEFAULT 0,
	state TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_verdicts_status ON verdicts(status);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	certificate_id TEXT,
	seed TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING', -- PENDING, IN_PROGRESS, COMPLETED, FAILED
	session_id TEXT,
	error TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`
