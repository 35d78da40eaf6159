package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		goal TEXT NOT NULL,
		context TEXT,
		style TEXT,
		work_dir TEXT NOT NULL,
		status TEXT NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		final_revision INTEGER NOT NULL DEFAULT 0,
		final_total INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		id TEXT NOT NULL,
		category TEXT NOT NULL,
		label TEXT,
		description TEXT NOT NULL,
		priority INTEGER NOT NULL,
		status INTEGER NOT NULL,
		files TEXT,
		error TEXT,
		PRIMARY KEY (run_id, iteration, id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (run_id, iteration, task_id, depends_on_id),
		FOREIGN KEY (run_id, iteration, task_id) REFERENCES tasks(run_id, iteration, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS outputs (
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		category TEXT NOT NULL,
		handler_id TEXT NOT NULL,
		status INTEGER NOT NULL,
		content TEXT,
		issues TEXT,
		error TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, iteration, category),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS revisions (
		run_id TEXT NOT NULL,
		revision INTEGER NOT NULL,
		root TEXT NOT NULL,
		entry_point TEXT NOT NULL,
		summary TEXT,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, revision),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS reviews (
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		feedback TEXT,
		verdict TEXT NOT NULL,
		lint TEXT,
		PRIMARY KEY (run_id, iteration),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS review_scores (
		run_id TEXT NOT NULL,
		iteration INTEGER NOT NULL,
		category TEXT NOT NULL,
		score INTEGER NOT NULL,
		PRIMARY KEY (run_id, iteration, category),
		FOREIGN KEY (run_id, iteration) REFERENCES reviews(run_id, iteration) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
