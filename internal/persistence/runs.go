package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunApproved  = "approved"
	RunRejected  = "rejected"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Run is the stored summary of one orchestration run.
type Run struct {
	ID            string
	Brief         orchestrator.DesignBrief
	WorkDir       string
	Status        string
	Iterations    int
	FinalRevision int
	FinalTotal    int
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// BeginRun records a new run, or marks an existing one as running again.
func (s *SQLiteStore) BeginRun(ctx context.Context, runID string, brief orchestrator.DesignBrief, workDir string) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, goal, context, style, work_dir, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				error = NULL,
				finished_at = NULL
		`, runID, brief.Goal, brief.Context, brief.Style, workDir, RunRunning, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		return nil
	})
}

// FinishRun records the outcome of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, result orchestrator.Result, runErr error) error {
	status := RunRejected
	switch {
	case errors.Is(runErr, context.Canceled):
		status = RunCancelled
	case runErr != nil:
		status = RunFailed
	case result.Approved:
		status = RunApproved
	}

	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET status = ?, iterations = ?, final_revision = ?, final_total = ?, error = ?, finished_at = ?
			WHERE id = ?
		`, status, result.IterationsUsed, result.Artifact.Revision, result.FinalScores.Total(), errString(runErr), time.Now().UTC(), runID)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil
	})
}

const runColumns = `id, goal, context, style, work_dir, status, iterations, final_revision, final_total, error, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r                  Run
		ctxText, style, ev sql.NullString
		finished           sql.NullTime
	)
	err := row.Scan(&r.ID, &r.Brief.Goal, &ctxText, &style, &r.WorkDir, &r.Status,
		&r.Iterations, &r.FinalRevision, &r.FinalTotal, &ev, &r.StartedAt, &finished)
	if err != nil {
		return Run{}, err
	}
	r.Brief.Context = ctxText.String
	r.Brief.Style = style.String
	r.Error = ev.String
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return r, nil
}

// GetRun returns a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	r, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to query run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}
