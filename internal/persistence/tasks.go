package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// SaveLedger replaces the stored ledger of one iteration. Iteration 0 is the
// initial fan-out.
func (s *SQLiteStore) SaveLedger(ctx context.Context, runID string, iteration int, tasks []scheduler.Task) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE run_id = ? AND iteration = ?`, runID, iteration); err != nil {
			return fmt.Errorf("failed to delete old ledger: %w", err)
		}

		for i, task := range tasks {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tasks (run_id, iteration, seq, id, category, label, description, priority, status, files, error)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, runID, iteration, i, task.ID, task.Category.String(), task.Label, task.Description,
				int(task.Priority), int(task.Status), strings.Join(task.Files, ","), task.Error)
			if err != nil {
				return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
			}
		}

		// Dependencies go in once every task row exists.
		for _, task := range tasks {
			for _, dep := range task.DependsOn {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO task_dependencies (run_id, iteration, task_id, depends_on_id)
					VALUES (?, ?, ?, ?)
				`, runID, iteration, task.ID, dep)
				if err != nil {
					return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, dep, err)
				}
			}
		}
		return nil
	})
}

// LoadLedger returns the stored tasks of one iteration in ledger order.
func (s *SQLiteStore) LoadLedger(ctx context.Context, runID string, iteration int) ([]scheduler.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, label, description, priority, status, files, error
		FROM tasks
		WHERE run_id = ? AND iteration = ?
		ORDER BY seq
	`, runID, iteration)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []scheduler.Task{}
	for rows.Next() {
		var (
			task                  scheduler.Task
			category              string
			label, files, errText sql.NullString
			priority, status      int
		)
		if err := rows.Scan(&task.ID, &category, &label, &task.Description, &priority, &status, &files, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		_ = task.Category.UnmarshalText([]byte(category))
		task.Label = label.String
		task.Priority = scheduler.Priority(priority)
		task.Status = scheduler.TaskStatus(status)
		task.Error = errText.String
		if files.String != "" {
			task.Files = strings.Split(files.String, ",")
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	rows.Close()

	for i := range tasks {
		deps, err := s.dependencies(ctx, runID, iteration, tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].DependsOn = deps
	}
	return tasks, nil
}

func (s *SQLiteStore) dependencies(ctx context.Context, runID string, iteration int, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depends_on_id
		FROM task_dependencies
		WHERE run_id = ? AND iteration = ? AND task_id = ?
		ORDER BY depends_on_id
	`, runID, iteration, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dependencies: %w", err)
	}
	return deps, nil
}

// Iterations returns the iterations with a stored ledger, ascending.
func (s *SQLiteStore) Iterations(ctx context.Context, runID string) ([]int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT iteration FROM tasks WHERE run_id = ? ORDER BY iteration`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var it int
		if err := rows.Scan(&it); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
