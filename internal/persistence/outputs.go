package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
	"github.com/lmandrelli/grape-coder/internal/scheduler"
)

// SaveOutputs stores the handler outputs of one fan-out, replacing any
// earlier copy for the same category.
func (s *SQLiteStore) SaveOutputs(ctx context.Context, runID string, iteration int, outputs map[scheduler.Category]orchestrator.CategoryOutput) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, cat := range scheduler.Categories {
			out, ok := outputs[cat]
			if !ok {
				continue
			}
			issues, err := json.Marshal(out.Issues)
			if err != nil {
				return fmt.Errorf("failed to encode issues: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO outputs (run_id, iteration, category, handler_id, status, content, issues, error, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(run_id, iteration, category) DO UPDATE SET
					handler_id = excluded.handler_id,
					status = excluded.status,
					content = excluded.content,
					issues = excluded.issues,
					error = excluded.error,
					duration_ms = excluded.duration_ms
			`, runID, iteration, cat.String(), out.HandlerID, int(out.Status), out.Content, string(issues),
				errString(out.Err), out.Duration.Milliseconds())
			if err != nil {
				return fmt.Errorf("failed to save %s output: %w", cat, err)
			}
		}
		return nil
	})
}

// LoadOutputs returns the stored outputs of one fan-out. Errors come back
// as plain messages.
func (s *SQLiteStore) LoadOutputs(ctx context.Context, runID string, iteration int) (map[scheduler.Category]orchestrator.CategoryOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, handler_id, status, content, issues, error, duration_ms
		FROM outputs
		WHERE run_id = ? AND iteration = ?
	`, runID, iteration)
	if err != nil {
		return nil, fmt.Errorf("failed to query outputs: %w", err)
	}
	defer rows.Close()

	outputs := make(map[scheduler.Category]orchestrator.CategoryOutput)
	for rows.Next() {
		var (
			out                    orchestrator.CategoryOutput
			category               string
			status                 int
			content, issues, errTx sql.NullString
			ms                     int64
		)
		if err := rows.Scan(&category, &out.HandlerID, &status, &content, &issues, &errTx, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		_ = out.Category.UnmarshalText([]byte(category))
		out.Status = orchestrator.OutputStatus(status)
		out.Content = content.String
		out.Duration = time.Duration(ms) * time.Millisecond
		if issues.String != "" {
			if err := json.Unmarshal([]byte(issues.String), &out.Issues); err != nil {
				return nil, fmt.Errorf("failed to decode issues: %w", err)
			}
		}
		if errTx.String != "" {
			out.Err = errors.New(errTx.String)
		}
		outputs[out.Category] = out
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outputs: %w", err)
	}
	return outputs, nil
}
