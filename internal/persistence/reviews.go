package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lmandrelli/grape-coder/internal/orchestrator"
)

// SaveRevision stores an artifact revision.
func (s *SQLiteStore) SaveRevision(ctx context.Context, runID string, artifact orchestrator.Artifact) error {
	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO revisions (run_id, revision, root, entry_point, summary, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, revision) DO UPDATE SET
				root = excluded.root,
				entry_point = excluded.entry_point,
				summary = excluded.summary,
				created_at = excluded.created_at
		`, runID, artifact.Revision, artifact.Root, artifact.EntryPoint, artifact.Summary, artifact.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to save revision %d: %w", artifact.Revision, err)
		}
		return nil
	})
}

// Revisions returns every stored revision of a run, oldest first.
func (s *SQLiteStore) Revisions(ctx context.Context, runID string) ([]orchestrator.Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT revision, root, entry_point, summary, created_at
		FROM revisions
		WHERE run_id = ?
		ORDER BY revision
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	revs := []orchestrator.Artifact{}
	for rows.Next() {
		var a orchestrator.Artifact
		var summary sql.NullString
		if err := rows.Scan(&a.Revision, &a.Root, &a.EntryPoint, &summary, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		a.Summary = summary.String
		revs = append(revs, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}
	return revs, nil
}

// LatestRevision returns the highest stored revision of a run.
func (s *SQLiteStore) LatestRevision(ctx context.Context, runID string) (orchestrator.Artifact, error) {
	revs, err := s.Revisions(ctx, runID)
	if err != nil {
		return orchestrator.Artifact{}, err
	}
	if len(revs) == 0 {
		return orchestrator.Artifact{}, fmt.Errorf("revision of run %s: %w", runID, ErrNotFound)
	}
	return revs[len(revs)-1], nil
}

// SaveReview stores a review report with its rubric scores.
func (s *SQLiteStore) SaveReview(ctx context.Context, runID string, report orchestrator.ReviewReport) error {
	lint, err := json.Marshal(report.Lint.Issues)
	if err != nil {
		return fmt.Errorf("failed to encode lint issues: %w", err)
	}

	return s.tx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO reviews (run_id, iteration, feedback, verdict, lint)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, iteration) DO UPDATE SET
				feedback = excluded.feedback,
				verdict = excluded.verdict,
				lint = excluded.lint
		`, runID, report.Iteration, report.Feedback, report.Verdict.String(), string(lint))
		if err != nil {
			return fmt.Errorf("failed to save review: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM review_scores WHERE run_id = ? AND iteration = ?`, runID, report.Iteration); err != nil {
			return fmt.Errorf("failed to delete old scores: %w", err)
		}
		for _, c := range orchestrator.RubricCategories {
			score, ok := report.Scores[c]
			if !ok {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO review_scores (run_id, iteration, category, score)
				VALUES (?, ?, ?, ?)
			`, runID, report.Iteration, string(c), score)
			if err != nil {
				return fmt.Errorf("failed to save %s score: %w", c, err)
			}
		}
		return nil
	})
}

// Reviews returns every stored review of a run in iteration order.
func (s *SQLiteStore) Reviews(ctx context.Context, runID string) ([]orchestrator.ReviewReport, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, feedback, verdict, lint
		FROM reviews
		WHERE run_id = ?
		ORDER BY iteration
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	reports := []orchestrator.ReviewReport{}
	for rows.Next() {
		var (
			r              orchestrator.ReviewReport
			feedback, lint sql.NullString
			verdict        string
		)
		if err := rows.Scan(&r.Iteration, &feedback, &verdict, &lint); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		r.Feedback = feedback.String
		if verdict == orchestrator.VerdictApproved.String() {
			r.Verdict = orchestrator.VerdictApproved
		}
		if lint.String != "" {
			if err := json.Unmarshal([]byte(lint.String), &r.Lint.Issues); err != nil {
				return nil, fmt.Errorf("failed to decode lint issues: %w", err)
			}
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}
	rows.Close()

	for i := range reports {
		scores, err := s.scores(ctx, runID, reports[i].Iteration)
		if err != nil {
			return nil, err
		}
		reports[i].Scores = scores
	}
	return reports, nil
}

func (s *SQLiteStore) scores(ctx context.Context, runID string, iteration int) (orchestrator.Scores, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, score FROM review_scores WHERE run_id = ? AND iteration = ?
	`, runID, iteration)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	scores := orchestrator.Scores{}
	for rows.Next() {
		var cat string
		var v int
		if err := rows.Scan(&cat, &v); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		scores[orchestrator.RubricCategory(cat)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scores: %w", err)
	}
	if len(scores) == 0 {
		return nil, nil
	}
	return scores, nil
}
