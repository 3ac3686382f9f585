package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Run is one workflow execution against one project.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Run struct {
	ID             string
	WorkflowSlug   string
	ProjectID      int
	ProjectSlug    string
	StartedAt      time.Time
	FinishedAt     time.Time
	Success        bool
	Completed      bool
	Error          string
	PreservedPath  string
	PullRequestURL string
	FinalState     string
}

// Duration is how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RecordRun inserts run. An empty ID is filled with a new UUID.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	query := `
		INSERT INTO runs (
			id, workflow_slug, project_id, project_slug, started_at, finished_at,
			success, completed, error, preserved_path, pull_request_url, final_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.WorkflowSlug, run.ProjectID, run.ProjectSlug,
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
		boolToInt(run.Success), boolToInt(run.Completed),
		run.Error, run.PreservedPath, run.PullRequestURL, run.FinalState,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first. An empty workflowSlug lists
// every workflow; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, workflowSlug string, limit int) ([]*Run, error) {
	query := `
		SELECT id, workflow_slug, project_id, project_slug, started_at, finished_at,
			success, completed, error, preserved_path, pull_request_url, final_state
		FROM runs
		WHERE (? = '' OR workflow_slug = ?)
		ORDER BY started_at DESC, id
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, query, workflowSlug, workflowSlug, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		var (
			run                Run
			started, finished  string
			success, completed int
		)
		if err := rows.Scan(&run.ID, &run.WorkflowSlug, &run.ProjectID, &run.ProjectSlug,
			&started, &finished, &success, &completed,
			&run.Error, &run.PreservedPath, &run.PullRequestURL, &run.FinalState); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("invalid started_at for run %s: %w", run.ID, err)
		}
		if run.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("invalid finished_at for run %s: %w", run.ID, err)
		}
		run.Success = success != 0
		run.Completed = completed != 0
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
