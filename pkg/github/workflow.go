package github

import (
	"context"
	"fmt"
	"net/url"
)

// WorkflowRun represents a GitHub Actions workflow run.
//
//nolint:govet // Logical grouping preferred over memory optimization
type WorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	HeadBranch string `json:"head_branch"`
	HeadSHA    string `json:"head_sha"`
	Status     string `json:"status"`     // queued, in_progress, completed
	Conclusion string `json:"conclusion"` // success, failure, cancelled, skipped, etc. (only for completed runs)
	URL        string `json:"html_url"`
	CreatedAt  string `json:"created_at"`
}

// WorkflowRunsResponse represents the API response for listing workflow runs.
//
//nolint:govet // fieldalignment: API response struct, field order matches API
type WorkflowRunsResponse struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

// GetRepositoryWorkflowStatus returns the state of the most recent workflow
// run on the default branch: its conclusion when completed, otherwise its
// status. An empty string means the repository has no runs.
func (c *Client) GetRepositoryWorkflowStatus(ctx context.Context, repo *Repository) (string, error) {
	query := url.Values{"per_page": {"1"}}
	if repo.DefaultBranch != "" {
		query.Set("branch", repo.DefaultBranch)
	}

	var response WorkflowRunsResponse
	endpoint := fmt.Sprintf("repos/%s/actions/runs?%s", repo.Path(), query.Encode())
	if err := c.getJSON(ctx, endpoint, &response); err != nil {
		return "", fmt.Errorf("failed to get workflow runs for %s: %w", repo.Path(), err)
	}

	if len(response.WorkflowRuns) == 0 {
		return "", nil
	}
	run := response.WorkflowRuns[0]
	if run.Conclusion != "" {
		return run.Conclusion, nil
	}
	return run.Status, nil
}
