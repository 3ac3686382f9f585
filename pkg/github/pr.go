package github

import (
	"context"
	"encoding/json"
	"fmt"
)

// PullRequest represents a GitHub pull request as returned by the REST API.
//
//nolint:govet // Logical grouping preferred over memory optimization
type PullRequest struct {
	Number  int    `json:"number"`
	URL     string `json:"html_url"`
	Title   string `json:"title"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
	Head    PRRef  `json:"head"`
	Base    PRRef  `json:"base"`
	Body    string `json:"body"`
	Created string `json:"created_at"`
}

// PRRef is one side of a pull request.
type PRRef struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PRCreateOptions contains options for creating a pull request.
type PRCreateOptions struct {
	Title string
	Body  string
	Head  string // Source branch
	Base  string // Target branch (default: repository default branch)
}

// CreatePullRequest opens a pull request.
func (c *Client) CreatePullRequest(ctx context.Context, repo *Repository, opts PRCreateOptions) (*PullRequest, error) {
	if opts.Head == "" {
		return nil, fmt.Errorf("head branch is required")
	}
	if opts.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if opts.Base == "" {
		opts.Base = repo.DefaultBranch
	}

	output, err := c.API(ctx, "POST", fmt.Sprintf("repos/%s/pulls", repo.Path()), map[string]any{
		"title": opts.Title,
		"body":  opts.Body,
		"head":  opts.Head,
		"base":  opts.Base,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request on %s: %w", repo.Path(), err)
	}

	var pr PullRequest
	if err := json.Unmarshal(output, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse pull request: %w", err)
	}
	c.logger.Info("Created pull request #%d on %s: %s", pr.Number, repo.Path(), pr.URL)
	return &pr, nil
}

// GetPullRequest retrieves a pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, repo *Repository, number int) (*PullRequest, error) {
	var pr PullRequest
	if err := c.getJSON(ctx, fmt.Sprintf("repos/%s/pulls/%d", repo.Path(), number), &pr); err != nil {
		return nil, fmt.Errorf("failed to get pull request #%d on %s: %w", number, repo.Path(), err)
	}
	return &pr, nil
}
