package github

import (
	"context"
	"fmt"
	"net/url"
)

// Environment is a deployment environment configured on a repository.
type Environment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type environmentsResponse struct {
	TotalCount   int           `json:"total_count"`
	Environments []Environment `json:"environments"`
}

// GetEnvironments lists the repository's environments.
func (c *Client) GetEnvironments(ctx context.Context, repo *Repository) ([]Environment, error) {
	var response environmentsResponse
	if err := c.getJSON(ctx, fmt.Sprintf("repos/%s/environments", repo.Path()), &response); err != nil {
		return nil, fmt.Errorf("failed to list environments for %s: %w", repo.Path(), err)
	}
	return response.Environments, nil
}

// CreateEnvironment creates (or updates) a named environment.
func (c *Client) CreateEnvironment(ctx context.Context, repo *Repository, name string) error {
	endpoint := fmt.Sprintf("repos/%s/environments/%s", repo.Path(), url.PathEscape(name))
	if _, err := c.API(ctx, "PUT", endpoint, nil); err != nil {
		return fmt.Errorf("failed to create environment %s on %s: %w", name, repo.Path(), err)
	}
	c.logger.Info("Created environment %s on %s", name, repo.Path())
	return nil
}

// DeleteEnvironment removes a named environment.
func (c *Client) DeleteEnvironment(ctx context.Context, repo *Repository, name string) error {
	endpoint := fmt.Sprintf("repos/%s/environments/%s", repo.Path(), url.PathEscape(name))
	if _, err := c.API(ctx, "DELETE", endpoint, nil); err != nil {
		return fmt.Errorf("failed to delete environment %s on %s: %w", name, repo.Path(), err)
	}
	c.logger.Info("Deleted environment %s from %s", name, repo.Path())
	return nil
}
