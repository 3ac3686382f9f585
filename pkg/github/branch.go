package github

import (
	"context"
	"errors"
	"fmt"
)

// BranchExists checks if a branch exists.
func (c *Client) BranchExists(ctx context.Context, repo *Repository, branch string) (bool, error) {
	_, err := c.APIGet(ctx, fmt.Sprintf("repos/%s/branches/%s", repo.Path(), branch))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get branch %s: %w", branch, err)
	}
	return true, nil
}

// DeleteBranch deletes a remote branch. A branch that does not exist is not
// an error.
func (c *Client) DeleteBranch(ctx context.Context, repo *Repository, branch string) error {
	_, err := c.API(ctx, "DELETE", fmt.Sprintf("repos/%s/git/refs/heads/%s", repo.Path(), branch), nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Debug("Branch %s does not exist on %s", branch, repo.Path())
			return nil
		}
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}
	c.logger.Info("Deleted branch %s from %s", branch, repo.Path())
	return nil
}
