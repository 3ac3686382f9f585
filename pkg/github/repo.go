package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"imbi-automations/pkg/imbi"
)

// Repository represents a GitHub repository.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Owner         Owner  `json:"owner"`
	DefaultBranch string `json:"default_branch"`
	HTMLURL       string `json:"html_url"`
	CloneURL      string `json:"clone_url"`
	SSHURL        string `json:"ssh_url"`
	Private       bool   `json:"private"`
	Archived      bool   `json:"archived"`
}

// Owner is the account that owns a repository.
type Owner struct {
	Login string `json:"login"`
}

// Path returns the owner/name path used in API endpoints.
func (r *Repository) Path() string {
	if r.FullName != "" {
		return r.FullName
	}
	return r.Owner.Login + "/" + r.Name
}

// GetRepository resolves the repository linked to an Imbi project. It looks
// up the numeric identifier first and falls back to the project link. A
// project with neither, or one whose repository is gone, yields nil.
func (c *Client) GetRepository(ctx context.Context, project *imbi.Project) (*Repository, error) {
	var endpoint string
	if id, ok := project.Identifier(c.githubIdentifier); ok {
		endpoint = "repositories/" + id
	} else if link := project.Links[c.githubLink]; link != "" {
		owner, name, err := ParseGitHubURL(c.hostname, link)
		if err != nil {
			return nil, fmt.Errorf("project %s: %w", project.Slug, err)
		}
		endpoint = fmt.Sprintf("repos/%s/%s", owner, name)
	} else {
		c.logger.Debug("Project %s has no %s identifier or link", project.Slug, c.githubIdentifier)
		return nil, nil
	}

	var repo Repository
	if err := c.getJSON(ctx, endpoint, &repo); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Warn("Repository for project %s not found", project.Slug)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get repository for %s: %w", project.Slug, err)
	}
	return &repo, nil
}

// GetRepositoryByName fetches a repository by owner and name.
func (c *Client) GetRepositoryByName(ctx context.Context, owner, name string) (*Repository, error) {
	var repo Repository
	if err := c.getJSON(ctx, fmt.Sprintf("repos/%s/%s", owner, name), &repo); err != nil {
		return nil, fmt.Errorf("failed to get repository %s/%s: %w", owner, name, err)
	}
	return &repo, nil
}

type contentResponse struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFileContents returns the decoded contents of path on the default branch.
// Directories exist but have no content. A missing path returns ErrNotFound.
func (c *Client) GetFileContents(ctx context.Context, repo *Repository, path string) (string, error) {
	endpoint := fmt.Sprintf("repos/%s/contents/%s", repo.Path(), url.PathEscape(strings.TrimPrefix(path, "/")))
	endpoint = strings.ReplaceAll(endpoint, "%2F", "/")

	output, err := c.APIGet(ctx, endpoint)
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(string(output))
	if strings.HasPrefix(trimmed, "[") {
		return "", nil
	}

	var content contentResponse
	if err := json.Unmarshal(output, &content); err != nil {
		return "", fmt.Errorf("failed to parse contents of %s: %w", path, err)
	}
	if content.Encoding != "base64" {
		return content.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("failed to decode contents of %s: %w", path, err)
	}
	return string(decoded), nil
}
