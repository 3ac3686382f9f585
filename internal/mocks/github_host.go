package mocks

import (
	"context"
	"fmt"
	"sync"

	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
)

// MockGitHubHost implements github.Host for testing.
// It provides configurable behavior for all source-host operations.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockGitHubHost struct {
	// Function handlers for each method
	GetRepositoryFunc     func(ctx context.Context, project *imbi.Project) (*github.Repository, error)
	WorkflowStatusFunc    func(ctx context.Context, repo *github.Repository) (string, error)
	GetFileContentsFunc   func(ctx context.Context, repo *github.Repository, path string) (string, error)
	CreatePullRequestFunc func(ctx context.Context, repo *github.Repository, opts github.PRCreateOptions) (*github.PullRequest, error)
	GetPullRequestFunc    func(ctx context.Context, repo *github.Repository, number int) (*github.PullRequest, error)
	BranchExistsFunc      func(ctx context.Context, repo *github.Repository, branch string) (bool, error)
	DeleteBranchFunc      func(ctx context.Context, repo *github.Repository, branch string) error
	GetEnvironmentsFunc   func(ctx context.Context, repo *github.Repository) ([]github.Environment, error)
	CreateEnvironmentFunc func(ctx context.Context, repo *github.Repository, name string) error
	DeleteEnvironmentFunc func(ctx context.Context, repo *github.Repository, name string) error

	// Call tracking
	GetFileContentsCalls   []string
	CreatePullRequestCalls []github.PRCreateOptions
	CreatedEnvironments    []string
	DeletedEnvironments    []string

	// Files served by the default GetFileContents, keyed by path.
	Files map[string]string

	mu sync.Mutex
}

// NewMockGitHubHost creates a mock host with default behavior: every project
// maps to a mock repository, files come from Files, and writes succeed.
func NewMockGitHubHost() *MockGitHubHost {
	m := &MockGitHubHost{Files: map[string]string{}}

	m.GetRepositoryFunc = func(_ context.Context, project *imbi.Project) (*github.Repository, error) {
		return MockRepository(project.Slug), nil
	}
	m.WorkflowStatusFunc = func(_ context.Context, _ *github.Repository) (string, error) {
		return "success", nil
	}
	m.GetFileContentsFunc = func(_ context.Context, _ *github.Repository, path string) (string, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		content, ok := m.Files[path]
		if !ok {
			return "", fmt.Errorf("%w: %s", github.ErrNotFound, path)
		}
		return content, nil
	}
	m.CreatePullRequestFunc = func(_ context.Context, repo *github.Repository, opts github.PRCreateOptions) (*github.PullRequest, error) {
		return &github.PullRequest{
			Number: 1,
			URL:    fmt.Sprintf("https://github.com/%s/pull/1", repo.Path()),
			Title:  opts.Title,
			Body:   opts.Body,
			State:  "open",
			Head:   github.PRRef{Ref: opts.Head},
			Base:   github.PRRef{Ref: opts.Base},
		}, nil
	}
	m.GetPullRequestFunc = func(_ context.Context, _ *github.Repository, number int) (*github.PullRequest, error) {
		return &github.PullRequest{Number: number, State: "open", Head: github.PRRef{Ref: "imbi-automations/mock"}}, nil
	}
	m.BranchExistsFunc = func(_ context.Context, _ *github.Repository, _ string) (bool, error) {
		return false, nil
	}
	m.DeleteBranchFunc = func(_ context.Context, _ *github.Repository, _ string) error {
		return nil
	}
	m.GetEnvironmentsFunc = func(_ context.Context, _ *github.Repository) ([]github.Environment, error) {
		return nil, nil
	}
	m.CreateEnvironmentFunc = func(_ context.Context, _ *github.Repository, _ string) error {
		return nil
	}
	m.DeleteEnvironmentFunc = func(_ context.Context, _ *github.Repository, _ string) error {
		return nil
	}
	return m
}

// MockRepository returns a repository owned by mock-owner.
func MockRepository(name string) *github.Repository {
	return &github.Repository{
		ID:            1,
		Name:          name,
		FullName:      "mock-owner/" + name,
		Owner:         github.Owner{Login: "mock-owner"},
		DefaultBranch: "main",
		SSHURL:        "git@github.com:mock-owner/" + name + ".git",
		CloneURL:      "https://github.com/mock-owner/" + name + ".git",
	}
}

// GetRepository implements github.Host.
func (m *MockGitHubHost) GetRepository(ctx context.Context, project *imbi.Project) (*github.Repository, error) {
	return m.GetRepositoryFunc(ctx, project)
}

// GetRepositoryWorkflowStatus implements github.Host.
func (m *MockGitHubHost) GetRepositoryWorkflowStatus(ctx context.Context, repo *github.Repository) (string, error) {
	return m.WorkflowStatusFunc(ctx, repo)
}

// GetFileContents implements github.Host.
func (m *MockGitHubHost) GetFileContents(ctx context.Context, repo *github.Repository, path string) (string, error) {
	m.mu.Lock()
	m.GetFileContentsCalls = append(m.GetFileContentsCalls, path)
	m.mu.Unlock()
	return m.GetFileContentsFunc(ctx, repo, path)
}

// CreatePullRequest implements github.Host.
func (m *MockGitHubHost) CreatePullRequest(ctx context.Context, repo *github.Repository, opts github.PRCreateOptions) (*github.PullRequest, error) {
	m.mu.Lock()
	m.CreatePullRequestCalls = append(m.CreatePullRequestCalls, opts)
	m.mu.Unlock()
	return m.CreatePullRequestFunc(ctx, repo, opts)
}

// GetPullRequest implements github.Host.
func (m *MockGitHubHost) GetPullRequest(ctx context.Context, repo *github.Repository, number int) (*github.PullRequest, error) {
	return m.GetPullRequestFunc(ctx, repo, number)
}

// BranchExists implements github.Host.
func (m *MockGitHubHost) BranchExists(ctx context.Context, repo *github.Repository, branch string) (bool, error) {
	return m.BranchExistsFunc(ctx, repo, branch)
}

// DeleteBranch implements github.Host.
func (m *MockGitHubHost) DeleteBranch(ctx context.Context, repo *github.Repository, branch string) error {
	return m.DeleteBranchFunc(ctx, repo, branch)
}

// GetEnvironments implements github.Host.
func (m *MockGitHubHost) GetEnvironments(ctx context.Context, repo *github.Repository) ([]github.Environment, error) {
	return m.GetEnvironmentsFunc(ctx, repo)
}

// CreateEnvironment implements github.Host.
func (m *MockGitHubHost) CreateEnvironment(ctx context.Context, repo *github.Repository, name string) error {
	m.mu.Lock()
	m.CreatedEnvironments = append(m.CreatedEnvironments, name)
	m.mu.Unlock()
	return m.CreateEnvironmentFunc(ctx, repo, name)
}

// DeleteEnvironment implements github.Host.
func (m *MockGitHubHost) DeleteEnvironment(ctx context.Context, repo *github.Repository, name string) error {
	m.mu.Lock()
	m.DeletedEnvironments = append(m.DeletedEnvironments, name)
	m.mu.Unlock()
	return m.DeleteEnvironmentFunc(ctx, repo, name)
}

// PullRequestCount returns the number of CreatePullRequest calls.
func (m *MockGitHubHost) PullRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CreatePullRequestCalls)
}
