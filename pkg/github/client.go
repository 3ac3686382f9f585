// Package github provides source-host operations using the gh CLI.
// All operations run on the host since they're pure API calls.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/logx"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("not found on github")

// Host defines the source-host operations consumed by the engine, actions,
// conditions and filters. This interface enables testing with mock
// implementations.
type Host interface {
	GetRepository(ctx context.Context, project *imbi.Project) (*Repository, error)
	GetRepositoryWorkflowStatus(ctx context.Context, repo *Repository) (string, error)
	GetFileContents(ctx context.Context, repo *Repository, path string) (string, error)
	CreatePullRequest(ctx context.Context, repo *Repository, opts PRCreateOptions) (*PullRequest, error)
	GetPullRequest(ctx context.Context, repo *Repository, number int) (*PullRequest, error)
	BranchExists(ctx context.Context, repo *Repository, branch string) (bool, error)
	DeleteBranch(ctx context.Context, repo *Repository, branch string) error
	GetEnvironments(ctx context.Context, repo *Repository) ([]Environment, error)
	CreateEnvironment(ctx context.Context, repo *Repository, name string) error
	DeleteEnvironment(ctx context.Context, repo *Repository, name string) error
}

// Runner executes gh with the given arguments and returns combined output.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs the gh binary with credentials supplied via the environment.
type ExecRunner struct {
	Token    string
	Hostname string
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Env = os.Environ()
	if r.Token != "" {
		cmd.Env = append(cmd.Env, "GH_TOKEN="+r.Token)
	}
	if r.Hostname != "" && r.Hostname != config.DefaultGitHubHostname {
		cmd.Env = append(cmd.Env, "GH_HOST="+r.Hostname)
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("gh command failed: %w\nOutput: %s", err, string(output))
	}
	return output, nil
}

// Client provides source-host operations for many repositories on one host.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Client struct {
	hostname         string
	githubIdentifier string
	githubLink       string
	runner           Runner
	logger           *logx.Logger
	timeout          time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithRunner replaces the gh runner.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithProjectLinks sets the Imbi identifier and link names used to locate a
// project's repository.
func WithProjectLinks(identifier, link string) Option {
	return func(c *Client) {
		c.githubIdentifier = identifier
		c.githubLink = link
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

// NewClient creates a client for the configured host.
func NewClient(cfg config.GitHubConfig, opts ...Option) *Client {
	hostname := cfg.Hostname
	if hostname == "" {
		hostname = config.DefaultGitHubHostname
	}
	c := &Client{
		hostname:         hostname,
		githubIdentifier: config.DefaultImbiGitHubIDName,
		githubLink:       config.DefaultImbiGitHubLink,
		runner:           ExecRunner{Token: cfg.APIKey, Hostname: hostname},
		logger:           logx.NewLogger("github"),
		timeout:          30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Hostname returns the source host name.
func (c *Client) Hostname() string {
	return c.hostname
}

// API executes a GitHub API call and returns the raw response.
func (c *Client) API(ctx context.Context, method, endpoint string, fields map[string]any) ([]byte, error) {
	args := []string{"api", "-X", method, endpoint}

	// Sorted so the argument list is deterministic.
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch v := fields[key].(type) {
		case bool, int, int64:
			args = append(args, "-F", fmt.Sprintf("%s=%v", key, v))
		default:
			args = append(args, "-f", fmt.Sprintf("%s=%v", key, v))
		}
	}

	return c.run(ctx, args...)
}

// APIGet executes a GET request to the GitHub API.
func (c *Client) APIGet(ctx context.Context, endpoint string) ([]byte, error) {
	return c.API(ctx, "GET", endpoint, nil)
}

// run executes a gh command and returns the output. A 404 maps to ErrNotFound.
func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Debug("Executing: gh %s", strings.Join(args, " "))

	output, err := c.runner.Run(ctx, args...)
	if err != nil {
		c.logger.Debug("Command failed: %v", err)
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(args, " "))
		}
		return nil, err
	}
	return output, nil
}

// getJSON executes an API GET and unmarshals the JSON response.
func (c *Client) getJSON(ctx context.Context, endpoint string, result any) error {
	output, err := c.APIGet(ctx, endpoint)
	if err != nil {
		return err
	}
	if len(output) == 0 {
		return nil
	}
	if err := json.Unmarshal(output, result); err != nil {
		return fmt.Errorf("failed to parse JSON response: %w\nOutput: %s", err, string(output))
	}
	return nil
}

func isNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "HTTP 404") || strings.Contains(msg, "Not Found")
}

// ParseGitHubURL extracts owner and repo from SSH or HTTPS URLs on hostname.
func ParseGitHubURL(hostname, url string) (owner, repo string, err error) {
	sshPrefix := "git@" + hostname + ":"
	httpsPrefix := "https://" + hostname + "/"

	var path, kind string
	switch {
	case strings.HasPrefix(url, sshPrefix):
		path, kind = strings.TrimPrefix(url, sshPrefix), "SSH"
	case strings.HasPrefix(url, httpsPrefix):
		path, kind = strings.TrimPrefix(url, httpsPrefix), "HTTPS"
	default:
		return "", "", fmt.Errorf("unsupported Git URL format: %s", url)
	}

	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GitHub %s URL format: %s", kind, url)
	}
	return parts[0], parts[1], nil
}
