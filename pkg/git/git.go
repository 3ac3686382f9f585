// Package git wraps the git command line for the working copies the engine
// clones, commits to and pushes from.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/logx"
)

// Runner provides an interface for running Git commands with dependency injection support.
type Runner interface {
	// Run executes a Git command in the specified directory and returns
	// stdout+stderr combined output.
	Run(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// ExecRunner implements Runner using the system git command.
type ExecRunner struct {
	logger *logx.Logger
}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{logger: logx.NewLogger("git")}
}

// Run executes a Git command using exec.CommandContext.
func (g *ExecRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	logDir := dir
	if logDir == "" {
		logDir = "."
	}
	g.logger.Debug("Executing Git command: cd %s && git %s", logDir, strings.Join(args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		g.logger.Debug("Git command output: %s", string(output))
		return output, fmt.Errorf("git %s failed in %s: %w\nOutput: %s",
			strings.Join(args, " "), logDir, err, string(output))
	}
	return output, nil
}

// Client clones repositories and opens existing working copies.
type Client struct {
	runner Runner
	cfg    config.GitConfig
	logger *logx.Logger
}

// NewClient creates a client that runs git through runner.
func NewClient(runner Runner, cfg config.GitConfig) *Client {
	return &Client{runner: runner, cfg: cfg, logger: logx.NewLogger("git")}
}

// Clone clones url into dest. An empty branch uses the remote default and a
// depth of 0 clones the full history.
func (c *Client) Clone(ctx context.Context, url, dest, branch string, depth int) (*Repo, error) {
	args := []string{"clone"}
	if depth > 0 {
		args = append(args, "--depth", fmt.Sprintf("%d", depth))
	}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, url, dest)

	c.logger.Debug("Cloning %s into %s", url, dest)
	if _, err := c.runner.Run(ctx, "", args...); err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return c.Open(dest), nil
}

// Open returns a Repo for an existing working copy.
func (c *Client) Open(dir string) *Repo {
	return &Repo{dir: dir, runner: c.runner, cfg: c.cfg, logger: c.logger}
}
