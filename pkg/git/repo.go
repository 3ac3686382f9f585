package git

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/logx"
)

// Repo is a working copy on disk.
type Repo struct {
	dir    string
	runner Runner
	cfg    config.GitConfig
	logger *logx.Logger
}

// Author identifies the person recorded on a commit.
type Author struct {
	Name  string
	Email string
}

func (a Author) String() string {
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

var commitSHAPattern = regexp.MustCompile(`\[.*?([a-f0-9]{7,40})\]`)

// Dir returns the working copy path.
func (r *Repo) Dir() string {
	return r.dir
}

func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	output, err := r.runner.Run(ctx, r.dir, args...)
	return string(output), err
}

// HeadCommit returns the full hash of HEAD.
func (r *Repo) HeadCommit(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Status returns porcelain status lines; empty means a clean tree.
func (r *Repo) Status(ctx context.Context) ([]string, error) {
	out, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// AddAll stages every change including deletions.
func (r *Repo) AddAll(ctx context.Context) error {
	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}
	return nil
}

// Commit creates a commit with the staged changes and returns its short
// hash. It returns an empty hash when there is nothing to commit.
func (r *Repo) Commit(ctx context.Context, message string, author Author) (string, error) {
	var args []string
	if r.cfg.GPGSign {
		args = append(args, "-c", "commit.gpgsign=true")
		if r.cfg.SigningKey != "" {
			args = append(args, "-c", "user.signingkey="+r.cfg.SigningKey)
		}
	}
	if author.Name != "" {
		args = append(args, "-c", "user.name="+author.Name, "-c", "user.email="+author.Email)
	}
	args = append(args, "commit", "-m", message)

	out, err := r.run(ctx, args...)
	if err != nil {
		if nothingToCommit(out) {
			return "", nil
		}
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	if nothingToCommit(out) {
		return "", nil
	}

	if m := commitSHAPattern.FindStringSubmatch(out); m != nil {
		return m[1], nil
	}
	// Fall back to HEAD when the summary line has an unexpected shape.
	return r.HeadCommit(ctx)
}

func nothingToCommit(output string) bool {
	return strings.Contains(output, "nothing to commit") ||
		strings.Contains(output, "no changes added to commit")
}

// CreateBranch creates and checks out a new branch at HEAD, replacing any
// local branch of the same name.
func (r *Repo) CreateBranch(ctx context.Context, branch string) error {
	if _, err := r.run(ctx, "checkout", "-B", branch); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}
	return nil
}

// Push pushes branch to remote and sets it as upstream.
func (r *Repo) Push(ctx context.Context, remote, branch string, force bool) error {
	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, "--set-upstream", remote, branch)
	if _, err := r.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to push %s to %s: %w", branch, remote, err)
	}
	return nil
}

// DeleteRemoteBranchIfExists removes branch from remote. It reports whether
// a branch was deleted.
func (r *Repo) DeleteRemoteBranchIfExists(ctx context.Context, remote, branch string) (bool, error) {
	out, err := r.run(ctx, "ls-remote", "--heads", remote, branch)
	if err != nil {
		return false, fmt.Errorf("failed to query remote branch %s: %w", branch, err)
	}
	if strings.TrimSpace(out) == "" {
		return false, nil
	}
	if _, err := r.run(ctx, "push", remote, "--delete", branch); err != nil {
		return false, fmt.Errorf("failed to delete remote branch %s: %w", branch, err)
	}
	r.logger.Info("Deleted remote branch %s", branch)
	return true, nil
}

// Log returns commit hashes, newest first, whose message contains grep and
// which touch path. Either filter may be empty.
func (r *Repo) Log(ctx context.Context, grep, path string) ([]string, error) {
	args := []string{"log", "--format=%H"}
	if grep != "" {
		args = append(args, "--fixed-strings", "--grep="+grep)
	}
	if path != "" {
		args = append(args, "--", path)
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return strings.Fields(out), nil
}

// Show returns the contents of path at rev.
func (r *Repo) Show(ctx context.Context, rev, path string) ([]byte, error) {
	output, err := r.runner.Run(ctx, r.dir, "show", rev+":"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to show %s at %s: %w", path, rev, err)
	}
	return output, nil
}
