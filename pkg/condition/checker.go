// Package condition evaluates workflow and action conditions against the
// cloned repository and, for remote conditions, against the source host.
package condition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"imbi-automations/pkg/github"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/workflow"
)

// Checker evaluates conditions. It never modifies the working directory and
// only issues read requests to the source host.
type Checker struct {
	host   github.Host
	logger *logx.Logger
}

// NewChecker creates a checker. host may be nil when no remote conditions
// are used.
func NewChecker(host github.Host) *Checker {
	return &Checker{host: host, logger: logx.NewLogger("conditions")}
}

// Check evaluates the local conditions in conditions against the repository
// in wctx. Remote conditions are ignored. An empty set is met.
func (c *Checker) Check(_ context.Context, wctx *workflow.Context, conditionType workflow.ConditionType, conditions []workflow.Condition) (bool, error) {
	var results []bool
	for i := range conditions {
		if conditions[i].IsRemote() {
			continue
		}
		ok, err := c.checkLocal(wctx.RepositoryPath(), &conditions[i])
		if err != nil {
			return false, err
		}
		results = append(results, ok)
	}
	return combine(conditionType, results), nil
}

// CheckRemote evaluates the remote conditions in conditions through the
// source host. Local conditions are ignored. Without a repository every
// remote condition is met.
func (c *Checker) CheckRemote(ctx context.Context, wctx *workflow.Context, conditionType workflow.ConditionType, conditions []workflow.Condition) (bool, error) {
	var results []bool
	for i := range conditions {
		if !conditions[i].IsRemote() {
			continue
		}
		if wctx.Repository == nil || c.host == nil {
			c.logger.Debug("No repository available for remote conditions")
			return true, nil
		}
		results = append(results, c.checkRemote(ctx, wctx.Repository, &conditions[i]))
	}
	return combine(conditionType, results), nil
}

func combine(conditionType workflow.ConditionType, results []bool) bool {
	if len(results) == 0 {
		return true
	}
	if conditionType == workflow.ConditionAny {
		for _, ok := range results {
			if ok {
				return true
			}
		}
		return false
	}
	for _, ok := range results {
		if !ok {
			return false
		}
	}
	return true
}

func (c *Checker) checkLocal(root string, cond *workflow.Condition) (bool, error) {
	switch {
	case cond.FileExists != "":
		exists, err := pathExists(root, cond.FileExists)
		c.logger.Debug("Condition file_exists %q: %v", cond.FileExists, exists)
		return exists, err

	case cond.FileNotExists != "":
		exists, err := pathExists(root, cond.FileNotExists)
		c.logger.Debug("Condition file_not_exists %q: %v", cond.FileNotExists, !exists)
		return !exists, err

	case cond.FileContains != "":
		return c.fileContains(root, cond.File, cond.FileContains)

	case cond.FileDoesntContain != "":
		found, err := c.fileContains(root, cond.File, cond.FileDoesntContain)
		return !found, err
	}
	return true, nil
}

// pathExists reports whether pattern matches anything below root. Patterns
// follow filepath.Match per path segment.
func pathExists(root, pattern string) (bool, error) {
	path, err := within(root, pattern)
	if err != nil {
		return false, err
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		return false, workflow.Invalidf("invalid path pattern %q: %v", pattern, err)
	}
	return len(matches) > 0, nil
}

// fileContains reports whether any file matching pattern contains expr. An
// unreadable or missing file does not contain anything.
func (c *Checker) fileContains(root, pattern, expr string) (bool, error) {
	path, err := within(root, pattern)
	if err != nil {
		return false, err
	}
	matches, err := filepath.Glob(path)
	if err != nil {
		return false, workflow.Invalidf("invalid path pattern %q: %v", pattern, err)
	}
	for _, match := range matches {
		data, err := os.ReadFile(match)
		if err != nil {
			c.logger.Debug("Condition file_contains: cannot read %s: %v", match, err)
			continue
		}
		if Contains(string(data), expr) {
			c.logger.Debug("Condition file_contains %q in %q: true", expr, pattern)
			return true, nil
		}
	}
	c.logger.Debug("Condition file_contains %q in %q: false", expr, pattern)
	return false, nil
}

func (c *Checker) checkRemote(ctx context.Context, repo *github.Repository, cond *workflow.Condition) bool {
	switch {
	case cond.RemoteFileExists != "":
		exists, ok := c.remoteExists(ctx, repo, cond.RemoteFileExists)
		return !ok || exists

	case cond.RemoteFileNotExists != "":
		exists, ok := c.remoteExists(ctx, repo, cond.RemoteFileNotExists)
		return !ok || !exists

	case cond.RemoteFileContains != "":
		content, exists, ok := c.remoteContent(ctx, repo, cond.RemoteFile)
		if !ok {
			return true
		}
		return exists && Contains(content, cond.RemoteFileContains)

	case cond.RemoteFileDoesntContain != "":
		content, exists, ok := c.remoteContent(ctx, repo, cond.RemoteFile)
		if !ok {
			return true
		}
		return !exists || !Contains(content, cond.RemoteFileDoesntContain)
	}
	return true
}

// remoteExists returns whether path exists. ok is false when the host could
// not answer; callers then treat the condition as met.
func (c *Checker) remoteExists(ctx context.Context, repo *github.Repository, path string) (exists, ok bool) {
	_, exists, ok = c.remoteContent(ctx, repo, path)
	return exists, ok
}

func (c *Checker) remoteContent(ctx context.Context, repo *github.Repository, path string) (content string, exists, ok bool) {
	content, err := c.host.GetFileContents(ctx, repo, path)
	if err != nil {
		if errors.Is(err, github.ErrNotFound) {
			c.logger.Debug("Remote file %s not found in %s", path, repo.Path())
			return "", false, true
		}
		c.logger.Warn("Failed to check remote file %s in %s: %v", path, repo.Path(), err)
		return "", false, false
	}
	return content, true, true
}

// Contains reports whether content matches expr as a regular expression, or
// contains it literally when expr is not a valid expression.
func Contains(content, expr string) bool {
	re, err := regexp.Compile(expr)
	if err != nil {
		return strings.Contains(content, expr)
	}
	return re.MatchString(content)
}

func within(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", workflow.Invalidf("condition path %s must be relative", rel)
	}
	joined := filepath.Join(root, rel)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", workflow.Invalidf("condition path %s escapes the repository", rel)
	}
	return joined, nil
}
