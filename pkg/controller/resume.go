package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"imbi-automations/pkg/engine"
	"imbi-automations/pkg/resume"
	"imbi-automations/pkg/utils"
	"imbi-automations/pkg/workflow"
)

// Resume continues the execution preserved in dir. A missing or unreadable
// state file, or a workflow that no longer exists, fails before any work is
// done. A changed workflow path or configuration only warns.
func (c *Controller) Resume(ctx context.Context, dir string) (bool, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	unlock, err := resume.Lock(abs)
	if err != nil {
		return false, err
	}
	defer unlock()

	state, err := resume.Read(abs)
	if err != nil {
		return false, fmt.Errorf("failed to load resume state from %s: %w", abs, err)
	}
	state.PreservedDirectoryPath = abs

	c.logger.Info("Resuming workflow %q for project %s from action %q (index %d)",
		state.WorkflowSlug, state.ProjectSlug, state.FailedActionName, state.FailedActionIndex)

	if err := c.checkResumeWorkflow(state); err != nil {
		return false, err
	}

	project, err := c.deps.Imbi.GetProject(ctx, int(state.ProjectID))
	if err != nil {
		return false, fmt.Errorf("failed to fetch project %d: %w", state.ProjectID, err)
	}

	out := &outcome{project: project, started: c.now()}
	out.result, err = c.deps.Executor.Resume(ctx, state, project, nil)
	c.finish(ctx, out, err)
	c.writeMetrics()
	if err != nil {
		c.logger.Error("Workflow resume failed for %s", state.ProjectSlug)
		return false, fmt.Errorf("project %s: %w", project.Slug, err)
	}
	c.logger.Info("Successfully resumed and completed workflow for %s", state.ProjectSlug)
	return true, nil
}

func (c *Controller) checkResumeWorkflow(state *resume.State) error {
	if _, err := os.Stat(state.WorkflowPath); err != nil {
		return fmt.Errorf("workflow path from state file does not exist: %s", state.WorkflowPath)
	}
	configFile := filepath.Join(state.WorkflowPath, "config.toml")
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("workflow from state file missing config.toml: %s", configFile)
	}

	wf := c.deps.Executor.Workflow()
	if !samePath(state.WorkflowPath, wf.Path) {
		c.logger.Warn("Resume state workflow path (%s) differs from current (%s)", state.WorkflowPath, wf.Path)
	}

	hash, err := c.cfg.Hash()
	if err != nil {
		c.logger.Warn("Failed to hash configuration: %v", err)
		return nil
	}
	if hash != state.ConfigurationHash {
		c.logger.Warn("Configuration has changed since error occurred. Resume may behave unexpectedly.")
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

// RerunFollowup runs the workflow's followup-stage actions against the open
// pull request prNumber of the project. The repository is cloned on the pull
// request branch and the engine resumes at the first followup action, so the
// primary stage is not repeated.
func (c *Controller) RerunFollowup(ctx context.Context, projectID, prNumber int) (bool, error) {
	if prNumber <= 0 {
		return false, fmt.Errorf("a pull request number is required to re-run followup actions")
	}
	if c.deps.Git == nil {
		return false, fmt.Errorf("re-running followup actions requires a git client")
	}
	wf := c.deps.Executor.Workflow()
	followup := wf.ActionIndices(workflow.StageFollowup)
	if len(followup) == 0 {
		return false, fmt.Errorf("%w: %q", ErrNoFollowupActions, wf.Configuration.Name)
	}
	first := followup[0]

	project, err := c.deps.Imbi.GetProject(ctx, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch project %d: %w", projectID, err)
	}
	repo, err := c.repository(ctx, project)
	if err != nil {
		return false, err
	}
	if repo == nil {
		return false, fmt.Errorf("no GitHub repository found for project %s", project.Slug)
	}

	branch := wf.PullRequestBranch()
	c.logger.Info("Re-running followup stage for project %s (PR #%d on branch %s)", project.Slug, prNumber, branch)

	dir, err := os.MkdirTemp("", fmt.Sprintf("imbi-rerun-%s-", utils.SanitizeIdentifier(project.Slug)))
	if err != nil {
		return false, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	target, err := filepath.Abs(wf.Path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve workflow path: %w", err)
	}
	if err := os.Symlink(target, filepath.Join(dir, workflow.WorkflowLink)); err != nil {
		return false, fmt.Errorf("unable to create symlink for workflow: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, workflow.ExtractedDir), 0o755); err != nil {
		return false, fmt.Errorf("failed to create extracted directory: %w", err)
	}

	url := repo.SSHURL
	if wf.Configuration.Git.CloneType == workflow.CloneHTTP {
		url = repo.CloneURL
	}
	cloned, err := c.deps.Git.Clone(ctx, url, filepath.Join(dir, workflow.RepositoryDir), branch, wf.Configuration.Git.Depth)
	if err != nil {
		return false, err
	}
	startingCommit, err := cloned.HeadCommit(ctx)
	if err != nil {
		return false, err
	}

	hash, err := c.cfg.Hash()
	if err != nil {
		c.logger.Warn("Failed to hash configuration: %v", err)
	}
	state := &resume.State{
		WorkflowSlug:           wf.Slug,
		WorkflowPath:           wf.Path,
		ProjectID:              int64(project.ID),
		ProjectSlug:            project.Slug,
		FailedActionIndex:      first,
		FailedActionName:       wf.Configuration.Actions[first].Base().Name,
		CompletedActionIndices: wf.ActionIndices(workflow.StagePrimary),
		StartingCommit:         startingCommit,
		HasRepositoryChanges:   true,
		GitHubRepository:       engine.RepositoryRecord(repo),
		ErrorMessage:           "Synthetic state for followup re-run",
		ErrorTimestamp:         time.Now().UTC(),
		PreservedDirectoryPath: dir,
		ConfigurationHash:      hash,
		PullRequestNumber:      prNumber,
		PullRequestBranch:      branch,
	}

	out := &outcome{project: project, started: c.now()}
	out.result, err = c.deps.Executor.Resume(ctx, state, project, repo)
	c.finish(ctx, out, err)
	c.writeMetrics()
	if err != nil {
		c.logger.Error("Followup re-run failed for %s", project.Slug)
		return false, fmt.Errorf("project %s: %w", project.Slug, err)
	}
	c.logger.Info("Successfully completed followup re-run for %s", project.Slug)
	return true, nil
}
