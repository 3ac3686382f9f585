package engine

import (
	"context"
	"fmt"

	"imbi-automations/pkg/git"
	"imbi-automations/pkg/github"
)

const remote = "origin"

// publish pushes committed changes. A followup rerun pushes onto its open
// pull request branch. Otherwise a pull request is opened when the workflow
// asks for one and Claude Code is enabled, and the base branch is pushed
// directly when it is not.
func (e *Engine) publish(ctx context.Context, x *execution, result *Result) error {
	repo := e.deps.Git.Open(x.wctx.RepositoryPath())

	switch {
	case x.state != nil && x.state.PullRequestBranch != "":
		if err := repo.Push(ctx, remote, x.state.PullRequestBranch, false); err != nil {
			return err
		}
		x.logger.Info("Pushed followup changes to %s (PR #%d)", x.state.PullRequestBranch, x.state.PullRequestNumber)

	case e.wf.Configuration.GitHub.CreatePullRequest && e.cfg.AIEnabled():
		pr, err := e.createPullRequest(ctx, x, repo)
		if err != nil {
			return err
		}
		result.PullRequest = pr
		e.deps.Tracker.PullRequestCreated()

	default:
		branch := e.baseBranch(x.wctx.Repository)
		if err := repo.Push(ctx, remote, branch, false); err != nil {
			return err
		}
		x.logger.Info("Pushed changes to %s", branch)
	}
	result.Published = true
	return nil
}

func (e *Engine) createPullRequest(ctx context.Context, x *execution, repo *git.Repo) (*github.PullRequest, error) {
	if x.wctx.Repository == nil || e.deps.GitHub == nil {
		return nil, fmt.Errorf("cannot open a pull request for %s without a GitHub repository", x.wctx.Project.Slug)
	}
	branch := e.wf.PullRequestBranch()

	if e.wf.Configuration.GitHub.ReplaceBranch {
		x.logger.Info("Deleting remote branch %s if it exists (replace_branch)", branch)
		if _, err := repo.DeleteRemoteBranchIfExists(ctx, remote, branch); err != nil {
			return nil, err
		}
	}

	x.logger.Debug("Creating pull request branch %s", branch)
	if err := repo.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	if err := repo.Push(ctx, remote, branch, false); err != nil {
		return nil, err
	}

	summary, err := repo.CommitsSince(ctx, x.wctx.StartingCommit)
	if err != nil {
		return nil, err
	}
	x.logger.Debug("%d commits made in workflow", len(summary.Commits))

	body := summary.Text()
	if e.deps.Drafter != nil {
		if body, err = e.deps.Drafter.PullRequestBody(ctx, e.wf.Configuration.Name, x.wctx.Project, summary.Text()); err != nil {
			return nil, err
		}
	}

	pr, err := e.deps.GitHub.CreatePullRequest(ctx, x.wctx.Repository, github.PRCreateOptions{
		Title: "imbi-automations: " + e.wf.Configuration.Name,
		Body:  body,
		Head:  branch,
		Base:  e.baseBranch(x.wctx.Repository),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}
	x.logger.Info("Created pull request: %s", pr.URL)
	return pr, nil
}

// baseBranch is the branch the workflow started from.
func (e *Engine) baseBranch(repo *github.Repository) string {
	if branch := e.wf.Configuration.Git.StartingBranch; branch != "" {
		return branch
	}
	if repo != nil && repo.DefaultBranch != "" {
		return repo.DefaultBranch
	}
	return "main"
}
