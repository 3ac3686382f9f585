// Package committer records the changes an action made to the working copy.
package committer

import (
	"context"
	"fmt"
	"strings"

	"imbi-automations/pkg/claude"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/templates"
	"imbi-automations/pkg/workflow"
)

// Trailer ends every commit message written by the manual strategy.
const Trailer = "🤖 Generated with [Imbi Automations](https://github.com/AWeber-Imbi/)."

// cleanTreePhrases are agent replies that mean there was nothing to commit.
var cleanTreePhrases = []string{"no changes to commit", "working tree is clean"}

// Committer commits after an action. The agent is only used when the action
// asks for an AI commit and AI commits are enabled globally.
type Committer struct {
	cfg      *config.Configuration
	git      *git.Client
	agent    claude.Agent
	renderer *templates.Renderer
	logger   *logx.Logger
}

// New creates a committer. agent may be nil when AI features are disabled.
func New(cfg *config.Configuration, gitClient *git.Client, agent claude.Agent, renderer *templates.Renderer) *Committer {
	return &Committer{
		cfg:      cfg,
		git:      gitClient,
		agent:    agent,
		renderer: renderer,
		logger:   logx.NewLogger("committer"),
	}
}

// Commit commits pending changes for action. It reports whether a commit
// was created; nothing to commit is not an error.
func (c *Committer) Commit(ctx context.Context, wctx *workflow.Context, action workflow.Action) (bool, error) {
	base := action.Base()
	logger := c.logger.WithProject(wctx.Project.Slug)
	if base.AICommit && c.cfg.AICommits && c.cfg.AIEnabled() && c.agent != nil {
		return c.agentCommit(ctx, logger, wctx, base)
	}
	return c.manualCommit(ctx, logger, wctx, base)
}

func (c *Committer) agentCommit(ctx context.Context, logger *logx.Logger, wctx *workflow.Context, action *workflow.ActionBase) (bool, error) {
	logger.Info("%s using Claude Code to commit changes", action.Name)
	prompt, err := c.renderer.Render(templates.CommitPrompt, map[string]any{
		"commit_author": c.authorString(),
		"workflow_name": wctx.Workflow.Configuration.Name,
		"action_name":   action.Name,
	})
	if err != nil {
		return false, err
	}

	run, err := c.agent.Query(ctx, claude.QueryRequest{
		Kind:    claude.TurnCommit,
		Prompt:  prompt,
		WorkDir: wctx.RepositoryPath(),
	})
	if err != nil {
		return false, fmt.Errorf("claude code commit failed: %w", err)
	}
	if run.Failed() {
		message := strings.ToLower(run.Message)
		for _, phrase := range cleanTreePhrases {
			if strings.Contains(message, phrase) {
				logger.Info("%s no changes to commit", action.Name)
				return false, nil
			}
		}
		return false, fmt.Errorf("claude code commit failed: %s", run.Message)
	}
	return true, nil
}

func (c *Committer) manualCommit(ctx context.Context, logger *logx.Logger, wctx *workflow.Context, action *workflow.ActionBase) (bool, error) {
	repo := c.git.Open(wctx.RepositoryPath())
	if err := repo.AddAll(ctx); err != nil {
		return false, err
	}

	name, email, err := c.cfg.CommitAuthorParts()
	if err != nil {
		return false, err
	}
	message := Message(wctx.Workflow.Configuration.Name, action.Name, action.CommitMessage)
	if wctx.Workflow.Configuration.Git.CISkipChecks {
		message += "\n\n[ci skip]"
	}
	sha, err := repo.Commit(ctx, message, git.Author{
		Name:  name,
		Email: email,
	})
	if err != nil {
		logger.Error("%s git commit failed: %v", action.Name, err)
		return false, err
	}
	if sha == "" {
		logger.Info("%s no changes to commit", action.Name)
		return false, nil
	}
	logger.Info("%s committed changes: %s", action.Name, sha)
	return true, nil
}

// Message builds the manual commit message.
func Message(workflowName, actionName, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "imbi-automations: %s - %s\n\n", workflowName, actionName)
	if body != "" {
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	b.WriteString(Trailer)
	return b.String()
}

func (c *Committer) authorString() string {
	if c.cfg.CommitAuthor != "" {
		return c.cfg.CommitAuthor
	}
	return config.DefaultCommitAuthor
}
