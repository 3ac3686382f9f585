package claude

import (
	"context"
	"fmt"
	"strings"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/templates"
	"imbi-automations/pkg/utils"
)

// Drafter writes pull request bodies from a commit summary.
type Drafter struct {
	completer Completer
	renderer  *templates.Renderer
	counter   *utils.TokenCounter
	budget    int
}

// NewDrafter creates a drafter. The commit summary is truncated to budget
// tokens; a budget of zero uses the default.
func NewDrafter(completer Completer, renderer *templates.Renderer, budget int) (*Drafter, error) {
	if budget <= 0 {
		budget = config.DefaultPromptTokenBudget
	}
	counter, err := utils.NewTokenCounter()
	if err != nil {
		return nil, err
	}
	return &Drafter{completer: completer, renderer: renderer, counter: counter, budget: budget}, nil
}

// PullRequestBody drafts the body for a workflow's pull request.
func (d *Drafter) PullRequestBody(ctx context.Context, workflowName string, project *imbi.Project, summary string) (string, error) {
	prompt, err := d.renderer.Render(templates.PullRequestSummaryPrompt, map[string]any{
		"workflow_name": workflowName,
		"project_name":  project.Name,
		"project_slug":  project.Slug,
		"summary":       d.counter.TruncateToTokenLimit(summary, d.budget),
	})
	if err != nil {
		return "", err
	}
	body, err := d.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to draft pull request body: %w", err)
	}
	return strings.TrimSpace(body), nil
}
