package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"imbi-automations/pkg/workflow"
)

func (d *Dispatcher) executeGitHub(ctx context.Context, wctx *workflow.Context, action *workflow.GitHub) error {
	switch action.Command {
	case workflow.GitHubSyncEnvironments:
		return d.syncEnvironments(ctx, wctx, action)
	default:
		return fmt.Errorf("%w: github command %q", ErrUnsupportedAction, action.Command)
	}
}

// syncEnvironments makes the repository's environments match the slugs of
// the project's environments in Imbi.
func (d *Dispatcher) syncEnvironments(ctx context.Context, wctx *workflow.Context, action *workflow.GitHub) error {
	if d.deps.GitHub == nil {
		return workflow.Invalidf("github actions are not configured")
	}
	if wctx.Repository == nil {
		return errors.New("no GitHub repository in workflow context")
	}
	logger := d.projectLogger(wctx)
	repo := wctx.Repository

	wanted := make(map[string]bool)
	for _, env := range wctx.Project.Environments {
		wanted[env.EffectiveSlug()] = true
	}
	if len(wanted) == 0 {
		logger.Info("%s no environments defined in Imbi, skipping sync", action.Name)
		return nil
	}

	existing, err := d.deps.GitHub.GetEnvironments(ctx, repo)
	if err != nil {
		return fmt.Errorf("environment sync failed: %w", err)
	}
	current := make(map[string]bool, len(existing))
	for _, env := range existing {
		current[env.Name] = true
	}

	toDelete := difference(current, wanted)
	toCreate := difference(wanted, current)
	logger.Debug("Environment sync plan for %s: create=%v delete=%v", repo.Path(), toCreate, toDelete)

	var failures []string
	for _, name := range toDelete {
		if err := d.deps.GitHub.DeleteEnvironment(ctx, repo, name); err != nil {
			failures = append(failures, fmt.Sprintf("failed to delete environment %q: %v", name, err))
		}
	}
	for _, name := range toCreate {
		if err := d.deps.GitHub.CreateEnvironment(ctx, repo, name); err != nil {
			failures = append(failures, fmt.Sprintf("failed to create environment %q: %v", name, err))
		}
	}

	if len(failures) > 0 {
		summary := strings.Join(failures[:min(3, len(failures))], "; ")
		if len(failures) > 3 {
			summary += fmt.Sprintf(" (and %d more)", len(failures)-3)
		}
		logger.Error("%s failed to sync environments: %s", action.Name, summary)
		return fmt.Errorf("environment sync failed: %s", summary)
	}
	logger.Info("%s synced environments: created %d, deleted %d", action.Name, len(toCreate), len(toDelete))
	return nil
}

// difference returns the sorted keys of a that are not in b.
func difference(a, b map[string]bool) []string {
	var out []string
	for key := range a {
		if !b[key] {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
