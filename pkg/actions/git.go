package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"imbi-automations/pkg/workflow"
)

func (d *Dispatcher) executeGit(ctx context.Context, wctx *workflow.Context, action *workflow.Git) error {
	switch action.Command {
	case workflow.GitExtract:
		return d.extract(ctx, wctx, action)
	default:
		return fmt.Errorf("%w: git command %q", ErrUnsupportedAction, action.Command)
	}
}

// extract writes source as it was in the commit before the first or last
// commit whose message contains the keyword. The file lands under the
// extracted scratch area unless destination names another location.
func (d *Dispatcher) extract(ctx context.Context, wctx *workflow.Context, action *workflow.Git) error {
	if d.deps.Git == nil {
		return workflow.Invalidf("git actions are not configured")
	}
	logger := d.projectLogger(wctx)
	repo := d.deps.Git.Open(wctx.RepositoryPath())

	commits, err := repo.Log(ctx, action.Keyword, action.Source)
	if err != nil {
		return err
	}
	if len(commits) == 0 {
		logger.Warn("%s no commit found with keyword %q touching %s", action.Name, action.Keyword, action.Source)
		return nil
	}

	// Log is newest first.
	match := commits[0]
	if action.Strategy == workflow.ExtractBeforeFirstMatch {
		match = commits[len(commits)-1]
	}
	content, err := repo.Show(ctx, match+"~1", action.Source)
	if err != nil {
		return err
	}

	destination := action.Destination
	if destination == "" {
		destination = action.Source
	}
	if !workflow.HasPathScheme(destination) {
		destination = "extracted:///" + destination
	}
	path, err := wctx.ResolvePath(destination)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	logger.Info("%s extracted %s from before %s (%d bytes)", action.Name, action.Source, shortSHA(match), len(content))
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
