package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"imbi-automations/pkg/resume"
	"imbi-automations/pkg/utils"
	"imbi-automations/pkg/workflow"
)

// ActionError is returned when an action fails. PreservedPath is set when
// the working directory was saved for a later resume.
type ActionError struct {
	Index         int
	Action        string
	Err           error
	PreservedPath string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q (index %d) failed: %v", e.Action, e.Index, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// fail records a failed action. Invalid configuration is never preserved:
// it fails before touching the working tree and a resume would fail the
// same way.
func (e *Engine) fail(x *execution, idx int, action workflow.Action, err error) error {
	name := action.Base().Name
	x.logger.Error("Error executing action %q: %v", name, err)
	actionErr := &ActionError{Index: idx, Action: name, Err: err}

	if !e.cfg.PreserveOnError {
		return actionErr
	}
	if errors.Is(err, workflow.ErrConfigValidation) {
		x.logger.Info("Not preserving working directory for configuration error in %q", name)
		return actionErr
	}

	hash, hashErr := e.cfg.Hash()
	if hashErr != nil {
		x.logger.Warn("Failed to hash configuration: %v", hashErr)
	}
	state := &resume.State{
		WorkflowSlug:           e.wf.Slug,
		WorkflowPath:           e.wf.Path,
		ProjectID:              int64(x.wctx.Project.ID),
		ProjectSlug:            x.wctx.Project.Slug,
		FailedActionIndex:      idx,
		FailedActionName:       name,
		CompletedActionIndices: resume.CompletedRange(x.start, idx),
		StartingCommit:         x.wctx.StartingCommit,
		HasRepositoryChanges:   x.wctx.HasRepositoryChanges,
		GitHubRepository:       RepositoryRecord(x.wctx.Repository),
		ErrorMessage:           err.Error(),
		ErrorTimestamp:         e.now().UTC(),
		ConfigurationHash:      hash,
	}
	if x.state != nil {
		state.PullRequestNumber = x.state.PullRequestNumber
		state.PullRequestBranch = x.state.PullRequestBranch
	}
	actionErr.PreservedPath = e.preserve(x, e.errorDir(), state)
	return actionErr
}

// preserve copies the working directory to
// <base>/<workflow-slug>/<project-slug>-<UTC timestamp>, adding a -2, -3...
// suffix when that directory already exists. A non-nil state is
// written next to the copy. Failures are logged and reported as an empty
// path.
func (e *Engine) preserve(x *execution, base string, state *resume.State) string {
	workflowSlug := e.wf.Slug
	if workflowSlug == "" {
		workflowSlug = "unknown"
	}
	name := fmt.Sprintf("%s-%s", utils.SanitizeIdentifier(x.wctx.Project.Slug), e.now().UTC().Format("20060102-150405"))
	parent := filepath.Join(base, workflowSlug)
	if abs, err := filepath.Abs(parent); err == nil {
		parent = abs
	}

	target, err := reserveDir(parent, name)
	if err != nil {
		x.logger.Error("Failed to preserve working directory to %s: %v", filepath.Join(parent, name), err)
		return ""
	}
	if err := utils.CopyTree(x.workDir, target); err != nil {
		x.logger.Error("Failed to preserve working directory to %s: %v", target, err)
		return ""
	}
	x.logger.Info("Preserved working directory to %s", target)

	if state == nil {
		return target
	}
	state.PreservedDirectoryPath = target
	if err := resume.Write(target, state); err != nil {
		x.logger.Error("Failed to write resume state to %s: %v", target, err)
		return ""
	}
	x.logger.Info("Created resume state file: %s", filepath.Join(target, resume.FileName))
	return target
}

// reserveDir creates parent/name, or the first free parent/name-N, and
// returns its path.
func reserveDir(parent, name string) (string, error) {
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", err
	}
	for n := 1; ; n++ {
		target := filepath.Join(parent, name)
		if n > 1 {
			target = fmt.Sprintf("%s-%d", target, n)
		}
		err := os.Mkdir(target, 0o755)
		if err == nil {
			return target, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
}
