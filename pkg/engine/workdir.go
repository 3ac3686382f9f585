package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/resume"
	"imbi-automations/pkg/utils"
	"imbi-automations/pkg/workflow"
)

// setupFresh lays out an empty working directory: a link to the workflow
// definition and an empty extraction area. The clone goes in later.
func (e *Engine) setupFresh(workDir string, project *imbi.Project, repo *github.Repository) (*workflow.Context, error) {
	target, err := filepath.Abs(e.wf.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workflow path: %w", err)
	}
	link := filepath.Join(workDir, workflow.WorkflowLink)
	if err := os.Symlink(target, link); err != nil {
		return nil, fmt.Errorf("unable to create symlink for workflow: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(workDir, workflow.ExtractedDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extracted directory: %w", err)
	}
	return workflow.NewContext(e.wf, project, repo, workDir), nil
}

// setupResume copies the preserved directory into workDir and rebuilds the
// context from the resume record and the current project record.
func (e *Engine) setupResume(workDir string, project *imbi.Project, repo *github.Repository, state *resume.State) (*workflow.Context, error) {
	if err := utils.CopyTree(state.PreservedDirectoryPath, workDir); err != nil {
		return nil, fmt.Errorf("failed to restore %s: %w", state.PreservedDirectoryPath, err)
	}
	for _, name := range []string{resume.FileName, resume.LockFileName} {
		if err := os.Remove(filepath.Join(workDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove copied %s: %w", name, err)
		}
	}
	if _, err := os.Lstat(filepath.Join(workDir, workflow.WorkflowLink)); err != nil {
		return nil, fmt.Errorf("workflow symlink not found in preserved directory %s: %w", state.PreservedDirectoryPath, err)
	}
	if err := os.MkdirAll(filepath.Join(workDir, workflow.ExtractedDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create extracted directory: %w", err)
	}

	wctx := workflow.NewContext(e.wf, project, repo, workDir)
	wctx.StartingCommit = state.StartingCommit
	wctx.HasRepositoryChanges = state.HasRepositoryChanges
	return wctx, nil
}

func (e *Engine) cleanupResumeState(x *execution, state *resume.State) {
	if state.PreservedDirectoryPath == "" {
		return
	}
	if err := os.RemoveAll(state.PreservedDirectoryPath); err != nil {
		x.logger.Warn("Failed to clean up resume state directory: %v", err)
		return
	}
	x.logger.Info("Cleaned up resume state directory: %s", state.PreservedDirectoryPath)
}

// RepositoryRecord converts a repository to its resume form.
func RepositoryRecord(repo *github.Repository) *resume.Repository {
	if repo == nil {
		return nil
	}
	return &resume.Repository{
		ID:            repo.ID,
		Name:          repo.Name,
		FullName:      repo.FullName,
		OwnerLogin:    repo.Owner.Login,
		DefaultBranch: repo.DefaultBranch,
		HTMLURL:       repo.HTMLURL,
		CloneURL:      repo.CloneURL,
		SSHURL:        repo.SSHURL,
		Private:       repo.Private,
		Archived:      repo.Archived,
	}
}

func repositoryFromRecord(rec *resume.Repository) *github.Repository {
	if rec == nil {
		return nil
	}
	return &github.Repository{
		ID:            rec.ID,
		Name:          rec.Name,
		FullName:      rec.FullName,
		Owner:         github.Owner{Login: rec.OwnerLogin},
		DefaultBranch: rec.DefaultBranch,
		HTMLURL:       rec.HTMLURL,
		CloneURL:      rec.CloneURL,
		SSHURL:        rec.SSHURL,
		Private:       rec.Private,
		Archived:      rec.Archived,
	}
}
