package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbi-automations/internal/mocks"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/resume"
	"imbi-automations/pkg/tracker"
	"imbi-automations/pkg/workflow"
)

// fakeDispatcher records dispatched action names and runs OnDispatch.
type fakeDispatcher struct {
	OnDispatch func(wctx *workflow.Context, action workflow.Action) error

	mu    sync.Mutex
	names []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, wctx *workflow.Context, action workflow.Action) error {
	f.mu.Lock()
	f.names = append(f.names, action.Base().Name)
	f.mu.Unlock()
	if f.OnDispatch != nil {
		return f.OnDispatch(wctx, action)
	}
	return nil
}

func (f *fakeDispatcher) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

type fakeCommitter struct {
	Committed bool
	Err       error
	Calls     int
}

func (f *fakeCommitter) Commit(context.Context, *workflow.Context, workflow.Action) (bool, error) {
	f.Calls++
	return f.Committed, f.Err
}

type fakeConditions struct {
	Local  bool
	Remote bool
}

func (f fakeConditions) Check(context.Context, *workflow.Context, workflow.ConditionType, []workflow.Condition) (bool, error) {
	return f.Local, nil
}

func (f fakeConditions) CheckRemote(context.Context, *workflow.Context, workflow.ConditionType, []workflow.Condition) (bool, error) {
	return f.Remote, nil
}

type fakeDrafter struct {
	Body    string
	Summary string
}

func (f *fakeDrafter) PullRequestBody(_ context.Context, _ string, _ *imbi.Project, summary string) (string, error) {
	f.Summary = summary
	return f.Body, nil
}

func callable(name string) workflow.Action {
	return &workflow.Callable{
		ActionBase: workflow.ActionBase{Name: name, Type: workflow.ActionCallable, ConditionType: workflow.ConditionAll},
		Callable:   name,
	}
}

func testWorkflow(t *testing.T, actions ...workflow.Action) *workflow.Workflow {
	t.Helper()
	return &workflow.Workflow{
		Slug: "upgrade",
		Path: t.TempDir(),
		Configuration: workflow.Configuration{
			Name:          "Test Workflow",
			ConditionType: workflow.ConditionAll,
			Actions:       actions,
		},
	}
}

func testProject() *imbi.Project {
	return &imbi.Project{ID: 42, Slug: "billing-api", Name: "Billing API"}
}

//nolint:govet // Test harness, logical grouping
type harness struct {
	engine     *Engine
	dispatcher *fakeDispatcher
	committer  *fakeCommitter
	runner     *mocks.MockGitRunner
	host       *mocks.MockGitHubHost
	drafter    *fakeDrafter
	tracker    *tracker.Tracker
}

func newHarness(t *testing.T, cfg *config.Configuration, wf *workflow.Workflow) *harness {
	t.Helper()
	h := &harness{
		dispatcher: &fakeDispatcher{},
		committer:  &fakeCommitter{},
		runner:     mocks.NewMockGitRunner(),
		host:       mocks.NewMockGitHubHost(),
		drafter:    &fakeDrafter{Body: "drafted body"},
		tracker:    tracker.New(),
	}
	e, err := New(cfg, wf, Dependencies{
		Dispatcher: h.dispatcher,
		Committer:  h.committer,
		Git:        git.NewClient(h.runner, config.GitConfig{}),
		GitHub:     h.host,
		Conditions: fakeConditions{Local: true, Remote: true},
		Drafter:    h.drafter,
		Tracker:    h.tracker,
	})
	require.NoError(t, err)
	e.now = func() time.Time { return time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC) }
	h.engine = e
	return h
}

func (h *harness) totals(t *testing.T) map[string]float64 {
	t.Helper()
	totals, err := h.tracker.Totals()
	require.NoError(t, err)
	return totals
}

func TestPreserveOnError(t *testing.T) {
	errorDir := t.TempDir()
	cfg := &config.Configuration{PreserveOnError: true, ErrorDir: errorDir}
	h := newHarness(t, cfg, testWorkflow(t, callable("first"), callable("second"), callable("third")))
	h.dispatcher.OnDispatch = func(wctx *workflow.Context, action workflow.Action) error {
		switch action.Base().Name {
		case "first":
			require.NoError(t, os.MkdirAll(wctx.RepositoryPath(), 0o755))
			return os.WriteFile(filepath.Join(wctx.RepositoryPath(), "first.txt"), []byte("done"), 0o644)
		case "second":
			return errors.New("boom")
		}
		return nil
	}

	_, err := h.engine.Execute(context.Background(), testProject(), nil)
	require.Error(t, err)

	var actionErr *ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Equal(t, 1, actionErr.Index)
	assert.Equal(t, "second", actionErr.Action)
	assert.Equal(t, []string{"first", "second"}, h.dispatcher.Names())

	want := filepath.Join(errorDir, "upgrade", "billing-api-20260314-150926")
	assert.Equal(t, want, actionErr.PreservedPath)

	state, err := resume.Read(actionErr.PreservedPath)
	require.NoError(t, err)
	assert.Equal(t, 1, state.FailedActionIndex)
	assert.Equal(t, "second", state.FailedActionName)
	assert.Equal(t, []int{0}, state.CompletedActionIndices)
	assert.Equal(t, "boom", state.ErrorMessage)
	assert.Equal(t, int64(42), state.ProjectID)
	assert.Equal(t, want, state.PreservedDirectoryPath)

	content, err := os.ReadFile(filepath.Join(want, workflow.RepositoryDir, "first.txt"))
	require.NoError(t, err)
	assert.Equal(t, "done", string(content))
	info, err := os.Lstat(filepath.Join(want, workflow.WorkflowLink))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
}

func TestPreserveSameSecondGetsSuffix(t *testing.T) {
	errorDir := t.TempDir()
	cfg := &config.Configuration{PreserveOnError: true, ErrorDir: errorDir}
	h := newHarness(t, cfg, testWorkflow(t, callable("first")))
	h.dispatcher.OnDispatch = func(wctx *workflow.Context, _ workflow.Action) error {
		require.NoError(t, os.MkdirAll(wctx.RepositoryPath(), 0o755))
		return errors.New("boom")
	}

	base := filepath.Join(errorDir, "upgrade", "billing-api-20260314-150926")
	var paths []string
	for range 3 {
		_, err := h.engine.Execute(context.Background(), testProject(), nil)
		var actionErr *ActionError
		require.True(t, errors.As(err, &actionErr))
		paths = append(paths, actionErr.PreservedPath)
	}
	assert.Equal(t, []string{base, base + "-2", base + "-3"}, paths)

	for _, path := range paths {
		state, err := resume.Read(path)
		require.NoError(t, err)
		assert.Equal(t, path, state.PreservedDirectoryPath)
	}
}

func TestNoPreservationWithoutFlag(t *testing.T) {
	errorDir := t.TempDir()
	h := newHarness(t, &config.Configuration{ErrorDir: errorDir}, testWorkflow(t, callable("first")))
	h.dispatcher.OnDispatch = func(*workflow.Context, workflow.Action) error { return errors.New("boom") }

	_, err := h.engine.Execute(context.Background(), testProject(), nil)
	var actionErr *ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Empty(t, actionErr.PreservedPath)

	entries, err := os.ReadDir(errorDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConfigurationErrorsAreNotPreserved(t *testing.T) {
	errorDir := t.TempDir()
	cfg := &config.Configuration{PreserveOnError: true, ErrorDir: errorDir}
	h := newHarness(t, cfg, testWorkflow(t, callable("first")))
	h.dispatcher.OnDispatch = func(*workflow.Context, workflow.Action) error {
		return workflow.Invalidf("callable %q is not registered", "first")
	}

	_, err := h.engine.Execute(context.Background(), testProject(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))

	entries, err := os.ReadDir(errorDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// preservedDir lays out a directory as a failed execution would leave it.
func preservedDir(t *testing.T, wf *workflow.Workflow, failedIndex int) *resume.State {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "billing-api-20260314-150926")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, workflow.RepositoryDir), 0o755))
	require.NoError(t, os.Symlink(wf.Path, filepath.Join(dir, workflow.WorkflowLink)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, workflow.RepositoryDir, "partial.txt"), []byte("kept"), 0o644))

	state := &resume.State{
		WorkflowSlug:           wf.Slug,
		WorkflowPath:           wf.Path,
		ProjectID:              42,
		ProjectSlug:            "billing-api",
		FailedActionIndex:      failedIndex,
		FailedActionName:       wf.Configuration.Actions[failedIndex].Base().Name,
		CompletedActionIndices: resume.CompletedRange(0, failedIndex),
		StartingCommit:         "abc123",
		PreservedDirectoryPath: dir,
	}
	require.NoError(t, resume.Write(dir, state))
	return state
}

func TestResumeRunsRemainingActions(t *testing.T) {
	wf := testWorkflow(t, callable("a0"), callable("a1"), callable("a2"), callable("a3"))
	h := newHarness(t, &config.Configuration{}, wf)
	state := preservedDir(t, wf, 2)

	h.dispatcher.OnDispatch = func(wctx *workflow.Context, _ workflow.Action) error {
		assert.Equal(t, "abc123", wctx.StartingCommit)
		_, err := os.Stat(filepath.Join(wctx.RepositoryPath(), "partial.txt"))
		return err
	}

	result, err := h.engine.Resume(context.Background(), state, testProject(), nil)
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, StateDone, result.FinalState)
	assert.Equal(t, []string{"a2", "a3"}, h.dispatcher.Names())

	_, err = os.Stat(state.PreservedDirectoryPath)
	assert.True(t, os.IsNotExist(err), "preserved directory is removed after a successful resume")
	assert.False(t, h.runner.WasCommandCalled("clone"))
}

func TestResumeFailureRecordsOnlyThisAttempt(t *testing.T) {
	wf := testWorkflow(t, callable("a0"), callable("a1"), callable("a2"), callable("a3"), callable("a4"))
	errorDir := t.TempDir()
	h := newHarness(t, &config.Configuration{PreserveOnError: true, ErrorDir: errorDir}, wf)
	state := preservedDir(t, wf, 1)

	h.dispatcher.OnDispatch = func(_ *workflow.Context, action workflow.Action) error {
		if action.Base().Name == "a3" {
			return errors.New("still broken")
		}
		return nil
	}

	_, err := h.engine.Resume(context.Background(), state, testProject(), nil)
	var actionErr *ActionError
	require.True(t, errors.As(err, &actionErr))
	require.NotEmpty(t, actionErr.PreservedPath)

	next, err := resume.Read(actionErr.PreservedPath)
	require.NoError(t, err)
	assert.Equal(t, 3, next.FailedActionIndex)
	assert.Equal(t, []int{1, 2}, next.CompletedActionIndices)
	assert.Equal(t, "abc123", next.StartingCommit)

	_, err = os.Stat(state.PreservedDirectoryPath)
	assert.NoError(t, err, "the original preserved directory is left untouched")
}

func TestResumeRejectsOutOfRangeIndex(t *testing.T) {
	wf := testWorkflow(t, callable("a0"))
	h := newHarness(t, &config.Configuration{}, wf)

	_, err := h.engine.Resume(context.Background(), &resume.State{FailedActionIndex: 5}, testProject(), nil)
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))
}

func TestActionFilterSkipsDispatch(t *testing.T) {
	filtered := callable("filtered")
	filtered.Base().Filter = &workflow.Filter{ProjectIDs: []int{999}}
	h := newHarness(t, &config.Configuration{}, testWorkflow(t, filtered))

	result, err := h.engine.Execute(context.Background(), testProject(), nil)
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Empty(t, h.dispatcher.Names())

	totals := h.totals(t)
	assert.Equal(t, 1.0, totals["actions_filter_skipped"])
	assert.Zero(t, totals["actions_executed"])
}

func TestIgnoredActionErrorsContinue(t *testing.T) {
	tolerant := callable("lint")
	tolerant.Base().IgnoreErrors = true
	tolerant.Base().Committable = true
	h := newHarness(t, &config.Configuration{}, testWorkflow(t, tolerant, callable("after")))
	h.dispatcher.OnDispatch = func(_ *workflow.Context, action workflow.Action) error {
		if action.Base().Name == "lint" {
			return errors.New("exit status 1")
		}
		return nil
	}

	result, err := h.engine.Execute(context.Background(), testProject(), nil)
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.Equal(t, []string{"lint", "after"}, h.dispatcher.Names())
	assert.Equal(t, 1, h.committer.Calls)
	assert.Equal(t, 1.0, h.totals(t)["actions_executed"])
}

func TestIgnoreErrorsStillStopsOnCancel(t *testing.T) {
	tolerant := callable("lint")
	tolerant.Base().IgnoreErrors = true
	h := newHarness(t, &config.Configuration{}, testWorkflow(t, tolerant, callable("after")))

	ctx, cancel := context.WithCancel(context.Background())
	h.dispatcher.OnDispatch = func(*workflow.Context, workflow.Action) error {
		cancel()
		return context.Canceled
	}

	_, err := h.engine.Execute(ctx, testProject(), nil)
	require.Error(t, err)
	assert.Equal(t, []string{"lint"}, h.dispatcher.Names())
}

func TestActionConditionsSkipDispatch(t *testing.T) {
	tests := []struct {
		name       string
		conditions fakeConditions
		counter    string
	}{
		{"local", fakeConditions{Local: false, Remote: true}, "actions_condition_skipped"},
		{"remote", fakeConditions{Local: true, Remote: false}, "actions_remote_condition_skipped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &config.Configuration{}, testWorkflow(t, callable("gated")))
			h.engine.deps.Conditions = tt.conditions
			state := preservedDir(t, h.engine.wf, 0)

			_, err := h.engine.Resume(context.Background(), state, testProject(), nil)
			require.NoError(t, err)
			assert.Empty(t, h.dispatcher.Names())
			assert.Equal(t, 1.0, h.totals(t)[tt.counter])
		})
	}
}

func TestWorkflowConditionsNotMet(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t, callable("a0")))
	h.engine.deps.Conditions = fakeConditions{Local: true, Remote: false}

	result, err := h.engine.Execute(context.Background(), testProject(), nil)
	require.NoError(t, err)
	assert.False(t, result.Completed)
	assert.Empty(t, h.dispatcher.Names())
	assert.Equal(t, 1.0, h.totals(t)["workflow_remote_conditions_not_met"])

	h.engine.deps.Conditions = fakeConditions{Local: false, Remote: true}
	result, err = h.engine.Execute(context.Background(), testProject(), nil)
	require.NoError(t, err)
	assert.False(t, result.Completed)
	assert.Equal(t, 1.0, h.totals(t)["workflow_conditions_not_met"])
}

func cloningWorkflow(t *testing.T) *workflow.Workflow {
	wf := testWorkflow(t, callable("modernize"))
	wf.Configuration.Actions[0].Base().Committable = true
	wf.Configuration.Git = workflow.GitSettings{Clone: true, Depth: 1, CloneType: workflow.CloneSSH}
	wf.Configuration.GitHub = workflow.GitHubSettings{CreatePullRequest: true, ReplaceBranch: true}
	return wf
}

func TestPublishOpensPullRequest(t *testing.T) {
	cfg := &config.Configuration{ClaudeCode: config.ClaudeCodeConfig{Enabled: true}}
	h := newHarness(t, cfg, cloningWorkflow(t))
	h.committer.Committed = true
	h.runner.RespondWithMap(map[string]string{"rev-parse": "abc123\n"})

	repo := mocks.MockRepository("billing-api")
	result, err := h.engine.Execute(context.Background(), testProject(), repo)
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.True(t, result.Published)
	require.NotNil(t, result.PullRequest)

	clones := h.runner.GetCallsForCommand("clone")
	require.Len(t, clones, 1)
	assert.Contains(t, clones[0].Args, repo.SSHURL)
	assert.True(t, h.runner.WasCommandCalled("ls-remote"))

	require.Len(t, h.host.CreatePullRequestCalls, 1)
	opts := h.host.CreatePullRequestCalls[0]
	assert.Equal(t, "imbi-automations: Test Workflow", opts.Title)
	assert.Equal(t, "imbi-automations/upgrade", opts.Head)
	assert.Equal(t, "main", opts.Base)
	assert.Equal(t, "drafted body", opts.Body)

	pushes := h.runner.GetCallsForCommand("push")
	require.Len(t, pushes, 1)
	assert.Equal(t, []string{"push", "--set-upstream", "origin", "imbi-automations/upgrade"}, pushes[0].Args)

	totals := h.totals(t)
	assert.Equal(t, 1.0, totals["repositories_cloned"])
	assert.Equal(t, 1.0, totals["actions_committed"])
	assert.Equal(t, 1.0, totals["pull_requests_created"])
}

func TestPublishPushesWithoutClaude(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, cloningWorkflow(t))
	h.committer.Committed = true

	result, err := h.engine.Execute(context.Background(), testProject(), mocks.MockRepository("billing-api"))
	require.NoError(t, err)
	assert.True(t, result.Published)
	assert.Nil(t, result.PullRequest)
	assert.Zero(t, h.host.PullRequestCount())

	pushes := h.runner.GetCallsForCommand("push")
	require.Len(t, pushes, 1)
	assert.Equal(t, []string{"push", "--set-upstream", "origin", "main"}, pushes[0].Args)
}

func TestNoChangesIsNoop(t *testing.T) {
	cfg := &config.Configuration{ClaudeCode: config.ClaudeCodeConfig{Enabled: true}}
	h := newHarness(t, cfg, cloningWorkflow(t))

	result, err := h.engine.Execute(context.Background(), testProject(), mocks.MockRepository("billing-api"))
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.False(t, result.Published)
	assert.Equal(t, 1, h.committer.Calls)
	assert.False(t, h.runner.WasCommandCalled("push"))
}

func TestDryRunPreservesWithoutPublishing(t *testing.T) {
	dryRunDir := t.TempDir()
	cfg := &config.Configuration{DryRun: true, DryRunDir: dryRunDir, ClaudeCode: config.ClaudeCodeConfig{Enabled: true}}
	h := newHarness(t, cfg, cloningWorkflow(t))
	h.committer.Committed = true

	result, err := h.engine.Execute(context.Background(), testProject(), mocks.MockRepository("billing-api"))
	require.NoError(t, err)
	assert.True(t, result.Completed)
	assert.False(t, result.Published)
	assert.Equal(t, filepath.Join(dryRunDir, "upgrade", "billing-api-20260314-150926"), result.DryRunPath)

	_, err = os.Stat(filepath.Join(result.DryRunPath, resume.FileName))
	assert.True(t, os.IsNotExist(err))
	assert.False(t, h.runner.WasCommandCalled("push"))
	assert.Zero(t, h.host.PullRequestCount())
}

func TestFollowupPushesToPullRequestBranch(t *testing.T) {
	cfg := &config.Configuration{ClaudeCode: config.ClaudeCodeConfig{Enabled: true}}
	wf := cloningWorkflow(t)
	h := newHarness(t, cfg, wf)
	h.committer.Committed = true

	state := preservedDir(t, wf, 0)
	state.PullRequestNumber = 7
	state.PullRequestBranch = wf.PullRequestBranch()

	result, err := h.engine.Resume(context.Background(), state, testProject(), mocks.MockRepository("billing-api"))
	require.NoError(t, err)
	assert.True(t, result.Published)
	assert.Zero(t, h.host.PullRequestCount())

	pushes := h.runner.GetCallsForCommand("push")
	require.Len(t, pushes, 1)
	assert.Equal(t, []string{"push", "--set-upstream", "origin", "imbi-automations/upgrade"}, pushes[0].Args)
}

func TestNewRequiresClaudeForClaudeActions(t *testing.T) {
	wf := testWorkflow(t, &workflow.Claude{
		ActionBase: workflow.ActionBase{Name: "ai", Type: workflow.ActionClaude},
		TaskPrompt: "task.md",
		MaxCycles:  1,
	})
	_, err := New(&config.Configuration{}, wf, Dependencies{
		Dispatcher: &fakeDispatcher{},
		Committer:  &fakeCommitter{},
		Git:        git.NewClient(mocks.NewMockGitRunner(), config.GitConfig{}),
	})
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))
}
