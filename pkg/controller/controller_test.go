package controller

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbi-automations/internal/mocks"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/engine"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/persistence"
	"imbi-automations/pkg/resume"
	"imbi-automations/pkg/tracker"
	"imbi-automations/pkg/workflow"
)

// fakeExecutor stands in for the engine.
type fakeExecutor struct {
	wf          *workflow.Workflow
	ExecuteFunc func(ctx context.Context, project *imbi.Project, repo *github.Repository) (*engine.Result, error)
	ResumeFunc  func(ctx context.Context, state *resume.State, project *imbi.Project, repo *github.Repository) (*engine.Result, error)

	mu       sync.Mutex
	executed []string
	resumed  []*resume.State
}

func (f *fakeExecutor) Workflow() *workflow.Workflow { return f.wf }

func (f *fakeExecutor) Execute(ctx context.Context, project *imbi.Project, repo *github.Repository) (*engine.Result, error) {
	f.mu.Lock()
	f.executed = append(f.executed, project.Slug)
	f.mu.Unlock()
	if f.ExecuteFunc != nil {
		return f.ExecuteFunc(ctx, project, repo)
	}
	return &engine.Result{Completed: true, FinalState: engine.StateDone}, nil
}

func (f *fakeExecutor) Resume(ctx context.Context, state *resume.State, project *imbi.Project, repo *github.Repository) (*engine.Result, error) {
	f.mu.Lock()
	f.resumed = append(f.resumed, state)
	f.mu.Unlock()
	if f.ResumeFunc != nil {
		return f.ResumeFunc(ctx, state, project, repo)
	}
	return &engine.Result{Completed: true, FinalState: engine.StateDone}, nil
}

func (f *fakeExecutor) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

type fakeHistory struct {
	mu   sync.Mutex
	runs []*persistence.Run
}

func (f *fakeHistory) RecordRun(_ context.Context, run *persistence.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeHistory) bySlug() map[string]*persistence.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]*persistence.Run, len(f.runs))
	for _, run := range f.runs {
		out[run.ProjectSlug] = run
	}
	return out
}

func testWorkflow(t *testing.T, actions ...workflow.Action) *workflow.Workflow {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "upgrade")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("name = \"Upgrade\"\n"), 0o644))
	return &workflow.Workflow{
		Slug: "upgrade",
		Path: dir,
		Configuration: workflow.Configuration{
			Name:    "Upgrade",
			Actions: actions,
		},
	}
}

func action(name string, stage workflow.Stage) workflow.Action {
	return &workflow.Callable{
		ActionBase: workflow.ActionBase{Name: name, Type: workflow.ActionCallable, Stage: stage},
		Callable:   name,
	}
}

func projects() []imbi.Project {
	return []imbi.Project{
		{ID: 1, Slug: "alpha", Name: "Alpha", ProjectTypeSlug: "api"},
		{ID: 2, Slug: "beta", Name: "Beta", ProjectTypeSlug: "api"},
		{ID: 3, Slug: "gamma", Name: "Gamma", ProjectTypeSlug: "consumer"},
	}
}

//nolint:govet // Test harness, logical grouping
type harness struct {
	controller *Controller
	executor   *fakeExecutor
	registry   *mocks.MockImbiRegistry
	host       *mocks.MockGitHubHost
	runner     *mocks.MockGitRunner
	history    *fakeHistory
	tracker    *tracker.Tracker
	output     *bytes.Buffer
}

func newHarness(t *testing.T, cfg *config.Configuration, wf *workflow.Workflow, opts Options) *harness {
	t.Helper()
	h := &harness{
		executor: &fakeExecutor{wf: wf},
		registry: mocks.NewMockImbiRegistry(projects()...),
		host:     mocks.NewMockGitHubHost(),
		runner:   mocks.NewMockGitRunner(),
		history:  &fakeHistory{},
		tracker:  tracker.New(),
		output:   &bytes.Buffer{},
	}
	opts.Output = h.output
	c, err := New(cfg, Dependencies{
		Executor: h.executor,
		Imbi:     h.registry,
		GitHub:   h.host,
		Git:      git.NewClient(h.runner, config.GitConfig{}),
		History:  h.history,
		Tracker:  h.tracker,
	}, opts)
	require.NoError(t, err)
	h.controller = c
	return h
}

func (h *harness) totals(t *testing.T) map[string]float64 {
	t.Helper()
	totals, err := h.tracker.Totals()
	require.NoError(t, err)
	return totals
}

func TestRunAllProjects(t *testing.T) {
	metrics := filepath.Join(t.TempDir(), "metrics.prom")
	h := newHarness(t, &config.Configuration{MaxConcurrency: 2, MetricsFile: metrics}, testWorkflow(t), Options{})
	h.executor.ExecuteFunc = func(_ context.Context, project *imbi.Project, repo *github.Repository) (*engine.Result, error) {
		assert.Equal(t, "mock-owner/"+project.Slug, repo.FullName)
		switch project.Slug {
		case "beta":
			return nil, &engine.ActionError{Index: 1, Action: "modernize", Err: errors.New("boom"), PreservedPath: "/errors/upgrade/beta"}
		case "gamma":
			return &engine.Result{FinalState: engine.StateFresh}, nil
		}
		return &engine.Result{Completed: true, Published: true, FinalState: engine.StateDone,
			PullRequest: &github.PullRequest{URL: "https://github.com/mock-owner/alpha/pull/1"}}, nil
	}

	ok, err := h.controller.Run(context.Background(), Target{AllProjects: true})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, h.executor.Executed())

	totals := h.totals(t)
	assert.Equal(t, 2.0, totals["projects_succeeded"])
	assert.Equal(t, 1.0, totals["projects_failed"])

	runs := h.history.bySlug()
	require.Len(t, runs, 3)
	assert.True(t, runs["alpha"].Success)
	assert.Equal(t, "https://github.com/mock-owner/alpha/pull/1", runs["alpha"].PullRequestURL)
	assert.False(t, runs["beta"].Success)
	assert.Equal(t, "/errors/upgrade/beta", runs["beta"].PreservedPath)
	assert.Equal(t, string(engine.StateFailed), runs["beta"].FinalState)
	assert.True(t, runs["gamma"].Success)
	assert.False(t, runs["gamma"].Completed)
	for _, run := range runs {
		assert.Equal(t, "upgrade", run.WorkflowSlug)
	}

	table := h.output.String()
	assert.Contains(t, table, "alpha")
	assert.Contains(t, table, "skipped")
	assert.Contains(t, table, "preserved to /errors/upgrade/beta")
	assert.Contains(t, table, "1 succeeded, 1 skipped, 1 failed")

	content, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(content), "imbi_automations_projects_failed 1")
}

func TestRunExitOnErrorStopsBatch(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t), Options{ExitOnError: true, MaxConcurrency: 1})
	h.executor.ExecuteFunc = func(_ context.Context, project *imbi.Project, _ *github.Repository) (*engine.Result, error) {
		if project.Slug == "beta" {
			return nil, errors.New("boom")
		}
		return &engine.Result{Completed: true}, nil
	}

	ok, err := h.controller.Run(context.Background(), Target{AllProjects: true})
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "workflow failed for Beta (2)")
	assert.Equal(t, []string{"alpha", "beta"}, h.executor.Executed())
}

func TestRunSingleProjectReturnsActionError(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t), Options{})
	h.executor.ExecuteFunc = func(context.Context, *imbi.Project, *github.Repository) (*engine.Result, error) {
		return nil, &engine.ActionError{Index: 0, Action: "modernize", Err: errors.New("boom")}
	}

	ok, err := h.controller.Run(context.Background(), Target{ProjectID: 2})
	assert.False(t, ok)
	var actionErr *engine.ActionError
	require.True(t, errors.As(err, &actionErr))
	assert.Equal(t, "modernize", actionErr.Action)
	assert.Contains(t, err.Error(), "project beta")
}

func TestRunWithoutRepository(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t), Options{})
	h.host.GetRepositoryFunc = func(context.Context, *imbi.Project) (*github.Repository, error) {
		return nil, github.ErrNotFound
	}
	h.executor.ExecuteFunc = func(_ context.Context, _ *imbi.Project, repo *github.Repository) (*engine.Result, error) {
		assert.Nil(t, repo)
		return &engine.Result{Completed: true}, nil
	}

	ok, err := h.controller.Run(context.Background(), Target{ProjectID: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunAppliesWorkflowFilter(t *testing.T) {
	wf := testWorkflow(t)
	wf.Configuration.Filter = &workflow.Filter{ProjectTypes: []string{"api"}, ProjectIDs: []int{2, 3}}
	h := newHarness(t, &config.Configuration{MaxConcurrency: 4}, wf, Options{})

	ok, err := h.controller.Run(context.Background(), Target{AllProjects: true})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"beta"}, h.executor.Executed())
}

func TestRunByProjectType(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t), Options{})

	ok, err := h.controller.Run(context.Background(), Target{ProjectType: "consumer"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"gamma"}, h.executor.Executed())
}

func TestRunRejectsUnknownProjectType(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t), Options{})
	h.registry.ProjectTypes = []imbi.ProjectType{{ID: 1, Name: "API", Slug: "api"}}
	h.controller.deps.Metadata = imbi.NewMetadataCache(h.registry, t.TempDir())

	_, err := h.controller.Run(context.Background(), Target{ProjectType: "lambda"})
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))
	assert.Empty(t, h.executor.Executed())
}

func TestRunRejectsInvalidFilter(t *testing.T) {
	wf := testWorkflow(t)
	wf.Configuration.Filter = &workflow.Filter{ProjectTypes: []string{"lambda"}}
	h := newHarness(t, &config.Configuration{}, wf, Options{})
	h.registry.ProjectTypes = []imbi.ProjectType{{ID: 1, Name: "API", Slug: "api"}}
	h.controller.deps.Metadata = imbi.NewMetadataCache(h.registry, t.TempDir())

	_, err := h.controller.Run(context.Background(), Target{AllProjects: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lambda is not a valid project type")
	assert.Empty(t, h.executor.Executed())
}

func TestRunValidatesTarget(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t), Options{})

	_, err := h.controller.Run(context.Background(), Target{})
	assert.Error(t, err)
	_, err = h.controller.Run(context.Background(), Target{ProjectID: 1, AllProjects: true})
	assert.Error(t, err)
}

func preserve(t *testing.T, wf *workflow.Workflow, cfg *config.Configuration) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "beta-20260314-150926")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	hash, err := cfg.Hash()
	require.NoError(t, err)
	require.NoError(t, resume.Write(dir, &resume.State{
		WorkflowSlug:           wf.Slug,
		WorkflowPath:           wf.Path,
		ProjectID:              2,
		ProjectSlug:            "beta",
		FailedActionIndex:      1,
		FailedActionName:       "a1",
		CompletedActionIndices: []int{0},
		PreservedDirectoryPath: "/somewhere/else",
		ConfigurationHash:      hash,
	}))
	return dir
}

func TestResume(t *testing.T) {
	cfg := &config.Configuration{}
	wf := testWorkflow(t, action("a0", workflow.StagePrimary), action("a1", workflow.StagePrimary))
	h := newHarness(t, cfg, wf, Options{})
	dir := preserve(t, wf, cfg)

	h.executor.ResumeFunc = func(_ context.Context, state *resume.State, project *imbi.Project, repo *github.Repository) (*engine.Result, error) {
		assert.Equal(t, dir, state.PreservedDirectoryPath)
		assert.Equal(t, 1, state.FailedActionIndex)
		assert.Equal(t, "beta", project.Slug)
		assert.Nil(t, repo)
		_, err := resume.Lock(dir)
		assert.True(t, errors.Is(err, resume.ErrLocked), "directory is locked while resuming")
		return &engine.Result{Completed: true, FinalState: engine.StateDone}, nil
	}

	ok, err := h.controller.Resume(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, h.executor.resumed, 1)
	assert.Equal(t, 1.0, h.totals(t)["projects_succeeded"])

	unlock, err := resume.Lock(dir)
	require.NoError(t, err, "lock is released after resume")
	unlock()
}

func TestResumeFailures(t *testing.T) {
	cfg := &config.Configuration{}

	t.Run("missing state", func(t *testing.T) {
		h := newHarness(t, cfg, testWorkflow(t), Options{})
		_, err := h.controller.Resume(context.Background(), t.TempDir())
		assert.True(t, errors.Is(err, resume.ErrMissingStateFile))
		assert.Empty(t, h.executor.resumed)
	})

	t.Run("missing workflow config", func(t *testing.T) {
		wf := testWorkflow(t, action("a0", workflow.StagePrimary), action("a1", workflow.StagePrimary))
		h := newHarness(t, cfg, wf, Options{})
		dir := preserve(t, wf, cfg)
		require.NoError(t, os.Remove(filepath.Join(wf.Path, "config.toml")))

		_, err := h.controller.Resume(context.Background(), dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing config.toml")
		assert.Empty(t, h.executor.resumed)
	})

	t.Run("locked", func(t *testing.T) {
		wf := testWorkflow(t, action("a0", workflow.StagePrimary), action("a1", workflow.StagePrimary))
		h := newHarness(t, cfg, wf, Options{})
		dir := preserve(t, wf, cfg)
		unlock, err := resume.Lock(dir)
		require.NoError(t, err)
		defer unlock()

		_, err = h.controller.Resume(context.Background(), dir)
		assert.True(t, errors.Is(err, resume.ErrLocked))
	})

	t.Run("execution error", func(t *testing.T) {
		wf := testWorkflow(t, action("a0", workflow.StagePrimary), action("a1", workflow.StagePrimary))
		h := newHarness(t, cfg, wf, Options{})
		dir := preserve(t, wf, cfg)
		h.executor.ResumeFunc = func(context.Context, *resume.State, *imbi.Project, *github.Repository) (*engine.Result, error) {
			return nil, errors.New("still broken")
		}

		ok, err := h.controller.Resume(context.Background(), dir)
		assert.False(t, ok)
		assert.Error(t, err)
		assert.Equal(t, 1.0, h.totals(t)["projects_failed"])
	})
}

func TestRerunFollowup(t *testing.T) {
	cfg := &config.Configuration{}
	wf := testWorkflow(t,
		action("a0", workflow.StagePrimary),
		action("a1", workflow.StagePrimary),
		action("f0", workflow.StageFollowup),
		action("f1", workflow.StageFollowup),
	)
	wf.Configuration.Git = workflow.GitSettings{Clone: true, Depth: 1, CloneType: workflow.CloneHTTP}
	h := newHarness(t, cfg, wf, Options{})
	h.runner.RespondWithMap(map[string]string{"rev-parse": "def456\n"})

	var preserved string
	h.executor.ResumeFunc = func(_ context.Context, state *resume.State, project *imbi.Project, repo *github.Repository) (*engine.Result, error) {
		preserved = state.PreservedDirectoryPath
		assert.Equal(t, 2, state.FailedActionIndex)
		assert.Equal(t, "f0", state.FailedActionName)
		assert.Equal(t, []int{0, 1}, state.CompletedActionIndices)
		assert.Equal(t, "def456", state.StartingCommit)
		assert.True(t, state.HasRepositoryChanges)
		assert.Equal(t, 7, state.PullRequestNumber)
		assert.Equal(t, "imbi-automations/upgrade", state.PullRequestBranch)
		assert.Equal(t, "beta", project.Slug)
		require.NotNil(t, repo)

		info, err := os.Lstat(filepath.Join(preserved, workflow.WorkflowLink))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeSymlink)
		return &engine.Result{Completed: true, Published: true}, nil
	}

	ok, err := h.controller.RerunFollowup(context.Background(), 2, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	clones := h.runner.GetCallsForCommand("clone")
	require.Len(t, clones, 1)
	assert.Equal(t, []string{
		"clone", "--depth", "1", "--branch", "imbi-automations/upgrade",
		"https://github.com/mock-owner/beta.git", filepath.Join(preserved, workflow.RepositoryDir),
	}, clones[0].Args)

	_, err = os.Stat(preserved)
	assert.True(t, os.IsNotExist(err), "scratch directory is removed")
}

func TestRerunFollowupRequiresFollowupActions(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t, action("a0", workflow.StagePrimary)), Options{})

	_, err := h.controller.RerunFollowup(context.Background(), 2, 7)
	assert.True(t, errors.Is(err, ErrNoFollowupActions))
	assert.False(t, h.runner.WasCommandCalled("clone"))
}

func TestRerunFollowupRequiresPullRequest(t *testing.T) {
	h := newHarness(t, &config.Configuration{}, testWorkflow(t, action("f0", workflow.StageFollowup)), Options{})

	_, err := h.controller.RerunFollowup(context.Background(), 2, 0)
	assert.Error(t, err)
	assert.Empty(t, h.executor.resumed)
}
