package actions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbi-automations/internal/mocks"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/workflow"
)

func TestDispatchDelegatesToExecutor(t *testing.T) {
	d := NewDispatcher(Dependencies{})
	wctx := newTestContext(t, nil)
	action := &workflow.Shell{ActionBase: workflow.ActionBase{Name: "lint", Type: workflow.ActionShell}, Command: "make lint"}

	err := d.Dispatch(context.Background(), wctx, action)
	assert.True(t, errors.Is(err, ErrUnsupportedAction))

	var got workflow.Action
	d.RegisterExecutor(workflow.ActionShell, ExecutorFunc(func(_ context.Context, _ *workflow.Context, a workflow.Action) error {
		got = a
		return nil
	}))
	require.NoError(t, d.Dispatch(context.Background(), wctx, action))
	assert.Same(t, action, got)
}

func TestCallable(t *testing.T) {
	d := NewDispatcher(Dependencies{})
	wctx := newTestContext(t, nil)

	var gotArgs []any
	var gotKwargs map[string]any
	d.RegisterCallable("record", func(_ context.Context, _ *workflow.Context, args []any, kwargs map[string]any) error {
		gotArgs = args
		gotKwargs = kwargs
		return nil
	})
	d.RegisterCallable("fail", func(context.Context, *workflow.Context, []any, map[string]any) error {
		return errors.New("boom")
	})
	assert.Equal(t, []string{"fail", "record"}, d.Callables())

	action := &workflow.Callable{
		ActionBase: workflow.ActionBase{Name: "call", Type: workflow.ActionCallable},
		Callable:   "record",
		Args:       []any{"{{ .imbi_project.Slug }}", 3, "repository:///setup.cfg"},
		Kwargs:     map[string]any{"target": "extracted:///old.cfg"},
	}
	require.NoError(t, d.Dispatch(context.Background(), wctx, action))
	require.Len(t, gotArgs, 3)
	assert.Equal(t, "svc", gotArgs[0])
	assert.Equal(t, 3, gotArgs[1])
	assert.Equal(t, filepath.Join(wctx.RepositoryPath(), "setup.cfg"), gotArgs[2])
	assert.Equal(t, filepath.Join(wctx.ExtractedPath(), "old.cfg"), gotKwargs["target"])

	action.Callable = "fail"
	err := d.Dispatch(context.Background(), wctx, action)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callable fail failed: boom")

	action.Callable = "missing"
	err = d.Dispatch(context.Background(), wctx, action)
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))
}

func TestGitExtract(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		wantRev  string
	}{
		{"before last match", workflow.ExtractBeforeLastMatch, "cccccccccc~1:setup.cfg"},
		{"before first match", workflow.ExtractBeforeFirstMatch, "aaaaaaaaaa~1:setup.cfg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := mocks.NewMockGitRunner()
			runner.RespondWithMap(map[string]string{
				"log":  "cccccccccc\nbbbbbbbbbb\naaaaaaaaaa\n",
				"show": "[metadata]\nname = old\n",
			})
			d := NewDispatcher(Dependencies{Git: git.NewClient(runner, config.GitConfig{})})
			wctx := newTestContext(t, nil)

			action := &workflow.Git{
				ActionBase: workflow.ActionBase{Name: "extract", Type: workflow.ActionGit},
				Command:    workflow.GitExtract,
				Source:     "setup.cfg",
				Keyword:    "Convert to pyproject",
				Strategy:   tt.strategy,
			}
			require.NoError(t, d.Dispatch(context.Background(), wctx, action))

			logs := runner.GetCallsForCommand("log")
			require.Len(t, logs, 1)
			assert.Contains(t, logs[0].Args, "--grep=Convert to pyproject")
			assert.Equal(t, wctx.RepositoryPath(), logs[0].Dir)

			shows := runner.GetCallsForCommand("show")
			require.Len(t, shows, 1)
			assert.Equal(t, tt.wantRev, shows[0].Args[1])

			content, err := os.ReadFile(filepath.Join(wctx.ExtractedPath(), "setup.cfg"))
			require.NoError(t, err)
			assert.Equal(t, "[metadata]\nname = old\n", string(content))
		})
	}
}

func TestGitExtractNoMatch(t *testing.T) {
	runner := mocks.NewMockGitRunner()
	d := NewDispatcher(Dependencies{Git: git.NewClient(runner, config.GitConfig{})})
	wctx := newTestContext(t, nil)

	action := &workflow.Git{
		ActionBase:  workflow.ActionBase{Name: "extract", Type: workflow.ActionGit},
		Command:     workflow.GitExtract,
		Source:      "setup.cfg",
		Destination: "repository:///old-setup.cfg",
		Keyword:     "never",
		Strategy:    workflow.ExtractBeforeLastMatch,
	}
	require.NoError(t, d.Dispatch(context.Background(), wctx, action))
	assert.False(t, runner.WasCommandCalled("show"))
	_, err := os.Stat(filepath.Join(wctx.RepositoryPath(), "old-setup.cfg"))
	assert.True(t, os.IsNotExist(err))
}

func syncAction() *workflow.GitHub {
	return &workflow.GitHub{
		ActionBase: workflow.ActionBase{Name: "sync", Type: workflow.ActionGitHub},
		Command:    workflow.GitHubSyncEnvironments,
	}
}

func TestSyncEnvironments(t *testing.T) {
	host := mocks.NewMockGitHubHost()
	host.GetEnvironmentsFunc = func(context.Context, *github.Repository) ([]github.Environment, error) {
		return []github.Environment{{Name: "production"}, {Name: "legacy"}}, nil
	}
	d := NewDispatcher(Dependencies{GitHub: host})
	wctx := newTestContext(t, nil)
	wctx.Repository = mocks.MockRepository("svc")
	wctx.Project.Environments = []imbi.Environment{
		{Name: "Production", Slug: "production"},
		{Name: "Staging"},
		{Name: "Testing"},
	}

	require.NoError(t, d.Dispatch(context.Background(), wctx, syncAction()))
	assert.Equal(t, []string{"legacy"}, host.DeletedEnvironments)
	assert.Equal(t, []string{"staging", "testing"}, host.CreatedEnvironments)
}

func TestSyncEnvironmentsSkipsWithoutImbiEnvironments(t *testing.T) {
	host := mocks.NewMockGitHubHost()
	d := NewDispatcher(Dependencies{GitHub: host})
	wctx := newTestContext(t, nil)
	wctx.Repository = mocks.MockRepository("svc")

	require.NoError(t, d.Dispatch(context.Background(), wctx, syncAction()))
	assert.Empty(t, host.CreatedEnvironments)
	assert.Empty(t, host.DeletedEnvironments)
}

func TestSyncEnvironmentsSummarizesFailures(t *testing.T) {
	host := mocks.NewMockGitHubHost()
	host.CreateEnvironmentFunc = func(context.Context, *github.Repository, string) error {
		return errors.New("forbidden")
	}
	d := NewDispatcher(Dependencies{GitHub: host})
	wctx := newTestContext(t, nil)
	wctx.Repository = mocks.MockRepository("svc")
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		wctx.Project.Environments = append(wctx.Project.Environments, imbi.Environment{Name: name})
	}

	err := d.Dispatch(context.Background(), wctx, syncAction())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "environment sync failed:"))
	assert.Contains(t, err.Error(), "(and 2 more)")
	assert.Len(t, host.CreatedEnvironments, 5)
}

func TestSyncEnvironmentsRequiresRepository(t *testing.T) {
	d := NewDispatcher(Dependencies{GitHub: mocks.NewMockGitHubHost()})
	wctx := newTestContext(t, nil)
	wctx.Project.Environments = []imbi.Environment{{Name: "Production"}}

	err := d.Dispatch(context.Background(), wctx, syncAction())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no GitHub repository")
}

func newImbiDispatcher(t *testing.T) (*Dispatcher, *mocks.MockImbiRegistry) {
	t.Helper()
	registry := mocks.NewMockImbiRegistry()
	registry.FactTypes = []imbi.ProjectFactType{
		{ID: 7, Name: "Programming Language", FactType: imbi.FactTypeEnum, DataType: imbi.DataTypeString},
		{ID: 8, Name: "Test Coverage", FactType: imbi.FactTypeFreeForm, DataType: imbi.DataTypeDecimal},
	}
	registry.FactEnums = []imbi.ProjectFactTypeEnum{
		{ID: 1, FactTypeID: 7, Value: "Python 3.12"},
		{ID: 2, FactTypeID: 7, Value: "Python 3.13"},
	}
	registry.Environments = []imbi.Environment{
		{Name: "Production", Slug: "production"},
		{Name: "Staging", Slug: "staging"},
	}
	cache := imbi.NewMetadataCache(registry, t.TempDir())
	require.NoError(t, cache.Refresh(context.Background(), true))
	return NewDispatcher(Dependencies{Imbi: registry, Metadata: cache}), registry
}

func TestSetProjectFact(t *testing.T) {
	d, registry := newImbiDispatcher(t)
	wctx := newTestContext(t, nil)
	wctx.Variables["language"] = "Python 3.13"

	action := &workflow.Imbi{
		ActionBase: workflow.ActionBase{Name: "set-language", Type: workflow.ActionImbi},
		Command:    workflow.ImbiSetProjectFact,
		FactName:   "programming_language",
		Value:      "{{ .variables.language }}",
	}
	require.NoError(t, d.Dispatch(context.Background(), wctx, action))

	require.Len(t, registry.SetProjectFactsCalls, 1)
	call := registry.SetProjectFactsCalls[0]
	assert.Equal(t, 42, call.ProjectID)
	require.Len(t, call.Facts, 1)
	assert.Equal(t, 7, call.Facts[0].FactTypeID)
	assert.Equal(t, "Programming Language", call.Facts[0].FactName)
	assert.Equal(t, "Python 3.13", call.Facts[0].Value)
}

func TestSetProjectFactValidation(t *testing.T) {
	d, registry := newImbiDispatcher(t)
	wctx := newTestContext(t, nil)

	action := &workflow.Imbi{
		ActionBase: workflow.ActionBase{Name: "set-language", Type: workflow.ActionImbi},
		Command:    workflow.ImbiSetProjectFact,
		FactName:   "Programming Language",
		Value:      "Cobol",
	}
	err := d.Dispatch(context.Background(), wctx, action)
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))
	assert.Empty(t, registry.SetProjectFactsCalls)

	action.SkipValidations = true
	require.NoError(t, d.Dispatch(context.Background(), wctx, action))
	require.Len(t, registry.SetProjectFactsCalls, 1)

	action.FactName = "Unknown Fact"
	err = d.Dispatch(context.Background(), wctx, action)
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))
}

func TestSetProjectFactCoercesValue(t *testing.T) {
	d, registry := newImbiDispatcher(t)
	wctx := newTestContext(t, nil)

	action := &workflow.Imbi{
		ActionBase: workflow.ActionBase{Name: "coverage", Type: workflow.ActionImbi},
		Command:    workflow.ImbiSetProjectFact,
		FactName:   "test-coverage",
		Value:      "87.5",
	}
	require.NoError(t, d.Dispatch(context.Background(), wctx, action))
	require.Len(t, registry.SetProjectFactsCalls, 1)
	assert.InDelta(t, 87.5, registry.SetProjectFactsCalls[0].Facts[0].Value, 0.0001)
}

func TestSetEnvironments(t *testing.T) {
	d, registry := newImbiDispatcher(t)
	wctx := newTestContext(t, nil)

	action := &workflow.Imbi{
		ActionBase: workflow.ActionBase{Name: "envs", Type: workflow.ActionImbi},
		Command:    workflow.ImbiSetEnvironments,
		Values:     []string{"production", "Staging"},
	}
	require.NoError(t, d.Dispatch(context.Background(), wctx, action))
	require.Len(t, registry.SetProjectEnvironmentsCalls, 1)
	assert.Equal(t, []string{"Production", "Staging"}, registry.SetProjectEnvironmentsCalls[0].Environments)

	action.Values = []string{"qa"}
	err := d.Dispatch(context.Background(), wctx, action)
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))
}

func TestImbiRequiresRegistry(t *testing.T) {
	d := NewDispatcher(Dependencies{})
	action := &workflow.Imbi{
		ActionBase: workflow.ActionBase{Name: "envs", Type: workflow.ActionImbi},
		Command:    workflow.ImbiSetEnvironments,
	}
	err := d.Dispatch(context.Background(), newTestContext(t, nil), action)
	assert.True(t, errors.Is(err, workflow.ErrConfigValidation))
}
