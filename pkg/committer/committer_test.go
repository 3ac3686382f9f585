package committer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbi-automations/internal/mocks"
	"imbi-automations/pkg/claude"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/templates"
	"imbi-automations/pkg/workflow"
)

func testContext(t *testing.T) *workflow.Context {
	t.Helper()
	wf := &workflow.Workflow{Slug: "upgrade", Path: t.TempDir(), Configuration: workflow.Configuration{Name: "Upgrade Python"}}
	return workflow.NewContext(wf, &imbi.Project{ID: 1, Slug: "svc"}, nil, t.TempDir())
}

func newCommitter(t *testing.T, cfg *config.Configuration, runner *mocks.MockGitRunner, agent claude.Agent) *Committer {
	t.Helper()
	renderer, err := templates.NewRenderer()
	require.NoError(t, err)
	return New(cfg, git.NewClient(runner, config.GitConfig{}), agent, renderer)
}

func TestMessage(t *testing.T) {
	assert.Equal(t,
		"imbi-automations: Upgrade - bump\n\nRaise the floor\n\n"+Trailer,
		Message("Upgrade", "bump", "Raise the floor"))
	assert.Equal(t, "imbi-automations: Upgrade - bump\n\n"+Trailer, Message("Upgrade", "bump", ""))
}

func TestManualCommitCreatesCommit(t *testing.T) {
	runner := mocks.NewMockGitRunner()
	runner.RespondWithMap(map[string]string{"commit": "[main 1a2b3c4] imbi-automations: Upgrade Python - bump\n 1 file changed"})
	c := newCommitter(t, &config.Configuration{}, runner, nil)

	action := &workflow.Shell{ActionBase: workflow.ActionBase{Name: "bump", Committable: true, CommitMessage: "Raise the floor"}}
	committed, err := c.Commit(context.Background(), testContext(t), action)
	require.NoError(t, err)
	assert.True(t, committed)

	require.True(t, runner.WasCommandCalled("add"))
	assert.Equal(t, []string{"add", "-A"}, runner.GetCallsForCommand("add")[0].Args)

	calls := runner.GetCallsForCommand("commit")
	require.Len(t, calls, 1)
	args := calls[0].Args
	assert.Contains(t, args, "user.name=Imbi Automations")
	assert.Contains(t, args, "user.email=noreply@aweber.com")
	assert.Equal(t, Message("Upgrade Python", "bump", "Raise the floor"), args[len(args)-1])
}

func TestManualCommitNothingToCommit(t *testing.T) {
	runner := mocks.NewMockGitRunner()
	runner.RespondWithMap(map[string]string{"commit": "On branch main\nnothing to commit, working tree clean"})
	c := newCommitter(t, &config.Configuration{}, runner, nil)

	committed, err := c.Commit(context.Background(), testContext(t), &workflow.Shell{ActionBase: workflow.ActionBase{Name: "bump"}})
	require.NoError(t, err)
	assert.False(t, committed)
}

func TestManualCommitFailureIsFatal(t *testing.T) {
	runner := mocks.NewMockGitRunner()
	runner.FailCommandWith("add", "fatal: not a git repository", errors.New("exit status 128"))
	c := newCommitter(t, &config.Configuration{}, runner, nil)

	_, err := c.Commit(context.Background(), testContext(t), &workflow.Shell{ActionBase: workflow.ActionBase{Name: "bump"}})
	require.Error(t, err)
	assert.False(t, runner.WasCommandCalled("commit"))
}

func TestAgentCommit(t *testing.T) {
	cfg := &config.Configuration{AICommits: true, ClaudeCode: config.ClaudeCodeConfig{Enabled: true}}
	action := &workflow.Claude{ActionBase: workflow.ActionBase{Name: "modernize", AICommit: true}}

	tests := []struct {
		name    string
		run     *claude.AgentRun
		want    bool
		wantErr bool
	}{
		{"success", &claude.AgentRun{Result: claude.ResultSuccess}, true, false},
		{"nothing to commit", &claude.AgentRun{Result: claude.ResultFailure, Message: "No changes to commit"}, false, false},
		{"clean tree", &claude.AgentRun{Result: claude.ResultFailure, Message: "The working tree is clean."}, false, false},
		{"other failure", &claude.AgentRun{Result: claude.ResultFailure, Message: "pre-commit hook rejected"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := mocks.NewMockGitRunner()
			agent := mocks.NewMockAgent()
			agent.OnQuery(func(context.Context, claude.QueryRequest) (*claude.AgentRun, error) {
				return tt.run, nil
			})
			c := newCommitter(t, cfg, runner, agent)

			committed, err := c.Commit(context.Background(), testContext(t), action)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, committed)

			calls := agent.CallsOfKind(claude.TurnCommit)
			require.Len(t, calls, 1)
			assert.Contains(t, calls[0].Prompt, "imbi-automations: Upgrade Python - modernize")
			assert.Empty(t, runner.RunCalls, "agent commits do not run git directly")
		})
	}
}

func TestAgentCommitRequiresGlobalSetting(t *testing.T) {
	runner := mocks.NewMockGitRunner()
	runner.RespondWithMap(map[string]string{"commit": "[main abcdef1] msg"})
	agent := mocks.NewMockAgent()
	cfg := &config.Configuration{ClaudeCode: config.ClaudeCodeConfig{Enabled: true}}
	c := newCommitter(t, cfg, runner, agent)

	committed, err := c.Commit(context.Background(), testContext(t),
		&workflow.Claude{ActionBase: workflow.ActionBase{Name: "modernize", AICommit: true}})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Zero(t, agent.CallCount())
}
