// Package engine runs one workflow against one project.
//
// An execution moves through a fixed sequence of states:
//
//	Init -> (Resuming | Fresh) -> ConditionsChecked -> Cloned -> ActionsRunning -> Publishing -> Done
//
// A failing action leaves ActionsRunning for Failed. When preservation is
// enabled the working directory is copied aside together with a resume
// record before the error is returned, so a later run can continue from the
// failed action.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"imbi-automations/pkg/condition"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/filter"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/resume"
	"imbi-automations/pkg/tracker"
	"imbi-automations/pkg/workflow"
)

// Dispatcher runs a single action.
type Dispatcher interface {
	Dispatch(ctx context.Context, wctx *workflow.Context, action workflow.Action) error
}

// Committer commits the changes an action made. It reports whether a commit
// was created.
type Committer interface {
	Commit(ctx context.Context, wctx *workflow.Context, action workflow.Action) (bool, error)
}

// ConditionChecker evaluates local and remote conditions.
type ConditionChecker interface {
	Check(ctx context.Context, wctx *workflow.Context, conditionType workflow.ConditionType, conditions []workflow.Condition) (bool, error)
	CheckRemote(ctx context.Context, wctx *workflow.Context, conditionType workflow.ConditionType, conditions []workflow.Condition) (bool, error)
}

// ProjectFilter applies an action-level filter to the project record.
type ProjectFilter interface {
	MatchesStatic(project *imbi.Project, f *workflow.Filter) bool
}

// Drafter writes pull request bodies.
type Drafter interface {
	PullRequestBody(ctx context.Context, workflowName string, project *imbi.Project, summary string) (string, error)
}

// Dependencies are the collaborators an engine uses. Dispatcher, Committer
// and Git are required; the rest have defaults.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Dependencies struct {
	Dispatcher Dispatcher
	Committer  Committer
	Git        *git.Client
	GitHub     github.Host
	Conditions ConditionChecker
	Filter     ProjectFilter
	Drafter    Drafter
	Tracker    *tracker.Tracker
}

// State is a step of an execution.
type State string

// Execution states.
const (
	StateInit              State = "init"
	StateResuming          State = "resuming"
	StateFresh             State = "fresh"
	StateConditionsChecked State = "conditions_checked"
	StateCloned            State = "cloned"
	StateActionsRunning    State = "actions_running"
	StatePublishing        State = "publishing"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Result describes a finished execution.
type Result struct {
	// Completed is false when the workflow conditions were not met.
	Completed bool
	// Published is set when changes were pushed.
	Published bool
	// PullRequest is the pull request opened for the changes, if any.
	PullRequest *github.PullRequest
	// DryRunPath is where a dry run left the working directory.
	DryRunPath string
	// FinalState is the last state the execution reached.
	FinalState State
}

// Engine executes one workflow. It is safe to use for many projects at once;
// each execution owns its own working directory.
type Engine struct {
	cfg    *config.Configuration
	wf     *workflow.Workflow
	deps   Dependencies
	logger *logx.Logger
	now    func() time.Time
}

// New creates an engine for wf. A workflow with Claude actions is rejected
// when Claude Code is disabled.
func New(cfg *config.Configuration, wf *workflow.Workflow, deps Dependencies) (*Engine, error) {
	if deps.Dispatcher == nil || deps.Committer == nil || deps.Git == nil {
		return nil, fmt.Errorf("engine requires a dispatcher, a committer and a git client")
	}
	if !cfg.AIEnabled() {
		for _, action := range wf.Configuration.Actions {
			if action.Kind() == workflow.ActionClaude {
				return nil, workflow.Invalidf("workflow %s requires Claude Code, but it is not enabled", wf.Slug)
			}
		}
	}
	if deps.Conditions == nil {
		deps.Conditions = condition.NewChecker(deps.GitHub)
	}
	if deps.Filter == nil {
		deps.Filter = filter.New(cfg.Imbi.GitHubIdentifier, deps.GitHub)
	}
	if deps.Tracker == nil {
		deps.Tracker = tracker.New()
	}
	return &Engine{
		cfg:    cfg,
		wf:     wf,
		deps:   deps,
		logger: logx.NewLogger("engine"),
		now:    time.Now,
	}, nil
}

// Workflow returns the workflow the engine runs.
func (e *Engine) Workflow() *workflow.Workflow {
	return e.wf
}

// Execute runs the workflow from the start. repo may be nil for workflows
// that neither clone nor touch the source host.
func (e *Engine) Execute(ctx context.Context, project *imbi.Project, repo *github.Repository) (*Result, error) {
	return e.execute(ctx, project, repo, nil)
}

// Resume continues a preserved execution at state.FailedActionIndex. The
// preserved directory is copied, never modified, and is deleted once the
// resumed execution publishes successfully.
func (e *Engine) Resume(ctx context.Context, state *resume.State, project *imbi.Project, repo *github.Repository) (*Result, error) {
	if state == nil {
		return nil, fmt.Errorf("resume requires a state")
	}
	if state.FailedActionIndex < 0 || state.FailedActionIndex > len(e.wf.Configuration.Actions) {
		return nil, workflow.Invalidf("resume index %d is outside workflow %s (%d actions)",
			state.FailedActionIndex, e.wf.Slug, len(e.wf.Configuration.Actions))
	}
	if repo == nil {
		repo = repositoryFromRecord(state.GitHubRepository)
	}
	return e.execute(ctx, project, repo, state)
}

// execution is the per-project scope of one Execute or Resume call.
type execution struct {
	wctx    *workflow.Context
	state   *resume.State
	workDir string
	start   int
	current State
	logger  *logx.Logger
}

func (x *execution) enter(s State) {
	x.logger.Debug("%s -> %s", x.current, s)
	x.current = s
}

func (e *Engine) execute(ctx context.Context, project *imbi.Project, repo *github.Repository, state *resume.State) (*Result, error) {
	workDir, err := os.MkdirTemp("", "imbi-automations-")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			e.logger.Warn("Failed to remove working directory %s: %v", workDir, err)
		}
	}()

	x := &execution{
		state:   state,
		workDir: workDir,
		current: StateInit,
		logger:  e.logger.WithProject(project.Slug),
	}

	if state != nil {
		x.enter(StateResuming)
		if x.wctx, err = e.setupResume(workDir, project, repo, state); err != nil {
			return nil, err
		}
		x.start = state.FailedActionIndex
		x.logger.Info("Resuming from action %q (index %d)", state.FailedActionName, state.FailedActionIndex)
	} else {
		x.enter(StateFresh)
		if x.wctx, err = e.setupFresh(workDir, project, repo); err != nil {
			return nil, err
		}
		ok, err := e.deps.Conditions.CheckRemote(ctx, x.wctx, e.wf.Configuration.ConditionType, e.wf.Configuration.Conditions)
		if err != nil {
			return nil, err
		}
		if !ok {
			x.logger.Info("Remote workflow conditions not met")
			e.deps.Tracker.WorkflowRemoteConditionsNotMet()
			return &Result{FinalState: x.current}, nil
		}
	}

	if state == nil && e.wf.Configuration.Git.Clone {
		if err := e.clone(ctx, x); err != nil {
			return nil, err
		}
		x.enter(StateCloned)
	}

	if state == nil {
		ok, err := e.deps.Conditions.Check(ctx, x.wctx, e.wf.Configuration.ConditionType, e.wf.Configuration.Conditions)
		if err != nil {
			return nil, err
		}
		if !ok {
			x.logger.Info("Workflow conditions not met")
			e.deps.Tracker.WorkflowConditionsNotMet()
			return &Result{FinalState: x.current}, nil
		}
		x.enter(StateConditionsChecked)
	}

	x.enter(StateActionsRunning)
	actions := e.wf.Configuration.Actions
	x.wctx.TotalActions = len(actions)
	for idx := x.start; idx < len(actions); idx++ {
		x.wctx.CurrentActionIndex = idx + 1
		if err := e.runAction(ctx, x, actions[idx]); err != nil {
			x.enter(StateFailed)
			return nil, e.fail(x, idx, actions[idx], err)
		}
	}

	result := &Result{Completed: true}
	if e.cfg.DryRun {
		x.logger.Info("Dry-run mode: saving repository state to %s", e.dryRunDir())
		result.DryRunPath = e.preserve(x, e.dryRunDir(), nil)
		x.enter(StateDone)
		result.FinalState = x.current
		return result, nil
	}

	x.enter(StatePublishing)
	if x.wctx.HasRepositoryChanges {
		if err := e.publish(ctx, x, result); err != nil {
			return nil, err
		}
	} else {
		x.logger.Debug("No repository changes to push or create PR")
	}

	if state != nil {
		e.cleanupResumeState(x, state)
	}
	x.enter(StateDone)
	result.FinalState = x.current
	return result, nil
}

// runAction applies the action's gates in order and then dispatches it. A
// gate that is not met skips the action without error. A dispatch failure
// of an action marked ignore_errors is logged and the action is still
// committed.
func (e *Engine) runAction(ctx context.Context, x *execution, action workflow.Action) error {
	base := action.Base()
	kind := string(action.Kind())
	wctx := x.wctx

	if base.Filter != nil && !e.deps.Filter.MatchesStatic(wctx.Project, base.Filter) {
		x.logger.Debug("Skipping %s due to action filter", base.Name)
		e.deps.Tracker.ActionFilterSkipped(kind)
		return nil
	}

	ok, err := e.deps.Conditions.Check(ctx, wctx, base.ConditionType, base.Conditions)
	if err != nil {
		return err
	}
	if !ok {
		x.logger.Debug("Skipping %s due to failed condition check", base.Name)
		e.deps.Tracker.ActionConditionSkipped(kind)
		return nil
	}
	ok, err = e.deps.Conditions.CheckRemote(ctx, wctx, base.ConditionType, base.Conditions)
	if err != nil {
		return err
	}
	if !ok {
		x.logger.Info("Skipping %s due to failed remote condition check", base.Name)
		e.deps.Tracker.ActionRemoteConditionSkipped(kind)
		return nil
	}

	if err := e.deps.Dispatcher.Dispatch(ctx, wctx, action); err != nil {
		if !base.IgnoreErrors || ctx.Err() != nil {
			return err
		}
		x.logger.Warn("%s failed (ignored): %v", base.Name, err)
	} else {
		e.deps.Tracker.ActionExecuted(kind)
	}

	if !base.Committable {
		return nil
	}
	committed, err := e.deps.Committer.Commit(ctx, wctx, action)
	if err != nil {
		return err
	}
	if committed {
		wctx.HasRepositoryChanges = true
		e.deps.Tracker.ActionCommitted()
	}
	return nil
}

func (e *Engine) clone(ctx context.Context, x *execution) error {
	repo := x.wctx.Repository
	if repo == nil {
		return fmt.Errorf("workflow %s clones a repository, but no repository was provided", e.wf.Slug)
	}
	url := repo.SSHURL
	if e.wf.Configuration.Git.CloneType == workflow.CloneHTTP {
		url = repo.CloneURL
	}
	gitSettings := e.wf.Configuration.Git
	cloned, err := e.deps.Git.Clone(ctx, url, x.wctx.RepositoryPath(), gitSettings.StartingBranch, gitSettings.Depth)
	if err != nil {
		return err
	}
	if x.wctx.StartingCommit, err = cloned.HeadCommit(ctx); err != nil {
		return err
	}
	e.deps.Tracker.RepositoryCloned()
	x.logger.Debug("Cloned %s at %s", repo.Path(), x.wctx.StartingCommit)
	return nil
}

func (e *Engine) dryRunDir() string {
	if e.cfg.DryRunDir != "" {
		return e.cfg.DryRunDir
	}
	return config.DefaultDryRunDir
}

func (e *Engine) errorDir() string {
	if e.cfg.ErrorDir != "" {
		return e.cfg.ErrorDir
	}
	return config.DefaultErrorDir
}
