// Package actions executes workflow actions against a project's working
// directory.
//
// The Dispatcher switches over the closed set of action kinds. Kinds whose
// behavior lives outside this package (docker, file, shell and template) are
// delegated to an Executor registered for the kind.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"imbi-automations/pkg/claude"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/templates"
	"imbi-automations/pkg/workflow"
)

// ErrUnsupportedAction is returned for an action kind or command that has no
// implementation.
var ErrUnsupportedAction = errors.New("unsupported action")

// Executor runs actions of one kind.
type Executor interface {
	Execute(ctx context.Context, wctx *workflow.Context, action workflow.Action) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, wctx *workflow.Context, action workflow.Action) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, wctx *workflow.Context, action workflow.Action) error {
	return f(ctx, wctx, action)
}

// CallableFunc is a Go function invoked by callable actions. Arguments have
// been rendered and path references resolved.
type CallableFunc func(ctx context.Context, wctx *workflow.Context, args []any, kwargs map[string]any) error

// Dependencies are the collaborators actions use. Nil members disable the
// actions that need them.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Dependencies struct {
	Config   *config.Configuration
	Git      *git.Client
	GitHub   github.Host
	Imbi     imbi.Registry
	Metadata *imbi.MetadataCache
	Agent    claude.Agent
	Renderer *templates.Renderer
}

// Dispatcher routes actions to their implementation.
type Dispatcher struct {
	deps      Dependencies
	mu        sync.RWMutex
	callables map[string]CallableFunc
	executors map[workflow.ActionType]Executor
	logger    *logx.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(deps Dependencies) *Dispatcher {
	if deps.Config == nil {
		deps.Config = &config.Configuration{}
	}
	return &Dispatcher{
		deps:      deps,
		callables: make(map[string]CallableFunc),
		executors: make(map[workflow.ActionType]Executor),
		logger:    logx.NewLogger("actions"),
	}
}

// RegisterCallable makes fn available to callable actions under name.
func (d *Dispatcher) RegisterCallable(name string, fn CallableFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callables[name] = fn
}

// Callables returns the registered callable names, sorted.
func (d *Dispatcher) Callables() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.callables))
	for name := range d.callables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterExecutor handles every action of kind with executor.
func (d *Dispatcher) RegisterExecutor(kind workflow.ActionType, executor Executor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executors[kind] = executor
}

// Dispatch runs action.
func (d *Dispatcher) Dispatch(ctx context.Context, wctx *workflow.Context, action workflow.Action) error {
	switch a := action.(type) {
	case *workflow.Callable:
		return d.executeCallable(ctx, wctx, a)
	case *workflow.Claude:
		return d.executeClaude(ctx, wctx, a)
	case *workflow.Git:
		return d.executeGit(ctx, wctx, a)
	case *workflow.GitHub:
		return d.executeGitHub(ctx, wctx, a)
	case *workflow.Imbi:
		return d.executeImbi(ctx, wctx, a)
	case *workflow.Utility:
		return d.executeUtility(ctx, wctx, a)
	case *workflow.Docker, *workflow.File, *workflow.Shell, *workflow.Template:
		return d.delegate(ctx, wctx, action)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedAction, action)
	}
}

func (d *Dispatcher) delegate(ctx context.Context, wctx *workflow.Context, action workflow.Action) error {
	d.mu.RLock()
	executor, ok := d.executors[action.Kind()]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no executor for %s actions (%s)", ErrUnsupportedAction, action.Kind(), action.Base().Name)
	}
	return executor.Execute(ctx, wctx, action)
}

func (d *Dispatcher) projectLogger(wctx *workflow.Context) *logx.Logger {
	return d.logger.WithProject(wctx.Project.Slug)
}
