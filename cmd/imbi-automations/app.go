package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"imbi-automations/pkg/actions"
	"imbi-automations/pkg/claude"
	"imbi-automations/pkg/committer"
	"imbi-automations/pkg/condition"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/controller"
	"imbi-automations/pkg/engine"
	"imbi-automations/pkg/filter"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/persistence"
	"imbi-automations/pkg/preflight"
	"imbi-automations/pkg/templates"
	"imbi-automations/pkg/tracker"
	"imbi-automations/pkg/workflow"
)

// app holds everything a command needs to run one workflow.
type app struct {
	cfg        *config.Configuration
	workflow   *workflow.Workflow
	controller *controller.Controller
	history    *persistence.Store
	logger     *logx.Logger
}

// Close releases the history store.
func (a *app) Close() {
	if a.history == nil {
		return
	}
	if err := a.history.Close(); err != nil {
		a.logger.Warn("Failed to close history database: %v", err)
	}
}

// overrides are command line values that take precedence over the
// configuration file.
type overrides struct {
	dryRun          bool
	preserveOnError bool
	errorDir        string
	skipPreflight   bool
}

func (o overrides) apply(cfg *config.Configuration) {
	if o.dryRun {
		cfg.DryRun = true
	}
	if o.preserveOnError {
		cfg.PreserveOnError = true
	}
	if o.errorDir != "" {
		cfg.ErrorDir = o.errorDir
	}
}

// newApp loads configuration and the workflow in workflowDir, checks the
// tools the workflow needs and wires the clients, the engine and the
// controller.
func newApp(ctx context.Context, configPath, workflowDir string, ov overrides, opts controller.Options) (*app, error) {
	logger := logx.NewLogger("cli")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	ov.apply(cfg)

	wf, err := workflow.Load(workflowDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowDir, err)
	}

	if !ov.skipPreflight {
		if err := preflight.Validate(ctx, cfg, wf); err != nil {
			return nil, err
		}
	}

	renderer, err := templates.NewRenderer()
	if err != nil {
		return nil, err
	}

	imbiClient := imbi.NewClient(cfg.Imbi)
	metadata := imbi.NewMetadataCache(imbiClient, cfg.CacheDir)
	host := github.NewClient(cfg.GitHub, github.WithProjectLinks(cfg.Imbi.GitHubIdentifier, cfg.Imbi.GitHubLink))
	gitClient := git.NewClient(git.NewExecRunner(), cfg.Git)

	var agent claude.Agent
	if cfg.AIEnabled() {
		agent = claude.NewCLIAgent(cfg.ClaudeCode, cfg.Anthropic.APIKey, renderer)
	}

	dispatcher := actions.NewDispatcher(actions.Dependencies{
		Config:   cfg,
		Git:      gitClient,
		GitHub:   host,
		Imbi:     imbiClient,
		Metadata: metadata,
		Agent:    agent,
		Renderer: renderer,
	})

	stats := tracker.New()
	deps := engine.Dependencies{
		Dispatcher: dispatcher,
		Committer:  committer.New(cfg, gitClient, agent, renderer),
		Git:        gitClient,
		GitHub:     host,
		Conditions: condition.NewChecker(host),
		Filter:     filter.New(cfg.Imbi.GitHubIdentifier, host),
		Tracker:    stats,
	}
	if cfg.AIEnabled() {
		drafter, err := newDrafter(cfg, renderer)
		switch {
		case errors.Is(err, claude.ErrBedrockUnsupported):
			logger.Warn("Pull request bodies will not be drafted: %v", err)
		case err != nil:
			return nil, err
		default:
			deps.Drafter = drafter
		}
	}

	executor, err := engine.New(cfg, wf, deps)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, workflow: wf, logger: logger}
	cdeps := controller.Dependencies{
		Executor: executor,
		Imbi:     imbiClient,
		GitHub:   host,
		Git:      gitClient,
		Metadata: metadata,
		Tracker:  stats,
	}
	if cfg.HistoryDB != "" {
		if a.history, err = openHistory(cfg.HistoryDB); err != nil {
			return nil, err
		}
		cdeps.History = a.history
	}

	a.controller, err = controller.New(cfg, cdeps, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newDrafter(cfg *config.Configuration, renderer *templates.Renderer) (*claude.Drafter, error) {
	completer, err := claude.NewAnthropicClient(cfg.Anthropic)
	if err != nil {
		return nil, err
	}
	return claude.NewDrafter(completer, renderer, cfg.Anthropic.PromptTokenBudget)
}

func openHistory(path string) (*persistence.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return persistence.Open(path)
}
