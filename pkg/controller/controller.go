// Package controller runs a workflow across the projects selected on the
// command line and provides the resume and followup entry points.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/engine"
	"imbi-automations/pkg/filter"
	"imbi-automations/pkg/git"
	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/persistence"
	"imbi-automations/pkg/resume"
	"imbi-automations/pkg/tracker"
	"imbi-automations/pkg/workflow"
)

// ErrNoFollowupActions is returned by RerunFollowup for a workflow without
// followup-stage actions.
var ErrNoFollowupActions = errors.New("workflow has no followup actions")

// Executor runs a workflow against one project.
type Executor interface {
	Workflow() *workflow.Workflow
	Execute(ctx context.Context, project *imbi.Project, repo *github.Repository) (*engine.Result, error)
	Resume(ctx context.Context, state *resume.State, project *imbi.Project, repo *github.Repository) (*engine.Result, error)
}

// ProjectMatcher applies the workflow filter to a project.
type ProjectMatcher interface {
	Matches(ctx context.Context, project *imbi.Project, f *workflow.Filter) (bool, error)
}

// History records project outcomes.
type History interface {
	RecordRun(ctx context.Context, run *persistence.Run) error
}

// Dependencies are the collaborators a controller uses. Executor and Imbi are
// required. Git is required by RerunFollowup only.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Dependencies struct {
	Executor Executor
	Imbi     imbi.Registry
	GitHub   github.Host
	Git      *git.Client
	Metadata *imbi.MetadataCache
	Filter   ProjectMatcher
	History  History
	Tracker  *tracker.Tracker
}

// Options tune a batch run.
type Options struct {
	// ExitOnError stops the batch at the first failed project.
	ExitOnError bool
	// MaxConcurrency overrides the configured limit when positive.
	MaxConcurrency int
	// Output receives the batch summary table. Nil disables it.
	Output io.Writer
}

// Target selects the projects a run processes. Exactly one field is set.
type Target struct {
	ProjectID   int
	ProjectType string
	AllProjects bool
}

func (t Target) validate() error {
	set := 0
	if t.ProjectID > 0 {
		set++
	}
	if t.ProjectType != "" {
		set++
	}
	if t.AllProjects {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of project id, project type or all projects must be given")
	}
	return nil
}

// Controller drives one workflow across many projects.
type Controller struct {
	cfg    *config.Configuration
	deps   Dependencies
	opts   Options
	logger *logx.Logger
	now    func() time.Time
}

// New creates a controller.
func New(cfg *config.Configuration, deps Dependencies, opts Options) (*Controller, error) {
	if deps.Executor == nil || deps.Imbi == nil {
		return nil, fmt.Errorf("controller requires an executor and an imbi registry")
	}
	if deps.Filter == nil {
		deps.Filter = filter.New(cfg.Imbi.GitHubIdentifier, deps.GitHub)
	}
	if deps.Tracker == nil {
		deps.Tracker = tracker.New()
	}
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		opts:   opts,
		logger: logx.NewLogger("controller"),
		now:    time.Now,
	}, nil
}

func (c *Controller) maxConcurrency() int {
	if c.opts.MaxConcurrency > 0 {
		return c.opts.MaxConcurrency
	}
	if c.cfg.MaxConcurrency > 0 {
		return c.cfg.MaxConcurrency
	}
	return config.DefaultMaxConcurrency
}

// Run processes target and reports whether every project succeeded. A single
// project run returns the project's error; a batch run only returns an error
// when ExitOnError stopped it or the projects could not be listed.
func (c *Controller) Run(ctx context.Context, target Target) (bool, error) {
	if err := target.validate(); err != nil {
		return false, err
	}
	if err := c.refreshMetadata(ctx); err != nil {
		return false, err
	}
	wf := c.deps.Executor.Workflow()
	if err := filter.Validate(wf.Configuration.Filter, c.deps.Metadata); err != nil {
		return false, fmt.Errorf("invalid filter in workflow %s: %w", wf.Slug, err)
	}
	defer c.writeMetrics()

	if target.ProjectID > 0 {
		project, err := c.deps.Imbi.GetProject(ctx, target.ProjectID)
		if err != nil {
			return false, fmt.Errorf("failed to fetch project %d: %w", target.ProjectID, err)
		}
		out := c.processProject(ctx, project)
		c.report([]*outcome{out})
		if out.err != nil {
			return false, fmt.Errorf("project %s: %w", project.Slug, out.err)
		}
		return true, nil
	}

	var (
		projects []imbi.Project
		err      error
	)
	if target.ProjectType != "" {
		if err := c.validateProjectType(target.ProjectType); err != nil {
			return false, err
		}
		projects, err = c.deps.Imbi.GetProjectsByType(ctx, target.ProjectType)
	} else {
		projects, err = c.deps.Imbi.GetProjects(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("failed to list projects: %w", err)
	}
	c.logger.Debug("Found %d total active projects", len(projects))

	filtered, err := c.filterProjects(ctx, projects)
	if err != nil {
		return false, err
	}
	return c.processBatch(ctx, filtered)
}

func (c *Controller) refreshMetadata(ctx context.Context) error {
	if c.deps.Metadata == nil {
		return nil
	}
	if err := c.deps.Metadata.Refresh(ctx, false); err != nil {
		return fmt.Errorf("failed to load imbi metadata: %w", err)
	}
	return nil
}

func (c *Controller) validateProjectType(slug string) error {
	if c.deps.Metadata == nil {
		return nil
	}
	types := c.deps.Metadata.Snapshot().ProjectTypes
	if len(types) == 0 {
		return nil
	}
	if !slices.ContainsFunc(types, func(pt imbi.ProjectType) bool { return pt.Slug == slug }) {
		return workflow.Invalidf("invalid project type slug `%s`", slug)
	}
	return nil
}

// filterProjects applies the workflow filter concurrently, keeping the
// original order.
func (c *Controller) filterProjects(ctx context.Context, projects []imbi.Project) ([]*imbi.Project, error) {
	wfFilter := c.deps.Executor.Workflow().Configuration.Filter
	if wfFilter.IsEmpty() {
		out := make([]*imbi.Project, len(projects))
		for i := range projects {
			out[i] = &projects[i]
		}
		return out, nil
	}

	sem := semaphore.NewWeighted(int64(c.maxConcurrency()))
	keep := make([]bool, len(projects))
	errs := make([]error, len(projects))
	var wg sync.WaitGroup
	for i := range projects {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return nil, err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			keep[i], errs[i] = c.deps.Filter.Matches(ctx, &projects[i], wfFilter)
		}(i)
	}
	wg.Wait()

	var out []*imbi.Project
	for i := range projects {
		if errs[i] != nil {
			return nil, fmt.Errorf("failed to filter project %s: %w", projects[i].Slug, errs[i])
		}
		if keep[i] {
			out = append(out, &projects[i])
		}
	}
	c.logger.Debug("Filtered %d projects out of %d total", len(projects)-len(out), len(projects))
	return out, nil
}

// processBatch runs every project with bounded concurrency. With ExitOnError
// the first failure cancels the projects that are still running.
func (c *Controller) processBatch(ctx context.Context, projects []*imbi.Project) (bool, error) {
	outcomes := make([]*outcome, len(projects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrency())
	for i, project := range projects {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out := c.processProject(gctx, project)
			outcomes[i] = out
			if out.err != nil && c.opts.ExitOnError {
				return fmt.Errorf("workflow failed for %s (%d): %w", project.Name, project.ID, out.err)
			}
			return nil
		})
	}
	groupErr := g.Wait()

	var ran []*outcome
	succeeded, failed := 0, 0
	for _, out := range outcomes {
		if out == nil {
			continue
		}
		ran = append(ran, out)
		if out.err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	c.report(ran)

	if failed > 0 {
		c.logger.Warn("Completed batch processing: %d succeeded, %d failed", succeeded, failed)
	} else {
		c.logger.Info("Completed batch processing: %d succeeded, %d failed", succeeded, failed)
	}
	if groupErr != nil {
		return false, groupErr
	}
	return failed == 0, nil
}

// outcome is the result of one project.
type outcome struct {
	project  *imbi.Project
	result   *engine.Result
	err      error
	started  time.Time
	finished time.Time
}

func (o *outcome) status() string {
	switch {
	case o.err != nil:
		return "failed"
	case o.result == nil || !o.result.Completed:
		return "skipped"
	default:
		return "succeeded"
	}
}

func (o *outcome) detail() string {
	var actionErr *engine.ActionError
	switch {
	case errors.As(o.err, &actionErr) && actionErr.PreservedPath != "":
		return fmt.Sprintf("%v (preserved to %s)", o.err, actionErr.PreservedPath)
	case o.err != nil:
		return o.err.Error()
	case o.result == nil:
		return ""
	case o.result.PullRequest != nil:
		return o.result.PullRequest.URL
	case o.result.DryRunPath != "":
		return "dry run saved to " + o.result.DryRunPath
	case !o.result.Completed:
		return "workflow conditions not met"
	case o.result.Published:
		return "changes pushed"
	default:
		return "no changes"
	}
}

func (c *Controller) processProject(ctx context.Context, project *imbi.Project) *outcome {
	out := &outcome{project: project, started: c.now()}
	c.logger.Info("Processing Project %d - %s", project.ID, project.Slug)

	repo, err := c.repository(ctx, project)
	if err == nil {
		out.result, err = c.deps.Executor.Execute(ctx, project, repo)
	}
	c.finish(ctx, out, err)
	if err == nil {
		c.logger.Info("Completed processing %s (%d)", project.Name, project.ID)
	}
	return out
}

// repository looks up the project's source repository. A project without one
// runs with a nil repository.
func (c *Controller) repository(ctx context.Context, project *imbi.Project) (*github.Repository, error) {
	if c.deps.GitHub == nil {
		return nil, nil
	}
	repo, err := c.deps.GitHub.GetRepository(ctx, project)
	if errors.Is(err, github.ErrNotFound) {
		c.logger.Debug("No GitHub repository for %s", project.Slug)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up repository for %s: %w", project.Slug, err)
	}
	return repo, nil
}

// finish counts the outcome and records it in the run history.
func (c *Controller) finish(ctx context.Context, out *outcome, err error) {
	out.err = err
	out.finished = c.now()
	if err != nil {
		c.deps.Tracker.ProjectFailed()
	} else {
		c.deps.Tracker.ProjectSucceeded()
	}
	c.record(ctx, out)
}

func (c *Controller) record(ctx context.Context, out *outcome) {
	if c.deps.History == nil {
		return
	}
	run := &persistence.Run{
		WorkflowSlug: c.deps.Executor.Workflow().Slug,
		ProjectID:    out.project.ID,
		ProjectSlug:  out.project.Slug,
		StartedAt:    out.started,
		FinishedAt:   out.finished,
		Success:      out.err == nil,
	}
	if out.result != nil {
		run.Completed = out.result.Completed
		run.FinalState = string(out.result.FinalState)
		if out.result.PullRequest != nil {
			run.PullRequestURL = out.result.PullRequest.URL
		}
	}
	if out.err != nil {
		run.Error = out.err.Error()
		run.FinalState = string(engine.StateFailed)
		var actionErr *engine.ActionError
		if errors.As(out.err, &actionErr) {
			run.PreservedPath = actionErr.PreservedPath
		}
	}
	// The history outlives a cancelled batch.
	if err := c.deps.History.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		c.logger.Warn("Failed to record run for %s: %v", out.project.Slug, err)
	}
}

func (c *Controller) writeMetrics() {
	if c.cfg.MetricsFile == "" {
		return
	}
	if err := c.deps.Tracker.WriteFile(c.cfg.MetricsFile); err != nil {
		c.logger.Warn("Failed to write metrics to %s: %v", c.cfg.MetricsFile, err)
		return
	}
	c.logger.Debug("Wrote metrics to %s", c.cfg.MetricsFile)
}
