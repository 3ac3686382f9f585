package actions

import (
	"context"
	"fmt"
	"strings"

	"imbi-automations/pkg/claude"
	"imbi-automations/pkg/config"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/templates"
	"imbi-automations/pkg/workflow"
)

// CycleExhaustedError is returned when no cycle of a Claude action succeeded.
// Category is a diagnostic label derived from the last failure message.
type CycleExhaustedError struct {
	Action    string
	MaxCycles int
	Category  string
	LastError *claude.AgentRun
}

func (e *CycleExhaustedError) Error() string {
	msg := fmt.Sprintf("Claude Code action %s failed after %d cycles", e.Action, e.MaxCycles)
	if e.Category != "" {
		msg += fmt.Sprintf(" (category: %s)", e.Category)
	}
	return msg
}

// CycleState is carried from one cycle into the next. A plan only lives for
// the cycle that produced it; the last error survives until a task or
// validation turn succeeds.
type CycleState struct {
	LastError *claude.AgentRun
	Plan      *claude.AgentPlan
}

type turn struct {
	kind   claude.TurnKind
	prompt string
}

// cycleRunner runs the cycles of one Claude action.
//
//nolint:govet // Logical grouping preferred over memory optimization
type cycleRunner struct {
	agent        claude.Agent
	renderer     *templates.Renderer
	action       *workflow.Claude
	wctx         *workflow.Context
	data         map[string]any
	systemPrompt string
	logger       *logx.Logger
}

func (d *Dispatcher) executeClaude(ctx context.Context, wctx *workflow.Context, action *workflow.Claude) error {
	if d.deps.Agent == nil || !d.deps.Config.AIEnabled() {
		return workflow.Invalidf("action %s requires claude_code.enabled", action.Name)
	}

	data, err := d.promptData(wctx, action)
	if err != nil {
		return err
	}
	r := &cycleRunner{
		agent:    d.deps.Agent,
		renderer: d.deps.Renderer,
		action:   action,
		wctx:     wctx,
		data:     data,
		logger:   d.projectLogger(wctx),
	}
	if prompt := wctx.Workflow.Configuration.Prompt; prompt != "" {
		if r.systemPrompt, err = templates.RenderResource(wctx.Resources, resourcePath(prompt), data); err != nil {
			return fmt.Errorf("failed to render workflow prompt: %w", err)
		}
	}
	return r.run(ctx, d.deps.Config.AgentCycles)
}

func (d *Dispatcher) promptData(wctx *workflow.Context, action *workflow.Claude) (map[string]any, error) {
	name, email, err := d.deps.Config.CommitAuthorParts()
	if err != nil {
		return nil, err
	}
	author := d.deps.Config.CommitAuthor
	if author == "" {
		author = config.DefaultCommitAuthor
	}
	data := templates.ContextData(wctx)
	data["commit_author"] = author
	data["commit_author_name"] = name
	data["commit_author_address"] = email
	data["action"] = action
	return data, nil
}

func (r *cycleRunner) run(ctx context.Context, tuning config.AgentCycleConfig) error {
	ratio := tuning.WarningRatio
	if ratio <= 0 {
		ratio = config.DefaultWarningRatio
	}
	minCycles := tuning.WarningMinCycles
	if minCycles <= 0 {
		minCycles = config.DefaultWarningMinCycles
	}
	maxCycles := r.action.MaxCycles
	threshold := int(float64(maxCycles) * ratio)

	var state CycleState
	for cycle := 1; cycle <= maxCycles; cycle++ {
		r.logger.Info("%s Claude Code cycle %d/%d", r.action.Name, cycle, maxCycles)
		if threshold <= cycle && cycle < maxCycles && maxCycles > minCycles {
			r.logger.Warn("%s has used %d/%d cycles - approaching limit", r.action.Name, cycle, maxCycles)
		}

		var ok bool
		var err error
		state, ok, err = r.runCycle(ctx, cycle, state)
		if err != nil {
			return err
		}
		if ok {
			r.logger.Debug("%s Claude Code cycle %d successful", r.action.Name, cycle)
			return nil
		}
	}

	categories := tuning.Categories
	if len(categories) == 0 {
		categories = config.DefaultFailureCategories()
	}
	exhausted := &CycleExhaustedError{
		Action:    r.action.Name,
		MaxCycles: maxCycles,
		Category:  Categorize(state.LastError, categories),
		LastError: state.LastError,
	}
	if exhausted.Category != "" {
		r.logger.Error("%s failure categorized as: %s - consider adjusting workflow constraints",
			r.action.Name, exhausted.Category)
	}
	return exhausted
}

func (r *cycleRunner) turns() []turn {
	var turns []turn
	if r.action.PlanningPrompt != "" {
		turns = append(turns, turn{kind: claude.TurnPlanning, prompt: r.action.PlanningPrompt})
	}
	turns = append(turns, turn{kind: claude.TurnTask, prompt: r.action.TaskPrompt})
	if r.action.ValidationPrompt != "" {
		turns = append(turns, turn{kind: claude.TurnValidation, prompt: r.action.ValidationPrompt})
	}
	return turns
}

// runCycle runs one planning/task/validation sequence. ok reports whether
// every turn succeeded; err is reserved for failures that end the action
// outright, such as an unreadable prompt or an agent that cannot be started.
func (r *cycleRunner) runCycle(ctx context.Context, cycle int, state CycleState) (CycleState, bool, error) {
	state.Plan = nil

	for _, t := range r.turns() {
		r.logger.Debug("%s executing Claude Code %s agent in cycle %d", r.action.Name, t.kind, cycle)
		prompt, err := r.prompt(t, state)
		if err != nil {
			return state, false, err
		}

		run, err := r.query(ctx, t.kind, prompt)
		if err != nil {
			return state, false, err
		}

		if run.Failed() {
			r.logger.Error("%s Claude Code %s agent failed in cycle %d: %s", r.action.Name, t.kind, cycle, run.Message)
			if t.kind != claude.TurnPlanning {
				state.LastError = run
			}
			state.Plan = nil
			return state, false, nil
		}

		if t.kind == claude.TurnPlanning {
			plan, err := run.AsPlan()
			if err != nil {
				r.logger.Error("%s failed to parse planning result: %v", r.action.Name, err)
				state.Plan = nil
				return state, false, nil
			}
			state.Plan = plan
			if plan.SkipTask {
				r.logger.Info("%s planning agent found nothing to do", r.action.Name)
				return state, true, nil
			}
			r.logger.Debug("%s planning agent created plan with %d tasks", r.action.Name, len(plan.Plan))
			continue
		}
		state.LastError = nil
	}
	return state, true, nil
}

// prompt renders the prompt for t. A carried error goes to the planning turn,
// or to the task turn when there is no planning stage. Otherwise the task
// turn carries this cycle's plan.
func (r *cycleRunner) prompt(t turn, state CycleState) (string, error) {
	original, err := templates.RenderResource(r.wctx.Resources, resourcePath(t.prompt), r.data)
	if err != nil {
		return "", err
	}

	hasPlanning := r.action.PlanningPrompt != ""
	if state.LastError != nil && (t.kind == claude.TurnPlanning || (t.kind == claude.TurnTask && !hasPlanning)) {
		return r.renderer.Render(templates.LastErrorPrompt, map[string]any{
			"original_prompt": original,
			"last_error":      state.LastError.JSON(),
		})
	}
	if t.kind == claude.TurnTask && state.Plan != nil {
		return r.renderer.Render(templates.WithPlanPrompt, map[string]any{
			"original_prompt": original,
			"plan":            state.Plan.Plan,
			"analysis":        state.Plan.Analysis,
		})
	}
	return original, nil
}

func (r *cycleRunner) query(ctx context.Context, kind claude.TurnKind, prompt string) (*claude.AgentRun, error) {
	if r.action.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.action.Timeout)
		defer cancel()
	}
	run, err := r.agent.Query(ctx, claude.QueryRequest{
		Kind:         kind,
		Prompt:       prompt,
		WorkDir:      r.wctx.RepositoryPath(),
		SystemPrompt: r.systemPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("claude code %s turn for %s failed: %w", kind, r.action.Name, err)
	}
	return run, nil
}

// Categorize labels a failure by the first category with a keyword found in
// its message. It returns "" when there is no message and "unknown" when
// nothing matches.
func Categorize(run *claude.AgentRun, categories []config.FailureCategory) string {
	if run == nil || run.Message == "" {
		return ""
	}
	message := strings.ToLower(run.Message)
	for _, category := range categories {
		for _, keyword := range category.Keywords {
			if strings.Contains(message, strings.ToLower(keyword)) {
				return category.Name
			}
		}
	}
	return "unknown"
}

// resourcePath strips the workflow:// scheme from a prompt reference.
func resourcePath(ref string) string {
	return strings.TrimPrefix(strings.TrimPrefix(ref, "workflow://"), "/")
}
