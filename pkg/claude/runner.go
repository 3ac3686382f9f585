package claude

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/templates"
)

// CommandRunner executes a subprocess.
type CommandRunner interface {
	Run(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecCommandRunner runs commands with os/exec. Env is appended to the
// current environment.
type ExecCommandRunner struct {
	Env []string
}

// Run implements CommandRunner.
func (r ExecCommandRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CLIAgent runs agent turns through the Claude Code CLI in print mode.
type CLIAgent struct {
	executable   string
	model        string
	timeout      time.Duration
	systemPrompt string
	runner       CommandRunner
	renderer     *templates.Renderer
	logger       *logx.Logger
	newSession   func() string
}

// CLIOption configures a CLIAgent.
type CLIOption func(*CLIAgent)

// WithCommandRunner replaces the subprocess runner.
func WithCommandRunner(runner CommandRunner) CLIOption {
	return func(a *CLIAgent) { a.runner = runner }
}

// WithSystemPrompt appends text to Claude Code's system prompt.
func WithSystemPrompt(prompt string) CLIOption {
	return func(a *CLIAgent) { a.systemPrompt = prompt }
}

// WithLogger sets the logger.
func WithLogger(logger *logx.Logger) CLIOption {
	return func(a *CLIAgent) { a.logger = logger }
}

// NewCLIAgent creates an agent for the configured Claude Code executable.
func NewCLIAgent(cfg config.ClaudeCodeConfig, apiKey string, renderer *templates.Renderer, opts ...CLIOption) *CLIAgent {
	executable := cfg.Executable
	if executable == "" {
		executable = config.DefaultClaudeExecutable
	}
	var env []string
	if apiKey != "" {
		env = append(env, "ANTHROPIC_API_KEY="+apiKey)
	}
	a := &CLIAgent{
		executable: executable,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		runner:     ExecCommandRunner{Env: env},
		renderer:   renderer,
		logger:     logx.NewLogger("claude"),
		newSession: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Query runs one turn. The prompt is extended with the response format for
// the turn kind. A failed subprocess is an error; a reply that does not
// report success is a failure run.
func (a *CLIAgent) Query(ctx context.Context, req QueryRequest) (*AgentRun, error) {
	format, err := a.renderer.Render(templates.ResponseFormatPrompt, map[string]any{"kind": string(req.Kind)})
	if err != nil {
		return nil, err
	}
	prompt := req.Prompt + "\n\n" + format

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	sessionID := a.newSession()
	a.logger.Info("Starting Claude Code: session=%s kind=%s model=%s", sessionID, req.Kind, a.model)
	startTime := time.Now()

	systemPrompt := a.systemPrompt
	if req.SystemPrompt != "" {
		if systemPrompt != "" {
			systemPrompt += "\n\n---\n\n"
		}
		systemPrompt += req.SystemPrompt
	}

	stdout, stderr, err := a.runner.Run(ctx, req.WorkDir, a.executable, a.buildCommand(prompt, systemPrompt, sessionID)...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("claude code %s turn timed out after %s: %w", req.Kind, a.timeout, err)
		}
		return nil, fmt.Errorf("claude code execution failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	run := a.parseOutput(req.Kind, string(stdout))
	a.logger.Info("Claude Code completed: session=%s kind=%s result=%s duration=%s",
		sessionID, req.Kind, run.Result, time.Since(startTime))
	return run, nil
}

// buildCommand constructs the Claude Code arguments.
func (a *CLIAgent) buildCommand(prompt, systemPrompt, sessionID string) []string {
	cmd := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	}
	if a.model != "" {
		cmd = append(cmd, "--model", a.model)
	}
	if systemPrompt != "" {
		cmd = append(cmd, "--append-system-prompt", systemPrompt)
	}
	if sessionID != "" {
		cmd = append(cmd, "--session-id", sessionID)
	}
	// prompts may start with "-"
	return append(cmd, "--", prompt)
}

func (a *CLIAgent) parseOutput(kind TurnKind, stdout string) *AgentRun {
	var events []StreamEvent
	parser := NewStreamParser(func(event StreamEvent) {
		events = append(events, event)
	}, func(err error) {
		a.logger.Debug("Stream parse error: %v", err)
	})
	for _, line := range strings.Split(stdout, "\n") {
		parser.ParseLine(line)
	}

	if names := ToolCallNames(events); len(names) > 0 {
		a.logger.Debug("Claude Code tools called: %v", names)
	}

	final := FinalResult(events)
	if final == nil {
		a.logger.Warn("Claude Code completed without a result event: lines=%d responses=%d",
			parser.LineCount(), CountResponses(events))
		return DecodeRun(kind, ExtractTextContent(events))
	}
	if final.IsError {
		message := final.Result
		if message == "" {
			message = "claude code reported " + final.Subtype
		}
		return &AgentRun{Result: ResultFailure, Message: message}
	}
	return DecodeRun(kind, final.Result)
}
