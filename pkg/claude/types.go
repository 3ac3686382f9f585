// Package claude provides the agent service used by AI actions: Claude Code
// turns for planning, task and validation work, and one-shot Anthropic API
// queries for drafting commit messages and pull request bodies.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"imbi-automations/pkg/utils"
)

// TurnKind identifies the agent that handles a turn.
type TurnKind string

const (
	TurnPlanning   TurnKind = "planning"
	TurnTask       TurnKind = "task"
	TurnValidation TurnKind = "validation"
	// TurnCommit asks the agent to commit pending changes.
	TurnCommit TurnKind = "commit"
)

// RunResult is the outcome reported by an agent turn.
type RunResult string

const (
	ResultSuccess RunResult = "success"
	ResultFailure RunResult = "failure"
)

// ErrNoPlan is returned by AsPlan when a planning turn did not produce one.
var ErrNoPlan = errors.New("planning result has no plan")

// QueryRequest is a single agent turn. SystemPrompt is appended to the
// agent's own system prompt for this turn only.
type QueryRequest struct {
	Kind         TurnKind
	Prompt       string
	WorkDir      string
	SystemPrompt string
}

// AgentRun is the typed result of one turn.
//
//nolint:govet // JSON payload, field order matches the serialized form
type AgentRun struct {
	Result   RunResult `json:"result"`
	Message  string    `json:"message,omitempty"`
	Errors   []string  `json:"errors,omitempty"`
	Plan     []string  `json:"plan,omitempty"`
	Analysis string    `json:"analysis,omitempty"`
	SkipTask bool      `json:"skip_task,omitempty"`
}

// Failed reports whether the turn failed.
func (r *AgentRun) Failed() bool {
	return r.Result == ResultFailure
}

// JSON returns the indented payload carried into the next cycle's prompt.
func (r *AgentRun) JSON() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"result": %q, "message": %q}`, r.Result, r.Message)
	}
	return string(data)
}

// AgentPlan is the plan produced by a successful planning turn.
type AgentPlan struct {
	Plan     []string
	Analysis string
	SkipTask bool
}

// AsPlan extracts the plan from a planning result.
func (r *AgentRun) AsPlan() (*AgentPlan, error) {
	if r.Plan == nil && !r.SkipTask {
		return nil, ErrNoPlan
	}
	return &AgentPlan{Plan: r.Plan, Analysis: r.Analysis, SkipTask: r.SkipTask}, nil
}

// Agent runs agent turns against a working tree.
type Agent interface {
	Query(ctx context.Context, req QueryRequest) (*AgentRun, error)
}

// Completer answers one-shot prompts.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// DecodeRun interprets the final JSON object in an agent reply. A reply
// without a usable object is a failure run rather than an error.
func DecodeRun(kind TurnKind, text string) *AgentRun {
	raw, ok := lastJSONObject(text)
	if !ok {
		return &AgentRun{Result: ResultFailure, Message: "agent reply did not end with a JSON result: " + summarize(text)}
	}

	switch kind {
	case TurnPlanning:
		var payload struct {
			Plan     []json.RawMessage `json:"plan"`
			Analysis json.RawMessage   `json:"analysis"`
			SkipTask bool              `json:"skip_task"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return &AgentRun{Result: ResultFailure, Message: "invalid planning result: " + err.Error()}
		}
		run := &AgentRun{Result: ResultSuccess, SkipTask: payload.SkipTask, Analysis: flatten(payload.Analysis)}
		if payload.Plan != nil {
			run.Plan = make([]string, 0, len(payload.Plan))
			for _, item := range payload.Plan {
				run.Plan = append(run.Plan, flattenPlanItem(item))
			}
		}
		return run

	case TurnValidation:
		var payload struct {
			Validated bool     `json:"validated"`
			Errors    []string `json:"errors"`
			Message   string   `json:"message"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return &AgentRun{Result: ResultFailure, Message: "invalid validation result: " + err.Error()}
		}
		run := &AgentRun{Result: ResultSuccess, Errors: payload.Errors, Message: payload.Message}
		if !payload.Validated {
			run.Result = ResultFailure
			if run.Message == "" {
				run.Message = strings.Join(payload.Errors, "; ")
			}
			if run.Message == "" {
				run.Message = "validation failed without errors"
			}
		}
		return run

	default:
		var payload struct {
			Result  RunResult `json:"result"`
			Message string    `json:"message"`
			Errors  []string  `json:"errors"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return &AgentRun{Result: ResultFailure, Message: "invalid task result: " + err.Error()}
		}
		run := &AgentRun{Result: ResultSuccess, Message: payload.Message, Errors: payload.Errors}
		if payload.Result == ResultFailure {
			run.Result = ResultFailure
			if run.Message == "" && len(run.Errors) == 0 {
				run.Message = fmt.Sprintf("%s agent reported failure without details", kind)
			}
		}
		return run
	}
}

// lastJSONObject finds the outermost JSON object that ends at the last
// closing brace in text.
func lastJSONObject(text string) (json.RawMessage, bool) {
	end := strings.LastIndex(text, "}")
	if end < 0 {
		return nil, false
	}
	for start := strings.LastIndex(text[:end], "{"); start >= 0; start = strings.LastIndex(text[:start], "{") {
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}
	return nil, false
}

// flattenPlanItem turns structured plan entries into a single line.
func flattenPlanItem(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj map[string]any
	if json.Unmarshal(raw, &obj) == nil {
		var parts []string
		for _, key := range []string{"task", "title", "description"} {
			if v := utils.GetMapFieldOr(obj, key, ""); v != "" {
				parts = append(parts, v)
			}
		}
		if details := utils.GetMapFieldOr(obj, "details", ""); details != "" {
			parts = append(parts, "("+details+")")
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return string(raw)
}

func flatten(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// summarize keeps the last 500 bytes of text without splitting a rune.
func summarize(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= 500 {
		return text
	}
	start := len(text) - 500
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	return text[start:]
}
