// Package workflow loads workflow definitions and holds the per-project
// execution context.
package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileName is the definition file inside a workflow directory.
const ConfigFileName = "config.toml"

// Workflow is a loaded workflow directory.
type Workflow struct {
	Slug          string
	Path          string
	Configuration Configuration
}

// document mirrors config.toml. Actions are decoded loosely and then built
// into their typed variants.
type document struct {
	Configuration
	Actions []actionSpec `toml:"actions"`
}

func defaultDocument() document {
	return document{Configuration: Configuration{
		Git: GitSettings{
			Clone:     true,
			Depth:     1,
			CloneType: CloneSSH,
		},
		GitHub:        GitHubSettings{CreatePullRequest: true},
		ConditionType: ConditionAll,
	}}
}

// Load reads and validates <dir>/config.toml. The workflow slug is the
// directory's base name.
func Load(dir string) (*Workflow, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workflow path %s: %w", dir, err)
	}

	data, err := os.ReadFile(filepath.Join(abs, ConfigFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s has no %s", ErrWorkflowNotFound, abs, ConfigFileName)
		}
		return nil, fmt.Errorf("failed to read workflow %s: %w", abs, err)
	}

	cfg, err := Parse(data, abs)
	if err != nil {
		return nil, err
	}
	return &Workflow{Slug: filepath.Base(abs), Path: abs, Configuration: *cfg}, nil
}

// Parse decodes and validates a workflow definition. source names the
// definition in error messages.
func Parse(data []byte, source string) (*Configuration, error) {
	doc := defaultDocument()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, &ValidationError{Source: source, Problems: []string{strict.String()}}
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, &ValidationError{Source: source, Problems: []string{
				fmt.Sprintf("line %d column %d: %s", row, col, decodeErr.Error()),
			}}
		}
		return nil, &ValidationError{Source: source, Problems: []string{err.Error()}}
	}

	cfg := doc.Configuration
	var problems []string

	if cfg.Name == "" {
		problems = append(problems, "name is required")
	}
	if !validConditionType(cfg.ConditionType) {
		problems = append(problems, fmt.Sprintf("condition_type must be all or any, got %q", cfg.ConditionType))
	}
	if cfg.Git.CloneType != CloneSSH && cfg.Git.CloneType != CloneHTTP {
		problems = append(problems, fmt.Sprintf("git.clone_type must be ssh or http, got %q", cfg.Git.CloneType))
	}
	if cfg.Git.Depth < 0 {
		problems = append(problems, "git.depth must not be negative")
	}
	for i := range cfg.Conditions {
		if err := cfg.Conditions[i].validate(); err != nil {
			problems = append(problems, fmt.Sprintf("conditions[%d]: %v", i, err))
		}
	}

	names := make(map[string]bool, len(doc.Actions))
	cfg.Actions = make([]Action, 0, len(doc.Actions))
	for i := range doc.Actions {
		action, actionProblems := doc.Actions[i].build(cfg.ConditionType)
		problems = append(problems, actionProblems...)
		if action == nil {
			continue
		}
		name := action.Base().Name
		if names[name] {
			problems = append(problems, fmt.Sprintf("duplicate action name %q", name))
		}
		names[name] = true
		cfg.Actions = append(cfg.Actions, action)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Source: source, Problems: problems}
	}
	return &cfg, nil
}

// Resources returns the read-only handle to the workflow directory.
func (w *Workflow) Resources() Resources {
	return NewResources(w.Path)
}

// ActionIndices returns the indices of actions in stage.
func (w *Workflow) ActionIndices(stage Stage) []int {
	var indices []int
	for i, action := range w.Configuration.Actions {
		if action.Base().Stage == stage {
			indices = append(indices, i)
		}
	}
	return indices
}

// PullRequestBranch returns the branch used for this workflow's pull requests.
func (w *Workflow) PullRequestBranch() string {
	return "imbi-automations/" + w.Slug
}
