package workflow

import (
	"fmt"
	"time"
)

// ActionType is the kind tag of an action.
type ActionType string

const (
	ActionCallable ActionType = "callable"
	ActionClaude   ActionType = "claude"
	ActionDocker   ActionType = "docker"
	ActionFile     ActionType = "file"
	ActionGit      ActionType = "git"
	ActionGitHub   ActionType = "github"
	ActionImbi     ActionType = "imbi"
	ActionShell    ActionType = "shell"
	ActionTemplate ActionType = "template"
	ActionUtility  ActionType = "utility"
)

// Action is one step of a workflow. The set of implementations is closed:
// Callable, Claude, Docker, File, Git, GitHub, Imbi, Shell, Template and
// Utility.
type Action interface {
	Base() *ActionBase
	Kind() ActionType
	isAction()
}

// ActionBase holds the fields every action shares.
//
//nolint:govet // Logical grouping preferred over memory optimization
type ActionBase struct {
	Name          string
	Type          ActionType
	Filter        *Filter
	Conditions    []Condition
	ConditionType ConditionType
	Committable   bool
	AICommit      bool
	CommitMessage string
	Stage         Stage
	IgnoreErrors  bool
}

// Base returns the shared fields.
func (b *ActionBase) Base() *ActionBase { return b }

// Kind returns the action type.
func (b *ActionBase) Kind() ActionType { return b.Type }

func (b *ActionBase) isAction() {}

// Callable invokes a function registered with the dispatcher by name.
type Callable struct {
	ActionBase
	Callable string
	Args     []any
	Kwargs   map[string]any
}

// Claude runs the agent retry-cycle coordinator.
type Claude struct {
	ActionBase
	PlanningPrompt   string
	TaskPrompt       string
	ValidationPrompt string
	MaxCycles        int
	Timeout          time.Duration
}

// Docker manipulates container images.
type Docker struct {
	ActionBase
	Command     string
	Image       string
	Tag         string
	Source      string
	Destination string
	Path        string
}

// File manipulates files in the working directory.
type File struct {
	ActionBase
	Command     string
	Path        string
	Source      string
	Destination string
	Content     string
	Pattern     string
}

// Git performs history-aware operations on the cloned repository.
type Git struct {
	ActionBase
	Command     string
	Source      string
	Destination string
	Keyword     string
	Strategy    string
}

// GitHub performs source-host API operations.
type GitHub struct {
	ActionBase
	Command string
}

// Imbi updates the project registry.
type Imbi struct {
	ActionBase
	Command         string
	FactName        string
	Value           any
	SkipValidations bool
	Values          []string
}

// Shell runs a command in the working directory.
type Shell struct {
	ActionBase
	Command          string
	WorkingDirectory string
	Timeout          time.Duration
}

// Template renders a template file or directory into the working directory.
type Template struct {
	ActionBase
	Source      string
	Destination string
}

// Utility runs a built-in helper whose result is stored in context variables.
type Utility struct {
	ActionBase
	Command string
	Args    []any
	Kwargs  map[string]any
}

// Commands accepted by the command-driven action kinds.
const (
	GitExtract              = "extract"
	GitHubSyncEnvironments  = "sync_environments"
	ImbiSetProjectFact      = "set_project_fact"
	ImbiSetEnvironments     = "set_environments"
	UtilityCompareSemver    = "compare_semver"
	UtilityDockerTag        = "docker_tag"
	UtilityDockerfileFrom   = "dockerfile_from"
	UtilityParseConstraints = "parse_python_constraints"

	ExtractBeforeFirstMatch = "before_first_match"
	ExtractBeforeLastMatch  = "before_last_match"

	DefaultMaxCycles = 3
)

var (
	fileCommands    = []string{"append", "copy", "delete", "move", "rename", "write"}
	dockerCommands  = []string{"build", "extract", "pull", "push"}
	utilityCommands = []string{UtilityCompareSemver, UtilityDockerTag, UtilityDockerfileFrom, UtilityParseConstraints}
)

// actionSpec is the superset of every action field as written in TOML.
//
//nolint:govet // Decoding struct, field order follows the TOML documentation
type actionSpec struct {
	Name          string        `toml:"name"`
	Type          ActionType    `toml:"type"`
	Filter        *Filter       `toml:"filter"`
	Conditions    []Condition   `toml:"conditions"`
	ConditionType ConditionType `toml:"condition_type"`
	Committable   *bool         `toml:"committable"`
	AICommit      bool          `toml:"ai_commit"`
	CommitMessage string        `toml:"commit_message"`
	Stage         Stage         `toml:"stage"`
	IgnoreErrors  bool          `toml:"ignore_errors"`

	Callable string         `toml:"callable"`
	Args     []any          `toml:"args"`
	Kwargs   map[string]any `toml:"kwargs"`

	PlanningPrompt   string `toml:"planning_prompt"`
	TaskPrompt       string `toml:"task_prompt"`
	ValidationPrompt string `toml:"validation_prompt"`
	MaxCycles        *int   `toml:"max_cycles"`
	Timeout          string `toml:"timeout"`

	Command          string `toml:"command"`
	Source           string `toml:"source"`
	Destination      string `toml:"destination"`
	Path             string `toml:"path"`
	Content          string `toml:"content"`
	Pattern          string `toml:"pattern"`
	Image            string `toml:"image"`
	Tag              string `toml:"tag"`
	Keyword          string `toml:"keyword"`
	Strategy         string `toml:"strategy"`
	WorkingDirectory string `toml:"working_directory"`

	FactName        string   `toml:"fact_name"`
	Value           any      `toml:"value"`
	SkipValidations bool     `toml:"skip_validations"`
	Values          []string `toml:"values"`
}

// build validates the decoded entry and returns the typed action. problems receives
// one entry per missing or invalid field.
func (s *actionSpec) build(workflowConditionType ConditionType) (Action, []string) {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf("action %q: ", s.Name)+fmt.Sprintf(format, args...))
	}
	require := func(field, value string) {
		if value == "" {
			fail("%s is required for %s actions", field, s.Type)
		}
	}
	oneOf := func(field, value string, allowed []string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		fail("%s must be one of %v, got %q", field, allowed, value)
	}

	if s.Name == "" {
		problems = append(problems, "action name is required")
	}
	if s.Type == "" {
		s.Type = ActionCallable
	}

	base := ActionBase{
		Name:          s.Name,
		Type:          s.Type,
		Filter:        s.Filter,
		Conditions:    s.Conditions,
		ConditionType: s.ConditionType,
		Committable:   true,
		AICommit:      s.AICommit,
		CommitMessage: s.CommitMessage,
		Stage:         s.Stage,
		IgnoreErrors:  s.IgnoreErrors,
	}
	if s.Committable != nil {
		base.Committable = *s.Committable
	}
	if base.ConditionType == "" {
		base.ConditionType = workflowConditionType
	}
	if !validConditionType(base.ConditionType) {
		fail("condition_type must be all or any, got %q", base.ConditionType)
	}
	if base.Stage == "" {
		base.Stage = StagePrimary
	}
	if base.Stage != StagePrimary && base.Stage != StageFollowup {
		fail("stage must be primary or followup, got %q", base.Stage)
	}
	for i := range base.Conditions {
		if err := base.Conditions[i].validate(); err != nil {
			fail("conditions[%d]: %v", i, err)
		}
	}

	var timeout time.Duration
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			fail("invalid timeout %q: %v", s.Timeout, err)
		}
		timeout = d
	}

	var action Action
	switch s.Type {
	case ActionCallable:
		require("callable", s.Callable)
		action = &Callable{ActionBase: base, Callable: s.Callable, Args: s.Args, Kwargs: s.Kwargs}

	case ActionClaude:
		require("task_prompt", s.TaskPrompt)
		maxCycles := DefaultMaxCycles
		if s.MaxCycles != nil {
			maxCycles = *s.MaxCycles
		}
		if maxCycles < 1 {
			fail("max_cycles must be at least 1, got %d", maxCycles)
		}
		action = &Claude{
			ActionBase:       base,
			PlanningPrompt:   s.PlanningPrompt,
			TaskPrompt:       s.TaskPrompt,
			ValidationPrompt: s.ValidationPrompt,
			MaxCycles:        maxCycles,
			Timeout:          timeout,
		}

	case ActionDocker:
		oneOf("command", s.Command, dockerCommands)
		require("image", s.Image)
		action = &Docker{
			ActionBase: base, Command: s.Command, Image: s.Image, Tag: s.Tag,
			Source: s.Source, Destination: s.Destination, Path: s.Path,
		}

	case ActionFile:
		oneOf("command", s.Command, fileCommands)
		switch s.Command {
		case "copy", "move", "rename":
			require("source", s.Source)
			require("destination", s.Destination)
		case "delete":
			if s.Path == "" && s.Pattern == "" {
				fail("path or pattern is required for file delete")
			}
		case "append", "write":
			require("path", s.Path)
		}
		action = &File{
			ActionBase: base, Command: s.Command, Path: s.Path, Source: s.Source,
			Destination: s.Destination, Content: s.Content, Pattern: s.Pattern,
		}

	case ActionGit:
		oneOf("command", s.Command, []string{GitExtract})
		require("source", s.Source)
		require("keyword", s.Keyword)
		strategy := s.Strategy
		if strategy == "" {
			strategy = ExtractBeforeLastMatch
		}
		oneOf("strategy", strategy, []string{ExtractBeforeFirstMatch, ExtractBeforeLastMatch})
		action = &Git{
			ActionBase: base, Command: s.Command, Source: s.Source,
			Destination: s.Destination, Keyword: s.Keyword, Strategy: strategy,
		}

	case ActionGitHub:
		oneOf("command", s.Command, []string{GitHubSyncEnvironments})
		action = &GitHub{ActionBase: base, Command: s.Command}

	case ActionImbi:
		oneOf("command", s.Command, []string{ImbiSetProjectFact, ImbiSetEnvironments})
		switch s.Command {
		case ImbiSetProjectFact:
			require("fact_name", s.FactName)
			if s.Value == nil {
				fail("value is required for set_project_fact")
			}
		case ImbiSetEnvironments:
			if len(s.Values) == 0 {
				fail("values is required for set_environments")
			}
		}
		action = &Imbi{
			ActionBase: base, Command: s.Command, FactName: s.FactName, Value: s.Value,
			SkipValidations: s.SkipValidations, Values: s.Values,
		}

	case ActionShell:
		require("command", s.Command)
		action = &Shell{ActionBase: base, Command: s.Command, WorkingDirectory: s.WorkingDirectory, Timeout: timeout}

	case ActionTemplate:
		require("source", s.Source)
		require("destination", s.Destination)
		action = &Template{ActionBase: base, Source: s.Source, Destination: s.Destination}

	case ActionUtility:
		oneOf("command", s.Command, utilityCommands)
		action = &Utility{ActionBase: base, Command: s.Command, Args: s.Args, Kwargs: s.Kwargs}

	default:
		fail("unknown action type %q", s.Type)
		return nil, problems
	}

	return action, problems
}
