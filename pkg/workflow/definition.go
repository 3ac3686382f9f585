package workflow

import (
	"fmt"
)

// ConditionType selects how multiple conditions combine.
type ConditionType string

const (
	ConditionAll ConditionType = "all"
	ConditionAny ConditionType = "any"
)

// CloneType selects the URL used to clone the repository.
type CloneType string

const (
	CloneSSH  CloneType = "ssh"
	CloneHTTP CloneType = "http"
)

// Stage separates actions that run before a pull request exists from those
// that run after it.
type Stage string

const (
	StagePrimary  Stage = "primary"
	StageFollowup Stage = "followup"
)

// Configuration is the decoded config.toml of a workflow.
//
//nolint:govet // Configuration struct, logical grouping preferred
type Configuration struct {
	Name          string         `toml:"name"`
	Description   string         `toml:"description"`
	Prompt        string         `toml:"prompt"`
	Git           GitSettings    `toml:"git"`
	GitHub        GitHubSettings `toml:"github"`
	Filter        *Filter        `toml:"filter"`
	ConditionType ConditionType  `toml:"condition_type"`
	Conditions    []Condition    `toml:"conditions"`
	Actions       []Action       `toml:"-"`
}

// GitSettings controls cloning.
type GitSettings struct {
	Clone          bool      `toml:"clone"`
	Depth          int       `toml:"depth"`
	StartingBranch string    `toml:"starting_branch"`
	CloneType      CloneType `toml:"clone_type"`
	CISkipChecks   bool      `toml:"ci_skip_checks"`
}

// GitHubSettings controls publication.
type GitHubSettings struct {
	CreatePullRequest bool `toml:"create_pull_request"`
	ReplaceBranch     bool `toml:"replace_branch"`
}

// Filter restricts the projects a workflow (or an action) applies to.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Filter struct {
	ProjectIDs                  []int             `toml:"project_ids"`
	ProjectTypes                []string          `toml:"project_types"`
	ProjectFacts                map[string]string `toml:"project_facts"`
	ProjectEnvironments         []string          `toml:"project_environments"`
	RequiresGitHubIdentifier    bool              `toml:"requires_github_identifier"`
	ExcludeGitHubWorkflowStatus []string          `toml:"exclude_github_workflow_status"`
}

// IsEmpty reports whether the filter has no criteria.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.ProjectIDs) == 0 &&
		len(f.ProjectTypes) == 0 &&
		len(f.ProjectFacts) == 0 &&
		len(f.ProjectEnvironments) == 0 &&
		!f.RequiresGitHubIdentifier &&
		len(f.ExcludeGitHubWorkflowStatus) == 0)
}

// Condition is one file or remote-file predicate. Exactly one check is set.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Condition struct {
	FileExists        string `toml:"file_exists"`
	FileNotExists     string `toml:"file_not_exists"`
	FileContains      string `toml:"file_contains"`
	FileDoesntContain string `toml:"file_doesnt_contain"`
	File              string `toml:"file"`

	RemoteFileExists        string `toml:"remote_file_exists"`
	RemoteFileNotExists     string `toml:"remote_file_not_exists"`
	RemoteFileContains      string `toml:"remote_file_contains"`
	RemoteFileDoesntContain string `toml:"remote_file_doesnt_contain"`
	RemoteFile              string `toml:"remote_file"`
}

// IsRemote reports whether the condition needs the source host.
func (c *Condition) IsRemote() bool {
	return c.RemoteFileExists != "" || c.RemoteFileNotExists != "" ||
		c.RemoteFileContains != "" || c.RemoteFileDoesntContain != ""
}

func (c *Condition) validate() error {
	checks := 0
	for _, v := range []string{
		c.FileExists, c.FileNotExists, c.FileContains, c.FileDoesntContain,
		c.RemoteFileExists, c.RemoteFileNotExists, c.RemoteFileContains, c.RemoteFileDoesntContain,
	} {
		if v != "" {
			checks++
		}
	}
	if checks != 1 {
		return fmt.Errorf("condition must set exactly one check, found %d", checks)
	}
	if (c.FileContains != "" || c.FileDoesntContain != "") && c.File == "" {
		return fmt.Errorf("file_contains and file_doesnt_contain require file")
	}
	if (c.RemoteFileContains != "" || c.RemoteFileDoesntContain != "") && c.RemoteFile == "" {
		return fmt.Errorf("remote_file_contains and remote_file_doesnt_contain require remote_file")
	}
	return nil
}

func validConditionType(t ConditionType) bool {
	return t == ConditionAll || t == ConditionAny
}
