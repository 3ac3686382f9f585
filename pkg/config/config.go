// Package config loads the global imbi-automations configuration.
//
// The configuration is a TOML file read through viper so that secrets can be
// supplied from the environment instead of being written to disk:
//
//	ANTHROPIC_API_KEY           -> anthropic.api_key
//	GITHUB_TOKEN / GH_TOKEN     -> github.api_key
//	IMBI_API_KEY                -> imbi.api_key
//	IMBI_AUTOMATIONS_<SECTION>_<KEY> for anything else
//
// A Configuration is built once by the CLI and handed to every component
// that needs it. There is no package-level instance.
package config

import (
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/blake2b"
)

// Defaults applied when the configuration file omits a value.
const (
	DefaultCommitAuthor      = "Imbi Automations <noreply@aweber.com>"
	DefaultAnthropicModel    = "claude-haiku-4-5-20251001"
	DefaultAnthropicTokens   = 8192
	DefaultClaudeExecutable  = "claude"
	DefaultClaudeTimeout     = 30 * time.Minute
	DefaultDryRunDir         = "./dry-runs"
	DefaultErrorDir          = "./errors"
	DefaultGitHubHostname    = "github.com"
	DefaultImbiGitHubIDName  = "github"
	DefaultImbiGitHubLink    = "GitHub Repository"
	DefaultMaxConcurrency    = 1
	DefaultWarningRatio      = 0.6
	DefaultWarningMinCycles  = 5
	DefaultCacheDirName      = ".cache/imbi-automations"
	DefaultPromptTokenBudget = 100000
)

// Configuration is the root of the TOML document.
//
//nolint:govet // Configuration struct, logical grouping preferred
type Configuration struct {
	AICommits       bool   `mapstructure:"ai_commits" toml:"ai_commits"`
	CommitAuthor    string `mapstructure:"commit_author" toml:"commit_author"`
	CacheDir        string `mapstructure:"cache_dir" toml:"cache_dir"`
	DryRun          bool   `mapstructure:"dry_run" toml:"dry_run"`
	DryRunDir       string `mapstructure:"dry_run_dir" toml:"dry_run_dir"`
	ErrorDir        string `mapstructure:"error_dir" toml:"error_dir"`
	PreserveOnError bool   `mapstructure:"preserve_on_error" toml:"preserve_on_error"`
	MaxConcurrency  int    `mapstructure:"max_concurrency" toml:"max_concurrency"`
	HistoryDB       string `mapstructure:"history_db" toml:"history_db"`
	MetricsFile     string `mapstructure:"metrics_file" toml:"metrics_file"`

	Anthropic   AnthropicConfig  `mapstructure:"anthropic" toml:"anthropic"`
	ClaudeCode  ClaudeCodeConfig `mapstructure:"claude_code" toml:"claude_code"`
	Git         GitConfig        `mapstructure:"git" toml:"git"`
	GitHub      GitHubConfig     `mapstructure:"github" toml:"github"`
	Imbi        ImbiConfig       `mapstructure:"imbi" toml:"imbi"`
	AgentCycles AgentCycleConfig `mapstructure:"agent_cycles" toml:"agent_cycles"`
}

// AnthropicConfig configures one-shot Anthropic API queries.
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key" toml:"api_key"`
	Model     string `mapstructure:"model" toml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" toml:"max_tokens"`
	Bedrock   bool   `mapstructure:"bedrock" toml:"bedrock"`
	// PromptTokenBudget caps the commit summary sent when drafting PR bodies.
	PromptTokenBudget int `mapstructure:"prompt_token_budget" toml:"prompt_token_budget"`
}

// ClaudeCodeConfig configures the Claude Code CLI used for agent turns.
type ClaudeCodeConfig struct {
	Enabled    bool          `mapstructure:"enabled" toml:"enabled"`
	Executable string        `mapstructure:"executable" toml:"executable"`
	Model      string        `mapstructure:"model" toml:"model"`
	Timeout    time.Duration `mapstructure:"timeout" toml:"timeout"`
}

// GitConfig configures commit signing.
type GitConfig struct {
	GPGSign    bool   `mapstructure:"gpg_sign" toml:"gpg_sign"`
	SigningKey string `mapstructure:"signing_key" toml:"signing_key"`
}

// GitHubConfig configures the source host.
type GitHubConfig struct {
	APIKey   string `mapstructure:"api_key" toml:"api_key"`
	Hostname string `mapstructure:"hostname" toml:"hostname"`
}

// ImbiConfig configures the project registry.
type ImbiConfig struct {
	APIKey           string `mapstructure:"api_key" toml:"api_key"`
	Hostname         string `mapstructure:"hostname" toml:"hostname"`
	GitHubIdentifier string `mapstructure:"github_identifier" toml:"github_identifier"`
	GitHubLink       string `mapstructure:"github_link" toml:"github_link"`
}

// AgentCycleConfig tunes the agent retry-cycle diagnostics.
type AgentCycleConfig struct {
	// WarningRatio is the fraction of max_cycles after which a warning is logged.
	WarningRatio float64 `mapstructure:"warning_ratio" toml:"warning_ratio"`
	// WarningMinCycles disables the warning for actions with max_cycles at or below it.
	WarningMinCycles int               `mapstructure:"warning_min_cycles" toml:"warning_min_cycles"`
	Categories       []FailureCategory `mapstructure:"categories" toml:"categories"`
}

// FailureCategory maps error keywords to a diagnostic label. Categories are
// evaluated in order and the first match wins.
type FailureCategory struct {
	Name     string   `mapstructure:"name" toml:"name"`
	Keywords []string `mapstructure:"keywords" toml:"keywords"`
}

// DefaultFailureCategories returns the built-in failure taxonomy.
func DefaultFailureCategories() []FailureCategory {
	return []FailureCategory{
		{Name: "dependency_unavailable", Keywords: []string{
			"not found", "could not find", "no matching distribution", "no version found", "not available",
		}},
		{Name: "constraint_conflict", Keywords: []string{
			"conflict", "incompatible", "requires", "resolution impossible", "cannot install",
		}},
		{Name: "prohibited_action", Keywords: []string{
			"prohibited", "do not modify", "not allowed", "cannot complete", "constraints prohibit",
		}},
		{Name: "test_failure", Keywords: []string{
			"test failed", "assertion error", "tests are failing", "exit code",
		}},
	}
}

// AIEnabled reports whether agent-backed features may be used.
func (c *Configuration) AIEnabled() bool {
	return c.ClaudeCode.Enabled
}

// CommitAuthorParts splits CommitAuthor into name and email.
func (c *Configuration) CommitAuthorParts() (name, email string, err error) {
	author := c.CommitAuthor
	if author == "" {
		author = DefaultCommitAuthor
	}
	addr, err := mail.ParseAddress(author)
	if err != nil {
		return "", "", fmt.Errorf("invalid commit_author %q: %w", author, err)
	}
	return addr.Name, addr.Address, nil
}

// Validate checks required settings.
func (c *Configuration) Validate() error {
	var problems []string

	if c.Imbi.Hostname == "" {
		problems = append(problems, "imbi.hostname is required")
	}
	if c.Imbi.APIKey == "" {
		problems = append(problems, "imbi.api_key is required (or set IMBI_API_KEY)")
	}
	if c.MaxConcurrency < 1 {
		problems = append(problems, "max_concurrency must be at least 1")
	}
	if _, _, err := c.CommitAuthorParts(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.AgentCycles.WarningRatio <= 0 || c.AgentCycles.WarningRatio > 1 {
		problems = append(problems, "agent_cycles.warning_ratio must be in (0, 1]")
	}
	for i := range c.AgentCycles.Categories {
		if c.AgentCycles.Categories[i].Name == "" {
			problems = append(problems, fmt.Sprintf("agent_cycles.categories[%d].name is required", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Hash returns a stable digest of the configuration with secrets removed.
// It is stored in resume state to detect drift between runs.
func (c *Configuration) Hash() (string, error) {
	redacted := *c
	redacted.Anthropic.APIKey = ""
	redacted.GitHub.APIKey = ""
	redacted.Imbi.APIKey = ""

	data, err := toml.Marshal(redacted)
	if err != nil {
		return "", fmt.Errorf("failed to encode configuration for hashing: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
