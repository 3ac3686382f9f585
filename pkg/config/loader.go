package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides of any configuration key.
const EnvPrefix = "IMBI_AUTOMATIONS"

// Load reads and validates the configuration at path.
func Load(path string) (*Configuration, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads the configuration at path without validating it.
func Read(path string) (*Configuration, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read configuration %s: %w", path, err)
	}

	return decode(v)
}

// Defaults returns a configuration populated only from defaults and the
// environment. Used by tests and by commands that do not need a file.
func Defaults() (*Configuration, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional secret variables take part alongside the prefixed ones.
	_ = v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("github.api_key", EnvPrefix+"_GITHUB_API_KEY", "GITHUB_TOKEN", "GH_TOKEN")
	_ = v.BindEnv("imbi.api_key", EnvPrefix+"_IMBI_API_KEY", "IMBI_API_KEY")
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ai_commits", false)
	v.SetDefault("commit_author", DefaultCommitAuthor)
	v.SetDefault("cache_dir", defaultCacheDir())
	v.SetDefault("dry_run", false)
	v.SetDefault("dry_run_dir", DefaultDryRunDir)
	v.SetDefault("error_dir", DefaultErrorDir)
	v.SetDefault("preserve_on_error", false)
	v.SetDefault("max_concurrency", DefaultMaxConcurrency)
	v.SetDefault("history_db", "")
	v.SetDefault("metrics_file", "")

	v.SetDefault("anthropic.model", DefaultAnthropicModel)
	v.SetDefault("anthropic.max_tokens", DefaultAnthropicTokens)
	v.SetDefault("anthropic.bedrock", false)
	v.SetDefault("anthropic.prompt_token_budget", DefaultPromptTokenBudget)

	v.SetDefault("claude_code.enabled", true)
	v.SetDefault("claude_code.executable", DefaultClaudeExecutable)
	v.SetDefault("claude_code.model", "")
	v.SetDefault("claude_code.timeout", DefaultClaudeTimeout)

	v.SetDefault("git.gpg_sign", false)
	v.SetDefault("git.signing_key", "")

	v.SetDefault("github.hostname", DefaultGitHubHostname)

	v.SetDefault("imbi.hostname", "")
	v.SetDefault("imbi.github_identifier", DefaultImbiGitHubIDName)
	v.SetDefault("imbi.github_link", DefaultImbiGitHubLink)

	v.SetDefault("agent_cycles.warning_ratio", DefaultWarningRatio)
	v.SetDefault("agent_cycles.warning_min_cycles", DefaultWarningMinCycles)
}

func decode(v *viper.Viper) (*Configuration, error) {
	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if len(cfg.AgentCycles.Categories) == 0 {
		cfg.AgentCycles.Categories = DefaultFailureCategories()
	}
	return &cfg, nil
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "imbi-automations")
	}
	return filepath.Join(home, DefaultCacheDirName)
}
