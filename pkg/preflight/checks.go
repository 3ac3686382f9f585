package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"imbi-automations/pkg/config"
)

// commandOutput runs a tool and returns its standard output. Replaced in tests.
var commandOutput = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// checkGit verifies the git executable is installed.
func checkGit(ctx context.Context) CheckResult {
	result := CheckResult{Provider: ProviderGit}

	output, err := commandOutput(ctx, "git", "--version")
	if err != nil {
		result.Message = "git is not installed"
		result.Error = err
		return result
	}

	result.Passed = true
	result.Message = strings.TrimSpace(string(output))
	return result
}

// checkGitHub verifies a token is configured and the gh CLI is available.
func checkGitHub(ctx context.Context, cfg config.GitHubConfig) CheckResult {
	result := CheckResult{Provider: ProviderGitHub}

	if cfg.APIKey == "" {
		result.Message = "github.api_key is not set"
		result.Error = fmt.Errorf("missing GitHub token")
		return result
	}

	if _, err := commandOutput(ctx, "gh", "--version"); err != nil {
		result.Message = "GitHub CLI (gh) is not installed"
		result.Error = err
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("GitHub token and CLI available for %s", cfg.Hostname)
	return result
}

// checkClaude verifies the Claude Code executable runs.
func checkClaude(ctx context.Context, cfg config.ClaudeCodeConfig) CheckResult {
	result := CheckResult{Provider: ProviderClaude}

	executable := cfg.Executable
	if executable == "" {
		executable = config.DefaultClaudeExecutable
	}
	output, err := commandOutput(ctx, executable, "--version")
	if err != nil {
		result.Message = fmt.Sprintf("Claude Code executable %q is not available", executable)
		result.Error = err
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Claude Code %s", strings.TrimSpace(string(output)))
	return result
}

// checkAnthropic verifies an API key is available for drafting pull requests.
func checkAnthropic(cfg config.AnthropicConfig) CheckResult {
	result := CheckResult{Provider: ProviderAnthropic}

	if cfg.Bedrock {
		result.Message = "anthropic.bedrock is not supported"
		result.Error = fmt.Errorf("bedrock transport requested")
		return result
	}
	if cfg.APIKey == "" {
		result.Message = "anthropic.api_key is not set"
		result.Error = fmt.Errorf("missing ANTHROPIC_API_KEY")
		return result
	}

	result.Passed = true
	result.Message = "Anthropic API key configured"
	return result
}
