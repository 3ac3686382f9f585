// Package preflight checks that the tools and credentials a workflow needs
// are available before any project is processed.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/workflow"
)

// Provider is an external tool or service that may need validation.
type Provider string

// Providers.
const (
	ProviderGit       Provider = "git"
	ProviderGitHub    Provider = "github"
	ProviderClaude    Provider = "claude"
	ProviderAnthropic Provider = "anthropic"
)

// CheckResult represents the outcome of a single preflight check.
type CheckResult struct {
	Error    error
	Message  string
	Provider Provider
	Passed   bool
}

// Results contains all preflight check results.
type Results struct {
	Summary string
	Checks  []CheckResult
	Passed  bool
}

// RequiredProviders determines which providers running wf needs. Git and
// GitHub are always required. The Claude Code CLI is required when the
// workflow has Claude actions or AI commits are enabled, and the Anthropic
// API when pull request bodies are drafted.
func RequiredProviders(cfg *config.Configuration, wf *workflow.Workflow) []Provider {
	providers := []Provider{ProviderGit, ProviderGitHub}
	if !cfg.AIEnabled() {
		return providers
	}

	needsClaude := cfg.AICommits
	for _, action := range wf.Configuration.Actions {
		if action.Kind() == workflow.ActionClaude || action.Base().AICommit {
			needsClaude = true
			break
		}
	}
	if needsClaude {
		providers = append(providers, ProviderClaude)
	}
	if wf.Configuration.GitHub.CreatePullRequest {
		providers = append(providers, ProviderAnthropic)
	}
	return providers
}

// Run executes all preflight checks for the required providers.
func Run(ctx context.Context, cfg *config.Configuration, wf *workflow.Workflow) *Results {
	required := RequiredProviders(cfg, wf)

	results := &Results{
		Checks: make([]CheckResult, 0, len(required)),
		Passed: true,
	}

	failed := 0
	for _, provider := range required {
		result := runCheck(ctx, provider, cfg)
		results.Checks = append(results.Checks, result)
		if !result.Passed {
			results.Passed = false
			failed++
		}
	}

	if results.Passed {
		results.Summary = fmt.Sprintf("All %d preflight checks passed", len(results.Checks))
	} else {
		results.Summary = fmt.Sprintf("%d of %d preflight checks failed", failed, len(results.Checks))
	}
	return results
}

func runCheck(ctx context.Context, provider Provider, cfg *config.Configuration) CheckResult {
	switch provider {
	case ProviderGit:
		return checkGit(ctx)
	case ProviderGitHub:
		return checkGitHub(ctx, cfg.GitHub)
	case ProviderClaude:
		return checkClaude(ctx, cfg.ClaudeCode)
	case ProviderAnthropic:
		return checkAnthropic(cfg.Anthropic)
	default:
		return CheckResult{
			Provider: provider,
			Passed:   false,
			Message:  "Unknown provider",
			Error:    fmt.Errorf("unknown provider: %s", provider),
		}
	}
}

// Validate runs the preflight checks and returns an error describing every
// failed check.
func Validate(ctx context.Context, cfg *config.Configuration, wf *workflow.Workflow) error {
	results := Run(ctx, cfg, wf)
	if results.Passed {
		return nil
	}

	var failedChecks []string
	for i := range results.Checks {
		if !results.Checks[i].Passed {
			failedChecks = append(failedChecks, FormatCheckError(results.Checks[i]))
		}
	}
	return errors.New(results.Summary + ":\n" + strings.Join(failedChecks, ""))
}
