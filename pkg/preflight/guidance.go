package preflight

import (
	"fmt"
	"strings"
)

// FormatCheckError formats a failed check result with actionable guidance.
func FormatCheckError(check CheckResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("  %s: %s\n", check.Provider, check.Message))
	sb.WriteString(fmt.Sprintf("    %s\n", getGuidance(check.Provider)))

	return sb.String()
}

// FormatResults formats all preflight results for display.
func FormatResults(results *Results) string {
	var sb strings.Builder

	sb.WriteString(results.Summary)
	sb.WriteString("\n")
	for i := range results.Checks {
		check := results.Checks[i]
		if check.Passed {
			sb.WriteString(fmt.Sprintf("  [PASS] %s: %s\n", check.Provider, check.Message))
		} else {
			sb.WriteString(fmt.Sprintf("  [FAIL] %s: %s\n", check.Provider, check.Message))
		}
	}
	return sb.String()
}

func getGuidance(provider Provider) string {
	switch provider {
	case ProviderGit:
		return "Install git: https://git-scm.com/downloads"
	case ProviderGitHub:
		return "Set github.api_key (or GITHUB_TOKEN) and install gh CLI: https://cli.github.com/"
	case ProviderClaude:
		return "Install Claude Code or set claude_code.executable, or set claude_code.enabled = false"
	case ProviderAnthropic:
		return "Set anthropic.api_key (or ANTHROPIC_API_KEY): https://console.anthropic.com/"
	default:
		return "Check the provider documentation for setup instructions."
	}
}
