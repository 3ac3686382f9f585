// Package templates renders the built-in prompts and workflow-supplied
// template files.
package templates

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"imbi-automations/pkg/workflow"
)

//go:embed prompts/*.md.tmpl
var templateFS embed.FS

// PromptTemplate names a built-in prompt.
type PromptTemplate string

const (
	// LastErrorPrompt wraps a prompt with the previous cycle's failure.
	LastErrorPrompt PromptTemplate = "prompts/last-error.md.tmpl"
	// WithPlanPrompt wraps a task prompt with the cycle's plan.
	WithPlanPrompt PromptTemplate = "prompts/with-plan.md.tmpl"
	// PullRequestSummaryPrompt asks for a pull request body.
	PullRequestSummaryPrompt PromptTemplate = "prompts/pull-request-summary.md.tmpl"
	// CommitPrompt asks the agent to commit pending changes.
	CommitPrompt PromptTemplate = "prompts/commit.md.tmpl"
	// ResponseFormatPrompt describes the JSON object an agent turn must end with.
	ResponseFormatPrompt PromptTemplate = "prompts/response-format.md.tmpl"
)

// TemplateExt marks workflow files that are rendered before use.
const TemplateExt = ".tmpl"

// Renderer holds the parsed built-in prompts.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer parses every built-in prompt.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	names := []PromptTemplate{
		LastErrorPrompt,
		WithPlanPrompt,
		PullRequestSummaryPrompt,
		CommitPrompt,
		ResponseFormatPrompt,
	}
	for _, name := range names {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := parse(string(name), string(content))
		if err != nil {
			return nil, err
		}
		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders a built-in prompt.
func (r *Renderer) Render(name PromptTemplate, data any) (string, error) {
	tmpl, exists := r.templates[name]
	if !exists {
		return "", fmt.Errorf("template %s not found", name)
	}
	return execute(tmpl, data)
}

// RenderString renders text as a template. Missing map keys are errors.
func RenderString(name, text string, data any) (string, error) {
	tmpl, err := parse(name, text)
	if err != nil {
		return "", err
	}
	return execute(tmpl, data)
}

// RenderResource reads rel from the workflow directory, rendering it when it
// has the template extension.
func RenderResource(res workflow.Resources, rel string, data any) (string, error) {
	content, err := res.ReadFile(rel)
	if err != nil {
		return "", err
	}
	if !IsTemplateFile(rel) {
		return string(content), nil
	}
	return RenderString(rel, string(content), data)
}

// IsTemplateFile reports whether path names a template.
func IsTemplateFile(path string) bool {
	return filepath.Ext(path) == TemplateExt
}

// HasTemplateSyntax reports whether value contains template actions.
func HasTemplateSyntax(value string) bool {
	return strings.Contains(value, "{{")
}

// ContextData exposes a workflow context to templates.
func ContextData(wctx *workflow.Context) map[string]any {
	data := map[string]any{
		"working_directory":      wctx.WorkingDirectory,
		"starting_commit":        wctx.StartingCommit,
		"has_repository_changes": wctx.HasRepositoryChanges,
		"variables":              wctx.Variables,
		"imbi_project":           wctx.Project,
		"github_repository":      wctx.Repository,
	}
	if wctx.Workflow != nil {
		data["workflow"] = wctx.Workflow.Configuration
		data["workflow_name"] = wctx.Workflow.Configuration.Name
		data["workflow_slug"] = wctx.Workflow.Slug
	}
	return data
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return tmpl, nil
}

func execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

var funcs = template.FuncMap{
	"add":      func(a, b int) int { return a + b },
	"contains": strings.Contains,
	"join":     strings.Join,
	"lower":    strings.ToLower,
	"upper":    strings.ToUpper,
	"json": func(v any) (string, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	},
	"default": func(fallback, v any) any {
		if v == nil {
			return fallback
		}
		if s, ok := v.(string); ok && s == "" {
			return fallback
		}
		return v
	},
}
