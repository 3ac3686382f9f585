// Package filter decides which projects a workflow, or one of its actions,
// applies to.
package filter

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
	"imbi-automations/pkg/logx"
	"imbi-automations/pkg/workflow"
)

// Filter applies workflow filters to projects.
type Filter struct {
	githubIdentifier string
	host             github.Host
	logger           *logx.Logger
}

// New creates a filter. githubIdentifier names the Imbi identifier that links
// a project to its repository; host is consulted only for workflow status
// exclusions and may be nil.
func New(githubIdentifier string, host github.Host) *Filter {
	return &Filter{
		githubIdentifier: githubIdentifier,
		host:             host,
		logger:           logx.NewLogger("filter"),
	}
}

// Matches reports whether project passes f. Static checks run first; the
// workflow status lookup only happens for projects that pass them.
func (f *Filter) Matches(ctx context.Context, project *imbi.Project, wf *workflow.Filter) (bool, error) {
	if !f.MatchesStatic(project, wf) {
		return false, nil
	}
	if wf == nil || len(wf.ExcludeGitHubWorkflowStatus) == 0 || f.host == nil {
		return true, nil
	}

	repo, err := f.host.GetRepository(ctx, project)
	if err != nil {
		return false, fmt.Errorf("failed to look up repository for %s: %w", project.Slug, err)
	}
	if repo == nil {
		return true, nil
	}
	status, err := f.host.GetRepositoryWorkflowStatus(ctx, repo)
	if err != nil {
		return false, fmt.Errorf("failed to get workflow status for %s: %w", repo.Path(), err)
	}
	if slices.Contains(wf.ExcludeGitHubWorkflowStatus, status) {
		f.logger.Debug("%s excluded by workflow status %q", project.Slug, status)
		return false, nil
	}
	return true, nil
}

// MatchesStatic applies every check that needs only the project record.
// Action-level filters use it directly.
func (f *Filter) MatchesStatic(project *imbi.Project, wf *workflow.Filter) bool {
	if wf.IsEmpty() {
		return true
	}
	if wf.RequiresGitHubIdentifier && f.githubIdentifier != "" {
		if _, ok := project.Identifier(f.githubIdentifier); !ok {
			return false
		}
	}
	if len(wf.ProjectIDs) > 0 && !slices.Contains(wf.ProjectIDs, project.ID) {
		return false
	}
	if len(wf.ProjectEnvironments) > 0 && !matchEnvironments(project, wf.ProjectEnvironments) {
		return false
	}
	if len(wf.ProjectFacts) > 0 && !f.matchFacts(project, wf.ProjectFacts) {
		return false
	}
	if len(wf.ProjectTypes) > 0 && !slices.Contains(wf.ProjectTypes, project.ProjectTypeSlug) {
		return false
	}
	return true
}

// matchEnvironments requires every wanted environment, by name or slug.
func matchEnvironments(project *imbi.Project, wanted []string) bool {
	if len(project.Environments) == 0 {
		return false
	}
	for _, want := range wanted {
		found := false
		for _, env := range project.Environments {
			if env.Name == want || env.EffectiveSlug() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// matchFacts compares each wanted fact with the project's value. Registry
// fact keys are lowercase and underscore-delimited.
func (f *Filter) matchFacts(project *imbi.Project, wanted map[string]string) bool {
	if len(project.Facts) == 0 {
		return false
	}
	for name, want := range wanted {
		key := strings.ReplaceAll(strings.ToLower(name), " ", "_")
		value, ok := project.Facts[key]
		if !ok || value == nil || fmt.Sprint(value) != want {
			f.logger.Debug("Project fact %s value of %q is not %q", name, fmt.Sprint(value), want)
			return false
		}
	}
	return true
}

// Validate checks the values named by wf against the registry metadata so a
// misspelled filter fails before any project is processed.
func Validate(wf *workflow.Filter, cache *imbi.MetadataCache) error {
	if wf.IsEmpty() || cache == nil {
		return nil
	}
	snap := cache.Snapshot()

	environments := make(map[string]bool)
	for _, env := range snap.Environments {
		environments[env.Name] = true
		environments[env.EffectiveSlug()] = true
	}
	if err := requireKnown("environment", wf.ProjectEnvironments, environments); err != nil {
		return err
	}

	types := make(map[string]bool)
	for _, pt := range snap.ProjectTypes {
		types[pt.Slug] = true
	}
	if err := requireKnown("project type", wf.ProjectTypes, types); err != nil {
		return err
	}

	var unknownFacts []string
	for name := range wf.ProjectFacts {
		if _, ok := cache.FactType(name); !ok {
			unknownFacts = append(unknownFacts, name)
		}
	}
	if err := unknownError("project fact type", unknownFacts); err != nil {
		return err
	}
	for name, value := range wf.ProjectFacts {
		factType, _ := cache.FactType(name)
		if _, err := factType.ValidateValue(value, cache.EnumValues(factType.ID)); err != nil {
			return workflow.Invalidf("invalid value for fact type %s: %q (expected %s %s)",
				name, value, factType.DataType, factType.FactType)
		}
	}
	return nil
}

func requireKnown(field string, values []string, known map[string]bool) error {
	var unknown []string
	for _, value := range values {
		if !known[value] {
			unknown = append(unknown, value)
		}
	}
	return unknownError(field, unknown)
}

func unknownError(field string, unknown []string) error {
	switch len(unknown) {
	case 0:
		return nil
	case 1:
		return workflow.Invalidf("%s is not a valid %s", unknown[0], field)
	default:
		slices.Sort(unknown)
		return workflow.Invalidf("%s are not valid %ss", strings.Join(unknown, ", "), field)
	}
}
