package mocks

import (
	"context"
	"fmt"
	"sync"

	"imbi-automations/pkg/imbi"
)

// SetProjectFactsCall records the parameters of a SetProjectFacts call.
type SetProjectFactsCall struct {
	ProjectID int
	Facts     []imbi.ProjectFact
}

// SetProjectEnvironmentsCall records the parameters of a SetProjectEnvironments call.
type SetProjectEnvironmentsCall struct {
	ProjectID    int
	Environments []string
}

// MockImbiRegistry implements imbi.Registry for testing. Reads are served
// from the exported slices; writes are recorded.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockImbiRegistry struct {
	Projects     []imbi.Project
	FactTypes    []imbi.ProjectFactType
	FactEnums    []imbi.ProjectFactTypeEnum
	Environments []imbi.Environment
	ProjectTypes []imbi.ProjectType

	// SetProjectFactsFunc overrides the default (record and succeed).
	SetProjectFactsFunc func(ctx context.Context, projectID int, facts []imbi.ProjectFact) error

	SetProjectFactsCalls        []SetProjectFactsCall
	SetProjectEnvironmentsCalls []SetProjectEnvironmentsCall

	mu sync.Mutex
}

// NewMockImbiRegistry creates a registry holding projects.
func NewMockImbiRegistry(projects ...imbi.Project) *MockImbiRegistry {
	return &MockImbiRegistry{Projects: projects}
}

// GetProject implements imbi.Registry.
func (m *MockImbiRegistry) GetProject(_ context.Context, id int) (*imbi.Project, error) {
	for i := range m.Projects {
		if m.Projects[i].ID == id {
			project := m.Projects[i]
			return &project, nil
		}
	}
	return nil, fmt.Errorf("%w: project %d", imbi.ErrNotFound, id)
}

// GetProjects implements imbi.Registry.
func (m *MockImbiRegistry) GetProjects(_ context.Context) ([]imbi.Project, error) {
	return append([]imbi.Project(nil), m.Projects...), nil
}

// GetProjectsByType implements imbi.Registry.
func (m *MockImbiRegistry) GetProjectsByType(_ context.Context, slug string) ([]imbi.Project, error) {
	var projects []imbi.Project
	for i := range m.Projects {
		if m.Projects[i].ProjectTypeSlug == slug {
			projects = append(projects, m.Projects[i])
		}
	}
	return projects, nil
}

// GetProjectFactTypes implements imbi.Registry.
func (m *MockImbiRegistry) GetProjectFactTypes(_ context.Context) ([]imbi.ProjectFactType, error) {
	return m.FactTypes, nil
}

// GetProjectFactTypeEnums implements imbi.Registry.
func (m *MockImbiRegistry) GetProjectFactTypeEnums(_ context.Context) ([]imbi.ProjectFactTypeEnum, error) {
	return m.FactEnums, nil
}

// GetEnvironments implements imbi.Registry.
func (m *MockImbiRegistry) GetEnvironments(_ context.Context) ([]imbi.Environment, error) {
	return m.Environments, nil
}

// GetProjectTypes implements imbi.Registry.
func (m *MockImbiRegistry) GetProjectTypes(_ context.Context) ([]imbi.ProjectType, error) {
	return m.ProjectTypes, nil
}

// SetProjectFacts implements imbi.Registry.
func (m *MockImbiRegistry) SetProjectFacts(ctx context.Context, projectID int, facts []imbi.ProjectFact) error {
	m.mu.Lock()
	m.SetProjectFactsCalls = append(m.SetProjectFactsCalls, SetProjectFactsCall{ProjectID: projectID, Facts: facts})
	fn := m.SetProjectFactsFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, projectID, facts)
	}
	return nil
}

// SetProjectEnvironments implements imbi.Registry.
func (m *MockImbiRegistry) SetProjectEnvironments(_ context.Context, projectID int, environments []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetProjectEnvironmentsCalls = append(m.SetProjectEnvironmentsCalls, SetProjectEnvironmentsCall{
		ProjectID:    projectID,
		Environments: environments,
	})
	return nil
}
