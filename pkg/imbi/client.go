// Package imbi provides a REST client for the Imbi project registry and a
// TTL-bound cache of its slowly changing metadata.
package imbi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/logx"
)

// searchPageSize is the OpenSearch page size used when listing projects.
const searchPageSize = 100

// ErrNotFound is returned when the registry has no record for a lookup.
var ErrNotFound = errors.New("not found in imbi")

// Registry is the subset of the client consumed by the engine and actions.
type Registry interface {
	GetProject(ctx context.Context, id int) (*Project, error)
	GetProjects(ctx context.Context) ([]Project, error)
	GetProjectsByType(ctx context.Context, slug string) ([]Project, error)
	GetProjectFactTypes(ctx context.Context) ([]ProjectFactType, error)
	GetProjectFactTypeEnums(ctx context.Context) ([]ProjectFactTypeEnum, error)
	GetEnvironments(ctx context.Context) ([]Environment, error)
	GetProjectTypes(ctx context.Context) ([]ProjectType, error)
	SetProjectFacts(ctx context.Context, projectID int, facts []ProjectFact) error
	SetProjectEnvironments(ctx context.Context, projectID int, environments []string) error
}

// Client talks to the Imbi REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *logx.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBaseURL overrides the https://<hostname> base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// NewClient creates a client for the configured Imbi host.
func NewClient(cfg config.ImbiConfig, opts ...Option) *Client {
	c := &Client{
		baseURL: "https://" + cfg.Hostname,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logx.NewLogger("imbi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// statusError carries a non-2xx response.
type statusError struct {
	method string
	path   string
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("imbi %s %s returned %d: %s", e.method, e.path, e.status, e.body)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Private-Token", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("%s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("imbi %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read imbi response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{method: method, path: path, status: resp.StatusCode, body: string(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse imbi response from %s: %w", path, err)
	}
	return nil
}

// GetProject returns a project by ID or ErrNotFound.
func (c *Client) GetProject(ctx context.Context, id int) (*Project, error) {
	projects, err := c.searchProjects(ctx, searchByID(id))
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return &projects[0], nil
}

// GetProjects returns every non-archived project sorted by slug.
func (c *Client) GetProjects(ctx context.Context) ([]Project, error) {
	return c.searchAll(ctx, searchPayload)
}

// GetProjectsByType returns every non-archived project of a type sorted by slug.
func (c *Client) GetProjectsByType(ctx context.Context, slug string) ([]Project, error) {
	return c.searchAll(ctx, func() map[string]any { return searchByTypeSlug(slug) })
}

func (c *Client) searchAll(ctx context.Context, query func() map[string]any) ([]Project, error) {
	var all []Project
	for from := 0; ; from += searchPageSize {
		q := query()
		q["from"] = from
		q["size"] = searchPageSize

		page, err := c.searchProjects(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < searchPageSize {
			break
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Slug < all[j].Slug })
	c.logger.Debug("Found %d projects", len(all))
	return all, nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *Client) searchProjects(ctx context.Context, query map[string]any) ([]Project, error) {
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/opensearch/projects", query, &resp); err != nil {
		return nil, fmt.Errorf("failed to search projects: %w", err)
	}

	projects := make([]Project, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var p Project
		if err := json.Unmarshal(hit.Source, &p); err != nil {
			return nil, fmt.Errorf("failed to parse project: %w", err)
		}
		p.ImbiURL = fmt.Sprintf("%s/ui/projects/%d", c.baseURL, p.ID)
		projects = append(projects, p)
	}
	return projects, nil
}

func searchPayload() map[string]any {
	return map[string]any{
		"_source": map[string]any{
			"exclude": []string{"archived", "component_versions", "components"},
		},
		"query": map[string]any{
			"bool": map[string]any{
				"must": map[string]any{"term": map[string]any{"archived": false}},
			},
		},
	}
}

func searchByID(id int) map[string]any {
	payload := searchPayload()
	payload["query"] = map[string]any{
		"bool": map[string]any{
			"filter": []any{map[string]any{"term": map[string]any{"_id": fmt.Sprintf("%d", id)}}},
		},
	}
	return payload
}

func searchByTypeSlug(slug string) map[string]any {
	payload := searchPayload()
	payload["query"] = map[string]any{
		"bool": map[string]any{
			"must": []any{
				map[string]any{"match": map[string]any{"archived": false}},
				map[string]any{"term": map[string]any{"project_type_slug.keyword": slug}},
			},
		},
	}
	return payload
}

// GetProjectTypes lists project types.
func (c *Client) GetProjectTypes(ctx context.Context) ([]ProjectType, error) {
	var out []ProjectType
	if err := c.do(ctx, http.MethodGet, "/project-types", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get project types: %w", err)
	}
	return out, nil
}

// GetProjectFactTypes lists fact type definitions.
func (c *Client) GetProjectFactTypes(ctx context.Context) ([]ProjectFactType, error) {
	var out []ProjectFactType
	if err := c.do(ctx, http.MethodGet, "/project-fact-types", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get project fact types: %w", err)
	}
	return out, nil
}

// GetProjectFactTypeEnums lists allowed values of enum fact types.
func (c *Client) GetProjectFactTypeEnums(ctx context.Context) ([]ProjectFactTypeEnum, error) {
	var out []ProjectFactTypeEnum
	if err := c.do(ctx, http.MethodGet, "/project-fact-type-enums", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get project fact type enums: %w", err)
	}
	return out, nil
}

// GetEnvironments lists environments.
func (c *Client) GetEnvironments(ctx context.Context) ([]Environment, error) {
	var out []Environment
	if err := c.do(ctx, http.MethodGet, "/environments", nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get environments: %w", err)
	}
	return out, nil
}

// GetProjectFacts returns the current facts for a project.
func (c *Client) GetProjectFacts(ctx context.Context, projectID int) ([]ProjectFact, error) {
	var out []ProjectFact
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%d/facts", projectID), nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get facts for project %d: %w", projectID, err)
	}
	return out, nil
}

// SetProjectFacts records fact values for a project.
func (c *Client) SetProjectFacts(ctx context.Context, projectID int, facts []ProjectFact) error {
	payload := make([]map[string]any, 0, len(facts))
	for _, fact := range facts {
		payload = append(payload, map[string]any{"fact_type_id": fact.FactTypeID, "value": fact.Value})
	}
	c.logger.Debug("Setting %d facts for project %d", len(facts), projectID)
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%d/facts", projectID), payload, nil); err != nil {
		return fmt.Errorf("failed to set facts for project %d: %w", projectID, err)
	}
	return nil
}

// SetProjectEnvironments replaces the environments of a project.
func (c *Client) SetProjectEnvironments(ctx context.Context, projectID int, environments []string) error {
	patch := []map[string]any{{"op": "replace", "path": "/environments", "value": environments}}
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/projects/%d", projectID), patch, nil); err != nil {
		return fmt.Errorf("failed to set environments for project %d: %w", projectID, err)
	}
	return nil
}
