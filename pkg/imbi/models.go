package imbi

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Environment is a deployment environment a project runs in.
type Environment struct {
	Name        string `json:"name" yaml:"name"`
	Slug        string `json:"slug,omitempty" yaml:"slug,omitempty"`
	IconClass   string `json:"icon_class,omitempty" yaml:"icon_class,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases value and collapses non-alphanumeric runs to hyphens.
func Slugify(value string) string {
	return strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(value), "-"), "-")
}

// EffectiveSlug returns Slug, deriving it from Name when unset.
func (e Environment) EffectiveSlug() string {
	if e.Slug != "" {
		return e.Slug
	}
	return Slugify(e.Name)
}

// Project is a project record from the registry.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Project struct {
	ID              int               `json:"id"`
	Dependencies    []int             `json:"dependencies,omitempty"`
	Description     string            `json:"description,omitempty"`
	Environments    []Environment     `json:"environments,omitempty"`
	Facts           map[string]any    `json:"facts,omitempty"`
	Identifiers     map[string]any    `json:"identifiers,omitempty"`
	Links           map[string]string `json:"links,omitempty"`
	Name            string            `json:"name"`
	Namespace       string            `json:"namespace"`
	NamespaceSlug   string            `json:"namespace_slug"`
	ProjectScore    string            `json:"project_score,omitempty"`
	ProjectType     string            `json:"project_type"`
	ProjectTypeSlug string            `json:"project_type_slug"`
	Slug            string            `json:"slug"`
	URLs            map[string]string `json:"urls,omitempty"`
	ImbiURL         string            `json:"imbi_url"`
}

// Identifier returns the string form of the named external identifier.
func (p *Project) Identifier(name string) (string, bool) {
	if p.Identifiers == nil {
		return "", false
	}
	value, ok := p.Identifiers[name]
	if !ok || value == nil {
		return "", false
	}
	switch v := value.(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprint(v), true
	}
}

// ProjectFact is a single recorded fact value.
type ProjectFact struct {
	FactTypeID int    `json:"fact_type_id"`
	FactName   string `json:"fact_name,omitempty"`
	RecordedAt string `json:"recorded_at,omitempty"`
	RecordedBy string `json:"recorded_by,omitempty"`
	Value      any    `json:"value"`
	Score      *int   `json:"score,omitempty"`
	Weight     *int   `json:"weight,omitempty"`
}

// ProjectFactType describes a fact and the values it accepts.
type ProjectFactType struct {
	ID             int      `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	ProjectTypeIDs []int    `json:"project_type_ids" yaml:"project_type_ids"`
	FactType       string   `json:"fact_type" yaml:"fact_type"` // enum, range, free-form
	DataType       string   `json:"data_type" yaml:"data_type"` // boolean, date, decimal, integer, string, timestamp
	UIOptions      []string `json:"ui_options,omitempty" yaml:"ui_options,omitempty"`
	Weight         float64  `json:"weight" yaml:"weight"`
	MinValue       *float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue       *float64 `json:"max_value,omitempty" yaml:"max_value,omitempty"`
}

// ProjectFactTypeEnum is an allowed value for an enum fact type.
type ProjectFactTypeEnum struct {
	ID         int    `json:"id" yaml:"id"`
	FactTypeID int    `json:"fact_type_id" yaml:"fact_type_id"`
	Value      string `json:"value" yaml:"value"`
	Score      int    `json:"score" yaml:"score"`
}

// ProjectType categorizes projects.
type ProjectType struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Slug        string `json:"slug" yaml:"slug"`
	PluralName  string `json:"plural_name,omitempty" yaml:"plural_name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}
