package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"imbi-automations/pkg/github"
	"imbi-automations/pkg/imbi"
)

// Working directory layout.
const (
	RepositoryDir = "repository"
	ExtractedDir  = "extracted"
	WorkflowLink  = "workflow"
)

// Context is the mutable execution scope for one workflow run against one
// project. The engine owns it; actions read it and may write Variables.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Context struct {
	Workflow             *Workflow
	Project              *imbi.Project
	Repository           *github.Repository
	WorkingDirectory     string
	Resources            Resources
	StartingCommit       string
	HasRepositoryChanges bool
	Variables            map[string]any
	CurrentActionIndex   int
	TotalActions         int
}

// NewContext creates a context with an empty variable bag.
func NewContext(wf *Workflow, project *imbi.Project, repo *github.Repository, workingDirectory string) *Context {
	return &Context{
		Workflow:         wf,
		Project:          project,
		Repository:       repo,
		WorkingDirectory: workingDirectory,
		Resources:        wf.Resources(),
		Variables:        make(map[string]any),
	}
}

// RepositoryPath returns the clone location.
func (c *Context) RepositoryPath() string {
	return filepath.Join(c.WorkingDirectory, RepositoryDir)
}

// ExtractedPath returns the scratch area for extracted files.
func (c *Context) ExtractedPath() string {
	return filepath.Join(c.WorkingDirectory, ExtractedDir)
}

// ResolvePath maps a resource reference to a filesystem path. References may
// use a scheme: repository:///x, extracted:///x, workflow:///x or file:///x
// (relative to the working directory). A bare relative path is relative to
// the repository.
func (c *Context) ResolvePath(ref string) (string, error) {
	scheme, rest, ok := strings.Cut(ref, "://")
	if !ok {
		return within(c.RepositoryPath(), ref)
	}
	rest = strings.TrimPrefix(rest, "/")
	switch scheme {
	case "repository":
		return within(c.RepositoryPath(), rest)
	case "extracted":
		return within(c.ExtractedPath(), rest)
	case "workflow":
		return c.Resources.Path(rest)
	case "file":
		return within(c.WorkingDirectory, rest)
	default:
		return "", Invalidf("unsupported path scheme %q in %s", scheme, ref)
	}
}

// HasPathScheme reports whether value is a scheme-qualified resource reference.
func HasPathScheme(value string) bool {
	scheme, _, ok := strings.Cut(value, "://")
	if !ok {
		return false
	}
	switch scheme {
	case "repository", "extracted", "workflow", "file":
		return true
	}
	return false
}

func within(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", Invalidf("path %s must be relative", rel)
	}
	joined := filepath.Join(root, rel)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", Invalidf("path %s escapes %s", rel, root)
	}
	return joined, nil
}

// Resources is a read-only handle to the workflow directory used for prompt
// and template loading.
type Resources struct {
	root string
}

// NewResources returns a handle rooted at dir.
func NewResources(dir string) Resources {
	return Resources{root: filepath.Clean(dir)}
}

// Root returns the workflow directory.
func (r Resources) Root() string {
	return r.root
}

// Path resolves rel inside the workflow directory.
func (r Resources) Path(rel string) (string, error) {
	if r.root == "" || r.root == "." {
		return "", fmt.Errorf("workflow resources are not configured")
	}
	return within(r.root, rel)
}

// ReadFile reads rel from the workflow directory.
func (r Resources) ReadFile(rel string) ([]byte, error) {
	path, err := r.Path(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow resource %s: %w", rel, err)
	}
	return data, nil
}
