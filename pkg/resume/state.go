// Package resume stores the crash-recovery record written next to a
// preserved working directory.
package resume

import (
	"time"
)

// FileName is the record's name inside a preserved directory.
const FileName = ".state"

// Repository is the subset of the source-host repository record needed to
// rebuild a workflow context.
//
//nolint:govet // Logical grouping preferred over memory optimization
type Repository struct {
	ID            int64
	Name          string
	FullName      string
	OwnerLogin    string
	DefaultBranch string
	HTMLURL       string
	CloneURL      string
	SSHURL        string
	Private       bool
	Archived      bool
}

// State is the durable record of a failed (or synthesized) execution. The
// next execution resumes at FailedActionIndex.
//
//nolint:govet // Logical grouping preferred over memory optimization
type State struct {
	WorkflowSlug           string
	WorkflowPath           string
	ProjectID              int64
	ProjectSlug            string
	FailedActionIndex      int
	FailedActionName       string
	CompletedActionIndices []int
	StartingCommit         string
	HasRepositoryChanges   bool
	GitHubRepository       *Repository
	ErrorMessage           string
	ErrorTimestamp         time.Time
	PreservedDirectoryPath string
	ConfigurationHash      string

	// PullRequestNumber and PullRequestBranch are set for followup reruns.
	PullRequestNumber int
	PullRequestBranch string
}

// CompletedRange returns [start, end) as a slice of indices.
func CompletedRange(start, end int) []int {
	if end <= start {
		return []int{}
	}
	indices := make([]int, 0, end-start)
	for i := start; i < end; i++ {
		indices = append(indices, i)
	}
	return indices
}
