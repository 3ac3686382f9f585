// Package mocks provides shared mock implementations for testing.
//
// This package contains mock implementations of the engine's collaborators
// (git, source host, registry, agent) that can be used by any package's tests.
//
// # Usage
//
//	import "imbi-automations/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    agent := mocks.NewMockAgent()
//	    agent.OnQuery(func(_ context.Context, req claude.QueryRequest) (*claude.AgentRun, error) {
//	        return &claude.AgentRun{Result: claude.ResultFailure, Message: "boom"}, nil
//	    })
//	    // Use agent in test...
//	}
//
// # Available Mocks
//
//   - MockGitRunner: Mock for pkg/git.Runner
//   - MockGitHubHost: Mock for pkg/github.Host
//   - MockImbiRegistry: Mock for pkg/imbi.Registry
//   - MockAgent: Mock for pkg/claude.Agent
//   - MockCompleter: Mock for pkg/claude.Completer
//
// Mocks must not import packages that depend on pkg/git's consumers
// (actions, engine, committer, controller) so those packages can use them
// in their own tests.
package mocks
