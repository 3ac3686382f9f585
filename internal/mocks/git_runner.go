package mocks

import (
	"context"
	"sync"
)

// GitRunCall records the parameters of a Git command call.
type GitRunCall struct {
	Dir  string
	Args []string
}

// Subcommand returns the git subcommand, skipping leading "-c key=value" pairs.
func (c GitRunCall) Subcommand() string {
	return subcommand(c.Args)
}

func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

// MockGitRunner implements git.Runner for testing.
//
// Note: For tests requiring realistic git behavior, consider using the exec
// runner with a temporary repository. Mocks are best suited for unit tests
// where speed and determinism are priorities.
type MockGitRunner struct {
	// RunFunc is called when Run is invoked. Override to customize behavior.
	RunFunc func(ctx context.Context, dir string, args ...string) ([]byte, error)

	// RunCalls tracks all calls to Run for verification.
	RunCalls []GitRunCall

	// mu protects call tracking slices
	mu sync.Mutex
}

// NewMockGitRunner creates a new mock git runner that returns empty output.
func NewMockGitRunner() *MockGitRunner {
	m := &MockGitRunner{}
	m.RunFunc = func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte{}, nil
	}
	return m
}

// Run implements git.Runner.
func (m *MockGitRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.RunCalls = append(m.RunCalls, GitRunCall{Dir: dir, Args: args})
	fn := m.RunFunc
	m.mu.Unlock()
	return fn(ctx, dir, args...)
}

// OnRun sets a custom handler for Run calls.
func (m *MockGitRunner) OnRun(fn func(ctx context.Context, dir string, args ...string) ([]byte, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunFunc = fn
}

// FailCommandWith configures Run to fail when a specific subcommand is
// executed, returning output alongside err. Other commands succeed with
// empty output.
func (m *MockGitRunner) FailCommandWith(command, output string, err error) {
	m.OnRun(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		if subcommand(args) == command {
			return []byte(output), err
		}
		return []byte{}, nil
	})
}

// RespondWithMap configures Run to return different outputs for different
// subcommands. Commands not in the map return empty output.
func (m *MockGitRunner) RespondWithMap(responses map[string]string) {
	m.OnRun(func(_ context.Context, _ string, args ...string) ([]byte, error) {
		if output, ok := responses[subcommand(args)]; ok {
			return []byte(output), nil
		}
		return []byte{}, nil
	})
}

// Reset clears all recorded calls.
func (m *MockGitRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RunCalls = nil
}

// WasCommandCalled returns true if Run was called with the specified subcommand.
func (m *MockGitRunner) WasCommandCalled(command string) bool {
	return len(m.GetCallsForCommand(command)) > 0
}

// GetCallsForCommand returns all Run calls for a specific subcommand.
func (m *MockGitRunner) GetCallsForCommand(command string) []GitRunCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var calls []GitRunCall
	for _, call := range m.RunCalls {
		if call.Subcommand() == command {
			calls = append(calls, call)
		}
	}
	return calls
}
