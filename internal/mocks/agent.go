package mocks

import (
	"context"
	"sync"

	"imbi-automations/pkg/claude"
)

// MockAgent implements claude.Agent for testing.
//
// By default every turn succeeds; planning turns return an empty plan.
// Use OnQuery to script replies per turn.
type MockAgent struct {
	// QueryFunc is called when Query is invoked.
	QueryFunc func(ctx context.Context, req claude.QueryRequest) (*claude.AgentRun, error)

	// QueryCalls tracks all requests for verification.
	QueryCalls []claude.QueryRequest

	mu sync.Mutex
}

// NewMockAgent creates an agent whose turns always succeed.
func NewMockAgent() *MockAgent {
	m := &MockAgent{}
	m.QueryFunc = func(_ context.Context, req claude.QueryRequest) (*claude.AgentRun, error) {
		if req.Kind == claude.TurnPlanning {
			return &claude.AgentRun{Result: claude.ResultSuccess, Plan: []string{}}, nil
		}
		return &claude.AgentRun{Result: claude.ResultSuccess}, nil
	}
	return m
}

// Query implements claude.Agent.
func (m *MockAgent) Query(ctx context.Context, req claude.QueryRequest) (*claude.AgentRun, error) {
	m.mu.Lock()
	m.QueryCalls = append(m.QueryCalls, req)
	fn := m.QueryFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// OnQuery sets a custom handler for Query calls.
func (m *MockAgent) OnQuery(fn func(ctx context.Context, req claude.QueryRequest) (*claude.AgentRun, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryFunc = fn
}

// CallsOfKind returns the requests for one turn kind, in order.
func (m *MockAgent) CallsOfKind(kind claude.TurnKind) []claude.QueryRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var calls []claude.QueryRequest
	for _, call := range m.QueryCalls {
		if call.Kind == kind {
			calls = append(calls, call)
		}
	}
	return calls
}

// CallCount returns the number of Query calls.
func (m *MockAgent) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.QueryCalls)
}

// MockCompleter implements claude.Completer with a fixed reply.
type MockCompleter struct {
	Reply   string
	Err     error
	Prompts []string

	mu sync.Mutex
}

// Complete implements claude.Completer.
func (m *MockCompleter) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Prompts = append(m.Prompts, prompt)
	return m.Reply, m.Err
}
