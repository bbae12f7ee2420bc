package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockResult scripts a single Complete outcome for MockClient.
type MockResult struct {
	Err      error
	Response CompletionResponse
	Delay    time.Duration
}

// MockClient is a scriptable LLMClient for tests and dry runs. Results are
// consumed in order; once exhausted the last result repeats.
type MockClient struct {
	results []MockResult
	model   string
	calls   int
	mu      sync.Mutex
}

// NewMockClient creates a mock client returning the given results in order.
func NewMockClient(model string, results ...MockResult) *MockClient {
	if len(results) == 0 {
		results = []MockResult{{Response: CompletionResponse{Content: "ok", StopReason: "end_turn"}}}
	}
	return &MockClient{
		results: results,
		model:   model,
	}
}

// Complete implements LLMClient.
func (m *MockClient) Complete(ctx context.Context, _ CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	idx := m.calls
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	result := m.results[idx]
	m.calls++
	m.mu.Unlock()

	if result.Delay > 0 {
		select {
		case <-time.After(result.Delay):
		case <-ctx.Done():
			return CompletionResponse{}, ctx.Err()
		}
	}
	if result.Err != nil {
		return CompletionResponse{}, result.Err
	}
	return result.Response, nil
}

// GetModelName implements LLMClient.
func (m *MockClient) GetModelName() string {
	if m.model == "" {
		return "mock-model"
	}
	return m.model
}

// Calls returns how many times Complete has been invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// String aids test failure messages.
func (m *MockClient) String() string {
	return fmt.Sprintf("MockClient(%s)", m.GetModelName())
}
