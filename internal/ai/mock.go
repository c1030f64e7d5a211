package ai

import (
	"context"
	"sync"
)

// MockProvider is a test double for AI providers. Script replies are
// consumed in order, one per call; once exhausted the last one repeats.
type MockProvider struct {
	Response string
	Err      error

	// Script, when non-empty, overrides Response/Err call by call.
	Script []MockReply

	mu       sync.Mutex
	calls    int
	requests []CompletionRequest
}

// MockReply is one scripted provider answer.
type MockReply struct {
	Content string
	Err     error
}

// NewMockProvider creates a MockProvider that returns the given response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{Response: response}
}

// NewScriptedProvider creates a MockProvider that answers with replies in order.
func NewScriptedProvider(replies ...MockReply) *MockProvider {
	return &MockProvider{Script: replies}
}

func (m *MockProvider) Complete(_ context.Context, req CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	call := m.calls
	m.calls++

	content, err := m.Response, m.Err
	if len(m.Script) > 0 {
		r := m.Script[min(call, len(m.Script)-1)]
		content, err = r.Content, r.Err
	}
	if err != nil {
		return CompletionResponse{}, err
	}
	return CompletionResponse{
		Content:      content,
		Model:        "mock",
		InputTokens:  10,
		OutputTokens: len(content),
	}, nil
}

// Calls returns how many times Complete was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// LastRequest returns the most recent request, or nil.
func (m *MockProvider) LastRequest() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	req := m.requests[len(m.requests)-1]
	return &req
}

func (m *MockProvider) HealthCheck(_ context.Context) error {
	return m.Err
}
