package generation

import (
	"context"
	"sync"

	"course-rag-server/pkg/types"
)

// MockService is a scriptable Service for testing.
type MockService struct {
	mu sync.Mutex

	// Response returned for every call unless Responder is set.
	Response string
	// Responder computes the reply from the inputs when set.
	Responder func(systemPrompt string, messages []types.ChatMessage) string
	// FailWith makes every call fail.
	FailWith error

	Calls []MockCall
}

// MockCall records one Complete invocation.
type MockCall struct {
	SystemPrompt string
	Messages     []types.ChatMessage
}

func (m *MockService) Complete(ctx context.Context, systemPrompt string, messages []types.ChatMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]types.ChatMessage, len(messages))
	copy(msgs, messages)
	m.Calls = append(m.Calls, MockCall{SystemPrompt: systemPrompt, Messages: msgs})

	if m.FailWith != nil {
		return "", m.FailWith
	}
	if m.Responder != nil {
		return m.Responder(systemPrompt, messages), nil
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return "mock answer", nil
}

func (m *MockService) Model() string { return "mock-llm" }
