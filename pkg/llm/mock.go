package llm

import (
	"context"
	"fmt"
)

// MockProvider returns canned completions for tests. When Reply is empty it
// echoes the last user message.
type MockProvider struct {
	Reply string
	Err   error

	// Requests records every call for assertions.
	Requests []Request
}

func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}

	content := m.Reply
	if content == "" {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == "user" {
				content = fmt.Sprintf("echo: %s", req.Messages[i].Content)
				break
			}
		}
	}
	return &Response{Content: content, Model: "mock-llm"}, nil
}

func (m *MockProvider) ModelName() string { return "mock-llm" }
func (m *MockProvider) Close() error      { return nil }

var _ Provider = (*MockProvider)(nil)
