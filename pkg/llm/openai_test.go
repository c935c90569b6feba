package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompleteSendsChatRequest(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)

		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"model": got.Model,
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "Hi there"}},
			},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Complete(context.Background(), Request{
		Messages: []Message{
			{Role: "system", Content: "Be brief."},
			{Role: "user", Content: "Hello"},
		},
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Content != "Hi there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.PromptTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("usage = %d/%d", resp.PromptTokens, resp.OutputTokens)
	}
	if got.Model != "gpt-4o-mini" || got.Temperature != 0.2 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("messages = %v", got.Messages)
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "invalid model"},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}}); err == nil {
		t.Error("expected api error")
	}
}

func TestTrimToBudgetKeepsSystemAndRecent(t *testing.T) {
	p, err := NewOpenAIProvider(Config{APIKey: "k", ContextBudget: 40})
	if err != nil {
		t.Fatal(err)
	}

	messages := []Message{
		{Role: "system", Content: "You are a helpful assistant for business workflows."},
		{Role: "user", Content: "first message with quite a few tokens in it overall"},
		{Role: "assistant", Content: "second message with quite a few tokens in it overall"},
		{Role: "user", Content: "latest"},
	}

	kept := p.trimToBudget(messages)
	if len(kept) >= len(messages) {
		t.Fatalf("expected trimming, kept %d of %d", len(kept), len(messages))
	}
	if kept[0].Role != "system" {
		t.Errorf("system message must survive trimming")
	}
	if kept[len(kept)-1].Content != "latest" {
		t.Errorf("newest message must survive trimming")
	}
}

func TestCountTokens(t *testing.T) {
	p, err := NewOpenAIProvider(Config{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if p.CountTokens("hello world") <= 0 {
		t.Error("token count should be positive")
	}
}
