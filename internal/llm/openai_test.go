package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIChatParsesStringArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth = %q", got)
		}

		resp := `{
			"model": "gpt-4o",
			"created": 1736935200,
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_abc123",
						"type": "function",
						"function": {"name": "recall", "arguments": "{\"query\": \"wifi\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 12}
		}`
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-test")
	resp, err := client.Chat(context.Background(), "gpt-4o",
		[]Message{{Role: "user", Content: "what's the wifi password?"}}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_abc123" {
		t.Errorf("id = %q", tc.ID)
	}
	if tc.Function.Arguments["query"] != "wifi" {
		t.Errorf("arguments = %v", tc.Function.Arguments)
	}
	if resp.InputTokens != 100 {
		t.Errorf("input tokens = %d", resp.InputTokens)
	}
}

func TestOpenAIChatMalformedArgumentsBecomeEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := `{
			"model": "gpt-4o",
			"created": 1736935200,
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_x",
						"type": "function",
						"function": {"name": "recall", "arguments": "{not json"}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`
		w.Write([]byte(resp))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "")
	resp, err := client.Chat(context.Background(), "gpt-4o", nil, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	tc := resp.Message.ToolCalls[0]
	if len(tc.Function.Arguments) != 0 {
		t.Errorf("malformed arguments should parse to empty set, got %v", tc.Function.Arguments)
	}
}

func TestOpenAIChatEncodesArgumentsAsString(t *testing.T) {
	var captured openaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Write([]byte(`{"model":"gpt-4o","created":0,"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	msgs := []Message{
		{Role: "user", Content: "turn it off"},
		{Role: "assistant", ToolCalls: []ToolCall{
			NewToolCall("call_1", "wait_seconds", map[string]any{"seconds": float64(10)}),
		}},
		{Role: "tool", ToolCallID: "call_1", Content: "waited"},
	}

	client := NewOpenAIClient(srv.URL, "")
	if _, err := client.Chat(context.Background(), "gpt-4o", msgs, nil); err != nil {
		t.Fatalf("chat: %v", err)
	}

	if len(captured.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(captured.Messages))
	}
	wtc := captured.Messages[1].ToolCalls[0]
	if wtc.Type != "function" {
		t.Errorf("type = %q", wtc.Type)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(wtc.Function.Arguments), &args); err != nil {
		t.Fatalf("arguments should be a JSON string: %v", err)
	}
	if args["seconds"] != float64(10) {
		t.Errorf("arguments = %v", args)
	}
	if captured.Messages[2].ToolCallID != "call_1" {
		t.Errorf("tool_call_id = %q", captured.Messages[2].ToolCallID)
	}
}

func TestOpenAIChatNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-4o","created":0,"choices":[]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "")
	if _, err := client.Chat(context.Background(), "gpt-4o", nil, nil); err == nil {
		t.Error("expected error for empty choices")
	}
}
