package openai

import (
	"strings"
	"testing"

	bridge "github.com/relayhq/bridge/internal"
)

func TestParseRequestFoldsLeadingSystem(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"model": "gpt-5",
		"messages": [
			{"role": "system", "content": "Be concise."},
			{"role": "user", "content": "Hi"}
		],
		"temperature": 0.5
	}`)

	ir, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if ir.System != "Be concise." {
		t.Errorf("system = %q", ir.System)
	}
	if len(ir.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(ir.Messages))
	}
	if ir.Messages[0].Text != "Hi" {
		t.Errorf("message text = %q", ir.Messages[0].Text)
	}
	if ir.Generation.Temperature == nil || *ir.Generation.Temperature != 0.5 {
		t.Errorf("temperature = %v", ir.Generation.Temperature)
	}
}

func TestParseRequestToolCalls(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"model": "gpt-5",
		"messages": [
			{"role": "assistant", "content": null, "tool_calls": [
				{"id": "call_1", "type": "function", "function": {"name": "get_weather", "arguments": "{\"city\":\"NYC\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "sunny"}
		]
	}`)

	ir, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if len(ir.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(ir.Messages))
	}
	if len(ir.Messages[0].ToolCalls) != 1 || ir.Messages[0].ToolCalls[0].Name != "get_weather" {
		t.Errorf("tool calls = %+v", ir.Messages[0].ToolCalls)
	}
	if ir.Messages[1].ToolCallID != "call_1" {
		t.Errorf("tool_call_id = %q", ir.Messages[1].ToolCallID)
	}
}

func TestBuildRequestEmitsSystemMessage(t *testing.T) {
	t.Parallel()

	ir := &bridge.RequestIR{
		Model:    "gpt-5",
		System:   "Be concise.",
		Messages: []bridge.Message{{Role: bridge.RoleUser, Text: "Hi"}},
	}
	body, err := BuildRequest(ir)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if !strings.Contains(string(body), `"role":"system"`) {
		t.Errorf("body = %s, want system message", body)
	}
}

func TestParseResponseUsage(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"id": "chatcmpl-1",
		"model": "gpt-5",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 3, "total_tokens": 13}
	}`)
	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Usage.TotalTokens != 13 {
		t.Errorf("total_tokens = %d, want 13", resp.Usage.TotalTokens)
	}
	if resp.Choices[0].FinishReason != bridge.FinishStop {
		t.Errorf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
}

func TestParseErrorStatusMapping(t *testing.T) {
	t.Parallel()

	e := ParseError(429, []byte(`{"error":{"message":"slow down","code":"rate_limited"}}`))
	if e.Kind != bridge.ErrKindRateLimit {
		t.Errorf("kind = %q, want rate_limit", e.Kind)
	}
	if e.Message != "slow down" {
		t.Errorf("message = %q", e.Message)
	}
}
