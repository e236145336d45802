package responses

import (
	"strings"
	"testing"

	bridge "github.com/relayhq/bridge/internal"
)

func TestParseRequestStringInputAndInstructions(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"model": "o3-mini",
		"instructions": "Be concise.",
		"input": "prove 2+2=4",
		"reasoning": {"effort": "high"}
	}`)

	ir, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if ir.System != "Be concise." {
		t.Errorf("system = %q", ir.System)
	}
	if len(ir.Messages) != 1 || ir.Messages[0].Text != "prove 2+2=4" {
		t.Fatalf("messages = %+v", ir.Messages)
	}
	if ir.Ext(extKey) == nil {
		t.Error("expected reasoning option stashed in extensions")
	}
}

func TestParseRequestFunctionCallOutput(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"model": "gpt-5",
		"input": [
			{"role": "user", "content": "what's the weather?"},
			{"type": "function_call", "call_id": "call_1", "name": "get_weather", "arguments": "{\"city\":\"NYC\"}"},
			{"type": "function_call_output", "call_id": "call_1", "output": "sunny"}
		]
	}`)

	ir, err := ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if len(ir.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(ir.Messages))
	}
	if ir.Messages[1].ToolCalls[0].Name != "get_weather" {
		t.Errorf("tool call = %+v", ir.Messages[1].ToolCalls)
	}
	if ir.Messages[2].Role != bridge.RoleTool || ir.Messages[2].ToolCallID != "call_1" {
		t.Errorf("tool output message = %+v", ir.Messages[2])
	}
}

func TestBuildRequestToolCallRoundTrip(t *testing.T) {
	t.Parallel()

	ir := &bridge.RequestIR{
		Model: "gpt-5",
		Messages: []bridge.Message{
			{Role: bridge.RoleUser, Text: "weather?"},
			{Role: bridge.RoleAssistant, ToolCalls: []bridge.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"NYC"}`}}},
			{Role: bridge.RoleTool, ToolCallID: "call_1", Text: "sunny"},
		},
	}
	body, err := BuildRequest(ir)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if !strings.Contains(string(body), `"function_call_output"`) {
		t.Errorf("body = %s, want function_call_output item", body)
	}
	if !strings.Contains(string(body), `"function_call"`) {
		t.Errorf("body = %s, want function_call item", body)
	}
}

func TestBuildRequestCarriesExtensions(t *testing.T) {
	t.Parallel()

	ir := &bridge.RequestIR{Model: "gpt-5", Messages: []bridge.Message{{Role: bridge.RoleUser, Text: "hi"}}}
	ir.SetExt(extKey, []byte(`{"store": true}`))

	body, err := BuildRequest(ir)
	if err != nil {
		t.Fatalf("BuildRequest: %v", err)
	}
	if !strings.Contains(string(body), `"store":true`) {
		t.Errorf("body = %s, want store:true", body)
	}
}

func TestParseResponseReasoningAndToolCalls(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"id": "resp_1",
		"model": "o3-mini",
		"status": "completed",
		"output": [
			{"type": "reasoning", "summary": [{"type": "summary_text", "text": "thinking..."}]},
			{"type": "function_call", "call_id": "call_1", "name": "get_weather", "arguments": "{}"}
		],
		"usage": {"input_tokens": 10, "output_tokens": 5, "total_tokens": 15, "output_tokens_details": {"reasoning_tokens": 3}}
	}`)

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if resp.Choices[0].Message.ReasoningContent != "thinking..." {
		t.Errorf("reasoning = %q", resp.Choices[0].Message.ReasoningContent)
	}
	if resp.Choices[0].FinishReason != bridge.FinishToolCalls {
		t.Errorf("finish reason = %q, want tool_calls", resp.Choices[0].FinishReason)
	}
	if resp.Usage.Details.ReasoningTokens != 3 {
		t.Errorf("reasoning tokens = %d", resp.Usage.Details.ReasoningTokens)
	}
}

func TestBuildResponseOutputShape(t *testing.T) {
	t.Parallel()

	ir := &bridge.ResponseIR{
		ID: "resp_1", Model: "gpt-5",
		Choices: []bridge.Choice{{Message: bridge.Message{Text: "hi there"}, FinishReason: bridge.FinishStop}},
	}
	body, err := BuildResponse(ir)
	if err != nil {
		t.Fatalf("BuildResponse: %v", err)
	}
	if !strings.Contains(string(body), `"output_text":"hi there"`) {
		t.Errorf("body = %s, want output_text", body)
	}
}

func TestParseErrorStatusMapping(t *testing.T) {
	t.Parallel()

	e := ParseError(401, []byte(`{"error":{"message":"bad key","code":"invalid_api_key"}}`))
	if e.Kind != bridge.ErrKindAuth {
		t.Errorf("kind = %q, want authentication", e.Kind)
	}
	if e.Message != "bad key" {
		t.Errorf("message = %q", e.Message)
	}
}
