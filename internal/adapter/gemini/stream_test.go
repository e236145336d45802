package gemini

import (
	"strings"
	"testing"

	bridge "github.com/relayhq/bridge/internal"
)

func TestParserToolCall(t *testing.T) {
	t.Parallel()

	frame := []byte(`{
		"modelVersion": "gemini-2.0-flash",
		"candidates": [{"content": {"parts": [{"functionCall": {"name": "get_weather", "args": {"city": "SF"}}}]}}]
	}`)

	p := NewParser()
	events, err := p.Parse(frame)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Kind != bridge.StreamToolCall {
		t.Errorf("kind = %q, want tool_call", events[0].Kind)
	}
	if events[0].ToolCall.Name != "get_weather" {
		t.Errorf("tool name = %q", events[0].ToolCall.Name)
	}
}

func TestBuilderProcessContentAndEnd(t *testing.T) {
	t.Parallel()

	b := NewBuilder()

	evs := b.Process(bridge.StreamEvent{Kind: bridge.StreamContent, Model: "gemini-2.0-flash", ContentDelta: "Hello"})
	if len(evs) != 1 {
		t.Fatalf("content events = %d, want 1", len(evs))
	}
	if !strings.Contains(string(evs[0].Data), "Hello") {
		t.Errorf("data = %s", evs[0].Data)
	}

	end := b.Process(bridge.StreamEvent{
		Kind:         bridge.StreamEnd,
		FinishReason: bridge.FinishStop,
		Usage:        &bridge.Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	})
	if len(end) != 1 {
		t.Fatalf("end events = %d, want 1", len(end))
	}
	if !strings.Contains(string(end[0].Data), `"STOP"`) {
		t.Errorf("expected STOP finishReason, got %s", end[0].Data)
	}
	if !strings.Contains(string(end[0].Data), `"totalTokenCount":5`) {
		t.Errorf("expected total token count, got %s", end[0].Data)
	}

	if b.Finalize() != nil {
		t.Error("Finalize should return nil for EOF-terminated Gemini streams")
	}
}

func TestBuilderProcessToolCall(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	evs := b.Process(bridge.StreamEvent{
		Kind:     bridge.StreamToolCall,
		Model:    "gemini-2.0-flash",
		ToolCall: &bridge.ToolCall{Name: "get_weather", Arguments: `{"city":"SF"}`},
	})
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if !strings.Contains(string(evs[0].Data), `"functionCall"`) {
		t.Errorf("expected functionCall, got %s", evs[0].Data)
	}
}
