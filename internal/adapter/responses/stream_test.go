package responses

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

func eventTypes(frames []adapter.SSEEvent) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = gjson.GetBytes(f.Data, "type").String()
	}
	return names
}

func TestBuilderReasoningThenContentSequence(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	var frames []adapter.SSEEvent

	frames = append(frames, b.Process(bridge.StreamEvent{Kind: bridge.StreamStart, ID: "resp_1", Model: "o3-mini"})...)
	frames = append(frames, b.Process(bridge.StreamEvent{Kind: bridge.StreamReasoning, ReasoningDelta: "think…"})...)
	frames = append(frames, b.Process(bridge.StreamEvent{Kind: bridge.StreamContent, ContentDelta: "4"})...)
	frames = append(frames, b.Process(bridge.StreamEvent{
		Kind: bridge.StreamEnd, FinishReason: bridge.FinishStop,
		Usage: &bridge.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	})...)

	want := []string{
		"response.created",
		"response.output_item.added",
		"response.reasoning_summary_part.added",
		"response.reasoning_summary_text.delta",
		"response.output_item.added",
		"response.content_part.added",
		"response.output_text.delta",
		"response.reasoning_summary_text.done",
		"response.reasoning_summary_part.done",
		"response.output_item.done",
		"response.output_text.done",
		"response.content_part.done",
		"response.output_item.done",
		"response.completed",
	}
	got := eventTypes(frames)
	if len(got) != len(want) {
		t.Fatalf("got %d events %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// sequence_number must be strictly increasing from 0.
	for i, f := range frames {
		seq := gjson.GetBytes(f.Data, "sequence_number").Int()
		if seq != int64(i) {
			t.Errorf("frame %d sequence_number = %d, want %d", i, seq, i)
		}
	}

	last := frames[len(frames)-1]
	var completed map[string]any
	if err := json.Unmarshal(last.Data, &completed); err != nil {
		t.Fatalf("unmarshal completed event: %v", err)
	}
	resp := completed["response"].(map[string]any)
	if resp["output_text"] != "4" {
		t.Errorf("output_text = %v, want 4", resp["output_text"])
	}
	output := resp["output"].([]any)
	if len(output) != 2 {
		t.Fatalf("output items = %d, want 2 (reasoning, message)", len(output))
	}
}

func TestBuilderToolCallOpensOwnItem(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	var frames []adapter.SSEEvent
	frames = append(frames, b.Process(bridge.StreamEvent{Kind: bridge.StreamStart, ID: "resp_1", Model: "gpt-5"})...)
	frames = append(frames, b.Process(bridge.StreamEvent{
		Kind: bridge.StreamToolCall,
		ToolCall: &bridge.ToolCall{Index: 0, ID: "call_1", Name: "get_weather", Arguments: `{"city":`},
	})...)
	frames = append(frames, b.Process(bridge.StreamEvent{
		Kind:     bridge.StreamToolCall,
		ToolCall: &bridge.ToolCall{Index: 0, ID: "call_1", Arguments: `"NYC"}`},
	})...)
	frames = append(frames, b.Process(bridge.StreamEvent{Kind: bridge.StreamEnd, FinishReason: bridge.FinishToolCalls})...)

	types := eventTypes(frames)
	var sawArgsDelta, sawArgsDone int
	for _, ty := range types {
		if ty == "response.function_call_arguments.delta" {
			sawArgsDelta++
		}
		if ty == "response.function_call_arguments.done" {
			sawArgsDone++
		}
	}
	if sawArgsDelta != 2 {
		t.Errorf("arguments.delta count = %d, want 2", sawArgsDelta)
	}
	if sawArgsDone != 1 {
		t.Errorf("arguments.done count = %d, want 1", sawArgsDone)
	}
}

func TestBuilderFinalizeForceClosesDroppedStream(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.Process(bridge.StreamEvent{Kind: bridge.StreamStart, ID: "resp_1", Model: "gpt-5"})
	b.Process(bridge.StreamEvent{Kind: bridge.StreamContent, ContentDelta: "partial"})

	frames := b.Finalize()
	types := eventTypes(frames)
	if types[len(types)-1] != "response.incomplete" {
		t.Errorf("last finalize event = %q, want response.incomplete", types[len(types)-1])
	}

	// A second Finalize call after the stream already closed is a no-op.
	if more := b.Finalize(); more != nil {
		t.Errorf("second Finalize = %v, want nil", more)
	}
}

func TestParserTracksFunctionCallAcrossEvents(t *testing.T) {
	t.Parallel()

	p := NewParser()

	created := []byte(`{"type":"response.created","response":{"id":"resp_1","model":"gpt-5"}}`)
	events, err := p.Parse(created)
	if err != nil || len(events) != 1 || events[0].Kind != bridge.StreamStart {
		t.Fatalf("created events = %+v, err = %v", events, err)
	}

	added := []byte(`{"type":"response.output_item.added","output_index":0,"item":{"type":"function_call","call_id":"call_1","name":"get_weather"}}`)
	if _, err := p.Parse(added); err != nil {
		t.Fatalf("Parse(added): %v", err)
	}

	delta := []byte(`{"type":"response.function_call_arguments.delta","output_index":0,"delta":"{\"city\":\"NYC\"}"}`)
	events, err = p.Parse(delta)
	if err != nil {
		t.Fatalf("Parse(delta): %v", err)
	}
	if len(events) != 1 || events[0].ToolCall.Name != "get_weather" || events[0].ToolCall.ID != "call_1" {
		t.Fatalf("tool call event = %+v", events)
	}

	done := []byte(`{"type":"response.completed","response":{"output":[{"type":"function_call"}],"usage":{"input_tokens":5,"output_tokens":2,"total_tokens":7}}}`)
	events, err = p.Parse(done)
	if err != nil {
		t.Fatalf("Parse(done): %v", err)
	}
	if len(events) != 1 || events[0].Kind != bridge.StreamEnd || events[0].FinishReason != bridge.FinishToolCalls {
		t.Fatalf("end event = %+v", events)
	}
	if events[0].Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", events[0].Usage)
	}
}
