package openai

import (
	"encoding/json"
	"testing"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

func TestBuilderProcessAndFinalize(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	var frames []adapter.SSEEvent

	frames = append(frames, b.Process(bridge.StreamEvent{Kind: bridge.StreamStart, ID: "chatcmpl-1", Model: "gpt-5"})...)
	frames = append(frames, b.Process(bridge.StreamEvent{Kind: bridge.StreamContent, ContentDelta: "Hi"})...)
	frames = append(frames, b.Process(bridge.StreamEvent{
		Kind: bridge.StreamEnd, FinishReason: bridge.FinishStop,
		Usage: &bridge.Usage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
	})...)
	frames = append(frames, b.Finalize()...)

	if len(frames) != 5 {
		t.Fatalf("got %d frames, want 5 (start, content, finish, usage, done)", len(frames))
	}
	last := frames[len(frames)-1]
	if string(last.Data) != "[DONE]" {
		t.Errorf("last frame = %s, want [DONE]", last.Data)
	}

	var finishChunk map[string]any
	if err := json.Unmarshal(frames[2].Data, &finishChunk); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

func TestParseStreamChunkRoundTrip(t *testing.T) {
	t.Parallel()

	frame := []byte(`{"id":"chatcmpl-1","model":"gpt-5","choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`)
	events, err := ParseStreamChunk(frame)
	if err != nil {
		t.Fatalf("ParseStreamChunk: %v", err)
	}
	if len(events) != 1 || events[0].Kind != bridge.StreamContent {
		t.Fatalf("events = %+v", events)
	}

	doneEvents, err := ParseStreamChunk([]byte("[DONE]"))
	if err != nil {
		t.Fatalf("ParseStreamChunk([DONE]): %v", err)
	}
	if doneEvents != nil {
		t.Errorf("[DONE] should yield no events, got %+v", doneEvents)
	}
}
