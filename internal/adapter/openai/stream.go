package openai

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

// doneSentinel is the terminal frame every Chat Completions stream ends with.
var doneSentinel = []byte("[DONE]")

// Builder serializes IR StreamEvents into Chat Completions SSE chunks. It is
// stateful per request: the first Process call establishes id/model/created
// and emits the role-opening delta, matching how the upstream API itself
// starts a stream.
type Builder struct {
	id      string
	model   string
	created int64
	started bool
}

// NewBuilder returns a Chat Completions StreamBuilder.
func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) chunk(delta map[string]any, index int, finish bridge.FinishReason) map[string]any {
	choice := map[string]any{"index": index, "delta": delta}
	if finish != "" {
		choice["finish_reason"] = unmapFinishReason(finish)
	} else {
		choice["finish_reason"] = nil
	}
	return map[string]any{
		"id":      b.id,
		"object":  "chat.completion.chunk",
		"created": b.created,
		"model":   b.model,
		"choices": []map[string]any{choice},
	}
}

func (b *Builder) emit(m map[string]any) []adapter.SSEEvent {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return []adapter.SSEEvent{{Data: data}}
}

// Process implements adapter.StreamBuilder.
func (b *Builder) Process(ev bridge.StreamEvent) []adapter.SSEEvent {
	if !b.started {
		b.id = ev.ID
		b.model = ev.Model
		b.created = time.Now().Unix()
		b.started = true
	}

	switch ev.Kind {
	case bridge.StreamStart:
		return b.emit(b.chunk(map[string]any{"role": "assistant", "content": ""}, 0, ""))

	case bridge.StreamContent:
		return b.emit(b.chunk(map[string]any{"content": ev.ContentDelta}, 0, ""))

	case bridge.StreamReasoning:
		return b.emit(b.chunk(map[string]any{"reasoning_content": ev.ReasoningDelta}, 0, ""))

	case bridge.StreamToolCall:
		tc := map[string]any{
			"index": ev.ToolCall.Index,
			"id":    ev.ToolCall.ID,
			"type":  "function",
			"function": map[string]any{
				"name":      ev.ToolCall.Name,
				"arguments": ev.ToolCall.Arguments,
			},
		}
		return b.emit(b.chunk(map[string]any{"tool_calls": []map[string]any{tc}}, 0, ""))

	case bridge.StreamEnd:
		finish := ev.FinishReason
		if finish == "" {
			finish = bridge.FinishStop
		}
		frames := b.emit(b.chunk(map[string]any{}, 0, finish))
		if ev.Usage != nil {
			frames = append(frames, b.emit(map[string]any{
				"id":      b.id,
				"object":  "chat.completion.chunk",
				"created": b.created,
				"model":   b.model,
				"choices": []map[string]any{},
				"usage": map[string]any{
					"prompt_tokens":     ev.Usage.PromptTokens,
					"completion_tokens": ev.Usage.CompletionTokens,
					"total_tokens":      ev.Usage.TotalTokens,
				},
			})...)
		}
		return frames

	case bridge.StreamErrorKind:
		if ev.Error == nil {
			return nil
		}
		return b.emit(map[string]any{"error": map[string]any{
			"message": ev.Error.Message,
			"type":    string(ev.Error.Kind),
			"code":    ev.Error.VendorCode,
		}})
	}
	return nil
}

// Finalize implements adapter.StreamBuilder, emitting the "[DONE]" sentinel
// every Chat Completions stream terminates with.
func (b *Builder) Finalize() []adapter.SSEEvent {
	return []adapter.SSEEvent{{Data: doneSentinel}}
}

// Parser implements adapter.StreamParser for Chat Completions. Every chunk
// is self-describing (id/model repeated on each frame), so no state needs
// to be carried across calls; it exists to satisfy the interface uniformly
// with dialects that do need per-stream state.
type Parser struct{}

// NewParser returns a Chat Completions StreamParser.
func NewParser() *Parser { return &Parser{} }

// Parse implements adapter.StreamParser.
func (p *Parser) Parse(frame []byte) ([]bridge.StreamEvent, error) {
	return ParseStreamChunk(frame)
}

// ParseStreamChunk converts one upstream Chat Completions SSE frame into IR
// stream events. frame is the raw "data:" payload; the "[DONE]" sentinel
// yields no events (the finish reason already arrived on the preceding
// chunk).
func ParseStreamChunk(frame []byte) ([]bridge.StreamEvent, error) {
	if string(frame) == "[DONE]" {
		return nil, nil
	}

	c := gjson.ParseBytes(frame)
	id := c.Get("id").String()
	model := c.Get("model").String()

	var events []bridge.StreamEvent
	choice := c.Get("choices.0")
	delta := choice.Get("delta")

	if role := delta.Get("role"); role.Exists() {
		events = append(events, bridge.StreamEvent{Kind: bridge.StreamStart, ID: id, Model: model})
	}
	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		events = append(events, bridge.StreamEvent{Kind: bridge.StreamContent, ID: id, Model: model, ContentDelta: content.String()})
	}
	if rc := delta.Get("reasoning_content"); rc.Exists() && rc.String() != "" {
		events = append(events, bridge.StreamEvent{Kind: bridge.StreamReasoning, ID: id, Model: model, ReasoningDelta: rc.String()})
	}
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		events = append(events, bridge.StreamEvent{
			Kind: bridge.StreamToolCall, ID: id, Model: model,
			ToolCall: &bridge.ToolCall{
				Index:     int(tc.Get("index").Int()),
				ID:        tc.Get("id").String(),
				Type:      "function",
				Name:      tc.Get("function.name").String(),
				Arguments: tc.Get("function.arguments").String(),
			},
		})
		return true
	})
	if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
		end := bridge.StreamEvent{Kind: bridge.StreamEnd, ID: id, Model: model, FinishReason: mapFinishReason(fr.String())}
		if u := c.Get("usage"); u.Exists() {
			end.Usage = &bridge.Usage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}
		events = append(events, end)
	} else if u := c.Get("usage"); u.Exists() && !choice.Exists() {
		// Final usage-only chunk sent when stream_options.include_usage is set.
		events = append(events, bridge.StreamEvent{
			Kind: bridge.StreamEnd, ID: id, Model: model,
			Usage: &bridge.Usage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			},
		})
	}

	return events, nil
}
