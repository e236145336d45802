package anthropic

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

// Parser implements adapter.StreamParser for the Anthropic Messages API.
// Unlike Chat Completions, Anthropic splits one logical turn across several
// named events (message_start/content_block_start/.../message_delta/
// message_stop); id, model, and input token usage are only present on
// message_start, so Parser carries them forward to the message_stop event.
type Parser struct {
	id          string
	model       string
	inputTokens int
}

// NewParser returns a fresh, per-stream Anthropic StreamParser.
func NewParser() *Parser { return &Parser{} }

// Parse implements adapter.StreamParser. frame is one SSE frame's data
// payload; Anthropic embeds the event name in the payload's "type" field,
// so no separate event-name plumbing is needed.
func (p *Parser) Parse(frame []byte) ([]bridge.StreamEvent, error) {
	r := gjson.ParseBytes(frame)
	switch r.Get("type").String() {
	case "message_start":
		p.id = r.Get("message.id").String()
		p.model = r.Get("message.model").String()
		p.inputTokens = int(r.Get("message.usage.input_tokens").Int())
		return []bridge.StreamEvent{{Kind: bridge.StreamStart, ID: p.id, Model: p.model}}, nil

	case "content_block_start":
		block := r.Get("content_block")
		if block.Get("type").String() != "tool_use" {
			return nil, nil
		}
		return []bridge.StreamEvent{{
			Kind: bridge.StreamToolCall, ID: p.id, Model: p.model,
			ToolCall: &bridge.ToolCall{
				Index: int(r.Get("index").Int()),
				ID:    block.Get("id").String(),
				Type:  "function",
				Name:  block.Get("name").String(),
			},
		}}, nil

	case "content_block_delta":
		delta := r.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return []bridge.StreamEvent{{Kind: bridge.StreamContent, ID: p.id, Model: p.model, ContentDelta: delta.Get("text").String()}}, nil
		case "input_json_delta":
			return []bridge.StreamEvent{{
				Kind: bridge.StreamToolCall, ID: p.id, Model: p.model,
				ToolCall: &bridge.ToolCall{Index: int(r.Get("index").Int()), Arguments: delta.Get("partial_json").String()},
			}}, nil
		case "thinking_delta":
			return []bridge.StreamEvent{{Kind: bridge.StreamReasoning, ID: p.id, Model: p.model, ReasoningDelta: delta.Get("thinking").String()}}, nil
		}
		return nil, nil

	case "message_delta":
		finish := mapStopReason(r.Get("delta.stop_reason").String())
		out := int(r.Get("usage.output_tokens").Int())
		return []bridge.StreamEvent{{
			Kind: bridge.StreamEnd, ID: p.id, Model: p.model, FinishReason: finish,
			Usage: &bridge.Usage{
				PromptTokens:     p.inputTokens,
				CompletionTokens: out,
				TotalTokens:      p.inputTokens + out,
			},
		}}, nil

	case "error":
		return []bridge.StreamEvent{{
			Kind: bridge.StreamErrorKind, ID: p.id, Model: p.model,
			Error: &bridge.ErrorIR{Kind: bridge.ErrKindAPI, Message: r.Get("error.message").String(), VendorCode: r.Get("error.type").String()},
		}}, nil

	default: // message_stop, ping, content_block_stop carry nothing new
		return nil, nil
	}
}

// Builder implements adapter.StreamBuilder, serializing IR stream events
// back into Anthropic's own SSE event shape. Used when a client called
// POST /v1/messages with stream=true and the upstream is a different dialect.
type Builder struct {
	id           string
	model        string
	started      bool
	blockOpen    bool
	toolBlock    bool
	inputTokens  int
	outputTokens int
}

// NewBuilder returns an Anthropic StreamBuilder.
func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) event(name string, payload map[string]any) []adapter.SSEEvent {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return []adapter.SSEEvent{{Name: name, Data: data}}
}

// Process implements adapter.StreamBuilder.
func (b *Builder) Process(ev bridge.StreamEvent) []adapter.SSEEvent {
	var out []adapter.SSEEvent

	if !b.started {
		b.id, b.model, b.started = ev.ID, ev.Model, true
		out = append(out, b.event("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id": b.id, "type": "message", "role": "assistant", "model": b.model,
				"content": []any{}, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})...)
	}

	switch ev.Kind {
	case bridge.StreamContent:
		if !b.blockOpen {
			out = append(out, b.openBlock(0, map[string]any{"type": "text", "text": ""})...)
		}
		out = append(out, b.event("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]any{"type": "text_delta", "text": ev.ContentDelta},
		})...)

	case bridge.StreamReasoning:
		if !b.blockOpen {
			out = append(out, b.openBlock(0, map[string]any{"type": "thinking", "thinking": ""})...)
		}
		out = append(out, b.event("content_block_delta", map[string]any{
			"type": "content_block_delta", "index": 0,
			"delta": map[string]any{"type": "thinking_delta", "thinking": ev.ReasoningDelta},
		})...)

	case bridge.StreamToolCall:
		if b.blockOpen && !b.toolBlock {
			out = append(out, b.closeBlock(0)...)
		}
		if !b.blockOpen {
			out = append(out, b.openBlock(ev.ToolCall.Index, map[string]any{
				"type": "tool_use", "id": ev.ToolCall.ID, "name": ev.ToolCall.Name, "input": map[string]any{},
			})...)
			b.toolBlock = true
		}
		if ev.ToolCall.Arguments != "" {
			out = append(out, b.event("content_block_delta", map[string]any{
				"type": "content_block_delta", "index": ev.ToolCall.Index,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.ToolCall.Arguments},
			})...)
		}

	case bridge.StreamEnd:
		if b.blockOpen {
			out = append(out, b.closeBlock(0)...)
		}
		if ev.Usage != nil {
			b.inputTokens, b.outputTokens = ev.Usage.PromptTokens, ev.Usage.CompletionTokens
		}
		out = append(out, b.event("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": unmapStopReason(ev.FinishReason)},
			"usage": map[string]any{"output_tokens": b.outputTokens},
		})...)
		out = append(out, b.event("message_stop", map[string]any{"type": "message_stop"})...)

	case bridge.StreamErrorKind:
		if ev.Error == nil {
			return out
		}
		out = append(out, b.event("error", map[string]any{
			"type":  "error",
			"error": map[string]any{"type": ev.Error.VendorCode, "message": ev.Error.Message},
		})...)
	}
	return out
}

func (b *Builder) openBlock(index int, block map[string]any) []adapter.SSEEvent {
	b.blockOpen = true
	return b.event("content_block_start", map[string]any{
		"type": "content_block_start", "index": index, "content_block": block,
	})
}

func (b *Builder) closeBlock(index int) []adapter.SSEEvent {
	b.blockOpen = false
	b.toolBlock = false
	return b.event("content_block_stop", map[string]any{"type": "content_block_stop", "index": index})
}

// Finalize implements adapter.StreamBuilder. Anthropic streams need no
// closing sentinel beyond the message_stop event already emitted on
// StreamEnd; Finalize is a no-op unless the stream ended without one (e.g.
// the upstream connection dropped mid-flight), in which case it force-closes
// any open block so the client sees a well-formed event sequence.
func (b *Builder) Finalize() []adapter.SSEEvent {
	if !b.blockOpen {
		return nil
	}
	var out []adapter.SSEEvent
	out = append(out, b.closeBlock(0)...)
	out = append(out, b.event("message_stop", map[string]any{"type": "message_stop"})...)
	return out
}
