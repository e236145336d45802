package responses

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

// Parser implements adapter.StreamParser for the Responses API. Like
// Anthropic, one logical turn is split across several named events; the
// event name travels in the payload's own "type" field, and a
// function_call's id/name are only present on its output_item.added event,
// so Parser tracks them by output_index to attach to later arguments deltas.
type Parser struct {
	id    string
	model string

	toolCalls map[int64]toolCallRef
}

type toolCallRef struct {
	id   string
	name string
}

// NewParser returns a fresh, per-stream Responses API StreamParser.
func NewParser() *Parser {
	return &Parser{toolCalls: make(map[int64]toolCallRef)}
}

// Parse implements adapter.StreamParser.
func (p *Parser) Parse(frame []byte) ([]bridge.StreamEvent, error) {
	r := gjson.ParseBytes(frame)
	switch r.Get("type").String() {
	case "response.created":
		p.id = r.Get("response.id").String()
		p.model = r.Get("response.model").String()
		return []bridge.StreamEvent{{Kind: bridge.StreamStart, ID: p.id, Model: p.model}}, nil

	case "response.output_item.added":
		item := r.Get("item")
		if item.Get("type").String() == "function_call" {
			p.toolCalls[r.Get("output_index").Int()] = toolCallRef{
				id:   item.Get("call_id").String(),
				name: item.Get("name").String(),
			}
		}
		return nil, nil

	case "response.reasoning_summary_text.delta":
		return []bridge.StreamEvent{{Kind: bridge.StreamReasoning, ID: p.id, Model: p.model, ReasoningDelta: r.Get("delta").String()}}, nil

	case "response.output_text.delta":
		return []bridge.StreamEvent{{Kind: bridge.StreamContent, ID: p.id, Model: p.model, ContentDelta: r.Get("delta").String()}}, nil

	case "response.function_call_arguments.delta":
		idx := r.Get("output_index").Int()
		ref := p.toolCalls[idx]
		return []bridge.StreamEvent{{
			Kind: bridge.StreamToolCall, ID: p.id, Model: p.model,
			ToolCall: &bridge.ToolCall{Index: int(idx), ID: ref.id, Type: "function", Name: ref.name, Arguments: r.Get("delta").String()},
		}}, nil

	case "response.completed", "response.incomplete":
		finish := bridge.FinishStop
		if r.Get("type").String() == "response.incomplete" {
			finish = bridge.FinishLength
		}
		if hasToolCall(r.Get("response.output")) {
			finish = bridge.FinishToolCalls
		}
		return []bridge.StreamEvent{{
			Kind: bridge.StreamEnd, ID: p.id, Model: p.model, FinishReason: finish,
			Usage: &bridge.Usage{
				PromptTokens:     int(r.Get("response.usage.input_tokens").Int()),
				CompletionTokens: int(r.Get("response.usage.output_tokens").Int()),
				TotalTokens:      int(r.Get("response.usage.total_tokens").Int()),
			},
		}}, nil

	case "response.failed", "error":
		return []bridge.StreamEvent{{
			Kind: bridge.StreamErrorKind, ID: p.id, Model: p.model,
			Error: &bridge.ErrorIR{Kind: bridge.ErrKindAPI, Message: r.Get("response.error.message").String()},
		}}, nil

	default: // response.output_item.done, .content_part.*, .reasoning_summary_part.*, etc. carry nothing new
		return nil, nil
	}
}

func hasToolCall(output gjson.Result) bool {
	found := false
	output.ForEach(func(_, item gjson.Result) bool {
		if item.Get("type").String() == "function_call" {
			found = true
			return false
		}
		return true
	})
	return found
}

// Builder implements adapter.StreamBuilder, serializing IR stream events
// into the Responses API's stateful output-item protocol. Given the IR
// sequence start, (reasoning.delta)*, (content.delta)*, (tool_call.*)*, end,
// it synthesizes a reasoning output item first, then a message item, then
// one output item per tool call, closing all open items in the order they
// were opened when the stream ends, and emitting exactly one terminal
// response.completed/.failed/.incomplete.
type Builder struct {
	id    string
	model string
	seq   int

	started bool

	reasoningStarted bool
	reasoningIndex   int
	reasoningText    strings.Builder

	messageStarted bool
	messageIndex   int
	messageText    strings.Builder

	toolOrder []int // ToolCall.Index values in first-seen order
	toolState map[int]*toolCallBuild

	nextOutputIndex int
	finished        bool
}

type toolCallBuild struct {
	outputIndex int
	id          string
	name        string
	args        strings.Builder
}

// NewBuilder returns a fresh Responses API StreamBuilder.
func NewBuilder() *Builder {
	return &Builder{toolState: make(map[int]*toolCallBuild)}
}

func (b *Builder) emit(eventType string, payload map[string]any) []adapter.SSEEvent {
	payload["type"] = eventType
	payload["sequence_number"] = b.seq
	b.seq++
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return []adapter.SSEEvent{{Name: eventType, Data: data}}
}

// Process implements adapter.StreamBuilder.
func (b *Builder) Process(ev bridge.StreamEvent) []adapter.SSEEvent {
	var out []adapter.SSEEvent

	if !b.started {
		b.id, b.model, b.started = ev.ID, ev.Model, true
		out = append(out, b.emit("response.created", map[string]any{
			"response": map[string]any{"id": b.id, "model": b.model, "status": "in_progress", "output": []any{}},
		})...)
	}

	switch ev.Kind {
	case bridge.StreamReasoning:
		if !b.reasoningStarted {
			b.reasoningStarted = true
			b.reasoningIndex = b.nextOutputIndex
			b.nextOutputIndex++
			out = append(out, b.emit("response.output_item.added", map[string]any{
				"output_index": b.reasoningIndex,
				"item":         map[string]any{"id": "rs_0", "type": "reasoning", "summary": []any{}},
			})...)
			out = append(out, b.emit("response.reasoning_summary_part.added", map[string]any{
				"output_index": b.reasoningIndex, "summary_index": 0,
				"part": map[string]any{"type": "summary_text", "text": ""},
			})...)
		}
		b.reasoningText.WriteString(ev.ReasoningDelta)
		out = append(out, b.emit("response.reasoning_summary_text.delta", map[string]any{
			"item_id": "rs_0", "output_index": b.reasoningIndex, "summary_index": 0, "delta": ev.ReasoningDelta,
		})...)

	case bridge.StreamContent:
		if !b.messageStarted {
			b.messageStarted = true
			b.messageIndex = b.nextOutputIndex
			b.nextOutputIndex++
			out = append(out, b.emit("response.output_item.added", map[string]any{
				"output_index": b.messageIndex,
				"item":         map[string]any{"id": "msg_0", "type": "message", "role": "assistant", "content": []any{}},
			})...)
			out = append(out, b.emit("response.content_part.added", map[string]any{
				"item_id": "msg_0", "output_index": b.messageIndex, "content_index": 0,
				"part": map[string]any{"type": "output_text", "text": ""},
			})...)
		}
		b.messageText.WriteString(ev.ContentDelta)
		out = append(out, b.emit("response.output_text.delta", map[string]any{
			"item_id": "msg_0", "output_index": b.messageIndex, "content_index": 0, "delta": ev.ContentDelta,
		})...)

	case bridge.StreamToolCall:
		tc := ev.ToolCall
		state, ok := b.toolState[tc.Index]
		if !ok {
			outputIndex := b.nextOutputIndex
			b.nextOutputIndex++
			state = &toolCallBuild{outputIndex: outputIndex, id: tc.ID, name: tc.Name}
			b.toolState[tc.Index] = state
			b.toolOrder = append(b.toolOrder, tc.Index)
			out = append(out, b.emit("response.output_item.added", map[string]any{
				"output_index": outputIndex,
				"item":         map[string]any{"id": "fc_" + tc.ID, "type": "function_call", "call_id": tc.ID, "name": tc.Name, "arguments": ""},
			})...)
		}
		if tc.Arguments != "" {
			state.args.WriteString(tc.Arguments)
			out = append(out, b.emit("response.function_call_arguments.delta", map[string]any{
				"item_id": "fc_" + state.id, "output_index": state.outputIndex, "delta": tc.Arguments,
			})...)
		}

	case bridge.StreamEnd:
		out = append(out, b.closeOpenItems()...)
		status := "completed"
		switch {
		case ev.Error != nil:
			status = "failed"
		case ev.FinishReason == bridge.FinishLength:
			status = "incomplete"
		}
		out = append(out, b.emit("response."+status, map[string]any{
			"response": b.finalResponsePayload(status, ev.Usage),
		})...)
		b.finished = true

	case bridge.StreamErrorKind:
		if b.finished {
			return out
		}
		out = append(out, b.closeOpenItems()...)
		payload := b.finalResponsePayload("failed", nil)
		if ev.Error != nil {
			payload["error"] = map[string]any{"message": ev.Error.Message, "code": ev.Error.VendorCode}
		}
		out = append(out, b.emit("response.failed", map[string]any{"response": payload})...)
		b.finished = true
	}
	return out
}

// closeOpenItems emits the .done pairs for any in-progress reasoning,
// message, or tool-call items, in the order they were opened.
func (b *Builder) closeOpenItems() []adapter.SSEEvent {
	var out []adapter.SSEEvent
	if b.reasoningStarted {
		text := b.reasoningText.String()
		out = append(out, b.emit("response.reasoning_summary_text.done", map[string]any{
			"item_id": "rs_0", "output_index": b.reasoningIndex, "summary_index": 0, "text": text,
		})...)
		out = append(out, b.emit("response.reasoning_summary_part.done", map[string]any{
			"item_id": "rs_0", "output_index": b.reasoningIndex, "summary_index": 0,
			"part": map[string]any{"type": "summary_text", "text": text},
		})...)
		out = append(out, b.emit("response.output_item.done", map[string]any{
			"output_index": b.reasoningIndex, "item": reasoningItem(text),
		})...)
	}
	if b.messageStarted {
		text := b.messageText.String()
		out = append(out, b.emit("response.output_text.done", map[string]any{
			"item_id": "msg_0", "output_index": b.messageIndex, "content_index": 0, "text": text,
		})...)
		out = append(out, b.emit("response.content_part.done", map[string]any{
			"item_id": "msg_0", "output_index": b.messageIndex, "content_index": 0,
			"part": map[string]any{"type": "output_text", "text": text},
		})...)
		out = append(out, b.emit("response.output_item.done", map[string]any{
			"output_index": b.messageIndex, "item": messageItem(text),
		})...)
	}
	for _, idx := range b.toolOrder {
		state := b.toolState[idx]
		args := state.args.String()
		out = append(out, b.emit("response.function_call_arguments.done", map[string]any{
			"item_id": "fc_" + state.id, "output_index": state.outputIndex, "arguments": args,
		})...)
		out = append(out, b.emit("response.output_item.done", map[string]any{
			"output_index": state.outputIndex,
			"item":         functionCallItem(bridge.ToolCall{ID: state.id, Name: state.name, Arguments: args}),
		})...)
	}
	return out
}

// finalResponsePayload assembles the full response object carried by the
// terminal response.completed/.failed/.incomplete event: the complete
// output array (in the order items were opened), the output_text
// convenience field, and usage.
func (b *Builder) finalResponsePayload(status string, usage *bridge.Usage) map[string]any {
	var output []map[string]any
	if b.reasoningStarted {
		output = append(output, reasoningItem(b.reasoningText.String()))
	}
	if b.messageStarted {
		output = append(output, messageItem(b.messageText.String()))
	}
	for _, idx := range b.toolOrder {
		state := b.toolState[idx]
		output = append(output, functionCallItem(bridge.ToolCall{ID: state.id, Name: state.name, Arguments: state.args.String()}))
	}

	payload := map[string]any{
		"id": b.id, "model": b.model, "status": status,
		"output":      output,
		"output_text": b.messageText.String(),
	}
	if usage != nil {
		payload["usage"] = map[string]any{
			"input_tokens":  usage.PromptTokens,
			"output_tokens": usage.CompletionTokens,
			"total_tokens":  usage.TotalTokens,
		}
	}
	return payload
}

// Finalize implements adapter.StreamBuilder. The terminal event is already
// emitted from StreamEnd/StreamErrorKind; Finalize only has work to do if
// the upstream connection dropped before either arrived, in which case it
// force-closes any open items so the client still sees a well-formed
// sequence, ending in response.incomplete.
func (b *Builder) Finalize() []adapter.SSEEvent {
	if b.finished || !b.started {
		return nil
	}
	var out []adapter.SSEEvent
	out = append(out, b.closeOpenItems()...)
	out = append(out, b.emit("response.incomplete", map[string]any{
		"response": b.finalResponsePayload("incomplete", nil),
	})...)
	b.finished = true
	return out
}
