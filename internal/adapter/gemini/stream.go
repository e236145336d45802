package gemini

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

// Parser implements adapter.StreamParser for Gemini's generateContent
// streaming response. Every chunk repeats modelVersion, so -- unlike
// Anthropic -- no state needs to be carried across calls.
type Parser struct{}

// NewParser returns a Gemini StreamParser.
func NewParser() *Parser { return &Parser{} }

// Parse implements adapter.StreamParser. Gemini streaming has no "event:"
// field and no terminal sentinel: each "data:" line is a full JSON response
// chunk, and the stream ends at EOF. The chunk carrying finishReason also
// carries the (cumulative) usageMetadata, so it doubles as the StreamEnd.
func (p *Parser) Parse(frame []byte) ([]bridge.StreamEvent, error) {
	r := gjson.ParseBytes(frame)
	model := r.Get("modelVersion").String()
	id := "gemini-" + model

	var events []bridge.StreamEvent
	r.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() && text.String() != "" {
			events = append(events, bridge.StreamEvent{Kind: bridge.StreamContent, ID: id, Model: model, ContentDelta: text.String()})
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			events = append(events, bridge.StreamEvent{
				Kind: bridge.StreamToolCall, ID: id, Model: model,
				ToolCall: &bridge.ToolCall{ID: fc.Get("name").String(), Type: "function", Name: fc.Get("name").String(), Arguments: fc.Get("args").Raw},
			})
		}
		return true
	})

	if fr := r.Get("candidates.0.finishReason"); fr.Exists() && fr.String() != "" {
		end := bridge.StreamEvent{Kind: bridge.StreamEnd, ID: id, Model: model, FinishReason: mapStopReason(fr.String())}
		if u := r.Get("usageMetadata"); u.Exists() {
			end.Usage = &bridge.Usage{
				PromptTokens:     int(u.Get("promptTokenCount").Int()),
				CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
				TotalTokens:      int(u.Get("totalTokenCount").Int()),
			}
		}
		events = append(events, end)
	}

	return events, nil
}

// Builder implements adapter.StreamBuilder, serializing IR stream events
// into Gemini's generateContent streaming chunk shape. Used when a client
// calls the Gemini-shaped route but the upstream is a different dialect.
type Builder struct {
	model string
}

// NewBuilder returns a Gemini StreamBuilder.
func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) emit(m map[string]any) []adapter.SSEEvent {
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return []adapter.SSEEvent{{Data: data}}
}

// Process implements adapter.StreamBuilder.
func (b *Builder) Process(ev bridge.StreamEvent) []adapter.SSEEvent {
	if b.model == "" {
		b.model = ev.Model
	}

	switch ev.Kind {
	case bridge.StreamContent:
		return b.emit(map[string]any{
			"modelVersion": b.model,
			"candidates": []map[string]any{{
				"content": map[string]any{"role": "model", "parts": []map[string]any{{"text": ev.ContentDelta}}},
				"index":   0,
			}},
		})

	case bridge.StreamToolCall:
		return b.emit(map[string]any{
			"modelVersion": b.model,
			"candidates": []map[string]any{{
				"content": map[string]any{"role": "model", "parts": []map[string]any{{
					"functionCall": map[string]any{"name": ev.ToolCall.Name, "args": json.RawMessage(ev.ToolCall.Arguments)},
				}}},
				"index": 0,
			}},
		})

	case bridge.StreamEnd:
		usage := map[string]any{}
		if ev.Usage != nil {
			usage = map[string]any{
				"promptTokenCount":     ev.Usage.PromptTokens,
				"candidatesTokenCount": ev.Usage.CompletionTokens,
				"totalTokenCount":      ev.Usage.TotalTokens,
			}
		}
		return b.emit(map[string]any{
			"modelVersion": b.model,
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{}},
				"finishReason": unmapStopReason(ev.FinishReason),
				"index":        0,
			}},
			"usageMetadata": usage,
		})

	case bridge.StreamErrorKind:
		if ev.Error == nil {
			return nil
		}
		return b.emit(map[string]any{"error": map[string]any{"message": ev.Error.Message, "status": ev.Error.VendorCode}})
	}
	return nil
}

// Finalize implements adapter.StreamBuilder. Gemini streams are
// EOF-terminated with no closing sentinel, so there is nothing to emit.
func (b *Builder) Finalize() []adapter.SSEEvent { return nil }
