// Package anthropic implements the Anthropic Messages API dialect adapter:
// translation between the bridge IR and Anthropic's wire format, plus the
// HTTP client used when Anthropic is the upstream (direct, Vertex, or
// Bedrock hosted).
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	bridge "github.com/relayhq/bridge/internal"
)

const defaultMaxTokens = 4096

// ParseRequest converts an Anthropic Messages API request body into IR.
// Used when a client calls POST /v1/messages directly (Anthropic-in).
func ParseRequest(raw []byte) (*bridge.RequestIR, error) {
	r := gjson.ParseBytes(raw)
	ir := &bridge.RequestIR{
		Model:  r.Get("model").String(),
		Stream: r.Get("stream").Bool(),
		System: r.Get("system").String(),
	}
	if mt := r.Get("max_tokens"); mt.Exists() {
		n := int(mt.Int())
		ir.Generation.MaxTokens = &n
	}
	if t := r.Get("temperature"); t.Exists() {
		v := t.Float()
		ir.Generation.Temperature = &v
	}
	if tp := r.Get("top_p"); tp.Exists() {
		v := tp.Float()
		ir.Generation.TopP = &v
	}
	r.Get("messages").ForEach(func(_, m gjson.Result) bool {
		ir.Messages = append(ir.Messages, parseAnthropicMessage(m))
		return true
	})
	r.Get("tools").ForEach(func(_, t gjson.Result) bool {
		ir.Tools = append(ir.Tools, bridge.Tool{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Parameters:  json.RawMessage(t.Get("input_schema").Raw),
		})
		return true
	})
	return ir, nil
}

func parseAnthropicMessage(m gjson.Result) bridge.Message {
	role := bridge.Role(m.Get("role").String())
	content := m.Get("content")
	if content.Type == gjson.String {
		return bridge.Message{Role: role, Text: content.String()}
	}
	var out bridge.Message
	out.Role = role
	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			out.Parts = append(out.Parts, bridge.ContentPart{Type: bridge.ContentText, Text: block.Get("text").String()})
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, bridge.ToolCall{
				ID:        block.Get("id").String(),
				Type:      "function",
				Name:      block.Get("name").String(),
				Arguments: block.Get("input").Raw,
			})
		case "tool_result":
			out.Role = bridge.RoleTool
			out.ToolCallID = block.Get("tool_use_id").String()
			out.Text = block.Get("content").String()
		case "image":
			src := block.Get("source")
			out.Parts = append(out.Parts, bridge.ContentPart{
				Type:           bridge.ContentImage,
				ImageSource:    bridge.ImageSourceBase64,
				ImageMediaType: src.Get("media_type").String(),
				ImageData:      src.Get("data").String(),
			})
		}
		return true
	})
	return out
}

// BuildRequest converts IR into an Anthropic Messages API request body.
// Used when Anthropic is the outbound upstream.
func BuildRequest(ir *bridge.RequestIR) ([]byte, error) {
	maxTokens := defaultMaxTokens
	if ir.Generation.MaxTokens != nil {
		maxTokens = *ir.Generation.MaxTokens
	}

	body := map[string]any{
		"model":      ir.Model,
		"max_tokens": maxTokens,
		"stream":     ir.Stream,
	}
	if ir.System != "" {
		body["system"] = ir.System
	}
	if ir.Generation.Temperature != nil {
		body["temperature"] = *ir.Generation.Temperature
	}
	if ir.Generation.TopP != nil {
		body["top_p"] = *ir.Generation.TopP
	}
	if len(ir.Generation.StopSequences) > 0 {
		body["stop_sequences"] = ir.Generation.StopSequences
	}
	if len(ir.Tools) > 0 {
		tools := make([]map[string]any, len(ir.Tools))
		for i, t := range ir.Tools {
			tools[i] = map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": json.RawMessage(t.Parameters),
			}
		}
		body["tools"] = tools
	}

	msgs := make([]map[string]any, 0, len(ir.Messages))
	for _, m := range ir.Messages {
		if m.Role == bridge.RoleSystem {
			// Leading system messages are folded into IR.System by the inbound
			// adapter already; a stray one here is used only when no system
			// prompt is set, and is otherwise dropped.
			if body["system"] == nil {
				body["system"] = m.Text
			}
			continue
		}
		msgs = append(msgs, buildAnthropicMessage(m))
	}
	body["messages"] = msgs

	return json.Marshal(body)
}

func buildAnthropicMessage(m bridge.Message) map[string]any {
	if m.Role == bridge.RoleTool {
		return map[string]any{
			"role": "user",
			"content": []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Text,
			}},
		}
	}

	if len(m.Parts) == 0 && len(m.ToolCalls) == 0 {
		return map[string]any{"role": string(m.Role), "content": m.Text}
	}

	var blocks []map[string]any
	if m.Text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": m.Text})
	}
	for _, p := range m.Parts {
		switch p.Type {
		case bridge.ContentText:
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		case bridge.ContentImage:
			mediaType, data := p.ImageMediaType, p.ImageData
			if p.ImageSource == bridge.ImageSourceURL {
				mediaType, data = decodeDataURL(p.ImageURL)
			}
			blocks = append(blocks, map[string]any{
				"type": "image",
				"source": map[string]any{
					"type":       "base64",
					"media_type": mediaType,
					"data":       data,
				},
			})
		}
	}
	for _, tc := range m.ToolCalls {
		var input json.RawMessage = []byte(tc.Arguments)
		if len(input) == 0 {
			input = []byte("{}")
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.ID,
			"name":  tc.Name,
			"input": input,
		})
	}
	return map[string]any{"role": string(m.Role), "content": blocks}
}

// decodeDataURL splits a "data:<mime>;base64,<data>" URL into its parts.
// Returns empty strings if url is not a data URL.
func decodeDataURL(url string) (mediaType, data string) {
	if !strings.HasPrefix(url, "data:") {
		return "", ""
	}
	rest := strings.TrimPrefix(url, "data:")
	parts := strings.SplitN(rest, ";base64,", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// ParseResponse converts an Anthropic Messages API JSON response into IR.
func ParseResponse(data []byte) (*bridge.ResponseIR, error) {
	result := gjson.ParseBytes(data)

	var msg bridge.Message
	msg.Role = bridge.RoleAssistant
	var contentText strings.Builder
	result.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			contentText.WriteString(block.Get("text").String())
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, bridge.ToolCall{
				ID:        block.Get("id").String(),
				Type:      "function",
				Name:      block.Get("name").String(),
				Arguments: block.Get("input").Raw,
			})
		}
		return true
	})
	msg.Text = contentText.String()

	finish := mapStopReason(result.Get("stop_reason").String())
	if len(msg.ToolCalls) > 0 {
		finish = bridge.FinishToolCalls
	}

	in := int(result.Get("usage.input_tokens").Int())
	out := int(result.Get("usage.output_tokens").Int())
	cached := int(result.Get("usage.cache_read_input_tokens").Int())

	return &bridge.ResponseIR{
		ID:    result.Get("id").String(),
		Model: result.Get("model").String(),
		Choices: []bridge.Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: finish,
		}},
		Usage: bridge.Usage{
			PromptTokens:     in,
			CompletionTokens: out,
			TotalTokens:      in + out,
			Details:          bridge.UsageDetails{CachedTokens: cached},
		},
	}, nil
}

// BuildResponse converts IR into an Anthropic Messages API JSON response.
// Used when Anthropic is the inbound dialect (client expects Anthropic shape).
func BuildResponse(ir *bridge.ResponseIR) ([]byte, error) {
	body := `{"type":"message","role":"assistant"}`
	body, _ = sjson.Set(body, "id", ir.ID)
	body, _ = sjson.Set(body, "model", ir.Model)

	var content []map[string]any
	var stopReason string
	if len(ir.Choices) > 0 {
		c := ir.Choices[0]
		if c.Message.Text != "" {
			content = append(content, map[string]any{"type": "text", "text": c.Message.Text})
		}
		for _, tc := range c.Message.ToolCalls {
			var input json.RawMessage = []byte(tc.Arguments)
			content = append(content, map[string]any{"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": input})
		}
		stopReason = unmapStopReason(c.FinishReason)
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	body, _ = sjson.SetRawBytes([]byte(body), "content", raw)
	out, _ := sjson.SetBytes(body, "stop_reason", stopReason)
	out, _ = sjson.SetBytes(out, "usage.input_tokens", ir.Usage.PromptTokens)
	out, _ = sjson.SetBytes(out, "usage.output_tokens", ir.Usage.CompletionTokens)
	return out, nil
}

// mapStopReason converts an Anthropic stop_reason to an IR FinishReason.
func mapStopReason(reason string) bridge.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return bridge.FinishStop
	case "max_tokens":
		return bridge.FinishLength
	case "tool_use":
		return bridge.FinishToolCalls
	default:
		return bridge.FinishStop
	}
}

// unmapStopReason converts an IR FinishReason back to Anthropic's vocabulary.
func unmapStopReason(f bridge.FinishReason) string {
	switch f {
	case bridge.FinishLength:
		return "max_tokens"
	case bridge.FinishToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

// ParseError converts an Anthropic error JSON body into an ErrorIR.
func ParseError(statusCode int, raw []byte) *bridge.ErrorIR {
	r := gjson.ParseBytes(raw)
	msg := r.Get("error.message").String()
	if msg == "" {
		msg = fmt.Sprintf("anthropic: HTTP %d", statusCode)
	}
	return &bridge.ErrorIR{
		Kind:       kindForStatus(statusCode),
		Message:    msg,
		VendorCode: r.Get("error.type").String(),
		Raw:        json.RawMessage(raw),
	}
}

func kindForStatus(status int) bridge.ErrorKind {
	switch status {
	case 400:
		return bridge.ErrKindValidation
	case 401:
		return bridge.ErrKindAuth
	case 403:
		return bridge.ErrKindPermission
	case 404:
		return bridge.ErrKindNotFound
	case 429:
		return bridge.ErrKindRateLimit
	default:
		if status >= 500 {
			return bridge.ErrKindAPI
		}
		return bridge.ErrKindUnknown
	}
}
