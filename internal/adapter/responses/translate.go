// Package responses implements the OpenAI Responses API dialect adapter:
// translation between the bridge IR and the `/v1/responses` wire format,
// including its stateful output-item stream protocol.
package responses

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
)

// extKey namespaces the Extensions bag entry this adapter stashes
// vendor-specific request options under (truncation, store,
// previous_response_id, parallel_tool_calls, reasoning effort/summary).
const extKey = "openai-responses"

// ParseRequest converts a Responses API request body into IR.
func ParseRequest(raw []byte) (*bridge.RequestIR, error) {
	r := gjson.ParseBytes(raw)
	ir := &bridge.RequestIR{
		Model:  r.Get("model").String(),
		Stream: r.Get("stream").Bool(),
		System: r.Get("instructions").String(),
	}
	if t := r.Get("temperature"); t.Exists() {
		v := t.Float()
		ir.Generation.Temperature = &v
	}
	if tp := r.Get("top_p"); tp.Exists() {
		v := tp.Float()
		ir.Generation.TopP = &v
	}
	if mt := r.Get("max_output_tokens"); mt.Exists() {
		n := int(mt.Int())
		ir.Generation.MaxTokens = &n
	}

	ir.Messages = parseInput(r.Get("input"))

	r.Get("tools").ForEach(func(_, t gjson.Result) bool {
		if t.Get("type").String() != "function" {
			return true
		}
		ir.Tools = append(ir.Tools, bridge.Tool{
			Name:        t.Get("name").String(),
			Description: t.Get("description").String(),
			Parameters:  json.RawMessage(t.Get("parameters").Raw),
		})
		return true
	})
	if tc := r.Get("tool_choice"); tc.Exists() {
		ir.ToolChoice = parseToolChoice(tc)
	}

	ext := map[string]any{}
	for _, key := range []string{"truncation", "store", "previous_response_id", "parallel_tool_calls"} {
		if v := r.Get(key); v.Exists() {
			ext[key] = v.Value()
		}
	}
	if reasoning := r.Get("reasoning"); reasoning.Exists() {
		ext["reasoning"] = reasoning.Value()
	}
	if len(ext) > 0 {
		if b, err := json.Marshal(ext); err == nil {
			ir.SetExt(extKey, b)
		}
	}

	return ir, nil
}

// parseInput handles the Responses API's "input" field, which is either a
// plain string (a single user turn) or an ordered array of input items:
// messages ({role, content}), past function calls ({type:"function_call"}),
// and function call outputs ({type:"function_call_output"}).
func parseInput(input gjson.Result) []bridge.Message {
	if input.Type == gjson.String {
		return []bridge.Message{{Role: bridge.RoleUser, Text: input.String()}}
	}

	var msgs []bridge.Message
	input.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "", "message":
			msgs = append(msgs, parseInputMessage(item))
		case "function_call":
			msgs = append(msgs, bridge.Message{
				Role: bridge.RoleAssistant,
				ToolCalls: []bridge.ToolCall{{
					ID:        item.Get("call_id").String(),
					Type:      "function",
					Name:      item.Get("name").String(),
					Arguments: item.Get("arguments").String(),
				}},
			})
		case "function_call_output":
			msgs = append(msgs, bridge.Message{
				Role:       bridge.RoleTool,
				ToolCallID: item.Get("call_id").String(),
				Text:       item.Get("output").String(),
			})
		}
		return true
	})
	return msgs
}

func parseInputMessage(m gjson.Result) bridge.Message {
	msg := bridge.Message{Role: bridge.Role(m.Get("role").String())}
	content := m.Get("content")
	if content.Type == gjson.String {
		msg.Text = content.String()
		return msg
	}
	content.ForEach(func(_, part gjson.Result) bool {
		switch part.Get("type").String() {
		case "input_text", "output_text":
			msg.Parts = append(msg.Parts, bridge.ContentPart{Type: bridge.ContentText, Text: part.Get("text").String()})
		case "input_image":
			mediaType, data, isB64 := splitDataURL(part.Get("image_url").String())
			if isB64 {
				msg.Parts = append(msg.Parts, bridge.ContentPart{
					Type: bridge.ContentImage, ImageSource: bridge.ImageSourceBase64,
					ImageMediaType: mediaType, ImageData: data,
				})
			} else {
				msg.Parts = append(msg.Parts, bridge.ContentPart{
					Type: bridge.ContentImage, ImageSource: bridge.ImageSourceURL,
					ImageURL: part.Get("image_url").String(),
				})
			}
		}
		return true
	})
	return msg
}

func splitDataURL(url string) (mediaType, data string, isBase64 bool) {
	const prefix = "data:"
	if len(url) < len(prefix) || url[:len(prefix)] != prefix {
		return "", "", false
	}
	rest := url[len(prefix):]
	for i := 0; i+len(";base64,") <= len(rest); i++ {
		if rest[i:i+len(";base64,")] == ";base64," {
			return rest[:i], rest[i+len(";base64,"):], true
		}
	}
	return "", "", false
}

func parseToolChoice(tc gjson.Result) *bridge.ToolChoice {
	if tc.Type == gjson.String {
		switch tc.String() {
		case "none":
			return &bridge.ToolChoice{Mode: bridge.ToolChoiceNone}
		case "required":
			return &bridge.ToolChoice{Mode: bridge.ToolChoiceRequired}
		default:
			return &bridge.ToolChoice{Mode: bridge.ToolChoiceAuto}
		}
	}
	return &bridge.ToolChoice{Mode: bridge.ToolChoiceFunction, FunctionName: tc.Get("name").String()}
}

// BuildRequest converts IR into a Responses API request body.
func BuildRequest(ir *bridge.RequestIR) ([]byte, error) {
	body := map[string]any{
		"model":  ir.Model,
		"stream": ir.Stream,
	}
	if ir.System != "" {
		body["instructions"] = ir.System
	}
	if ir.Generation.Temperature != nil {
		body["temperature"] = *ir.Generation.Temperature
	}
	if ir.Generation.TopP != nil {
		body["top_p"] = *ir.Generation.TopP
	}
	if ir.Generation.MaxTokens != nil {
		body["max_output_tokens"] = *ir.Generation.MaxTokens
	}

	body["input"] = buildInput(ir.Messages)

	if len(ir.Tools) > 0 {
		tools := make([]map[string]any, len(ir.Tools))
		for i, t := range ir.Tools {
			tools[i] = map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  json.RawMessage(t.Parameters),
			}
		}
		body["tools"] = tools
	}
	if ir.ToolChoice != nil {
		body["tool_choice"] = buildToolChoice(ir.ToolChoice)
	}

	if raw := ir.Ext(extKey); raw != nil {
		var ext map[string]any
		if err := json.Unmarshal(raw, &ext); err == nil {
			for k, v := range ext {
				body[k] = v
			}
		}
	}

	return json.Marshal(body)
}

func buildToolChoice(tc *bridge.ToolChoice) any {
	switch tc.Mode {
	case bridge.ToolChoiceFunction:
		return map[string]any{"type": "function", "name": tc.FunctionName}
	case bridge.ToolChoiceNone, bridge.ToolChoiceRequired:
		return string(tc.Mode)
	default:
		return "auto"
	}
}

// buildInput converts IR messages into Responses API input items. Tool
// calls on an assistant message and tool-result messages each become their
// own function_call / function_call_output item, matching how the upstream
// API represents a multi-turn tool exchange.
func buildInput(msgs []bridge.Message) []map[string]any {
	var out []map[string]any
	for _, m := range msgs {
		switch m.Role {
		case bridge.RoleTool:
			out = append(out, map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Text,
			})
		case bridge.RoleAssistant:
			if len(m.ToolCalls) > 0 {
				if m.Text != "" {
					out = append(out, buildMessageItem(m))
				}
				for _, tc := range m.ToolCalls {
					out = append(out, map[string]any{
						"type":      "function_call",
						"call_id":   tc.ID,
						"name":      tc.Name,
						"arguments": tc.Arguments,
					})
				}
				continue
			}
			out = append(out, buildMessageItem(m))
		default:
			out = append(out, buildMessageItem(m))
		}
	}
	return out
}

func buildMessageItem(m bridge.Message) map[string]any {
	if len(m.Parts) == 0 {
		return map[string]any{"role": string(m.Role), "content": m.Text}
	}
	contentType := "input_text"
	if m.Role == bridge.RoleAssistant {
		contentType = "output_text"
	}
	parts := make([]map[string]any, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case bridge.ContentText:
			parts = append(parts, map[string]any{"type": contentType, "text": p.Text})
		case bridge.ContentImage:
			url := p.ImageURL
			if p.ImageSource == bridge.ImageSourceBase64 {
				url = "data:" + p.ImageMediaType + ";base64," + p.ImageData
			}
			parts = append(parts, map[string]any{"type": "input_image", "image_url": url})
		}
	}
	return map[string]any{"role": string(m.Role), "content": parts}
}

// ParseResponse converts a completed Responses API response body into IR.
func ParseResponse(raw []byte) (*bridge.ResponseIR, error) {
	r := gjson.ParseBytes(raw)
	ir := &bridge.ResponseIR{
		ID:    r.Get("id").String(),
		Model: r.Get("model").String(),
	}

	var msg bridge.Message
	msg.Role = bridge.RoleAssistant
	finish := bridge.FinishStop

	r.Get("output").ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "reasoning":
			var text string
			item.Get("summary").ForEach(func(_, s gjson.Result) bool {
				text += s.Get("text").String()
				return true
			})
			msg.ReasoningContent = text
		case "message":
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "output_text" {
					msg.Text += part.Get("text").String()
				}
				return true
			})
		case "function_call":
			finish = bridge.FinishToolCalls
			msg.ToolCalls = append(msg.ToolCalls, bridge.ToolCall{
				ID:        item.Get("call_id").String(),
				Type:      "function",
				Name:      item.Get("name").String(),
				Arguments: item.Get("arguments").String(),
			})
		}
		return true
	})

	switch r.Get("status").String() {
	case "incomplete":
		if finish != bridge.FinishToolCalls {
			finish = bridge.FinishLength
		}
	case "failed":
		finish = bridge.FinishStop
	}

	ir.Choices = []bridge.Choice{{Index: 0, Message: msg, FinishReason: finish}}
	ir.Usage = bridge.Usage{
		PromptTokens:     int(r.Get("usage.input_tokens").Int()),
		CompletionTokens: int(r.Get("usage.output_tokens").Int()),
		TotalTokens:      int(r.Get("usage.total_tokens").Int()),
		Details: bridge.UsageDetails{
			ReasoningTokens: int(r.Get("usage.output_tokens_details.reasoning_tokens").Int()),
			CachedTokens:    int(r.Get("usage.input_tokens_details.cached_tokens").Int()),
		},
	}
	return ir, nil
}

// BuildResponse converts IR into a non-streaming Responses API response body.
// It reuses the same output-item shape the stream builder produces, so a
// client parses both the same way.
func BuildResponse(ir *bridge.ResponseIR) ([]byte, error) {
	var output []map[string]any
	var outputText string
	if len(ir.Choices) > 0 {
		c := ir.Choices[0]
		if c.Message.ReasoningContent != "" {
			output = append(output, reasoningItem(c.Message.ReasoningContent))
		}
		if c.Message.Text != "" {
			output = append(output, messageItem(c.Message.Text))
			outputText = c.Message.Text
		}
		for _, tc := range c.Message.ToolCalls {
			output = append(output, functionCallItem(tc))
		}
	}

	body := map[string]any{
		"id":          ir.ID,
		"object":      "response",
		"created_at":  ir.CreatedAt.Unix(),
		"model":       ir.Model,
		"status":      "completed",
		"output":      output,
		"output_text": outputText,
		"usage": map[string]any{
			"input_tokens":  ir.Usage.PromptTokens,
			"output_tokens": ir.Usage.CompletionTokens,
			"total_tokens":  ir.Usage.TotalTokens,
		},
	}
	return json.Marshal(body)
}

func reasoningItem(text string) map[string]any {
	return map[string]any{
		"type":    "reasoning",
		"id":      "rs_0",
		"summary": []map[string]any{{"type": "summary_text", "text": text}},
	}
}

func messageItem(text string) map[string]any {
	return map[string]any{
		"type": "message",
		"id":   "msg_0",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "output_text", "text": text, "annotations": []any{}},
		},
	}
}

func functionCallItem(tc bridge.ToolCall) map[string]any {
	return map[string]any{
		"type":      "function_call",
		"id":        "fc_" + tc.ID,
		"call_id":   tc.ID,
		"name":      tc.Name,
		"arguments": tc.Arguments,
	}
}

// ParseError converts a Responses API error JSON body into an ErrorIR.
func ParseError(statusCode int, raw []byte) *bridge.ErrorIR {
	r := gjson.ParseBytes(raw)
	msg := r.Get("error.message").String()
	if msg == "" {
		msg = fmt.Sprintf("openai-responses: HTTP %d", statusCode)
	}
	return &bridge.ErrorIR{
		Kind:       kindForStatus(statusCode),
		Message:    msg,
		VendorCode: r.Get("error.code").String(),
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
