// Package openai implements the OpenAI Chat Completions dialect adapter.
// Its wire format is reused verbatim by the deepseek, moonshot, qwen, and
// zhipu presets registered under this same Adapter.
package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
)

// ParseRequest converts a Chat Completions request body into IR.
func ParseRequest(raw []byte) (*bridge.RequestIR, error) {
	r := gjson.ParseBytes(raw)
	ir := &bridge.RequestIR{
		Model:  r.Get("model").String(),
		Stream: r.Get("stream").Bool(),
	}
	if t := r.Get("temperature"); t.Exists() {
		v := t.Float()
		ir.Generation.Temperature = &v
	}
	if tp := r.Get("top_p"); tp.Exists() {
		v := tp.Float()
		ir.Generation.TopP = &v
	}
	if mt := r.Get("max_tokens"); mt.Exists() {
		n := int(mt.Int())
		ir.Generation.MaxTokens = &n
	}
	if n := r.Get("n"); n.Exists() {
		v := int(n.Int())
		ir.Generation.N = &v
	}
	if seed := r.Get("seed"); seed.Exists() {
		v := int(seed.Int())
		ir.Generation.Seed = &v
	}
	if rf := r.Get("response_format"); rf.Exists() {
		ir.Generation.ResponseFormat = json.RawMessage(rf.Raw)
	}
	if stop := r.Get("stop"); stop.Exists() {
		if stop.IsArray() {
			stop.ForEach(func(_, s gjson.Result) bool {
				ir.Generation.StopSequences = append(ir.Generation.StopSequences, s.String())
				return true
			})
		} else {
			ir.Generation.StopSequences = []string{stop.String()}
		}
	}

	var systemParts []string
	sawNonSystem := false
	r.Get("messages").ForEach(func(_, m gjson.Result) bool {
		role := m.Get("role").String()
		if role == "system" && !sawNonSystem {
			systemParts = append(systemParts, m.Get("content").String())
			return true
		}
		sawNonSystem = true
		ir.Messages = append(ir.Messages, parseMessage(m))
		return true
	})
	ir.System = strings.Join(systemParts, "\n")

	r.Get("tools").ForEach(func(_, t gjson.Result) bool {
		fn := t.Get("function")
		ir.Tools = append(ir.Tools, bridge.Tool{
			Name:        fn.Get("name").String(),
			Description: fn.Get("description").String(),
			Parameters:  json.RawMessage(fn.Get("parameters").Raw),
		})
		return true
	})
	if tc := r.Get("tool_choice"); tc.Exists() {
		ir.ToolChoice = parseToolChoice(tc)
	}

	return ir, nil
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
	return &bridge.ToolChoice{Mode: bridge.ToolChoiceFunction, FunctionName: tc.Get("function.name").String()}
}

func parseMessage(m gjson.Result) bridge.Message {
	msg := bridge.Message{
		Role:       bridge.Role(m.Get("role").String()),
		ToolCallID: m.Get("tool_call_id").String(),
	}
	content := m.Get("content")
	if content.Type == gjson.String {
		msg.Text = content.String()
	} else if content.IsArray() {
		content.ForEach(func(_, part gjson.Result) bool {
			switch part.Get("type").String() {
			case "text":
				msg.Parts = append(msg.Parts, bridge.ContentPart{Type: bridge.ContentText, Text: part.Get("text").String()})
			case "image_url":
				mediaType, data, isB64 := splitDataURL(part.Get("image_url.url").String())
				if isB64 {
					msg.Parts = append(msg.Parts, bridge.ContentPart{
						Type: bridge.ContentImage, ImageSource: bridge.ImageSourceBase64,
						ImageMediaType: mediaType, ImageData: data,
					})
				} else {
					msg.Parts = append(msg.Parts, bridge.ContentPart{
						Type: bridge.ContentImage, ImageSource: bridge.ImageSourceURL,
						ImageURL: part.Get("image_url.url").String(),
					})
				}
			}
			return true
		})
	}
	m.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		msg.ToolCalls = append(msg.ToolCalls, bridge.ToolCall{
			ID:        tc.Get("id").String(),
			Type:      "function",
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		})
		return true
	})
	if rc := m.Get("reasoning_content"); rc.Exists() {
		msg.ReasoningContent = rc.String()
	}
	return msg
}

func splitDataURL(url string) (mediaType, data string, isBase64 bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	rest := strings.TrimPrefix(url, "data:")
	parts := strings.SplitN(rest, ";base64,", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// BuildRequest converts IR into a Chat Completions request body.
func BuildRequest(ir *bridge.RequestIR) ([]byte, error) {
	body := map[string]any{
		"model":  ir.Model,
		"stream": ir.Stream,
	}
	if ir.Generation.Temperature != nil {
		body["temperature"] = *ir.Generation.Temperature
	}
	if ir.Generation.TopP != nil {
		body["top_p"] = *ir.Generation.TopP
	}
	if ir.Generation.MaxTokens != nil {
		body["max_tokens"] = *ir.Generation.MaxTokens
	}
	if ir.Generation.N != nil {
		body["n"] = *ir.Generation.N
	}
	if ir.Generation.Seed != nil {
		body["seed"] = *ir.Generation.Seed
	}
	if len(ir.Generation.StopSequences) > 0 {
		body["stop"] = ir.Generation.StopSequences
	}
	if ir.Generation.ResponseFormat != nil {
		body["response_format"] = json.RawMessage(ir.Generation.ResponseFormat)
	}
	if ir.Stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}

	var msgs []map[string]any
	if ir.System != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": ir.System})
	}
	for _, m := range ir.Messages {
		msgs = append(msgs, buildMessage(m))
	}
	body["messages"] = msgs

	if len(ir.Tools) > 0 {
		tools := make([]map[string]any, len(ir.Tools))
		for i, t := range ir.Tools {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  json.RawMessage(t.Parameters),
				},
			}
		}
		body["tools"] = tools
	}
	if ir.ToolChoice != nil {
		body["tool_choice"] = buildToolChoice(ir.ToolChoice)
	}

	return json.Marshal(body)
}

func buildToolChoice(tc *bridge.ToolChoice) any {
	switch tc.Mode {
	case bridge.ToolChoiceFunction:
		return map[string]any{"type": "function", "function": map[string]any{"name": tc.FunctionName}}
	case bridge.ToolChoiceNone, bridge.ToolChoiceRequired:
		return string(tc.Mode)
	default:
		return "auto"
	}
}

func buildMessage(m bridge.Message) map[string]any {
	out := map[string]any{"role": string(m.Role)}
	if m.ToolCallID != "" {
		out["tool_call_id"] = m.ToolCallID
	}
	if len(m.Parts) == 0 {
		out["content"] = m.Text
	} else {
		parts := make([]map[string]any, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case bridge.ContentText:
				parts = append(parts, map[string]any{"type": "text", "text": p.Text})
			case bridge.ContentImage:
				url := p.ImageURL
				if p.ImageSource == bridge.ImageSourceBase64 {
					url = "data:" + p.ImageMediaType + ";base64," + p.ImageData
				}
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": url}})
			}
		}
		out["content"] = parts
	}
	if len(m.ToolCalls) > 0 {
		tcs := make([]map[string]any, len(m.ToolCalls))
		for i, tc := range m.ToolCalls {
			tcs[i] = map[string]any{
				"id":   tc.ID,
				"type": "function",
				"function": map[string]any{
					"name":      tc.Name,
					"arguments": tc.Arguments,
				},
			}
		}
		out["tool_calls"] = tcs
	}
	if m.ReasoningContent != "" {
		out["reasoning_content"] = m.ReasoningContent
	}
	return out
}

// ParseResponse converts a Chat Completions response body into IR.
func ParseResponse(raw []byte) (*bridge.ResponseIR, error) {
	r := gjson.ParseBytes(raw)
	ir := &bridge.ResponseIR{
		ID:                r.Get("id").String(),
		Model:             r.Get("model").String(),
		SystemFingerprint: r.Get("system_fingerprint").String(),
	}
	r.Get("choices").ForEach(func(_, c gjson.Result) bool {
		ir.Choices = append(ir.Choices, bridge.Choice{
			Index:        int(c.Get("index").Int()),
			Message:      parseMessage(c.Get("message")),
			FinishReason: mapFinishReason(c.Get("finish_reason").String()),
		})
		return true
	})
	if u := r.Get("usage"); u.Exists() {
		ir.Usage = bridge.Usage{
			PromptTokens:     int(u.Get("prompt_tokens").Int()),
			CompletionTokens: int(u.Get("completion_tokens").Int()),
			TotalTokens:      int(u.Get("total_tokens").Int()),
			Details: bridge.UsageDetails{
				ReasoningTokens: int(u.Get("completion_tokens_details.reasoning_tokens").Int()),
				CachedTokens:    int(u.Get("prompt_tokens_details.cached_tokens").Int()),
			},
		}
	}
	return ir, nil
}

func mapFinishReason(s string) bridge.FinishReason {
	switch s {
	case "length":
		return bridge.FinishLength
	case "tool_calls", "function_call":
		return bridge.FinishToolCalls
	case "content_filter":
		return bridge.FinishContentFilter
	default:
		return bridge.FinishStop
	}
}

func unmapFinishReason(f bridge.FinishReason) string {
	switch f {
	case bridge.FinishLength:
		return "length"
	case bridge.FinishToolCalls:
		return "tool_calls"
	case bridge.FinishContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

// BuildResponse converts IR into a Chat Completions response body.
func BuildResponse(ir *bridge.ResponseIR) ([]byte, error) {
	choices := make([]map[string]any, len(ir.Choices))
	for i, c := range ir.Choices {
		choices[i] = map[string]any{
			"index":         c.Index,
			"message":       buildMessage(c.Message),
			"finish_reason": unmapFinishReason(c.FinishReason),
		}
	}
	body := map[string]any{
		"id":      ir.ID,
		"object":  "chat.completion",
		"created": ir.CreatedAt.Unix(),
		"model":   ir.Model,
		"choices": choices,
		"usage": map[string]any{
			"prompt_tokens":     ir.Usage.PromptTokens,
			"completion_tokens": ir.Usage.CompletionTokens,
			"total_tokens":      ir.Usage.TotalTokens,
		},
	}
	if ir.SystemFingerprint != "" {
		body["system_fingerprint"] = ir.SystemFingerprint
	}
	return json.Marshal(body)
}

// ParseError converts a Chat Completions error JSON body into an ErrorIR.
func ParseError(statusCode int, raw []byte) *bridge.ErrorIR {
	r := gjson.ParseBytes(raw)
	msg := r.Get("error.message").String()
	if msg == "" {
		msg = fmt.Sprintf("openai: HTTP %d", statusCode)
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
