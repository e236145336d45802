// Package gemini implements the Google Gemini generateContent dialect adapter.
package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
)

// ParseRequest converts a Gemini generateContent request body into IR.
// Used when a client calls the Gemini-shaped route directly (Gemini-in).
func ParseRequest(raw []byte) (*bridge.RequestIR, error) {
	r := gjson.ParseBytes(raw)
	ir := &bridge.RequestIR{}

	if si := r.Get("systemInstruction"); si.Exists() {
		ir.System = partsText(si.Get("parts"))
	}
	if gc := r.Get("generationConfig"); gc.Exists() {
		if t := gc.Get("temperature"); t.Exists() {
			v := t.Float()
			ir.Generation.Temperature = &v
		}
		if tp := gc.Get("topP"); tp.Exists() {
			v := tp.Float()
			ir.Generation.TopP = &v
		}
		if mt := gc.Get("maxOutputTokens"); mt.Exists() {
			n := int(mt.Int())
			ir.Generation.MaxTokens = &n
		}
		gc.Get("stopSequences").ForEach(func(_, s gjson.Result) bool {
			ir.Generation.StopSequences = append(ir.Generation.StopSequences, s.String())
			return true
		})
	}

	r.Get("tools.0.functionDeclarations").ForEach(func(_, fd gjson.Result) bool {
		ir.Tools = append(ir.Tools, bridge.Tool{
			Name:        fd.Get("name").String(),
			Description: fd.Get("description").String(),
			Parameters:  json.RawMessage(fd.Get("parameters").Raw),
		})
		return true
	})

	r.Get("contents").ForEach(func(_, c gjson.Result) bool {
		ir.Messages = append(ir.Messages, parseContent(c))
		return true
	})

	return ir, nil
}

func parseContent(c gjson.Result) bridge.Message {
	role := bridge.RoleUser
	if c.Get("role").String() == "model" {
		role = bridge.RoleAssistant
	}
	msg := bridge.Message{Role: role}

	c.Get("parts").ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			msg.Text += text.String()
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			msg.ToolCalls = append(msg.ToolCalls, bridge.ToolCall{
				ID:        fc.Get("name").String(), // Gemini has no separate call IDs
				Type:      "function",
				Name:      fc.Get("name").String(),
				Arguments: fc.Get("args").Raw,
			})
		}
		if fr := part.Get("functionResponse"); fr.Exists() {
			msg.Role = bridge.RoleTool
			msg.ToolCallID = fr.Get("name").String()
			msg.Text = fr.Get("response").Raw
		}
		if inline := part.Get("inlineData"); inline.Exists() {
			msg.Parts = append(msg.Parts, bridge.ContentPart{
				Type:           bridge.ContentImage,
				ImageSource:    bridge.ImageSourceBase64,
				ImageMediaType: inline.Get("mimeType").String(),
				ImageData:      inline.Get("data").String(),
			})
		}
		return true
	})
	return msg
}

func partsText(parts gjson.Result) string {
	var b strings.Builder
	parts.ForEach(func(_, p gjson.Result) bool {
		b.WriteString(p.Get("text").String())
		return true
	})
	return b.String()
}

// BuildRequest converts IR into a Gemini generateContent request body.
func BuildRequest(ir *bridge.RequestIR) ([]byte, error) {
	body := map[string]any{}

	if ir.System != "" {
		body["systemInstruction"] = map[string]any{"parts": []map[string]any{{"text": ir.System}}}
	}

	gc := map[string]any{}
	if ir.Generation.Temperature != nil {
		gc["temperature"] = *ir.Generation.Temperature
	}
	if ir.Generation.TopP != nil {
		gc["topP"] = *ir.Generation.TopP
	}
	if ir.Generation.MaxTokens != nil {
		gc["maxOutputTokens"] = *ir.Generation.MaxTokens
	}
	if len(ir.Generation.StopSequences) > 0 {
		gc["stopSequences"] = ir.Generation.StopSequences
	}
	if len(gc) > 0 {
		body["generationConfig"] = gc
	}

	if len(ir.Tools) > 0 {
		decls := make([]map[string]any, len(ir.Tools))
		for i, t := range ir.Tools {
			decls[i] = map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  json.RawMessage(t.Parameters),
			}
		}
		body["tools"] = []map[string]any{{"functionDeclarations": decls}}
	}

	contents := make([]map[string]any, 0, len(ir.Messages))
	for _, m := range ir.Messages {
		contents = append(contents, buildContent(m))
	}
	body["contents"] = contents

	return json.Marshal(body)
}

func buildContent(m bridge.Message) map[string]any {
	role := "user"
	if m.Role == bridge.RoleAssistant {
		role = "model"
	}

	var parts []map[string]any
	if m.Role == bridge.RoleTool {
		var resp json.RawMessage = []byte(m.Text)
		if len(resp) == 0 {
			resp = []byte("{}")
		}
		parts = append(parts, map[string]any{
			"functionResponse": map[string]any{"name": m.ToolCallID, "response": resp},
		})
		return map[string]any{"role": "user", "parts": parts}
	}

	if m.Text != "" {
		parts = append(parts, map[string]any{"text": m.Text})
	}
	for _, p := range m.Parts {
		switch p.Type {
		case bridge.ContentText:
			parts = append(parts, map[string]any{"text": p.Text})
		case bridge.ContentImage:
			parts = append(parts, map[string]any{
				"inlineData": map[string]any{"mimeType": p.ImageMediaType, "data": p.ImageData},
			})
		}
	}
	for _, tc := range m.ToolCalls {
		var args json.RawMessage = []byte(tc.Arguments)
		if len(args) == 0 {
			args = []byte("{}")
		}
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{"name": tc.Name, "args": args},
		})
	}
	return map[string]any{"role": role, "parts": parts}
}

// ParseResponse converts a Gemini generateContent JSON response into IR.
func ParseResponse(data []byte) (*bridge.ResponseIR, error) {
	r := gjson.ParseBytes(data)

	finish := mapStopReason(r.Get("candidates.0.finishReason").String())
	msg := bridge.Message{Role: bridge.RoleAssistant}
	var text strings.Builder

	r.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if t := part.Get("text"); t.Exists() {
			text.WriteString(t.String())
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			msg.ToolCalls = append(msg.ToolCalls, bridge.ToolCall{
				ID:        fc.Get("name").String(),
				Type:      "function",
				Name:      fc.Get("name").String(),
				Arguments: fc.Get("args").Raw,
			})
		}
		return true
	})
	msg.Text = text.String()
	if len(msg.ToolCalls) > 0 {
		finish = bridge.FinishToolCalls
	}

	var usage bridge.Usage
	if u := r.Get("usageMetadata"); u.Exists() {
		usage = bridge.Usage{
			PromptTokens:     int(u.Get("promptTokenCount").Int()),
			CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
			TotalTokens:      int(u.Get("totalTokenCount").Int()),
			Details:          bridge.UsageDetails{CachedTokens: int(u.Get("cachedContentTokenCount").Int())},
		}
	}

	return &bridge.ResponseIR{
		Model:   r.Get("modelVersion").String(),
		Choices: []bridge.Choice{{Index: 0, Message: msg, FinishReason: finish}},
		Usage:   usage,
	}, nil
}

// BuildResponse converts IR into a Gemini generateContent JSON response.
func BuildResponse(ir *bridge.ResponseIR) ([]byte, error) {
	var parts []map[string]any
	var finish string
	if len(ir.Choices) > 0 {
		c := ir.Choices[0]
		if c.Message.Text != "" {
			parts = append(parts, map[string]any{"text": c.Message.Text})
		}
		for _, tc := range c.Message.ToolCalls {
			var args json.RawMessage = []byte(tc.Arguments)
			parts = append(parts, map[string]any{"functionCall": map[string]any{"name": tc.Name, "args": args}})
		}
		finish = unmapStopReason(c.FinishReason)
	}

	body := map[string]any{
		"modelVersion": ir.Model,
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": parts},
			"finishReason": finish,
			"index":        0,
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     ir.Usage.PromptTokens,
			"candidatesTokenCount": ir.Usage.CompletionTokens,
			"totalTokenCount":      ir.Usage.TotalTokens,
		},
	}
	return json.Marshal(body)
}

// mapStopReason converts a Gemini finishReason to an IR FinishReason.
func mapStopReason(reason string) bridge.FinishReason {
	switch reason {
	case "MAX_TOKENS":
		return bridge.FinishLength
	case "SAFETY", "RECITATION":
		return bridge.FinishContentFilter
	default:
		return bridge.FinishStop
	}
}

// unmapStopReason converts an IR FinishReason back to Gemini's vocabulary.
func unmapStopReason(f bridge.FinishReason) string {
	switch f {
	case bridge.FinishLength:
		return "MAX_TOKENS"
	case bridge.FinishContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

// ParseError converts a Gemini error JSON body into an ErrorIR.
func ParseError(statusCode int, raw []byte) *bridge.ErrorIR {
	r := gjson.ParseBytes(raw)
	msg := r.Get("error.message").String()
	if msg == "" {
		msg = fmt.Sprintf("gemini: HTTP %d", statusCode)
	}
	return &bridge.ErrorIR{
		Kind:       kindForStatus(statusCode),
		Message:    msg,
		VendorCode: r.Get("error.status").String(),
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
