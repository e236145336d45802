package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"sort"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

// Cache is the interface for response caching used by the server.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Purge(ctx context.Context)
}

// isCacheable returns true if the request is eligible for caching.
// Only non-streaming requests with low/zero temperature or a seed are cacheable.
func isCacheable(ir *bridge.RequestIR) bool {
	if ir.Stream {
		return false
	}
	if ir.Generation.N != nil && *ir.Generation.N > 1 {
		return false
	}
	if ir.Generation.Seed != nil {
		return true
	}
	if ir.Generation.Temperature != nil && *ir.Generation.Temperature <= 0.3 {
		return true
	}
	// Default temperature (nil) is usually 1.0, not cacheable.
	return false
}

// cacheKey produces a deterministic SHA-256 hash for a RequestIR, scoped to
// the caller's API key to prevent cross-user response leakage.
func cacheKey(keyID string, ir *bridge.RequestIR) string {
	// Build a normalized map for stable JSON output.
	m := map[string]any{
		"key_id":   keyID,
		"model":    ir.Model,
		"system":   ir.System,
		"messages": normalizeMessages(ir.Messages),
	}
	gen := ir.Generation
	if gen.Temperature != nil {
		m["temperature"] = roundFloat(*gen.Temperature)
	}
	if gen.TopP != nil {
		m["top_p"] = roundFloat(*gen.TopP)
	}
	if gen.MaxTokens != nil {
		m["max_tokens"] = *gen.MaxTokens
	}
	if len(gen.StopSequences) > 0 {
		m["stop"] = gen.StopSequences
	}
	if gen.PresencePenalty != nil {
		m["presence_penalty"] = roundFloat(*gen.PresencePenalty)
	}
	if gen.FrequencyPenalty != nil {
		m["frequency_penalty"] = roundFloat(*gen.FrequencyPenalty)
	}
	if gen.Seed != nil {
		m["seed"] = *gen.Seed
	}
	if len(ir.Tools) > 0 {
		m["tools"] = ir.Tools
	}
	if ir.ToolChoice != nil {
		m["tool_choice"] = ir.ToolChoice
	}
	if len(gen.ResponseFormat) > 0 {
		m["response_format"] = json.RawMessage(gen.ResponseFormat)
	}

	// Stable key order via sorted keys.
	data := stableJSON(m)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// stableMessage is a struct-based representation of a chat message for cache
// key computation. Struct fields marshal in declaration order, avoiding the
// non-deterministic map iteration that caused cache key instability.
type stableMessage struct {
	Role       bridge.Role        `json:"role"`
	Text       string             `json:"text,omitempty"`
	Parts      []bridge.ContentPart `json:"parts,omitempty"`
	ToolCalls  []bridge.ToolCall  `json:"toolCalls,omitempty"`
	ToolCallID string             `json:"toolCallId,omitempty"`
}

func normalizeMessages(msgs []bridge.Message) []stableMessage {
	out := make([]stableMessage, len(msgs))
	for i, m := range msgs {
		out[i] = stableMessage{
			Role:       m.Role,
			Text:       m.Text,
			Parts:      m.Parts,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}

func stableJSON(m map[string]any) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].Key = k
		ordered[i].Value = m[k]
	}

	data, _ := json.Marshal(ordered)
	return data
}

func roundFloat(f float64) float64 {
	return math.Round(f*10000) / 10000
}
