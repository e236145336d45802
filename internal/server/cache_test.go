package server

import (
	"testing"

	bridge "github.com/relayhq/bridge/internal"
)

func TestCacheKey_Determinism(t *testing.T) {
	t.Parallel()
	temp := 0.1
	ir := &bridge.RequestIR{
		Model:      "gpt-4o",
		Messages:   []bridge.Message{{Role: bridge.RoleUser, Text: "hello"}},
		Generation: bridge.GenerationConfig{Temperature: &temp},
	}

	k1 := cacheKey("key1", ir)
	k2 := cacheKey("key1", ir)
	if k1 != k2 {
		t.Error("same request should produce same cache key")
	}
}

func TestCacheKey_DifferentInputs(t *testing.T) {
	t.Parallel()
	temp := 0.1
	r1 := &bridge.RequestIR{
		Model:      "gpt-4o",
		Messages:   []bridge.Message{{Role: bridge.RoleUser, Text: "hello"}},
		Generation: bridge.GenerationConfig{Temperature: &temp},
	}
	r2 := &bridge.RequestIR{
		Model:      "gpt-4o",
		Messages:   []bridge.Message{{Role: bridge.RoleUser, Text: "world"}},
		Generation: bridge.GenerationConfig{Temperature: &temp},
	}

	if cacheKey("key1", r1) == cacheKey("key1", r2) {
		t.Error("different messages should produce different keys")
	}
}

func TestCacheKey_WithAllFields(t *testing.T) {
	t.Parallel()
	temp := 0.1
	topP := 0.9
	maxTok := 100
	presP := 0.5
	freqP := 0.3
	seed := int64(42)
	ir := &bridge.RequestIR{
		Model: "gpt-4o",
		Messages: []bridge.Message{
			{Role: bridge.RoleUser, Text: "hello", ToolCallID: "tc1"},
		},
		Tools:      []bridge.Tool{{Name: "lookup"}},
		ToolChoice: "auto",
		Generation: bridge.GenerationConfig{
			Temperature:      &temp,
			TopP:             &topP,
			MaxTokens:        &maxTok,
			PresencePenalty:  &presP,
			FrequencyPenalty: &freqP,
			Seed:             &seed,
			StopSequences:    []string{"end"},
			ResponseFormat:   []byte(`{"type":"json"}`),
		},
	}

	k := cacheKey("key1", ir)
	if k == "" {
		t.Error("cache key should not be empty")
	}
	if len(k) != 64 { // SHA-256 hex
		t.Errorf("cache key length = %d, want 64", len(k))
	}
}

func TestCacheKey_ModelDifference(t *testing.T) {
	t.Parallel()
	temp := 0.0
	r1 := &bridge.RequestIR{Model: "gpt-4o", Generation: bridge.GenerationConfig{Temperature: &temp}}
	r2 := &bridge.RequestIR{Model: "gpt-4o-mini", Generation: bridge.GenerationConfig{Temperature: &temp}}
	if cacheKey("key1", r1) == cacheKey("key1", r2) {
		t.Error("different models should produce different keys")
	}
}

func TestCacheKey_DifferentKeys(t *testing.T) {
	t.Parallel()
	temp := 0.0
	ir := &bridge.RequestIR{Model: "gpt-4o", Generation: bridge.GenerationConfig{Temperature: &temp}}
	if cacheKey("key-a", ir) == cacheKey("key-b", ir) {
		t.Error("different API keys should produce different cache keys")
	}
}

func TestIsCacheable(t *testing.T) {
	t.Parallel()
	lowTemp := 0.1
	highTemp := 0.8
	seed := int64(42)

	tests := []struct {
		name string
		ir   *bridge.RequestIR
		want bool
	}{
		{
			name: "low temperature",
			ir:   &bridge.RequestIR{Generation: bridge.GenerationConfig{Temperature: &lowTemp}},
			want: true,
		},
		{
			name: "high temperature",
			ir:   &bridge.RequestIR{Generation: bridge.GenerationConfig{Temperature: &highTemp}},
			want: false,
		},
		{
			name: "with seed",
			ir:   &bridge.RequestIR{Generation: bridge.GenerationConfig{Seed: &seed}},
			want: true,
		},
		{
			name: "streaming",
			ir:   &bridge.RequestIR{Stream: true, Generation: bridge.GenerationConfig{Temperature: &lowTemp}},
			want: false,
		},
		{
			name: "n > 1",
			ir: func() *bridge.RequestIR {
				n := 2
				return &bridge.RequestIR{Generation: bridge.GenerationConfig{N: &n, Temperature: &lowTemp}}
			}(),
			want: false,
		},
		{
			name: "default temperature",
			ir:   &bridge.RequestIR{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isCacheable(tt.ir); got != tt.want {
				t.Errorf("isCacheable() = %v, want %v", got, tt.want)
			}
		})
	}
}
