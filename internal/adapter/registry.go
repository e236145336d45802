// Package adapter defines the Adapter contract shared by every dialect
// translator (openai, responses, anthropic, gemini) and the registry the
// bridge pipeline uses to look one up by name at route time.
package adapter

import (
	"fmt"
	"slices"
	"sync"

	bridge "github.com/relayhq/bridge/internal"
)

// Info describes an adapter's defaults, returned by Adapter.Info.
type Info struct {
	BaseURL    string
	ChatPath   string // may contain "{model}"
	ModelsPath string
}

// SSEEvent is one frame a StreamBuilder emits; Name is empty for dialects
// (Chat Completions, Gemini) that don't use named SSE events.
type SSEEvent struct {
	Name string
	Data []byte
}

// StreamBuilder is a stateful, per-request object that serializes IR stream
// events into one vendor's SSE wire dialect. Process is called once per IR
// event; Finalize is called exactly once after the upstream stream closes
// and may emit closing frames (e.g. Chat Completions' "data: [DONE]").
type StreamBuilder interface {
	Process(ev bridge.StreamEvent) []SSEEvent
	Finalize() []SSEEvent
}

// StreamParser is a stateful, per-request object that turns one upstream
// vendor's SSE frames into IR stream events. Dialects whose frames are
// fully self-describing (Chat Completions, Gemini) can implement this with
// no retained state; dialects that split one logical event across frames
// (Anthropic's content_block_start/delta pair, message_start/delta/stop)
// need it to carry id/model/usage forward between calls.
type StreamParser interface {
	Parse(frame []byte) ([]bridge.StreamEvent, error)
}

// Adapter is a pair of parsers and builders for one dialect. Inbound methods
// (ParseRequest, BuildResponse, NewStreamBuilder, ParseError for client-
// facing error re-serialization) handle what the local HTTP front-end hands
// to and receives from clients; outbound methods (BuildRequest, ParseResponse,
// NewStreamParser) handle what the pipeline sends to and receives from an
// upstream endpoint. An adapter can and typically does act as both, e.g.
// when bridging openai-in to openai-out.
type Adapter interface {
	Name() string
	Version() string
	Capabilities() bridge.Capability
	Info() Info

	// Inbound: wire (client or vendor) -> IR.
	ParseRequest(raw []byte) (*bridge.RequestIR, error)
	ParseResponse(raw []byte) (*bridge.ResponseIR, error)
	NewStreamParser() StreamParser
	ParseError(statusCode int, raw []byte) *bridge.ErrorIR

	// Outbound: IR -> wire.
	BuildRequest(ir *bridge.RequestIR) ([]byte, error)
	BuildResponse(ir *bridge.ResponseIR) ([]byte, error)
	NewStreamBuilder() StreamBuilder

	// AuthHeader returns the HTTP header name/value pair (or query-string
	// form for Gemini, where header is "") this dialect uses to carry a
	// plain API key. Empty header means "append as ?key=<value>" instead.
	AuthHeader(apiKey string) (header, value string)
}

// Registry maps adapter names (openai, openai-responses, anthropic, google)
// to Adapter instances. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under the given name, overwriting any previous
// registration of the same name.
func (r *Registry) Register(name string, a Adapter) {
	r.mu.Lock()
	r.adapters[name] = a
	r.mu.Unlock()
}

// Get returns the adapter registered under name, or an error if not found.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("adapter %q not registered", name)
	}
	return a, nil
}

// List returns a sorted slice of all registered adapter names.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.adapters {
			if !yield(name) {
				return
			}
		}
	})
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// OpenAICompatibleDialects lists adapter names that reuse the "openai" wire
// format verbatim under a different vendor brand (spec's deepseek, moonshot,
// qwen, zhipu). They are registered as presets pointing at the "openai"
// Adapter rather than as separate packages, since nothing about their wire
// shape differs.
var OpenAICompatibleDialects = []string{"deepseek", "moonshot", "qwen", "zhipu"}
