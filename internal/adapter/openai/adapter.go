package openai

import (
	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

const version = "1"

// Adapter implements adapter.Adapter for the OpenAI Chat Completions dialect.
// The deepseek, moonshot, qwen, and zhipu presets register this same Adapter
// under their own names -- their wire format is byte-for-byte identical.
type Adapter struct {
	name    string
	info    adapter.Info
	capabilities bridge.Capability
}

// New returns an Adapter registered under name with the given defaults.
// name lets the same implementation back multiple registry entries
// (openai, deepseek, moonshot, qwen, zhipu) with different base URLs.
func New(name string, info adapter.Info) *Adapter {
	return &Adapter{
		name: name,
		info: info,
		capabilities: bridge.CapStreaming | bridge.CapTools | bridge.CapVision |
			bridge.CapMultimodal | bridge.CapSystemPrompt | bridge.CapToolChoice |
			bridge.CapJSONMode | bridge.CapLogprobs | bridge.CapSeed,
	}
}

func (a *Adapter) Name() string                      { return a.name }
func (a *Adapter) Version() string                    { return version }
func (a *Adapter) Capabilities() bridge.Capability     { return a.capabilities }
func (a *Adapter) Info() adapter.Info                  { return a.info }

func (a *Adapter) ParseRequest(raw []byte) (*bridge.RequestIR, error)   { return ParseRequest(raw) }
func (a *Adapter) ParseResponse(raw []byte) (*bridge.ResponseIR, error) { return ParseResponse(raw) }
func (a *Adapter) NewStreamParser() adapter.StreamParser                { return NewParser() }
func (a *Adapter) ParseError(statusCode int, raw []byte) *bridge.ErrorIR {
	return ParseError(statusCode, raw)
}

func (a *Adapter) BuildRequest(ir *bridge.RequestIR) ([]byte, error)   { return BuildRequest(ir) }
func (a *Adapter) BuildResponse(ir *bridge.ResponseIR) ([]byte, error) { return BuildResponse(ir) }
func (a *Adapter) NewStreamBuilder() adapter.StreamBuilder             { return NewBuilder() }

// AuthHeader returns the Bearer header pair OpenAI-compatible dialects use.
func (a *Adapter) AuthHeader(apiKey string) (header, value string) {
	return "Authorization", "Bearer " + apiKey
}
