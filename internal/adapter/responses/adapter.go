package responses

import (
	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

const version = "1"

// Adapter implements adapter.Adapter for the OpenAI Responses API dialect.
type Adapter struct {
	info         adapter.Info
	capabilities bridge.Capability
}

// New returns a Responses API Adapter with the given defaults.
func New(info adapter.Info) *Adapter {
	return &Adapter{
		info: info,
		capabilities: bridge.CapStreaming | bridge.CapTools | bridge.CapVision |
			bridge.CapMultimodal | bridge.CapSystemPrompt | bridge.CapToolChoice |
			bridge.CapReasoning,
	}
}

func (a *Adapter) Name() string                  { return "openai-responses" }
func (a *Adapter) Version() string                { return version }
func (a *Adapter) Capabilities() bridge.Capability { return a.capabilities }
func (a *Adapter) Info() adapter.Info              { return a.info }

func (a *Adapter) ParseRequest(raw []byte) (*bridge.RequestIR, error)   { return ParseRequest(raw) }
func (a *Adapter) ParseResponse(raw []byte) (*bridge.ResponseIR, error) { return ParseResponse(raw) }
func (a *Adapter) NewStreamParser() adapter.StreamParser                { return NewParser() }
func (a *Adapter) ParseError(statusCode int, raw []byte) *bridge.ErrorIR {
	return ParseError(statusCode, raw)
}

func (a *Adapter) BuildRequest(ir *bridge.RequestIR) ([]byte, error)   { return BuildRequest(ir) }
func (a *Adapter) BuildResponse(ir *bridge.ResponseIR) ([]byte, error) { return BuildResponse(ir) }
func (a *Adapter) NewStreamBuilder() adapter.StreamBuilder             { return NewBuilder() }

// AuthHeader returns the Bearer header pair the Responses API uses.
func (a *Adapter) AuthHeader(apiKey string) (header, value string) {
	return "Authorization", "Bearer " + apiKey
}
