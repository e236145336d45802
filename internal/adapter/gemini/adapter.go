package gemini

import (
	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
)

const version = "1"

// Adapter implements adapter.Adapter for the Google Gemini generateContent dialect.
type Adapter struct {
	info         adapter.Info
	capabilities bridge.Capability
}

// New returns a Gemini Adapter with the given registry defaults.
func New(info adapter.Info) *Adapter {
	return &Adapter{
		info: info,
		capabilities: bridge.CapStreaming | bridge.CapTools | bridge.CapVision |
			bridge.CapMultimodal | bridge.CapSystemPrompt,
	}
}

func (a *Adapter) Name() string                  { return "google" }
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
func (a *Adapter) NewStreamBuilder() adapter.StreamBuilder              { return NewBuilder() }

// AuthHeader returns ("", apiKey): through the generic HTTP front-end the
// key travels in the "?key=" query form, the convention this codebase uses
// for header-less dialects. Client.Do sets the x-goog-api-key header
// directly instead.
func (a *Adapter) AuthHeader(apiKey string) (header, value string) {
	return "", apiKey
}
