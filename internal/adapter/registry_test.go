package adapter

import (
	"io"
	"net/http"
	"strings"
	"testing"

	bridge "github.com/relayhq/bridge/internal"
)

// fakeAdapter is a minimal Adapter for registry tests.
type fakeAdapter struct{ name string }

func (f *fakeAdapter) Name() string                  { return f.name }
func (f *fakeAdapter) Version() string                { return "test" }
func (f *fakeAdapter) Capabilities() bridge.Capability { return bridge.CapStreaming }
func (f *fakeAdapter) Info() Info                      { return Info{} }
func (f *fakeAdapter) ParseRequest(raw []byte) (*bridge.RequestIR, error)   { return nil, nil }
func (f *fakeAdapter) ParseResponse(raw []byte) (*bridge.ResponseIR, error) { return nil, nil }
func (f *fakeAdapter) NewStreamParser() StreamParser { return &fakeStreamParser{} }

type fakeStreamParser struct{}

func (f *fakeStreamParser) Parse(frame []byte) ([]bridge.StreamEvent, error) { return nil, nil }
func (f *fakeAdapter) ParseError(status int, raw []byte) *bridge.ErrorIR { return nil }
func (f *fakeAdapter) BuildRequest(ir *bridge.RequestIR) ([]byte, error) { return nil, nil }
func (f *fakeAdapter) BuildResponse(ir *bridge.ResponseIR) ([]byte, error) {
	return nil, nil
}
func (f *fakeAdapter) NewStreamBuilder() StreamBuilder { return nil }
func (f *fakeAdapter) AuthHeader(apiKey string) (string, string) {
	return "Authorization", "Bearer " + apiKey
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("openai", &fakeAdapter{name: "openai"})

	got, err := reg.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "openai" {
		t.Errorf("Name() = %q, want openai", got.Name())
	}

	_, err = reg.Get("nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent adapter")
	}
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("beta", &fakeAdapter{name: "beta"})
	reg.Register("alpha", &fakeAdapter{name: "alpha"})
	reg.Register("gamma", &fakeAdapter{name: "gamma"})

	names := reg.List()
	if len(names) != 3 {
		t.Fatalf("got %d names, want 3", len(names))
	}
	if names[0] != "alpha" || names[1] != "beta" || names[2] != "gamma" {
		t.Errorf("names = %v, want [alpha beta gamma]", names)
	}
}

func TestRegistryOverwrite(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("p1", &fakeAdapter{name: "p1"})
	reg.Register("p1", &fakeAdapter{name: "p1-v2"})

	got, err := reg.Get("p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name() != "p1-v2" {
		t.Errorf("Name() = %q, want p1-v2 (overwritten)", got.Name())
	}
	if len(reg.List()) != 1 {
		t.Errorf("list len = %d, want 1", len(reg.List()))
	}
}

func TestAPIError(t *testing.T) {
	t.Parallel()

	err := &APIError{Provider: "openai", StatusCode: 429, Body: "rate limited"}
	if !strings.Contains(err.Error(), "openai") {
		t.Errorf("Error() = %q, want to contain provider", err.Error())
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("Error() = %q, want to contain status", err.Error())
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("Error() = %q, want to contain body", err.Error())
	}
	if err.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus() = %d, want %d", err.HTTPStatus(), http.StatusTooManyRequests)
	}
}

func TestParseAPIError(t *testing.T) {
	t.Parallel()

	body := `{"error":{"message":"model not found"}}`
	resp := &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader(body)),
	}

	err := ParseAPIError("gemini", resp)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.HTTPStatus() != 404 {
		t.Errorf("HTTPStatus() = %d, want 404", apiErr.HTTPStatus())
	}
	if !strings.Contains(apiErr.Error(), "model not found") {
		t.Errorf("Error() = %q, want body content", apiErr.Error())
	}
}
