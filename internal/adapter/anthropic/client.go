package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/relayhq/bridge/internal/adapter"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	anthropicVersion = "2023-06-01"
	bedrockVersion   = "bedrock-2023-05-31"
)

var _ interface {
	ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, path string) error
} = (*Client)(nil)

// Client is the hosting-aware HTTP transport for the Anthropic dialect: URL
// construction and body shaping differ across direct, Vertex, and Bedrock
// access, but the wire translation (translate.go) is identical across all
// three. The pipeline builds a request body via BuildRequest, then uses
// Client to route and marshal it for whichever hosting variant is configured.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	hosting string // "", "vertex", "bedrock"
	region  string // cloud region (Vertex, Bedrock)
	project string // GCP project for Vertex
}

// New creates an Anthropic Client for direct API access.
// name is the instance identifier; baseURL configures the upstream.
// If baseURL is empty, it defaults to "https://api.anthropic.com/v1".
// The provided client should have auth configured via its transport chain.
func New(name, baseURL string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

// NewWithHosting creates an Anthropic Client for a specific hosting platform.
// For hosting="vertex", region and project specify the GCP location.
// For hosting="bedrock", region specifies the AWS region.
func NewWithHosting(name, baseURL string, client *http.Client, hosting, region, project string) *Client {
	c := New(name, baseURL, client)
	c.hosting = hosting
	c.region = region
	c.project = project
	return c
}

// Name returns the instance identifier.
func (c *Client) Name() string { return c.name }

// Do sends an already-built Anthropic request body (from BuildRequest) to
// the configured hosting variant's messages endpoint and returns the raw
// HTTP response for the caller (the pipeline) to read or stream.
func (c *Client) Do(ctx context.Context, model string, body []byte, stream bool) (*http.Response, error) {
	hosted, err := c.MarshalForHosting(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal for hosting: %w", err)
	}
	u := c.MessagesURL(model)
	if stream {
		u = c.StreamingURL(model)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(hosted)))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	c.SetHeaders(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, adapter.ParseAPIError(providerName, resp)
	}
	return resp, nil
}

// HealthCheck verifies connectivity to the Anthropic API by issuing a
// HEAD request to the messages endpoint. For Bedrock, issues HEAD to the
// base URL since model-specific health checks require a full invoke.
func (c *Client) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, c.HealthURL(), nil)
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", err)
	}
	c.SetHeaders(httpReq)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", err)
	}
	resp.Body.Close()
	return nil
}

// ProxyRequest forwards a raw HTTP request to the Anthropic API, implementing
// the native-passthrough route. Bedrock uses a binary event stream protocol
// incompatible with SSE native proxy.
func (c *Client) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request, path string) error {
	if c.hosting == "bedrock" {
		http.Error(w, "native proxy not supported for Bedrock hosting", http.StatusNotImplemented)
		return fmt.Errorf("anthropic: native proxy not supported for bedrock")
	}
	var setAuth func(http.Header)
	if c.hosting != "vertex" {
		setAuth = func(h http.Header) {
			h.Set("anthropic-version", anthropicVersion)
		}
	}
	return adapter.ForwardRequest(ctx, c.http, c.baseURL, setAuth, w, r, path)
}

// IsHosted reports whether the client runs under a cloud hosting platform
// (Vertex AI or Bedrock) that requires anthropic_version in the request body.
func (c *Client) IsHosted() bool {
	return c.hosting == "vertex" || c.hosting == "bedrock"
}

// SetHeaders applies Anthropic-specific headers to an outbound request.
// Auth is handled by the transport chain.
func (c *Client) SetHeaders(r *http.Request) {
	r.Header.Set("content-type", "application/json")
	// Direct mode: set anthropic-version header.
	// Vertex/Bedrock: anthropic_version goes in the request body instead.
	if !c.IsHosted() {
		r.Header.Set("anthropic-version", anthropicVersion)
	}
}

// MessagesURL returns the messages endpoint URL. For Vertex hosting, it uses
// the rawPredict endpoint. For Bedrock, it uses the model invoke endpoint.
func (c *Client) MessagesURL(model string) string {
	switch c.hosting {
	case "vertex":
		return fmt.Sprintf("%s/v1/projects/%s/locations/%s/publishers/anthropic/models/%s:rawPredict",
			c.baseURL, c.project, c.region, url.PathEscape(model))
	case "bedrock":
		return fmt.Sprintf("%s/model/%s/invoke", c.baseURL, url.PathEscape(model))
	default:
		return c.baseURL + "/messages"
	}
}

// StreamingURL returns the streaming endpoint URL. Bedrock uses a separate
// invoke-with-response-stream endpoint; all others share MessagesURL.
func (c *Client) StreamingURL(model string) string {
	if c.hosting == "bedrock" {
		return fmt.Sprintf("%s/model/%s/invoke-with-response-stream", c.baseURL, url.PathEscape(model))
	}
	return c.MessagesURL(model)
}

// HealthURL returns the URL for health checks. Bedrock has no model-agnostic
// messages endpoint, so we use the base URL.
func (c *Client) HealthURL() string {
	if c.hosting == "bedrock" {
		return c.baseURL
	}
	return c.MessagesURL("")
}

// MarshalForHosting rewrites an already-marshaled Anthropic request body for
// the configured hosting variant: Vertex/Bedrock require anthropic_version
// in the body (and omit the model field, since it's in the URL path); direct
// access sends the body unchanged.
func (c *Client) MarshalForHosting(body []byte) ([]byte, error) {
	if !c.IsHosted() {
		return body, nil
	}
	ver := anthropicVersion
	if c.hosting == "bedrock" {
		ver = bedrockVersion
	}
	out, err := sjson.SetBytes(body, "anthropic_version", ver)
	if err != nil {
		return nil, err
	}
	out, err = sjson.DeleteBytes(out, "model")
	if err != nil {
		return nil, err
	}
	return out, nil
}
