package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPAPI is the default API implementation, calling the vendor's tunnel
// provisioning backend over HTTPS.
type HTTPAPI struct {
	BaseURL string
	APIKey  string
	http    *http.Client
}

// NewHTTPAPI creates an HTTPAPI. If client is nil, http.DefaultClient is
// used.
func NewHTTPAPI(baseURL, apiKey string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAPI{BaseURL: baseURL, APIKey: apiKey, http: client}
}

// CreateTunnel implements API.
func (a *HTTPAPI) CreateTunnel(ctx context.Context, deviceID string) (CreatedTunnel, error) {
	payload, err := json.Marshal(map[string]string{"deviceId": deviceID})
	if err != nil {
		return CreatedTunnel{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/tunnels", bytes.NewReader(payload))
	if err != nil {
		return CreatedTunnel{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return CreatedTunnel{}, fmt.Errorf("tunnel: create tunnel request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CreatedTunnel{}, err
	}
	if resp.StatusCode >= 400 {
		return CreatedTunnel{}, fmt.Errorf("tunnel: create tunnel returned status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		TunnelID    string          `json:"tunnelId"`
		Subdomain   string          `json:"subdomain"`
		Domain      string          `json:"domain"`
		Credentials json.RawMessage `json:"credentials"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return CreatedTunnel{}, fmt.Errorf("tunnel: decode create tunnel response: %w", err)
	}
	return CreatedTunnel{
		TunnelID:    out.TunnelID,
		Subdomain:   out.Subdomain,
		Domain:      out.Domain,
		Credentials: out.Credentials,
	}, nil
}
