package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	antigravityAuthURL  = "https://accounts.google.com/o/oauth2/v2/auth"
	antigravityTokenURL = "https://oauth2.googleapis.com/token"
	cloudCodeBaseURL    = "https://cloudcode-pa.googleapis.com/v1internal"
)

// NewAntigravityLoginConfig builds the LoginConfig for an Antigravity
// login. Antigravity does not use PKCE and authenticates with a client
// secret instead.
func NewAntigravityLoginConfig(clientID, clientSecret string, port int) LoginConfig {
	return LoginConfig{
		ProviderType: ProviderAntigravity,
		UsePKCE:      false,
		CallbackPath: "/google/callback",
		Port:         port,
		OAuth2: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{AuthURL: antigravityAuthURL, TokenURL: antigravityTokenURL},
			Scopes:       []string{"https://www.googleapis.com/auth/cloud-platform", "openid", "email"},
			RedirectURL:  fmt.Sprintf("http://localhost:%d/google/callback", port),
		},
	}
}

// AntigravityRefresher refreshes Antigravity access tokens via the
// standard Google OAuth2 token endpoint.
type AntigravityRefresher struct {
	cfg *oauth2.Config
}

// NewAntigravityRefresher creates an AntigravityRefresher for the given
// OAuth client.
func NewAntigravityRefresher(clientID, clientSecret string) *AntigravityRefresher {
	return &AntigravityRefresher{cfg: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: antigravityAuthURL, TokenURL: antigravityTokenURL},
	}}
}

// Refresh implements Refresher.
func (r *AntigravityRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Tokens{}, fmt.Errorf("oauth: antigravity refresh: %w", err)
	}
	return Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
	}, nil
}

// ProjectInfo is the Antigravity project binding discovered after login.
type ProjectInfo struct {
	ProjectID        string
	SubscriptionTier string
}

// ModelQuota is one model's remaining-quota fraction, expressed as a
// percentage, with its reset time.
type ModelQuota struct {
	Model            string
	RemainingPercent float64
	ResetsAt         time.Time
}

// ErrQuotaForbidden is returned by FetchQuota when the backend responds
// 403; the caller should mark the account forbidden.
var ErrQuotaForbidden = errors.New("oauth: antigravity quota endpoint returned 403")

// AntigravityClient calls the Code Assist backend used to resolve an
// account's project id, subscription tier, and per-model quota.
type AntigravityClient struct {
	http *http.Client
}

// NewAntigravityClient creates an AntigravityClient using httpClient for
// all Code Assist calls.
func NewAntigravityClient(httpClient *http.Client) *AntigravityClient {
	return &AntigravityClient{http: httpClient}
}

// LoadProject calls loadCodeAssist, falling back to onboardUser when the
// account has not yet been provisioned with a Code Assist project.
func (c *AntigravityClient) LoadProject(ctx context.Context, accessToken string) (ProjectInfo, error) {
	info, err := c.loadCodeAssist(ctx, accessToken)
	if err == nil {
		return info, nil
	}
	return c.onboardUser(ctx, accessToken)
}

func (c *AntigravityClient) loadCodeAssist(ctx context.Context, accessToken string) (ProjectInfo, error) {
	var resp struct {
		CloudaicompanionProject string `json:"cloudaicompanionProject"`
		CurrentTier             struct {
			ID string `json:"id"`
		} `json:"currentTier"`
		PaidTier struct {
			ID string `json:"id"`
		} `json:"paidTier"`
	}
	if err := c.post(ctx, accessToken, "loadCodeAssist", map[string]any{}, &resp); err != nil {
		return ProjectInfo{}, err
	}
	tier := resp.PaidTier.ID
	if tier == "" {
		tier = resp.CurrentTier.ID
	}
	if tier == "" {
		tier = "FREE"
	}
	return ProjectInfo{ProjectID: resp.CloudaicompanionProject, SubscriptionTier: tier}, nil
}

func (c *AntigravityClient) onboardUser(ctx context.Context, accessToken string) (ProjectInfo, error) {
	var resp struct {
		CloudaicompanionProject string `json:"cloudaicompanionProject"`
		CurrentTier             struct {
			ID string `json:"id"`
		} `json:"currentTier"`
	}
	if err := c.post(ctx, accessToken, "onboardUser", map[string]any{}, &resp); err != nil {
		return ProjectInfo{}, fmt.Errorf("oauth: antigravity onboardUser fallback: %w", err)
	}
	tier := resp.CurrentTier.ID
	if tier == "" {
		tier = "FREE"
	}
	return ProjectInfo{ProjectID: resp.CloudaicompanionProject, SubscriptionTier: tier}, nil
}

// FetchQuota calls fetchAvailableModels and maps each model's
// quotaInfo.remainingFraction into a percentage.
func (c *AntigravityClient) FetchQuota(ctx context.Context, accessToken, projectID string) ([]ModelQuota, error) {
	var resp struct {
		Models []struct {
			Name      string `json:"name"`
			QuotaInfo struct {
				RemainingFraction float64   `json:"remainingFraction"`
				ResetTime         time.Time `json:"resetTime"`
			} `json:"quotaInfo"`
		} `json:"models"`
	}

	err := c.post(ctx, accessToken, "fetchAvailableModels", map[string]any{"cloudaicompanionProject": projectID}, &resp)
	if err != nil {
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && statusErr.status == http.StatusForbidden {
			return nil, ErrQuotaForbidden
		}
		return nil, err
	}

	quotas := make([]ModelQuota, 0, len(resp.Models))
	for _, m := range resp.Models {
		quotas = append(quotas, ModelQuota{
			Model:            m.Name,
			RemainingPercent: m.QuotaInfo.RemainingFraction * 100,
			ResetsAt:         m.QuotaInfo.ResetTime,
		})
	}
	return quotas, nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("oauth: antigravity backend returned status %d", e.status)
}

func (c *AntigravityClient) post(ctx context.Context, accessToken, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cloudCodeBaseURL+":"+method, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &httpStatusError{status: resp.StatusCode}
	}
	if len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}
