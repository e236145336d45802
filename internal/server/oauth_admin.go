package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/oauth"
)

type authorizeRequest struct {
	ProviderType string `json:"providerType"`
}

type authorizeResponse struct {
	URL string `json:"url"`
}

// handleOAuthAuthorize starts an interactive authorization-code login for
// the requested provider and returns the URL the admin UI should open.
// The callback is awaited in the background; a successful exchange is
// persisted as a new pooled OAuthAccount.
func (s *server) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	var body authorizeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	cfg, ok := s.deps.OAuthLoginConfigs[body.ProviderType]
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("unknown or unconfigured providerType"))
		return
	}
	if s.deps.OAuthCipher == nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("oauth storage is not configured"))
		return
	}

	flow := oauth.NewFlow(cfg)
	urlCh := make(chan string, 1)
	go func() {
		res, err := flow.Run(context.Background(), func(u string) error {
			urlCh <- u
			return nil
		})
		if err != nil {
			slog.Warn("oauth authorize failed", "providerType", body.ProviderType, "error", err)
			return
		}
		s.persistOAuthAccount(body.ProviderType, res.Tokens)
	}()

	select {
	case u := <-urlCh:
		writeJSON(w, http.StatusOK, authorizeResponse{URL: u})
	case <-time.After(5 * time.Second):
		writeJSON(w, http.StatusInternalServerError, errorResponse("timed out starting the authorization flow"))
	}
}

func (s *server) persistOAuthAccount(providerType string, tokens oauth.Tokens) {
	accessEnc, err := s.deps.OAuthCipher.Encrypt(tokens.AccessToken)
	if err != nil {
		return
	}
	var refreshEnc []byte
	if tokens.RefreshToken != "" {
		refreshEnc, _ = s.deps.OAuthCipher.Encrypt(tokens.RefreshToken)
	}
	acct := &bridge.OAuthAccount{
		ID:              newID(),
		ProviderType:    providerType,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		ExpiresAt:       tokens.ExpiresAt,
		TokenType:       tokens.TokenType,
		IsActive:        true,
		HealthStatus:    bridge.HealthActive,
		PoolEnabled:     true,
		PoolWeight:      1,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if providerType == oauth.ProviderCodex && tokens.IDToken != "" {
		if identity, err := oauth.ParseCodexIdentity(tokens.IDToken); err == nil {
			acct.Email = identity.Email
		}
	}
	_ = s.deps.Store.CreateOAuthAccount(context.Background(), acct)
}

func (s *server) handleOAuthRefreshToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := s.deps.Store.GetOAuthAccount(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	refresher, ok := s.deps.OAuthRefreshers[acct.ProviderType]
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse("no refresher configured for "+acct.ProviderType))
		return
	}
	if s.deps.OAuthCipher == nil || len(acct.RefreshTokenEnc) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("account has no refresh token"))
		return
	}
	refreshToken, err := s.deps.OAuthCipher.Decrypt(acct.RefreshTokenEnc)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	tokens, err := refresher.Refresh(r.Context(), refreshToken)
	if err != nil {
		writeUpstreamError(w, r.Context(), fmt.Errorf("refresh token: %w", err))
		return
	}
	acct.AccessTokenEnc, err = s.deps.OAuthCipher.Encrypt(tokens.AccessToken)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if tokens.RefreshToken != "" {
		if enc, err := s.deps.OAuthCipher.Encrypt(tokens.RefreshToken); err == nil {
			acct.RefreshTokenEnc = enc
		}
	}
	acct.ExpiresAt = tokens.ExpiresAt
	now := time.Now()
	acct.LastRefreshAt = &now
	acct.HealthStatus = bridge.HealthActive
	acct.ConsecutiveFailures = 0
	acct.UpdatedAt = now
	if err := s.deps.Store.UpdateOAuthAccount(r.Context(), acct); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *server) handleOAuthTogglePoolEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := s.deps.Store.GetOAuthAccount(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	acct.PoolEnabled = !acct.PoolEnabled
	acct.UpdatedAt = time.Now()
	if err := s.deps.Store.UpdateOAuthAccount(r.Context(), acct); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type updateQuotaRequest struct {
	PoolWeight *int            `json:"poolWeight"`
	Quota      json.RawMessage `json:"quota"`
}

// handleOAuthUpdateQuota lets the admin UI adjust a pooled account's
// selection weight and stash a manually-entered quota snapshot in its
// opaque Metadata column.
func (s *server) handleOAuthUpdateQuota(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := s.deps.Store.GetOAuthAccount(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	var body updateQuotaRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.PoolWeight != nil {
		acct.PoolWeight = *body.PoolWeight
	}
	if len(body.Quota) > 0 {
		acct.Metadata = body.Quota
	}
	acct.UpdatedAt = time.Now()
	if err := s.deps.Store.UpdateOAuthAccount(r.Context(), acct); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// handleOAuthAccountStats returns the account's stored health/usage fields
// plus, for Antigravity accounts with a live client configured, a
// freshly-fetched quota snapshot merged in.
func (s *server) handleOAuthAccountStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acct, err := s.deps.Store.GetOAuthAccount(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	stats := struct {
		*bridge.OAuthAccount
		LiveQuota []oauth.ModelQuota `json:"liveQuota,omitempty"`
	}{OAuthAccount: acct}

	if acct.ProviderType == oauth.ProviderAntigravity && s.deps.Antigravity != nil && s.deps.OAuthCipher != nil && len(acct.AccessTokenEnc) > 0 {
		if token, err := s.deps.OAuthCipher.Decrypt(acct.AccessTokenEnc); err == nil {
			if project, err := s.deps.Antigravity.LoadProject(r.Context(), token); err == nil {
				if quota, err := s.deps.Antigravity.FetchQuota(r.Context(), token, project.ProjectID); err == nil {
					stats.LiveQuota = quota
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, stats)
}
