package oauth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	codexAuthURL   = "https://auth.openai.com/oauth/authorize"
	codexTokenURL  = "https://auth.openai.com/oauth/token"
	codexAuthClaim = "https://api.openai.com/auth"
)

// CodexIdentity is the account metadata carried in a Codex id_token.
type CodexIdentity struct {
	Email string
	Plan  string
}

// NewCodexLoginConfig builds the LoginConfig for a Codex authorization-code
// login. Codex requires PKCE and an id_token on exchange.
func NewCodexLoginConfig(clientID string, port int) LoginConfig {
	return LoginConfig{
		ProviderType: ProviderCodex,
		UsePKCE:      true,
		CallbackPath: "/auth/callback",
		Port:         port,
		OAuth2: &oauth2.Config{
			ClientID:    clientID,
			Endpoint:    oauth2.Endpoint{AuthURL: codexAuthURL, TokenURL: codexTokenURL},
			Scopes:      []string{"openid", "profile", "email", "offline_access"},
			RedirectURL: fmt.Sprintf("http://localhost:%d/auth/callback", port),
		},
	}
}

// ParseCodexIdentity extracts email and plan type from the
// "https://api.openai.com/auth" claim of a Codex id_token. The token
// arrived directly from the provider's token endpoint over TLS, so this
// only needs to read its claims, not verify a signature.
func ParseCodexIdentity(idToken string) (CodexIdentity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return CodexIdentity{}, fmt.Errorf("oauth: parse codex id_token: %w", err)
	}

	raw, ok := claims[codexAuthClaim]
	if !ok {
		return CodexIdentity{}, fmt.Errorf("oauth: codex id_token missing %q claim", codexAuthClaim)
	}
	authClaim, ok := raw.(map[string]any)
	if !ok {
		return CodexIdentity{}, fmt.Errorf("oauth: codex id_token %q claim has unexpected shape", codexAuthClaim)
	}

	identity := CodexIdentity{Plan: "free"}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if plan, ok := authClaim["chatgpt_plan_type"].(string); ok && plan != "" {
		identity.Plan = plan
	}
	return identity, nil
}

// CodexRefresher refreshes Codex access tokens, requesting openid/profile/
// email scope each time so a fresh id_token keeps coming back with it.
type CodexRefresher struct {
	cfg *oauth2.Config
}

// NewCodexRefresher creates a CodexRefresher for the given OAuth client.
func NewCodexRefresher(clientID string) *CodexRefresher {
	return &CodexRefresher{cfg: &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{AuthURL: codexAuthURL, TokenURL: codexTokenURL},
		Scopes:   []string{"openid", "profile", "email"},
	}}
}

// Refresh implements Refresher.
func (r *CodexRefresher) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return Tokens{}, fmt.Errorf("oauth: codex refresh: %w", err)
	}
	out := Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	return out, nil
}
