// Package oauth implements the pooled third-party OAuth account subsystem:
// authorization-code login with PKCE, a per-account refresh scheduler, and
// pooled account selection for the bridge pipeline.
package oauth

import (
	"context"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

const (
	ProviderCodex       = "codex"
	ProviderAntigravity = "antigravity"
)

// Selection is one pooled account's live bearer token, resolved for a
// single outbound call. It mirrors pipeline.AccountSelection's shape
// deliberately: the HTTP front end adapts between the two so this package
// never imports internal/pipeline.
type Selection struct {
	AccountID string
	Token     string
}

// Decrypter turns vault ciphertext back into a usable token.
type Decrypter interface {
	Decrypt(ciphertext []byte) (string, error)
}

// Encrypter is the write-side counterpart of Decrypter.
type Encrypter interface {
	Encrypt(plaintext string) ([]byte, error)
}

// Cipher is the full read/write token-encryption contract the pool and the
// refresh scheduler need. Implemented by internal/vault; kept as an
// interface here so this package never imports it.
type Cipher interface {
	Decrypter
	Encrypter
}

// Store is the persistence contract the pool and scheduler need from
// internal/storage. It matches sqlite.Store's own method names directly:
// health and token changes are read-modify-write against the full row
// rather than narrow per-field setters.
type Store interface {
	ListOAuthAccounts(ctx context.Context, providerType string) ([]*bridge.OAuthAccount, error)
	GetOAuthAccount(ctx context.Context, id string) (*bridge.OAuthAccount, error)
	CreateOAuthAccount(ctx context.Context, a *bridge.OAuthAccount) error
	UpdateOAuthAccount(ctx context.Context, a *bridge.OAuthAccount) error
}

// Refresher exchanges a refresh token for a new access token. Each
// provider specialization (codex.go, antigravity.go) implements this.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}

// Tokens is the result of an authorization-code exchange or a refresh.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	TokenType    string
	IDToken      string // Codex only; empty otherwise
}
