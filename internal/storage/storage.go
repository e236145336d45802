// Package storage defines persistence interfaces for the bridge engine's
// entity set. Implementations live in sub-packages (sqlite).
package storage

import (
	"context"

	bridge "github.com/relayhq/bridge/internal"
)

// ProviderStore manages upstream provider configuration.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *bridge.Provider) error
	GetProvider(ctx context.Context, id string) (*bridge.Provider, error)
	GetProviderBySlug(ctx context.Context, slug string) (*bridge.Provider, error)
	ListProviders(ctx context.Context) ([]*bridge.Provider, error)
	UpdateProvider(ctx context.Context, p *bridge.Provider) error
	DeleteProvider(ctx context.Context, id string) error
}

// ProxyStore manages bridge proxies and their model mappings.
type ProxyStore interface {
	CreateProxy(ctx context.Context, p *bridge.BridgeProxy) error
	GetProxy(ctx context.Context, id string) (*bridge.BridgeProxy, error)
	GetProxyByPath(ctx context.Context, path string) (*bridge.BridgeProxy, error)
	ListProxies(ctx context.Context) ([]*bridge.BridgeProxy, error)
	UpdateProxy(ctx context.Context, p *bridge.BridgeProxy) error
	DeleteProxy(ctx context.Context, id string) error

	CreateModelMapping(ctx context.Context, m *bridge.ModelMapping) error
	ListModelMappings(ctx context.Context, proxyID string) ([]*bridge.ModelMapping, error)
	UpdateModelMapping(ctx context.Context, m *bridge.ModelMapping) error
	DeleteModelMapping(ctx context.Context, id string) error
}

// APIKeyStore manages local front-end bearer credentials.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *bridge.APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*bridge.APIKey, error)
	ListKeys(ctx context.Context, offset, limit int) ([]*bridge.APIKey, error)
	UpdateKey(ctx context.Context, key *bridge.APIKey) error
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// SettingStore manages typed key/value configuration.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (*bridge.Setting, error)
	PutSetting(ctx context.Context, s *bridge.Setting) error
	ListSettings(ctx context.Context) ([]*bridge.Setting, error)
}

// RequestLogStore manages immutable request log rows.
type RequestLogStore interface {
	InsertRequestLog(ctx context.Context, l *bridge.RequestLog) error
	ListRequestLogs(ctx context.Context, proxyID string, offset, limit int) ([]*bridge.RequestLog, error)
}

// ConversationStore manages chat-UI history.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *bridge.Conversation) error
	GetConversation(ctx context.Context, id string) (*bridge.Conversation, error)
	ListConversations(ctx context.Context, offset, limit int) ([]*bridge.Conversation, error)
	UpdateConversation(ctx context.Context, c *bridge.Conversation) error
	DeleteConversation(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, m *bridge.ChatMessage) error
	ListMessages(ctx context.Context, conversationID string) ([]*bridge.ChatMessage, error)
	DeleteMessage(ctx context.Context, id string) error
	DeleteMessagePair(ctx context.Context, id string) error
}

// OAuthAccountStore manages pooled OAuth account credentials.
type OAuthAccountStore interface {
	CreateOAuthAccount(ctx context.Context, a *bridge.OAuthAccount) error
	GetOAuthAccount(ctx context.Context, id string) (*bridge.OAuthAccount, error)
	ListOAuthAccounts(ctx context.Context, providerType string) ([]*bridge.OAuthAccount, error)
	UpdateOAuthAccount(ctx context.Context, a *bridge.OAuthAccount) error
	DeleteOAuthAccount(ctx context.Context, id string) error
}

// CodeSwitchStore manages CLI (Claude Code / Codex) provider bindings.
type CodeSwitchStore interface {
	CreateCodeSwitchConfig(ctx context.Context, c *bridge.CodeSwitchConfig) error
	GetActiveCodeSwitchConfig(ctx context.Context, cli string) (*bridge.CodeSwitchConfig, error)
	ListCodeSwitchConfigs(ctx context.Context, cli string) ([]*bridge.CodeSwitchConfig, error)
	SetCodeSwitchActive(ctx context.Context, id string, active bool) error

	UpsertCodeModelMapping(ctx context.Context, m *bridge.CodeModelMapping) error
	ListCodeModelMappings(ctx context.Context, codeSwitchID string) ([]*bridge.CodeModelMapping, error)
}

// TunnelStore manages the tunnel supervisor's persistent identity, daily
// stats, and recent logs.
type TunnelStore interface {
	GetTunnelConfig(ctx context.Context) (*bridge.TunnelConfig, error)
	PutTunnelConfig(ctx context.Context, c *bridge.TunnelConfig) error

	FoldTunnelStats(ctx context.Context, date string, reqs, bytesUp, bytesDown, errs int64, latencyMillis float64, uniqueIPs int64) error
	GetTunnelStats(ctx context.Context, date string) (*bridge.TunnelStats, error)

	AppendTunnelAccessLog(ctx context.Context, l *bridge.TunnelAccessLog) error
	ListTunnelAccessLogs(ctx context.Context, limit int) ([]*bridge.TunnelAccessLog, error)

	AppendTunnelSystemLog(ctx context.Context, l *bridge.TunnelSystemLog) error
	ListTunnelSystemLogs(ctx context.Context, limit int) ([]*bridge.TunnelSystemLog, error)
}

// Store combines every repository interface the bridge engine depends on.
type Store interface {
	ProviderStore
	ProxyStore
	APIKeyStore
	SettingStore
	RequestLogStore
	ConversationStore
	OAuthAccountStore
	CodeSwitchStore
	TunnelStore
	Close() error
}
