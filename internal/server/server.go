// Package server implements the HTTP transport layer for the bridge daemon.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/importexport"
	"github.com/relayhq/bridge/internal/oauth"
	"github.com/relayhq/bridge/internal/pipeline"
	"github.com/relayhq/bridge/internal/presets"
	"github.com/relayhq/bridge/internal/ratelimit"
	"github.com/relayhq/bridge/internal/router"
	"github.com/relayhq/bridge/internal/storage"
	"github.com/relayhq/bridge/internal/telemetry"
	"github.com/relayhq/bridge/internal/tunnel"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// KeyCacheInvalidator drops a cached API key by ID. Satisfied by
// *auth.APIKeyAuth; admin key mutations call it so a disabled or deleted
// key stops working immediately instead of waiting out the cache TTL.
type KeyCacheInvalidator interface {
	InvalidateByKeyID(keyID string)
}

// tunnelHeader marks a request as having arrived through the tunnel
// supervisor's local forwarding port rather than the loopback listener a
// local client talks to directly.
const tunnelHeader = "X-Bridge-Via-Tunnel"

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           bridge.Authenticator
	KeyCache       KeyCacheInvalidator // nil = no cache to invalidate (e.g. tests)
	Router         *router.Router
	Pipeline       *pipeline.Pipeline
	Store          storage.Store       // nil = no admin CRUD (for tests)
	Metrics        *telemetry.Metrics  // nil = no Prometheus metrics
	MetricsHandler http.Handler        // nil = no /metrics endpoint
	Tracer         trace.Tracer        // nil = no distributed tracing
	ReadyCheck     ReadyChecker        // nil = always ready (for tests)
	RateLimiter    *ratelimit.Registry // nil = no rate limiting
	Cache          Cache               // nil = no response caching
	DefaultRPM     int64               // RPM limit applied to each key's own limiter
	DefaultTPM     int64               // TPM limit applied to each key's own limiter

	Presets  *presets.Loader // nil = presets endpoints disabled

	OAuthPool         *oauth.Pool             // nil = pooled OAuth disabled
	OAuthLoginConfigs map[string]oauth.LoginConfig
	OAuthRefreshers   oauth.Refreshers
	OAuthCipher       oauth.Cipher
	Antigravity       *oauth.AntigravityClient // nil = quota lookups disabled

	Tunnel        *tunnel.Supervisor
	TunnelLocator tunnel.HelperLocator
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps, cancels: newStreamCancels()}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Universal chat surfaces -- inbound dialect fixed by the URL the
	// client posts to, outbound target resolved by model lookup.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/chat/completions", s.handleUniversal("openai"))
		r.Post("/v1/responses", s.handleUniversal("openai-responses"))
		r.Post("/v1/messages", s.handleUniversal("anthropic"))
		r.Get("/v1/models", s.handleListModels)
	})

	// Per-proxy paths and per-provider passthrough slugs are both rows in
	// storage, not statically known routes -- a single wildcard handler
	// resolves each request against the current configuration.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.HandleFunc("/*", s.handleDynamic)
	})

	if deps.Store != nil {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/providers", s.handleListProviders)
			r.Post("/providers", s.handleCreateProvider)
			r.Get("/providers/{id}", s.handleGetProvider)
			r.Put("/providers/{id}", s.handleUpdateProvider)
			r.Delete("/providers/{id}", s.handleDeleteProvider)
			r.Post("/cache/purge", s.handleCachePurge)

			r.Get("/proxies", s.handleListProxies)
			r.Post("/proxies", s.handleCreateProxy)
			r.Get("/proxies/{id}", s.handleGetProxy)
			r.Put("/proxies/{id}", s.handleUpdateProxy)
			r.Delete("/proxies/{id}", s.handleDeleteProxy)
			r.Post("/proxies/{id}/mappings", s.handleCreateModelMapping)
			r.Get("/proxies/{id}/mappings", s.handleListModelMappings)
			r.Put("/mappings/{id}", s.handleUpdateModelMapping)
			r.Delete("/mappings/{id}", s.handleDeleteModelMapping)

			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Put("/keys/{id}", s.handleUpdateKey)
			r.Delete("/keys/{id}", s.handleDeleteKey)

			r.Get("/oauth-accounts", s.handleListOAuthAccounts)
			r.Delete("/oauth-accounts/{id}", s.handleDeleteOAuthAccount)
			r.Post("/oauth-accounts/authorize", s.handleOAuthAuthorize)
			r.Post("/oauth-accounts/{id}/refresh-token", s.handleOAuthRefreshToken)
			r.Post("/oauth-accounts/{id}/toggle-pool-enabled", s.handleOAuthTogglePoolEnabled)
			r.Put("/oauth-accounts/{id}/quota", s.handleOAuthUpdateQuota)
			r.Get("/oauth-accounts/{id}/stats", s.handleOAuthAccountStats)

			r.Get("/settings/{key}", s.handleGetSetting)
			r.Put("/settings/{key}", s.handlePutSetting)

			r.Get("/requests", s.handleListRequestLogs)

			r.Get("/conversations", s.handleListConversations)
			r.Post("/conversations", s.handleCreateConversation)
			r.Get("/conversations/{id}", s.handleGetConversation)
			r.Put("/conversations/{id}", s.handleUpdateConversation)
			r.Delete("/conversations/{id}", s.handleDeleteConversation)
			r.Get("/conversations/{id}/messages", s.handleGetMessages)
			r.Post("/conversations/{id}/messages", s.handleSendMessage)
			r.Post("/conversations/{id}/stop", s.handleStopStreaming)
			r.Post("/conversations/{id}/messages/{messageId}/regenerate", s.handleRegenerateMessage)
			r.Delete("/messages/{id}", s.handleDeleteMessage)
			r.Delete("/messages/{id}/pair", s.handleDeleteMessagePair)

			r.Get("/presets/providers", s.handleGetPresetProviders)
			r.Get("/presets/adapters", s.handleGetPresetAdapters)
			r.Post("/presets/refresh", s.handleRefreshPresets)

			r.Get("/config/export", s.handleConfigExport)
			r.Post("/config/import", s.handleConfigImport)

			r.Get("/code-switch", s.handleListCodeSwitchConfigs)
			r.Post("/code-switch", s.handleCreateCodeSwitchConfig)
			r.Post("/code-switch/{id}/activate", s.handleActivateCodeSwitchConfig)
			r.Get("/code-switch/{id}/mappings", s.handleListCodeModelMappings)
			r.Put("/code-switch/{id}/mappings", s.handlePutCodeModelMapping)

			r.Get("/tunnel", s.handleGetTunnelConfig)
			r.Get("/tunnel/stats", s.handleGetTunnelStats)
			r.Get("/tunnel/access-logs", s.handleListTunnelAccessLogs)
			r.Get("/tunnel/system-logs", s.handleListTunnelSystemLogs)
			r.Post("/tunnel/start", s.handleTunnelStart)
			r.Post("/tunnel/stop", s.handleTunnelStop)
			r.Get("/tunnel/check-helper", s.handleTunnelCheckHelper)
			r.Post("/tunnel/download-helper", s.handleTunnelDownloadHelper)
		})
	}

	return r
}

type server struct {
	deps    Deps
	cancels *streamCancels
}

// requestSource classifies an inbound request as local or tunnel-originated
// based on the header the tunnel supervisor's forwarder attaches.
func requestSource(r *http.Request) bridge.RequestSource {
	if r.Header.Get(tunnelHeader) != "" {
		return bridge.SourceTunnel
	}
	return bridge.SourceLocal
}
