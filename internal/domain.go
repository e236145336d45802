package bridge

import "time"

// --- Provider ---

// Provider represents an upstream API endpoint the pipeline can route to.
type Provider struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	AdapterType string    `json:"adapterType"` // openai | openai-responses | anthropic | google | deepseek | moonshot | qwen | zhipu | <custom>
	APIKeyEnc   []byte    `json:"-"`           // vault ciphertext; empty when IsPool
	BaseURL     string    `json:"baseUrl"`
	ChatPath    string    `json:"chatPath"`   // may contain "{model}"
	ModelsPath  string    `json:"modelsPath"`
	Models      []string  `json:"models,omitempty"` // cached model id list
	Enabled     bool      `json:"enabled"`
	SortOrder   int       `json:"sortOrder"`
	Logo        string    `json:"logo,omitempty"`
	Color       string    `json:"color,omitempty"`

	Passthrough     bool   `json:"passthrough"`
	PassthroughSlug string `json:"passthroughSlug,omitempty"`

	IsPool           bool   `json:"isPool"`
	PoolStrategy     string `json:"poolStrategy,omitempty"`
	OAuthAccountID   string `json:"oauthAccountId,omitempty"`
	OAuthProviderType string `json:"oauthProviderType,omitempty"` // codex | antigravity

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// --- BridgeProxy ---

// OutboundKind discriminates what a BridgeProxy routes to.
type OutboundKind string

const (
	OutboundProvider OutboundKind = "provider"
	OutboundProxy    OutboundKind = "proxy"
)

// BridgeProxy is a named route converting between an inbound dialect and an
// outbound target (another provider, or another proxy for chaining).
type BridgeProxy struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	InboundAdapter string      `json:"inboundAdapter"` // adapter registry name selecting the request-shape this proxy accepts
	OutboundKind  OutboundKind `json:"outboundKind"`
	OutboundID    string       `json:"outboundId"`
	ProxyPath     string       `json:"proxyPath"` // unique, non-empty
	Enabled       bool         `json:"enabled"`
	SortOrder     int          `json:"sortOrder"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// ModelMapping rewrites a source model id to a target model id for one proxy.
// At most one row per proxy may have IsDefault set.
type ModelMapping struct {
	ID          string `json:"id"`
	ProxyID     string `json:"proxyId"`
	SourceModel string `json:"sourceModel,omitempty"` // empty when IsDefault
	TargetModel string `json:"targetModel"`
	IsDefault   bool   `json:"isDefault"`
}

// --- Setting ---

// Setting is a typed key/value row with a JSON-encoded value.
type Setting struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"` // raw JSON
	UpdatedAt time.Time `json:"updatedAt"`
}

// --- RequestLog ---

// RequestSource distinguishes traffic arriving over the loopback listener
// from traffic arriving through the tunnel supervisor.
type RequestSource string

const (
	SourceLocal  RequestSource = "local"
	SourceTunnel RequestSource = "tunnel"
)

// RequestLog is an immutable record of one completed client call.
type RequestLog struct {
	ID            string        `json:"id"`
	ProxyID       string        `json:"proxyId,omitempty"` // empty on passthrough
	ProxyPath     string        `json:"proxyPath,omitempty"`
	SourceModel   string        `json:"sourceModel"`
	TargetModel   string        `json:"targetModel"`
	HTTPStatus    int           `json:"httpStatus"`
	InputTokens   int           `json:"inputTokens"`
	OutputTokens  int           `json:"outputTokens"`
	LatencyMillis int64         `json:"latencyMillis"`
	RequestBody   []byte        `json:"requestBody,omitempty"`  // subject to size cap
	ResponseBody  []byte        `json:"responseBody,omitempty"` // subject to size cap
	Error         string        `json:"error,omitempty"`
	Source        RequestSource `json:"source"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// --- Chat-UI history ---

// Conversation is a chat-UI history thread bound to a provider or proxy.
type Conversation struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ProviderID string    `json:"providerId,omitempty"`
	ProxyID    string    `json:"proxyId,omitempty"`
	Model      string    `json:"model,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ChatMessage is one turn of a Conversation's history.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"` // user | assistant | system
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// --- OAuth account pool ---

// HealthStatus is the lifecycle state of an OAuthAccount per the pool's
// state machine.
type HealthStatus string

const (
	HealthActive      HealthStatus = "active"
	HealthRateLimited HealthStatus = "rate_limited"
	HealthExpired     HealthStatus = "expired"
	HealthForbidden   HealthStatus = "forbidden"
	HealthError       HealthStatus = "error"
)

// OAuthAccount is a credential record for a pooled third-party OAuth identity.
type OAuthAccount struct {
	ID                 string       `json:"id"`
	ProviderType       string       `json:"providerType"` // codex | antigravity
	Email              string       `json:"email"`
	AccessTokenEnc     []byte       `json:"-"`
	RefreshTokenEnc    []byte       `json:"-"`
	ExpiresAt          time.Time    `json:"expiresAt"`
	TokenType          string       `json:"tokenType"`
	IsActive           bool         `json:"isActive"`
	HealthStatus       HealthStatus `json:"healthStatus"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
	PoolEnabled        bool         `json:"poolEnabled"`
	PoolWeight         int          `json:"poolWeight"` // higher selected first on tie
	LastUsedAt         *time.Time   `json:"lastUsedAt,omitempty"`
	LastRefreshAt      *time.Time   `json:"lastRefreshAt,omitempty"`
	ErrorMessage        string      `json:"errorMessage,omitempty"`
	Metadata           []byte       `json:"metadata,omitempty"` // opaque provider-specific JSON: quota, usage stats
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// --- CLI code-switch bindings ---

// CodeMappingType discriminates how a CodeModelMapping matches a source model.
type CodeMappingType string

const (
	CodeMappingExact     CodeMappingType = "exact"
	CodeMappingFamily    CodeMappingType = "family"
	CodeMappingReasoning CodeMappingType = "reasoning"
	CodeMappingDefault   CodeMappingType = "default"
)

// CodeSwitchConfig binds a CLI (Claude Code / Codex) to a provider.
type CodeSwitchConfig struct {
	ID         string    `json:"id"`
	CLI        string    `json:"cli"` // claude-code | codex
	ProviderID string    `json:"providerId"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CodeModelMapping maps a source model to a target model for one
// CodeSwitchConfig, keyed uniquely by (CodeSwitchID, ProviderID, SourceModel, MappingType).
type CodeModelMapping struct {
	ID           string          `json:"id"`
	CodeSwitchID string          `json:"codeSwitchId"`
	ProviderID   string          `json:"providerId"`
	SourceModel  string          `json:"sourceModel"`
	TargetModel  string          `json:"targetModel"`
	MappingType  CodeMappingType `json:"mappingType"`
}

// --- Tunnel ---

// TunnelState is the lifecycle state of the tunnel supervisor.
type TunnelState string

const (
	TunnelInactive TunnelState = "inactive"
	TunnelStarting TunnelState = "starting"
	TunnelActive   TunnelState = "active"
	TunnelStopping TunnelState = "stopping"
	TunnelError    TunnelState = "error"
)

// TunnelConfig is the persistent tunnel identity for this device.
type TunnelConfig struct {
	ID              string `json:"id"`
	DeviceID        string `json:"deviceId"` // unique, generated once
	TunnelID        string `json:"tunnelId"`
	Subdomain       string `json:"subdomain"`
	Domain          string `json:"domain"`
	Hostname        string `json:"hostname"`
	CredentialsEnc  []byte `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TunnelStats is a daily aggregated counter row.
type TunnelStats struct {
	Date             string  `json:"date"` // YYYY-MM-DD
	Requests         int64   `json:"requests"`
	BytesUp          int64   `json:"bytesUp"`
	BytesDown        int64   `json:"bytesDown"`
	Errors           int64   `json:"errors"`
	AvgLatencyMillis float64 `json:"avgLatencyMillis"` // request-weighted average
	UniqueIPs        int64   `json:"uniqueIps"`
}

// TunnelAccessLog is one recent request observed through the tunnel.
type TunnelAccessLog struct {
	ID            string    `json:"id"`
	Method        string    `json:"method"`
	Path          string    `json:"path"`
	StatusCode    int       `json:"statusCode"`
	RemoteIP      string    `json:"remoteIp"`
	LatencyMillis int64     `json:"latencyMillis"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TunnelSystemLog is a recent diagnostic line emitted by the tunnel helper.
type TunnelSystemLog struct {
	ID        string    `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// --- Usage accounting (RequestLog aggregation helper) ---

// UsageRecord is one token-accounting entry attributed to an ApiKey, folded
// into RequestLog at pipeline completion time.
type UsageRecord struct {
	KeyID            string    `json:"keyId"`
	ProviderID       string    `json:"providerId"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"promptTokens"`
	CompletionTokens int       `json:"completionTokens"`
	Cost             float64   `json:"cost"`
	CreatedAt        time.Time `json:"createdAt"`
}
