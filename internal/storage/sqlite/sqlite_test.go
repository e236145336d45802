package sqlite

import (
	"context"
	"testing"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races.
	path := t.TempDir() + "/test.db"
	s, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAPIKeyRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	key := &bridge.APIKey{
		ID:        "key-1",
		KeyHash:   "abc123hash",
		KeyPrefix: "sk-abc1",
		Label:     "laptop",
		Enabled:   true,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateKey(ctx, key); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetKeyByHash(ctx, "abc123hash")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.ID != key.ID || got.KeyPrefix != key.KeyPrefix || got.Label != key.Label {
		t.Errorf("got = %+v, want %+v", got, key)
	}

	keys, err := s.ListKeys(ctx, 0, 10)
	if err != nil {
		t.Fatal("list:", err)
	}
	if len(keys) != 1 {
		t.Fatalf("list count = %d, want 1", len(keys))
	}

	key.Enabled = false
	if err := s.UpdateKey(ctx, key); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetKeyByHash(ctx, "abc123hash")
	if got.Enabled {
		t.Error("expected key disabled after update")
	}

	if err := s.TouchKeyUsed(ctx, key.ID); err != nil {
		t.Fatal("touch:", err)
	}
	got, _ = s.GetKeyByHash(ctx, "abc123hash")
	if got.LastUsedAt == nil {
		t.Error("expected last_used_at set after touch")
	}

	if err := s.DeleteKey(ctx, key.ID); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetKeyByHash(ctx, "abc123hash"); err == nil {
		t.Error("expected not found after delete")
	}
}

func TestProviderRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	p := &bridge.Provider{
		ID:              "prov-1",
		Name:            "OpenAI",
		AdapterType:     "openai",
		BaseURL:         "https://api.openai.com/v1",
		ChatPath:        "/chat/completions",
		ModelsPath:      "/models",
		Models:          []string{"gpt-5", "gpt-5-mini"},
		Enabled:         true,
		PassthroughSlug: "openai",
		Passthrough:     true,
		CreatedAt:       time.Now().UTC().Truncate(time.Second),
		UpdatedAt:       time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateProvider(ctx, p); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetProvider(ctx, "prov-1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if len(got.Models) != 2 || got.Models[0] != "gpt-5" {
		t.Errorf("models = %v", got.Models)
	}

	bySlug, err := s.GetProviderBySlug(ctx, "openai")
	if err != nil {
		t.Fatal("get by slug:", err)
	}
	if bySlug.ID != p.ID {
		t.Errorf("slug lookup id = %q, want %q", bySlug.ID, p.ID)
	}

	p.Enabled = false
	if err := s.UpdateProvider(ctx, p); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetProvider(ctx, "prov-1")
	if got.Enabled {
		t.Error("expected provider disabled after update")
	}

	list, err := s.ListProviders(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, err = %v", list, err)
	}

	if err := s.DeleteProvider(ctx, "prov-1"); err != nil {
		t.Fatal("delete:", err)
	}
	if _, err := s.GetProvider(ctx, "prov-1"); err == nil {
		t.Error("expected not found after delete")
	}
}

func TestBridgeProxyRoundTripAndModelMappings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	prov := &bridge.Provider{ID: "prov-1", Name: "OpenAI", AdapterType: "openai", BaseURL: "https://api.openai.com/v1",
		CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateProvider(ctx, prov); err != nil {
		t.Fatal(err)
	}

	proxy := &bridge.BridgeProxy{
		ID: "proxy-1", Name: "default", InboundAdapter: "openai",
		OutboundKind: bridge.OutboundProvider, OutboundID: "prov-1",
		ProxyPath: "/v1/default", Enabled: true,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.CreateProxy(ctx, proxy); err != nil {
		t.Fatal("create proxy:", err)
	}

	got, err := s.GetProxyByPath(ctx, "/v1/default")
	if err != nil {
		t.Fatal("get by path:", err)
	}
	if got.ID != proxy.ID {
		t.Errorf("id = %q, want %q", got.ID, proxy.ID)
	}

	mapping := &bridge.ModelMapping{ID: "map-1", ProxyID: "proxy-1", SourceModel: "gpt-4", TargetModel: "gpt-5"}
	if err := s.CreateModelMapping(ctx, mapping); err != nil {
		t.Fatal("create mapping:", err)
	}
	mappings, err := s.ListModelMappings(ctx, "proxy-1")
	if err != nil || len(mappings) != 1 {
		t.Fatalf("mappings = %v, err = %v", mappings, err)
	}

	if err := s.DeleteProxy(ctx, "proxy-1"); err != nil {
		t.Fatal("delete proxy:", err)
	}
	// Model mappings cascade on proxy delete.
	mappings, err = s.ListModelMappings(ctx, "proxy-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 0 {
		t.Errorf("expected mappings to cascade-delete, got %d", len(mappings))
	}
}

func TestBridgeProxyCircularDependencyRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	a := &bridge.BridgeProxy{ID: "a", Name: "a", InboundAdapter: "openai",
		OutboundKind: bridge.OutboundProvider, OutboundID: "prov-x", ProxyPath: "/a",
		CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateProxy(ctx, a); err != nil {
		t.Fatal(err)
	}

	b := &bridge.BridgeProxy{ID: "b", Name: "b", InboundAdapter: "openai",
		OutboundKind: bridge.OutboundProxy, OutboundID: "a", ProxyPath: "/b",
		CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateProxy(ctx, b); err != nil {
		t.Fatal(err)
	}

	// Mutating "a" to route back through "b" closes a cycle a -> b -> a.
	a.OutboundKind = bridge.OutboundProxy
	a.OutboundID = "b"
	if err := s.UpdateProxy(ctx, a); err == nil {
		t.Fatal("expected circular dependency error")
	} else if !isCircular(err) {
		t.Errorf("got %v, want circular dependency error", err)
	}
}

func isCircular(err error) bool {
	return err == bridge.ErrCircular
}

func TestSettingRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	st := &bridge.Setting{Key: "auth.enabled", Value: []byte(`true`), UpdatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := s.PutSetting(ctx, st); err != nil {
		t.Fatal("put:", err)
	}
	got, err := s.GetSetting(ctx, "auth.enabled")
	if err != nil {
		t.Fatal("get:", err)
	}
	if string(got.Value) != "true" {
		t.Errorf("value = %s", got.Value)
	}

	st.Value = []byte(`false`)
	if err := s.PutSetting(ctx, st); err != nil {
		t.Fatal("re-put:", err)
	}
	got, _ = s.GetSetting(ctx, "auth.enabled")
	if string(got.Value) != "false" {
		t.Errorf("value after upsert = %s, want false", got.Value)
	}

	list, err := s.ListSettings(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, err = %v", list, err)
	}
}

func TestRequestLogInsertAndList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	log := &bridge.RequestLog{
		ID: "log-1", ProxyPath: "/v1/default", SourceModel: "gpt-4", TargetModel: "gpt-5",
		HTTPStatus: 200, InputTokens: 10, OutputTokens: 20, LatencyMillis: 500,
		Source: bridge.SourceLocal, CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.InsertRequestLog(ctx, log); err != nil {
		t.Fatal("insert:", err)
	}

	logs, err := s.ListRequestLogs(ctx, "", 0, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("logs = %v, err = %v", logs, err)
	}
	if logs[0].TargetModel != "gpt-5" {
		t.Errorf("target model = %q", logs[0].TargetModel)
	}
}

func TestConversationAndMessages(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	c := &bridge.Conversation{ID: "conv-1", Title: "hello", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatal("create:", err)
	}

	msg := &bridge.ChatMessage{ID: "msg-1", ConversationID: "conv-1", Role: bridge.RoleUser, Text: "hi", CreatedAt: time.Now()}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatal("append:", err)
	}

	msgs, err := s.ListMessages(ctx, "conv-1")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("msgs = %v, err = %v", msgs, err)
	}

	if err := s.DeleteConversation(ctx, "conv-1"); err != nil {
		t.Fatal("delete:", err)
	}
	msgs, _ = s.ListMessages(ctx, "conv-1")
	if len(msgs) != 0 {
		t.Errorf("expected messages to cascade-delete, got %d", len(msgs))
	}
}

func TestOAuthAccountRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	a := &bridge.OAuthAccount{
		ID: "acct-1", ProviderType: "codex", Email: "me@example.com",
		AccessTokenEnc: []byte("enc-access"), RefreshTokenEnc: []byte("enc-refresh"),
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		TokenType: "Bearer", IsActive: true, HealthStatus: bridge.HealthActive,
		PoolEnabled: true, PoolWeight: 5,
		CreatedAt: time.Now().UTC().Truncate(time.Second), UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.CreateOAuthAccount(ctx, a); err != nil {
		t.Fatal("create:", err)
	}

	got, err := s.GetOAuthAccount(ctx, "acct-1")
	if err != nil {
		t.Fatal("get:", err)
	}
	if got.Email != a.Email || got.HealthStatus != bridge.HealthActive {
		t.Errorf("got = %+v", got)
	}

	a.HealthStatus = bridge.HealthExpired
	a.IsActive = false
	a.ConsecutiveFailures = 3
	if err := s.UpdateOAuthAccount(ctx, a); err != nil {
		t.Fatal("update:", err)
	}
	got, _ = s.GetOAuthAccount(ctx, "acct-1")
	if got.IsActive || got.HealthStatus != bridge.HealthExpired {
		t.Errorf("got = %+v after update", got)
	}

	list, err := s.ListOAuthAccounts(ctx, "codex")
	if err != nil || len(list) != 1 {
		t.Fatalf("list = %v, err = %v", list, err)
	}

	if err := s.DeleteOAuthAccount(ctx, "acct-1"); err != nil {
		t.Fatal("delete:", err)
	}
}

func TestCodeSwitchConfigAndMappings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	prov := &bridge.Provider{ID: "prov-1", Name: "OpenAI", AdapterType: "openai", BaseURL: "x", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.CreateProvider(ctx, prov); err != nil {
		t.Fatal(err)
	}

	cfg := &bridge.CodeSwitchConfig{ID: "cfg-1", CLI: "claude-code", ProviderID: "prov-1", Active: true, CreatedAt: time.Now()}
	if err := s.CreateCodeSwitchConfig(ctx, cfg); err != nil {
		t.Fatal("create:", err)
	}

	active, err := s.GetActiveCodeSwitchConfig(ctx, "claude-code")
	if err != nil {
		t.Fatal("get active:", err)
	}
	if active.ID != cfg.ID {
		t.Errorf("active id = %q, want %q", active.ID, cfg.ID)
	}

	mapping := &bridge.CodeModelMapping{
		ID: "map-1", CodeSwitchID: "cfg-1", ProviderID: "prov-1",
		SourceModel: "claude-sonnet-4-6", TargetModel: "gpt-5", MappingType: bridge.CodeMappingExact,
	}
	if err := s.UpsertCodeModelMapping(ctx, mapping); err != nil {
		t.Fatal("upsert mapping:", err)
	}
	mappings, err := s.ListCodeModelMappings(ctx, "cfg-1")
	if err != nil || len(mappings) != 1 {
		t.Fatalf("mappings = %v, err = %v", mappings, err)
	}

	if err := s.SetCodeSwitchActive(ctx, cfg.ID, false); err != nil {
		t.Fatal("deactivate:", err)
	}
	if _, err := s.GetActiveCodeSwitchConfig(ctx, "claude-code"); err == nil {
		t.Error("expected no active config after deactivation")
	}
}

func TestTunnelConfigAndStats(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	cfg := &bridge.TunnelConfig{
		ID: "tun-1", DeviceID: "dev-1", TunnelID: "tunnel-abc", Subdomain: "myapp", Domain: "tunnels.example.com",
		Hostname: "myapp.tunnels.example.com", CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.PutTunnelConfig(ctx, cfg); err != nil {
		t.Fatal("put:", err)
	}
	got, err := s.GetTunnelConfig(ctx)
	if err != nil || got.DeviceID != "dev-1" {
		t.Fatalf("got = %v, err = %v", got, err)
	}

	date := "2026-07-31"
	if err := s.FoldTunnelStats(ctx, date, 10, 1000, 2000, 1, 100.0, 3); err != nil {
		t.Fatal("fold 1:", err)
	}
	if err := s.FoldTunnelStats(ctx, date, 10, 500, 1000, 0, 200.0, 2); err != nil {
		t.Fatal("fold 2:", err)
	}

	stats, err := s.GetTunnelStats(ctx, date)
	if err != nil {
		t.Fatal("get stats:", err)
	}
	if stats.Requests != 20 {
		t.Errorf("requests = %d, want 20", stats.Requests)
	}
	wantAvg := (100.0*10 + 200.0*10) / 20.0
	if stats.AvgLatencyMillis != wantAvg {
		t.Errorf("avg latency = %v, want %v", stats.AvgLatencyMillis, wantAvg)
	}

	accessLog := &bridge.TunnelAccessLog{ID: "al-1", Method: "GET", Path: "/v1/models", StatusCode: 200, RemoteIP: "1.2.3.4", LatencyMillis: 50, CreatedAt: time.Now()}
	if err := s.AppendTunnelAccessLog(ctx, accessLog); err != nil {
		t.Fatal("append access log:", err)
	}
	logs, err := s.ListTunnelAccessLogs(ctx, 10)
	if err != nil || len(logs) != 1 {
		t.Fatalf("access logs = %v, err = %v", logs, err)
	}

	sysLog := &bridge.TunnelSystemLog{ID: "sl-1", Level: "info", Message: "Registered tunnel connection", CreatedAt: time.Now()}
	if err := s.AppendTunnelSystemLog(ctx, sysLog); err != nil {
		t.Fatal("append system log:", err)
	}
	sysLogs, err := s.ListTunnelSystemLogs(ctx, 10)
	if err != nil || len(sysLogs) != 1 {
		t.Fatalf("system logs = %v, err = %v", sysLogs, err)
	}
}
