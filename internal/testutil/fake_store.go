package testutil

import (
	"context"
	"sync"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// Most collections are maps keyed by the row's ID, so list operations over
// them return rows in no particular order; callers that care about ordering
// (e.g. Provider.SortOrder) sort the result themselves. Request logs and
// tunnel logs are slices and list in insertion order.
type FakeStore struct {
	mu sync.RWMutex

	providers map[string]*bridge.Provider
	proxies   map[string]*bridge.BridgeProxy
	mappings  map[string]*bridge.ModelMapping
	keys      map[string]*bridge.APIKey
	settings  map[string]*bridge.Setting
	logs      []*bridge.RequestLog
	convos    map[string]*bridge.Conversation
	messages  map[string][]*bridge.ChatMessage
	accounts  map[string]*bridge.OAuthAccount
	switches  map[string]*bridge.CodeSwitchConfig
	codeMaps  map[string]*bridge.CodeModelMapping
	tunnel    *bridge.TunnelConfig
	tunStats  map[string]*bridge.TunnelStats
	accessLog []*bridge.TunnelAccessLog
	sysLog    []*bridge.TunnelSystemLog
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		providers: make(map[string]*bridge.Provider),
		proxies:   make(map[string]*bridge.BridgeProxy),
		mappings:  make(map[string]*bridge.ModelMapping),
		keys:      make(map[string]*bridge.APIKey),
		settings:  make(map[string]*bridge.Setting),
		convos:    make(map[string]*bridge.Conversation),
		messages:  make(map[string][]*bridge.ChatMessage),
		accounts:  make(map[string]*bridge.OAuthAccount),
		switches:  make(map[string]*bridge.CodeSwitchConfig),
		codeMaps:  make(map[string]*bridge.CodeModelMapping),
		tunStats:  make(map[string]*bridge.TunnelStats),
	}
}

// AddProvider inserts a provider directly, bypassing CreateProvider.
func (s *FakeStore) AddProvider(p *bridge.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
}

// AddProxy inserts a proxy directly, bypassing CreateProxy.
func (s *FakeStore) AddProxy(p *bridge.BridgeProxy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxies[p.ID] = p
}

// AddKey inserts an API key directly, bypassing CreateKey.
func (s *FakeStore) AddKey(k *bridge.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
}

// --- ProviderStore ---

func (s *FakeStore) CreateProvider(_ context.Context, p *bridge.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[p.ID] = p
	return nil
}

func (s *FakeStore) GetProvider(_ context.Context, id string) (*bridge.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return p, nil
}

func (s *FakeStore) GetProviderBySlug(_ context.Context, slug string) (*bridge.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.providers {
		if p.PassthroughSlug == slug {
			return p, nil
		}
	}
	return nil, bridge.ErrNotFound
}

func (s *FakeStore) ListProviders(_ context.Context) ([]*bridge.Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bridge.Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out, nil
}

func (s *FakeStore) UpdateProvider(_ context.Context, p *bridge.Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[p.ID]; !ok {
		return bridge.ErrNotFound
	}
	s.providers[p.ID] = p
	return nil
}

func (s *FakeStore) DeleteProvider(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.providers, id)
	return nil
}

// --- ProxyStore ---

func (s *FakeStore) CreateProxy(_ context.Context, p *bridge.BridgeProxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proxies[p.ID] = p
	return nil
}

func (s *FakeStore) GetProxy(_ context.Context, id string) (*bridge.BridgeProxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proxies[id]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return p, nil
}

func (s *FakeStore) GetProxyByPath(_ context.Context, path string) (*bridge.BridgeProxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.proxies {
		if p.ProxyPath == path {
			return p, nil
		}
	}
	return nil, bridge.ErrNotFound
}

func (s *FakeStore) ListProxies(_ context.Context) ([]*bridge.BridgeProxy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bridge.BridgeProxy, 0, len(s.proxies))
	for _, p := range s.proxies {
		out = append(out, p)
	}
	return out, nil
}

func (s *FakeStore) UpdateProxy(_ context.Context, p *bridge.BridgeProxy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proxies[p.ID]; !ok {
		return bridge.ErrNotFound
	}
	s.proxies[p.ID] = p
	return nil
}

func (s *FakeStore) DeleteProxy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proxies, id)
	return nil
}

func (s *FakeStore) CreateModelMapping(_ context.Context, m *bridge.ModelMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[m.ID] = m
	return nil
}

func (s *FakeStore) ListModelMappings(_ context.Context, proxyID string) ([]*bridge.ModelMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*bridge.ModelMapping
	for _, m := range s.mappings {
		if m.ProxyID == proxyID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateModelMapping(_ context.Context, m *bridge.ModelMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mappings[m.ID]; !ok {
		return bridge.ErrNotFound
	}
	s.mappings[m.ID] = m
	return nil
}

func (s *FakeStore) DeleteModelMapping(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, id)
	return nil
}

// --- APIKeyStore ---

func (s *FakeStore) CreateKey(_ context.Context, k *bridge.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
	return nil
}

func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*bridge.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return nil, bridge.ErrNotFound
}

func (s *FakeStore) ListKeys(_ context.Context, offset, limit int) ([]*bridge.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bridge.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, k)
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *FakeStore) UpdateKey(_ context.Context, k *bridge.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.keys[k.ID]
	if !ok {
		return bridge.ErrNotFound
	}
	if k.Label != "" {
		existing.Label = k.Label
	}
	existing.Enabled = k.Enabled
	return nil
}

func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}

func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now()
		k.LastUsedAt = &now
	}
	return nil
}

// --- SettingStore ---

func (s *FakeStore) GetSetting(_ context.Context, key string) (*bridge.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return v, nil
}

func (s *FakeStore) PutSetting(_ context.Context, v *bridge.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[v.Key] = v
	return nil
}

func (s *FakeStore) ListSettings(_ context.Context) ([]*bridge.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bridge.Setting, 0, len(s.settings))
	for _, v := range s.settings {
		out = append(out, v)
	}
	return out, nil
}

// --- RequestLogStore ---

func (s *FakeStore) InsertRequestLog(_ context.Context, l *bridge.RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

func (s *FakeStore) ListRequestLogs(_ context.Context, proxyID string, offset, limit int) ([]*bridge.RequestLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*bridge.RequestLog
	for _, l := range s.logs {
		if proxyID == "" || l.ProxyID == proxyID {
			matched = append(matched, l)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// --- ConversationStore ---

func (s *FakeStore) CreateConversation(_ context.Context, c *bridge.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convos[c.ID] = c
	return nil
}

func (s *FakeStore) GetConversation(_ context.Context, id string) (*bridge.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convos[id]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return c, nil
}

func (s *FakeStore) ListConversations(_ context.Context, offset, limit int) ([]*bridge.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*bridge.Conversation, 0, len(s.convos))
	for _, c := range s.convos {
		out = append(out, c)
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (s *FakeStore) UpdateConversation(_ context.Context, c *bridge.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convos[c.ID]; !ok {
		return bridge.ErrNotFound
	}
	s.convos[c.ID] = c
	return nil
}

func (s *FakeStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convos, id)
	delete(s.messages, id)
	return nil
}

func (s *FakeStore) AppendMessage(_ context.Context, m *bridge.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	return nil
}

func (s *FakeStore) ListMessages(_ context.Context, conversationID string) ([]*bridge.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.messages[conversationID], nil
}

func (s *FakeStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for convID, msgs := range s.messages {
		for i, m := range msgs {
			if m.ID == id {
				s.messages[convID] = append(msgs[:i], msgs[i+1:]...)
				return nil
			}
		}
	}
	return bridge.ErrNotFound
}

// DeleteMessagePair removes the message with the given ID along with its
// nearest neighbor by created_at in the same conversation, mirroring the
// sqlite store's pairing rule for a user/assistant turn.
func (s *FakeStore) DeleteMessagePair(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for convID, msgs := range s.messages {
		for i, m := range msgs {
			if m.ID != id {
				continue
			}
			partner := -1
			for j, other := range msgs {
				if j == i {
					continue
				}
				if partner == -1 || absDuration(other.CreatedAt.Sub(m.CreatedAt)) < absDuration(msgs[partner].CreatedAt.Sub(m.CreatedAt)) {
					partner = j
				}
			}
			var kept []*bridge.ChatMessage
			for j, mm := range msgs {
				if j == i || j == partner {
					continue
				}
				kept = append(kept, mm)
			}
			s.messages[convID] = kept
			return nil
		}
	}
	return bridge.ErrNotFound
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// --- OAuthAccountStore ---

func (s *FakeStore) CreateOAuthAccount(_ context.Context, a *bridge.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *FakeStore) GetOAuthAccount(_ context.Context, id string) (*bridge.OAuthAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return a, nil
}

func (s *FakeStore) ListOAuthAccounts(_ context.Context, providerType string) ([]*bridge.OAuthAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*bridge.OAuthAccount
	for _, a := range s.accounts {
		if providerType == "" || a.ProviderType == providerType {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *FakeStore) UpdateOAuthAccount(_ context.Context, a *bridge.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; !ok {
		return bridge.ErrNotFound
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *FakeStore) DeleteOAuthAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return nil
}

// --- CodeSwitchStore ---

func (s *FakeStore) CreateCodeSwitchConfig(_ context.Context, c *bridge.CodeSwitchConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switches[c.ID] = c
	return nil
}

func (s *FakeStore) GetActiveCodeSwitchConfig(_ context.Context, cli string) (*bridge.CodeSwitchConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.switches {
		if c.CLI == cli && c.Active {
			return c, nil
		}
	}
	return nil, bridge.ErrNotFound
}

func (s *FakeStore) ListCodeSwitchConfigs(_ context.Context, cli string) ([]*bridge.CodeSwitchConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*bridge.CodeSwitchConfig
	for _, c := range s.switches {
		if cli == "" || c.CLI == cli {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *FakeStore) SetCodeSwitchActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.switches[id]
	if !ok {
		return bridge.ErrNotFound
	}
	for _, other := range s.switches {
		if other.CLI == c.CLI {
			other.Active = false
		}
	}
	c.Active = active
	return nil
}

func (s *FakeStore) UpsertCodeModelMapping(_ context.Context, m *bridge.CodeModelMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codeMaps[m.ID] = m
	return nil
}

func (s *FakeStore) ListCodeModelMappings(_ context.Context, codeSwitchID string) ([]*bridge.CodeModelMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*bridge.CodeModelMapping
	for _, m := range s.codeMaps {
		if m.CodeSwitchID == codeSwitchID {
			out = append(out, m)
		}
	}
	return out, nil
}

// --- TunnelStore ---

func (s *FakeStore) GetTunnelConfig(_ context.Context) (*bridge.TunnelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tunnel == nil {
		return nil, bridge.ErrNotFound
	}
	return s.tunnel, nil
}

func (s *FakeStore) PutTunnelConfig(_ context.Context, c *bridge.TunnelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tunnel = c
	return nil
}

func (s *FakeStore) FoldTunnelStats(_ context.Context, date string, reqs, bytesUp, bytesDown, errs int64, latencyMillis float64, uniqueIPs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tunStats[date]
	if !ok {
		st = &bridge.TunnelStats{Date: date}
		s.tunStats[date] = st
	}
	st.Requests += reqs
	st.BytesUp += bytesUp
	st.BytesDown += bytesDown
	st.Errors += errs
	st.AvgLatencyMillis = latencyMillis
	st.UniqueIPs = uniqueIPs
	return nil
}

func (s *FakeStore) GetTunnelStats(_ context.Context, date string) (*bridge.TunnelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tunStats[date]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return st, nil
}

func (s *FakeStore) AppendTunnelAccessLog(_ context.Context, l *bridge.TunnelAccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessLog = append(s.accessLog, l)
	return nil
}

func (s *FakeStore) ListTunnelAccessLogs(_ context.Context, limit int) ([]*bridge.TunnelAccessLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit > len(s.accessLog) {
		limit = len(s.accessLog)
	}
	return s.accessLog[:limit], nil
}

func (s *FakeStore) AppendTunnelSystemLog(_ context.Context, l *bridge.TunnelSystemLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysLog = append(s.sysLog, l)
	return nil
}

func (s *FakeStore) ListTunnelSystemLogs(_ context.Context, limit int) ([]*bridge.TunnelSystemLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit > len(s.sysLog) {
		limit = len(s.sysLog)
	}
	return s.sysLog[:limit], nil
}

func (s *FakeStore) Close() error { return nil }
