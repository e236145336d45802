package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	bridge "github.com/relayhq/bridge/internal"
)

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func pageParams(r *http.Request) (offset, limit int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return offset, limit
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readRequestBody(w, r)
	if !ok {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// --- Providers ---

func (s *server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Store.ListProviders(r.Context())
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var p bridge.Provider
	if !decodeJSON(w, r, &p) {
		return
	}
	p.ID = newID()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	if err := s.deps.Store.CreateProvider(r.Context(), &p); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (s *server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.deps.Store.GetProvider(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if !decodeJSON(w, r, existing) {
		return
	}
	existing.ID = id
	existing.UpdatedAt = time.Now()
	if err := s.deps.Store.UpdateProvider(r.Context(), existing); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteProvider(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Proxies + model mappings ---

func (s *server) handleListProxies(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Store.ListProxies(r.Context())
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *server) handleGetProxy(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.GetProxy(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *server) handleCreateProxy(w http.ResponseWriter, r *http.Request) {
	var p bridge.BridgeProxy
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.ProxyPath == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("proxyPath is required"))
		return
	}
	if err := checkProxyCycle(r.Context(), s.deps.Store, "", p.OutboundKind, p.OutboundID); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	p.ID = newID()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	if err := s.deps.Store.CreateProxy(r.Context(), &p); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (s *server) handleUpdateProxy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.deps.Store.GetProxy(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if !decodeJSON(w, r, existing) {
		return
	}
	existing.ID = id
	if err := checkProxyCycle(r.Context(), s.deps.Store, id, existing.OutboundKind, existing.OutboundID); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	existing.UpdatedAt = time.Now()
	if err := s.deps.Store.UpdateProxy(r.Context(), existing); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteProxy(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteProxy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type proxyCycleStore interface {
	GetProxy(ctx context.Context, id string) (*bridge.BridgeProxy, error)
}

// checkProxyCycle walks an outbound chain starting at (kind, id), failing if
// it ever revisits selfID -- the proxy being created or edited -- or exceeds
// a sane chain length. The storage layer rejects cycles at write time too;
// this is a second, cheap check so the admin API reports them directly
// instead of surfacing a router resolution failure later.
func checkProxyCycle(ctx context.Context, store proxyCycleStore, selfID string, kind bridge.OutboundKind, id string) error {
	depth := 0
	for kind == bridge.OutboundProxy {
		if depth > 32 {
			return bridge.ErrCircular
		}
		if selfID != "" && id == selfID {
			return bridge.ErrCircular
		}
		next, err := store.GetProxy(ctx, id)
		if err != nil {
			return err
		}
		kind, id = next.OutboundKind, next.OutboundID
		depth++
	}
	return nil
}

func (s *server) handleCreateModelMapping(w http.ResponseWriter, r *http.Request) {
	var m bridge.ModelMapping
	if !decodeJSON(w, r, &m) {
		return
	}
	m.ID = newID()
	m.ProxyID = chi.URLParam(r, "id")
	if err := s.deps.Store.CreateModelMapping(r.Context(), &m); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, &m)
}

func (s *server) handleListModelMappings(w http.ResponseWriter, r *http.Request) {
	ms, err := s.deps.Store.ListModelMappings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *server) handleUpdateModelMapping(w http.ResponseWriter, r *http.Request) {
	var m bridge.ModelMapping
	if !decodeJSON(w, r, &m) {
		return
	}
	m.ID = chi.URLParam(r, "id")
	if err := s.deps.Store.UpdateModelMapping(r.Context(), &m); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, &m)
}

func (s *server) handleDeleteModelMapping(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteModelMapping(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- API keys ---

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	keys, err := s.deps.Store.ListKeys(r.Context(), offset, limit)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// keyCreateResponse surfaces the raw bearer value exactly once, at creation
// time; every other endpoint only ever returns the key's leading
// characters (KeyPrefix) and never the key itself.
type keyCreateResponse struct {
	*bridge.APIKey
	Key string `json:"key"`
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string `json:"label"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	raw, err := generateAPIKey()
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	key := &bridge.APIKey{
		ID:        newID(),
		KeyHash:   bridge.HashKey(raw),
		KeyPrefix: raw[:len(bridge.APIKeyPrefix)+6],
		Label:     body.Label,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := s.deps.Store.CreateKey(r.Context(), key); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, keyCreateResponse{APIKey: key, Key: raw})
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return bridge.APIKeyPrefix + hex.EncodeToString(buf), nil
}

func (s *server) handleUpdateKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label   *string `json:"label"`
		Enabled *bool   `json:"enabled"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	id := chi.URLParam(r, "id")
	key := &bridge.APIKey{ID: id}
	if body.Label != nil {
		key.Label = *body.Label
	}
	if body.Enabled != nil {
		key.Enabled = *body.Enabled
	}
	if err := s.deps.Store.UpdateKey(r.Context(), key); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if s.deps.KeyCache != nil {
		s.deps.KeyCache.InvalidateByKeyID(id)
	}
	writeJSON(w, http.StatusOK, key)
}

func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Store.DeleteKey(r.Context(), id); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if s.deps.KeyCache != nil {
		s.deps.KeyCache.InvalidateByKeyID(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- OAuth accounts ---

func (s *server) handleListOAuthAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.deps.Store.ListOAuthAccounts(r.Context(), r.URL.Query().Get("providerType"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (s *server) handleDeleteOAuthAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteOAuthAccount(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Settings ---

func (s *server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	v, err := s.deps.Store.GetSetting(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *server) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if !decodeJSON(w, r, &value) {
		return
	}
	setting := &bridge.Setting{Key: chi.URLParam(r, "key"), Value: value, UpdatedAt: time.Now()}
	if err := s.deps.Store.PutSetting(r.Context(), setting); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// --- Request logs ---

func (s *server) handleListRequestLogs(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	logs, err := s.deps.Store.ListRequestLogs(r.Context(), r.URL.Query().Get("proxyId"), offset, limit)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// --- CLI code-switch bindings ---

func (s *server) handleListCodeSwitchConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.deps.Store.ListCodeSwitchConfigs(r.Context(), r.URL.Query().Get("cli"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

func (s *server) handleCreateCodeSwitchConfig(w http.ResponseWriter, r *http.Request) {
	var c bridge.CodeSwitchConfig
	if !decodeJSON(w, r, &c) {
		return
	}
	c.ID = newID()
	c.CreatedAt = time.Now()
	if err := s.deps.Store.CreateCodeSwitchConfig(r.Context(), &c); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, &c)
}

func (s *server) handleActivateCodeSwitchConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.SetCodeSwitchActive(r.Context(), chi.URLParam(r, "id"), true); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListCodeModelMappings(w http.ResponseWriter, r *http.Request) {
	ms, err := s.deps.Store.ListCodeModelMappings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (s *server) handlePutCodeModelMapping(w http.ResponseWriter, r *http.Request) {
	var m bridge.CodeModelMapping
	if !decodeJSON(w, r, &m) {
		return
	}
	m.CodeSwitchID = chi.URLParam(r, "id")
	if m.ID == "" {
		m.ID = newID()
	}
	if err := s.deps.Store.UpsertCodeModelMapping(r.Context(), &m); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, &m)
}

// --- Tunnel ---

func (s *server) handleGetTunnelConfig(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Store.GetTunnelConfig(r.Context())
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleGetTunnelStats(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	stats, err := s.deps.Store.GetTunnelStats(r.Context(), date)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleListTunnelAccessLogs(w http.ResponseWriter, r *http.Request) {
	_, limit := pageParams(r)
	logs, err := s.deps.Store.ListTunnelAccessLogs(r.Context(), limit)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *server) handleListTunnelSystemLogs(w http.ResponseWriter, r *http.Request) {
	_, limit := pageParams(r)
	logs, err := s.deps.Store.ListTunnelSystemLogs(r.Context(), limit)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// --- Cache ---

func (s *server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.deps.Cache.Purge(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
