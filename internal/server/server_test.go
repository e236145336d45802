package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/cache"
	"github.com/relayhq/bridge/internal/testutil"
)

func newTestServer(store *testutil.FakeStore) http.Handler {
	return New(Deps{
		Auth:     testutil.FakeAuth{},
		KeyCache: fakeKeyCache{},
		Store:    store,
	})
}

type fakeKeyCache struct{}

func (fakeKeyCache) InvalidateByKeyID(string) {}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestServer(testutil.NewFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyz_NoCheckConfigured(t *testing.T) {
	t.Parallel()
	h := newTestServer(testutil.NewFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDynamicRoute_NotFound(t *testing.T) {
	t.Parallel()
	h := newTestServer(testutil.NewFakeStore())
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAdmin_ProviderCRUD(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	h := newTestServer(store)

	body := `{"name":"OpenAI","adapterType":"openai","baseUrl":"https://api.openai.com","enabled":true}`
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/providers", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created bridge.Provider
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("expected generated ID")
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/providers/"+created.ID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/admin/v1/providers/"+created.ID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/providers/"+created.ID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get-after-delete status = %d, want 404", rec.Code)
	}
}

func TestAdmin_KeyCreateAndUpdateInvalidatesCache(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	cache := &trackingKeyCache{}
	h := New(Deps{
		Auth:     testutil.FakeAuth{},
		KeyCache: cache,
		Store:    store,
	})

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/keys", strings.NewReader(`{"label":"test"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID  string `json:"id"`
		Key string `json:"key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.Key, bridge.APIKeyPrefix) {
		t.Fatalf("key = %q, want sk- prefix", created.Key)
	}

	req = httptest.NewRequest(http.MethodPut, "/admin/v1/keys/"+created.ID, strings.NewReader(`{"enabled":false}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d", rec.Code)
	}
	if len(cache.invalidated) != 1 || cache.invalidated[0] != created.ID {
		t.Fatalf("invalidated = %v, want [%s]", cache.invalidated, created.ID)
	}
}

type trackingKeyCache struct{ invalidated []string }

func (c *trackingKeyCache) InvalidateByKeyID(id string) {
	c.invalidated = append(c.invalidated, id)
}

func TestAdmin_SettingsRoundTrip(t *testing.T) {
	t.Parallel()
	h := newTestServer(testutil.NewFakeStore())

	req := httptest.NewRequest(http.MethodPut, "/admin/v1/settings/theme", strings.NewReader(`"dark"`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/settings/theme", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got bridge.Setting
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if string(got.Value) != `"dark"` {
		t.Errorf("value = %s, want \"dark\"", got.Value)
	}
}

func TestAuthenticate_Rejected(t *testing.T) {
	t.Parallel()
	h := New(Deps{Auth: testutil.RejectAuth{}})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestListModels_AggregatesEnabledProviders(t *testing.T) {
	t.Parallel()
	store := testutil.NewFakeStore()
	store.AddProvider(&bridge.Provider{ID: "p1", Enabled: true, Models: []string{"gpt-4o", "gpt-4o-mini"}})
	store.AddProvider(&bridge.Provider{ID: "p2", Enabled: false, Models: []string{"claude-3"}})
	store.AddProvider(&bridge.Provider{ID: "p3", Enabled: true, Passthrough: true, Models: []string{"gemini-pro"}})
	h := newTestServer(store)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp modelListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("got %d models, want 2: %+v", len(resp.Data), resp.Data)
	}
}

func TestCachePurge(t *testing.T) {
	t.Parallel()
	mem, err := cache.NewMemory(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	mem.Set(ctx, "k", []byte("v"), time.Minute)
	h := New(Deps{
		Auth:  testutil.FakeAuth{},
		Store: testutil.NewFakeStore(),
		Cache: mem,
	})
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/cache/purge", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := mem.Get(ctx, "k"); ok {
		t.Error("expected cache to be purged")
	}
}
