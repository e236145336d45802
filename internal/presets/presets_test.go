package presets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

type fakeStore struct {
	settings map[string]*bridge.Setting
}

func newFakeStore() *fakeStore {
	return &fakeStore{settings: make(map[string]*bridge.Setting)}
}

func (s *fakeStore) GetSetting(_ context.Context, key string) (*bridge.Setting, error) {
	v, ok := s.settings[key]
	if !ok {
		return nil, bridge.ErrNotFound
	}
	return v, nil
}

func (s *fakeStore) PutSetting(_ context.Context, setting *bridge.Setting) error {
	s.settings[setting.Key] = setting
	return nil
}

func TestGetProvidersReturnsBundledCatalogByDefault(t *testing.T) {
	t.Parallel()

	l, err := New(newFakeStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	providers, err := l.GetProviders(context.Background())
	if err != nil {
		t.Fatalf("GetProviders: %v", err)
	}
	if len(providers) == 0 {
		t.Fatal("expected at least one bundled provider preset")
	}
	found := false
	for _, p := range providers {
		if p.AdapterType == "openai" {
			found = true
		}
	}
	if !found {
		t.Error("expected an openai preset in the bundled catalog")
	}
}

func TestGetAdaptersCoversOpenAICompatibleDialects(t *testing.T) {
	t.Parallel()

	l, err := New(newFakeStore(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	adapters := l.GetAdapters()
	want := []string{"deepseek", "moonshot", "qwen", "zhipu"}
	for _, w := range want {
		hit := false
		for _, a := range adapters {
			if a == w {
				hit = true
			}
		}
		if !hit {
			t.Errorf("expected %q among GetAdapters() = %v", w, adapters)
		}
	}
}

func TestRefreshMergesNewerRemoteEntry(t *testing.T) {
	t.Parallel()

	remoteCatalog := Catalog{
		UpdatedAt: time.Now().Add(24 * time.Hour),
		Providers: []Provider{
			{Name: "OpenAI", AdapterType: "openai", BaseURL: "https://custom.example.com"},
			{Name: "Custom Vendor", AdapterType: "custom-vendor", BaseURL: "https://vendor.example.com"},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteCatalog)
	}))
	defer srv.Close()

	store := newFakeStore()
	remoteURLJSON, _ := json.Marshal(srv.URL)
	store.settings[settingRemoteURL] = &bridge.Setting{Key: settingRemoteURL, Value: remoteURLJSON}

	l, err := New(store, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	catalog, err := l.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	var openai, custom *Provider
	for i := range catalog.Providers {
		switch catalog.Providers[i].AdapterType {
		case "openai":
			openai = &catalog.Providers[i]
		case "custom-vendor":
			custom = &catalog.Providers[i]
		}
	}
	if openai == nil || openai.BaseURL != "https://custom.example.com" {
		t.Errorf("expected newer remote openai entry to win, got %+v", openai)
	}
	if custom == nil {
		t.Error("expected remote-only entry to be appended to the merged catalog")
	}
	if _, ok := store.settings[settingLastUpdate]; !ok {
		t.Error("expected Refresh to persist presets.lastUpdated")
	}
}

func TestRefreshIgnoresOlderRemoteEntry(t *testing.T) {
	t.Parallel()

	remoteCatalog := Catalog{
		UpdatedAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Providers: []Provider{
			{Name: "OpenAI", AdapterType: "openai", BaseURL: "https://stale.example.com"},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteCatalog)
	}))
	defer srv.Close()

	store := newFakeStore()
	remoteURLJSON, _ := json.Marshal(srv.URL)
	store.settings[settingRemoteURL] = &bridge.Setting{Key: settingRemoteURL, Value: remoteURLJSON}

	l, err := New(store, srv.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	catalog, err := l.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	for _, p := range catalog.Providers {
		if p.AdapterType == "openai" && p.BaseURL == "https://stale.example.com" {
			t.Error("older remote entry should not have overridden the bundled one")
		}
	}
}
