// Package presets loads the catalog of known provider vendors -- base
// URL, chat path, models path, and a representative model list per
// adapter dialect -- that the admin UI offers when a user adds a new
// Provider. The catalog bundled into the binary is merged with one
// fetched from a configurable remote URL, the newer of the two (by
// updatedAt) winning per entry.
package presets

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	bridge "github.com/relayhq/bridge/internal"
)

//go:embed bundled.json
var bundledJSON []byte

// Provider is one vendor's preset connection details.
type Provider struct {
	Name        string   `json:"name"`
	AdapterType string   `json:"adapterType"`
	BaseURL     string   `json:"baseUrl"`
	ChatPath    string   `json:"chatPath"`
	ModelsPath  string   `json:"modelsPath"`
	Models      []string `json:"models,omitempty"`
	Logo        string   `json:"logo,omitempty"`
	Color       string   `json:"color,omitempty"`
}

// Catalog is a versioned set of provider presets.
type Catalog struct {
	UpdatedAt time.Time  `json:"updatedAt"`
	Providers []Provider `json:"providers"`
}

const (
	cacheKey          = "catalog"
	cacheTTL          = 30 * time.Minute
	settingRemoteURL  = "presets.remoteUrl"
	settingLastUpdate = "presets.lastUpdated"
)

// Store is the slice of storage.Store the loader needs to read the
// configured remote URL and record the last successful refresh time.
type Store interface {
	GetSetting(ctx context.Context, key string) (*bridge.Setting, error)
	PutSetting(ctx context.Context, s *bridge.Setting) error
}

// Loader resolves the merged preset catalog, caching it in-process.
type Loader struct {
	store Store
	http  *http.Client

	mu      sync.RWMutex
	bundled Catalog

	cache *otter.Cache[string, Catalog]
}

// New creates a Loader. If client is nil, http.DefaultClient is used for
// remote catalog fetches.
func New(store Store, client *http.Client) (*Loader, error) {
	var bundled Catalog
	if err := json.Unmarshal(bundledJSON, &bundled); err != nil {
		return nil, fmt.Errorf("presets: parse bundled catalog: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	c, err := otter.New(&otter.Options[string, Catalog]{
		MaximumSize:      1,
		ExpiryCalculator: otter.ExpiryWriting[string, Catalog](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("presets: create cache: %w", err)
	}
	return &Loader{store: store, http: client, bundled: bundled, cache: c}, nil
}

// GetProviders returns the merged preset list: cached if a refresh has
// happened within cacheTTL, otherwise freshly refreshed, and the bundled
// catalog only when that refresh fails.
func (l *Loader) GetProviders(ctx context.Context) ([]Provider, error) {
	if cached, ok := l.cache.GetIfPresent(cacheKey); ok {
		return cached.Providers, nil
	}
	catalog, err := l.Refresh(ctx)
	if err != nil {
		// A failed remote fetch still leaves the bundled catalog usable.
		l.mu.RLock()
		defer l.mu.RUnlock()
		return l.bundled.Providers, nil //nolint:nilerr
	}
	return catalog.Providers, nil
}

// GetAdapters returns the distinct adapter registry names the bundled
// catalog covers, in catalog order.
func (l *Loader) GetAdapters() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.bundled.Providers))
	for _, p := range l.bundled.Providers {
		out = append(out, p.AdapterType)
	}
	return out
}

// Refresh fetches the remote catalog (if presets.remoteUrl is set),
// merges it with the bundled one by updatedAt per provider entry,
// updates the cache, and records the refresh time as a Setting.
func (l *Loader) Refresh(ctx context.Context) (Catalog, error) {
	l.mu.RLock()
	merged := l.bundled
	l.mu.RUnlock()

	remoteURL, err := l.remoteURL(ctx)
	if err != nil {
		return Catalog{}, err
	}
	if remoteURL != "" {
		remote, err := l.fetchRemote(ctx, remoteURL)
		if err != nil {
			return Catalog{}, fmt.Errorf("presets: fetch remote catalog: %w", err)
		}
		merged = mergeCatalogs(merged, remote)
	}

	l.cache.Set(cacheKey, merged)

	raw, err := json.Marshal(merged.UpdatedAt)
	if err == nil {
		_ = l.store.PutSetting(ctx, &bridge.Setting{Key: settingLastUpdate, Value: raw, UpdatedAt: time.Now()})
	}
	return merged, nil
}

func (l *Loader) remoteURL(ctx context.Context) (string, error) {
	s, err := l.store.GetSetting(ctx, settingRemoteURL)
	if err != nil {
		return "", nil //nolint:nilerr // unset is not an error
	}
	var url string
	if err := json.Unmarshal(s.Value, &url); err != nil {
		return "", fmt.Errorf("presets: parse %s setting: %w", settingRemoteURL, err)
	}
	return url, nil
}

func (l *Loader) fetchRemote(ctx context.Context, url string) (Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Catalog{}, err
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return Catalog{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Catalog{}, err
	}
	if resp.StatusCode >= 400 {
		return Catalog{}, fmt.Errorf("remote catalog returned status %d", resp.StatusCode)
	}

	var catalog Catalog
	if err := json.Unmarshal(body, &catalog); err != nil {
		return Catalog{}, fmt.Errorf("decode remote catalog: %w", err)
	}
	return catalog, nil
}

// mergeCatalogs overlays remote's entries onto base, matched by
// AdapterType. An entry present in both is taken from whichever catalog
// is newer; an entry only remote carries is appended.
func mergeCatalogs(base, remote Catalog) Catalog {
	merged := Catalog{UpdatedAt: base.UpdatedAt, Providers: make([]Provider, len(base.Providers))}
	copy(merged.Providers, base.Providers)

	byType := make(map[string]int, len(merged.Providers))
	for i, p := range merged.Providers {
		byType[p.AdapterType] = i
	}

	newer := remote.UpdatedAt.After(base.UpdatedAt)
	if newer {
		merged.UpdatedAt = remote.UpdatedAt
	}

	for _, p := range remote.Providers {
		if i, ok := byType[p.AdapterType]; ok {
			if newer {
				merged.Providers[i] = p
			}
			continue
		}
		merged.Providers = append(merged.Providers, p)
		byType[p.AdapterType] = len(merged.Providers) - 1
	}
	return merged
}
