// Package importexport serializes the bridge's configuration surface --
// providers, proxies and their model mappings, and settings -- to a
// portable JSON document, and re-applies one under a chosen conflict
// policy. It deliberately excludes API keys, OAuth accounts, request
// logs, and chat history: those are either local credentials that don't
// travel between machines or data the document format isn't meant to
// carry.
package importexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

const schemaVersion = 1

// Strategy controls how Import resolves a row that already exists.
type Strategy string

const (
	StrategySkip      Strategy = "skip"
	StrategyOverwrite Strategy = "overwrite"
	StrategyMerge     Strategy = "merge"
)

// Document is the full exported configuration surface.
type Document struct {
	Version       int                                `json:"version"`
	ExportedAt    time.Time                           `json:"exportedAt"`
	Providers     []*bridge.Provider                  `json:"providers"`
	Proxies       []*bridge.BridgeProxy               `json:"proxies"`
	ModelMappings map[string][]*bridge.ModelMapping   `json:"modelMappings"` // keyed by proxy ID
	Settings      []*bridge.Setting                   `json:"settings"`
}

// Store is the slice of storage.Store the import/export package needs.
type Store interface {
	ListProviders(ctx context.Context) ([]*bridge.Provider, error)
	GetProvider(ctx context.Context, id string) (*bridge.Provider, error)
	CreateProvider(ctx context.Context, p *bridge.Provider) error
	UpdateProvider(ctx context.Context, p *bridge.Provider) error

	ListProxies(ctx context.Context) ([]*bridge.BridgeProxy, error)
	GetProxy(ctx context.Context, id string) (*bridge.BridgeProxy, error)
	CreateProxy(ctx context.Context, p *bridge.BridgeProxy) error
	UpdateProxy(ctx context.Context, p *bridge.BridgeProxy) error

	ListModelMappings(ctx context.Context, proxyID string) ([]*bridge.ModelMapping, error)
	CreateModelMapping(ctx context.Context, m *bridge.ModelMapping) error
	UpdateModelMapping(ctx context.Context, m *bridge.ModelMapping) error

	ListSettings(ctx context.Context) ([]*bridge.Setting, error)
	GetSetting(ctx context.Context, key string) (*bridge.Setting, error)
	PutSetting(ctx context.Context, s *bridge.Setting) error
}

// Export reads the full configuration surface out of store.
func Export(ctx context.Context, store Store) (*Document, error) {
	providers, err := store.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("importexport: list providers: %w", err)
	}
	proxies, err := store.ListProxies(ctx)
	if err != nil {
		return nil, fmt.Errorf("importexport: list proxies: %w", err)
	}

	mappings := make(map[string][]*bridge.ModelMapping, len(proxies))
	for _, p := range proxies {
		ms, err := store.ListModelMappings(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("importexport: list model mappings for proxy %q: %w", p.ID, err)
		}
		mappings[p.ID] = ms
	}

	settings, err := store.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("importexport: list settings: %w", err)
	}

	return &Document{
		Version:       schemaVersion,
		ExportedAt:    time.Now(),
		Providers:     providers,
		Proxies:       proxies,
		ModelMappings: mappings,
		Settings:      settings,
	}, nil
}

// Marshal renders doc as indented JSON.
func Marshal(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Unmarshal parses a previously exported document.
func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("importexport: parse document: %w", err)
	}
	if doc.Version != schemaVersion {
		return nil, fmt.Errorf("importexport: unsupported document version %d (want %d)", doc.Version, schemaVersion)
	}
	return &doc, nil
}

// Result tallies what Import did with each entity kind.
type Result struct {
	ProvidersCreated, ProvidersUpdated, ProvidersSkipped int
	ProxiesCreated, ProxiesUpdated, ProxiesSkipped       int
	MappingsCreated, MappingsUpdated, MappingsSkipped    int
	SettingsCreated, SettingsUpdated, SettingsSkipped    int
}

// Import applies doc to store under strategy: skip leaves an existing row
// untouched, overwrite replaces it wholesale. merge differs from
// overwrite only for Settings: the incoming value is written unless it is
// empty, in which case the existing value is kept. Provider/Proxy/
// ModelMapping rows are small enough that "merge" falls back to
// overwrite for them.
func Import(ctx context.Context, store Store, doc *Document, strategy Strategy) (Result, error) {
	var res Result

	for _, p := range doc.Providers {
		if err := importProvider(ctx, store, p, strategy, &res); err != nil {
			return res, err
		}
	}

	for _, p := range doc.Proxies {
		if err := importProxy(ctx, store, p, strategy, &res); err != nil {
			return res, err
		}
		if err := importMappings(ctx, store, p.ID, doc.ModelMappings[p.ID], strategy, &res); err != nil {
			return res, err
		}
	}

	for _, s := range doc.Settings {
		if err := importSetting(ctx, store, s, strategy, &res); err != nil {
			return res, err
		}
	}

	return res, nil
}

func importProvider(ctx context.Context, store Store, p *bridge.Provider, strategy Strategy, res *Result) error {
	_, err := store.GetProvider(ctx, p.ID)
	switch {
	case errors.Is(err, bridge.ErrNotFound):
		if err := store.CreateProvider(ctx, p); err != nil {
			return fmt.Errorf("importexport: create provider %q: %w", p.ID, err)
		}
		res.ProvidersCreated++
		return nil
	case err != nil:
		return fmt.Errorf("importexport: lookup provider %q: %w", p.ID, err)
	case strategy == StrategySkip:
		res.ProvidersSkipped++
		return nil
	default:
		if err := store.UpdateProvider(ctx, p); err != nil {
			return fmt.Errorf("importexport: update provider %q: %w", p.ID, err)
		}
		res.ProvidersUpdated++
		return nil
	}
}

func importProxy(ctx context.Context, store Store, p *bridge.BridgeProxy, strategy Strategy, res *Result) error {
	_, err := store.GetProxy(ctx, p.ID)
	switch {
	case errors.Is(err, bridge.ErrNotFound):
		if err := store.CreateProxy(ctx, p); err != nil {
			return fmt.Errorf("importexport: create proxy %q: %w", p.ID, err)
		}
		res.ProxiesCreated++
		return nil
	case err != nil:
		return fmt.Errorf("importexport: lookup proxy %q: %w", p.ID, err)
	case strategy == StrategySkip:
		res.ProxiesSkipped++
		return nil
	default:
		if err := store.UpdateProxy(ctx, p); err != nil {
			return fmt.Errorf("importexport: update proxy %q: %w", p.ID, err)
		}
		res.ProxiesUpdated++
		return nil
	}
}

func importMappings(ctx context.Context, store Store, proxyID string, incoming []*bridge.ModelMapping, strategy Strategy, res *Result) error {
	if len(incoming) == 0 {
		return nil
	}
	existing, err := store.ListModelMappings(ctx, proxyID)
	if err != nil {
		return fmt.Errorf("importexport: list model mappings for proxy %q: %w", proxyID, err)
	}
	byID := make(map[string]bool, len(existing))
	for _, m := range existing {
		byID[m.ID] = true
	}

	for _, m := range incoming {
		if !byID[m.ID] {
			if err := store.CreateModelMapping(ctx, m); err != nil {
				return fmt.Errorf("importexport: create model mapping %q: %w", m.ID, err)
			}
			res.MappingsCreated++
			continue
		}
		if strategy == StrategySkip {
			res.MappingsSkipped++
			continue
		}
		if err := store.UpdateModelMapping(ctx, m); err != nil {
			return fmt.Errorf("importexport: update model mapping %q: %w", m.ID, err)
		}
		res.MappingsUpdated++
	}
	return nil
}

func importSetting(ctx context.Context, store Store, s *bridge.Setting, strategy Strategy, res *Result) error {
	existing, err := store.GetSetting(ctx, s.Key)
	switch {
	case errors.Is(err, bridge.ErrNotFound):
		if err := store.PutSetting(ctx, s); err != nil {
			return fmt.Errorf("importexport: create setting %q: %w", s.Key, err)
		}
		res.SettingsCreated++
		return nil
	case err != nil:
		return fmt.Errorf("importexport: lookup setting %q: %w", s.Key, err)
	case strategy == StrategySkip:
		res.SettingsSkipped++
		return nil
	default:
		value := s
		if strategy == StrategyMerge && len(s.Value) == 0 {
			value = existing
		}
		if err := store.PutSetting(ctx, value); err != nil {
			return fmt.Errorf("importexport: update setting %q: %w", s.Key, err)
		}
		res.SettingsUpdated++
		return nil
	}
}
