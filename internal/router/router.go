// Package router resolves an inbound HTTP request -- either one of the
// three universal chat surfaces, or a request against a named BridgeProxy
// path -- into a pipeline.Route the bridge pipeline can execute. It is the
// local front-end's counterpart to the pipeline's own "it knows nothing
// about HTTP routing" boundary: this package owns exactly the translation
// from Provider/BridgeProxy/ModelMapping storage rows to a Route, and
// nothing else.
package router

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
	"github.com/relayhq/bridge/internal/oauth"
	"github.com/relayhq/bridge/internal/pipeline"
)

// maxChainDepth bounds BridgeProxy-to-BridgeProxy chaining. Cycles are
// already rejected at write time by the storage layer; this is a second,
// cheap defense against a cycle that slipped through or a very long chain.
const maxChainDepth = 8

// Store is the slice of storage.Store the router needs to resolve a Route.
type Store interface {
	GetProvider(ctx context.Context, id string) (*bridge.Provider, error)
	GetProviderBySlug(ctx context.Context, slug string) (*bridge.Provider, error)
	ListProviders(ctx context.Context) ([]*bridge.Provider, error)
	GetProxy(ctx context.Context, id string) (*bridge.BridgeProxy, error)
	GetProxyByPath(ctx context.Context, path string) (*bridge.BridgeProxy, error)
	ListModelMappings(ctx context.Context, proxyID string) ([]*bridge.ModelMapping, error)
}

// Decrypter turns a Provider's vault ciphertext back into a usable API key.
// Defined narrowly, mirroring oauth.Decrypter, so this package never
// imports internal/vault directly.
type Decrypter interface {
	Decrypt(ciphertext []byte) (string, error)
}

// Router resolves routes against the configured Provider/BridgeProxy set.
type Router struct {
	store  Store
	cipher Decrypter
	reg    *adapter.Registry
	pool   *oauth.Pool // nil if no pooled OAuth providers are configured
}

// New returns a Router. pool may be nil when no pooled providers exist.
func New(store Store, cipher Decrypter, reg *adapter.Registry, pool *oauth.Pool) *Router {
	return &Router{store: store, cipher: cipher, reg: reg, pool: pool}
}

// ResolveUniversal resolves one of the three bare /v1/* chat surfaces: the
// inbound dialect is fixed by which surface the client posted to, and the
// outbound target is the enabled, non-pool-only provider whose cached
// Models list contains the requested model, falling back to the
// lowest-sort-order enabled provider when no provider claims the model (or
// none was given, as with a client that omits it for a single-provider
// setup).
func (r *Router) ResolveUniversal(ctx context.Context, inboundAdapter, model string, source bridge.RequestSource) (pipeline.Route, error) {
	inbound, err := r.reg.Get(inboundAdapter)
	if err != nil {
		return pipeline.Route{}, err
	}
	p, err := r.pickProvider(ctx, model)
	if err != nil {
		return pipeline.Route{}, err
	}
	route, err := r.routeFromProvider(p)
	if err != nil {
		return pipeline.Route{}, err
	}
	route.Inbound = inbound
	route.Source = source
	return route, nil
}

func (r *Router) pickProvider(ctx context.Context, model string) (*bridge.Provider, error) {
	providers, err := r.store.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i].SortOrder < providers[j].SortOrder })

	var fallback *bridge.Provider
	for _, p := range providers {
		if !p.Enabled || p.Passthrough {
			continue
		}
		if fallback == nil {
			fallback = p
		}
		if model != "" && slices.Contains(p.Models, model) {
			return p, nil
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, bridge.ErrNotFound
}

// ResolveProvider resolves a route directly against a provider ID, with the
// provider's own dialect as both inbound and outbound adapter so the caller
// gets back the same IR shape it sent -- the chat-UI send-message handler's
// case, where the conversation already pins an exact provider rather than
// picking one by model.
func (r *Router) ResolveProvider(ctx context.Context, providerID string, source bridge.RequestSource) (pipeline.Route, error) {
	p, err := r.store.GetProvider(ctx, providerID)
	if err != nil {
		return pipeline.Route{}, err
	}
	route, err := r.routeFromProvider(p)
	if err != nil {
		return pipeline.Route{}, err
	}
	route.Inbound = route.Outbound
	route.Source = source
	return route, nil
}

// ResolveProxy resolves a client request against a registered BridgeProxy's
// unique path, following OutboundProxy chains to the terminal Provider.
func (r *Router) ResolveProxy(ctx context.Context, proxyPath string, source bridge.RequestSource) (pipeline.Route, error) {
	proxy, err := r.store.GetProxyByPath(ctx, proxyPath)
	if err != nil {
		return pipeline.Route{}, err
	}
	return r.resolveProxyRoute(ctx, proxy, source)
}

// ResolveProxyByID resolves the same way as ResolveProxy but looks the
// BridgeProxy up by ID rather than by its public path -- the shape a chat
// conversation bound to a proxy stores.
func (r *Router) ResolveProxyByID(ctx context.Context, proxyID string, source bridge.RequestSource) (pipeline.Route, error) {
	proxy, err := r.store.GetProxy(ctx, proxyID)
	if err != nil {
		return pipeline.Route{}, err
	}
	return r.resolveProxyRoute(ctx, proxy, source)
}

func (r *Router) resolveProxyRoute(ctx context.Context, proxy *bridge.BridgeProxy, source bridge.RequestSource) (pipeline.Route, error) {
	if !proxy.Enabled {
		return pipeline.Route{}, bridge.ErrNotFound
	}
	inbound, err := r.reg.Get(proxy.InboundAdapter)
	if err != nil {
		return pipeline.Route{}, fmt.Errorf("inbound adapter %q: %w", proxy.InboundAdapter, err)
	}
	ownMappings, err := r.store.ListModelMappings(ctx, proxy.ID)
	if err != nil {
		return pipeline.Route{}, err
	}
	route, chainMappings, err := r.resolveOutbound(ctx, proxy.OutboundKind, proxy.OutboundID, maxChainDepth)
	if err != nil {
		return pipeline.Route{}, err
	}

	// This proxy's own mappings take priority over any it chains through,
	// since they are the ones the calling client actually configured.
	route.ModelMappings = append(append([]*bridge.ModelMapping{}, ownMappings...), chainMappings...)
	route.Inbound = inbound
	route.ProxyID = proxy.ID
	route.ProxyPath = proxy.ProxyPath
	route.Source = source
	return route, nil
}

func (r *Router) resolveOutbound(ctx context.Context, kind bridge.OutboundKind, id string, depth int) (pipeline.Route, []*bridge.ModelMapping, error) {
	if depth <= 0 {
		return pipeline.Route{}, nil, errors.New("router: proxy chain too deep")
	}
	switch kind {
	case bridge.OutboundProvider:
		p, err := r.store.GetProvider(ctx, id)
		if err != nil {
			return pipeline.Route{}, nil, err
		}
		route, err := r.routeFromProvider(p)
		return route, nil, err
	case bridge.OutboundProxy:
		proxy, err := r.store.GetProxy(ctx, id)
		if err != nil {
			return pipeline.Route{}, nil, err
		}
		if !proxy.Enabled {
			return pipeline.Route{}, nil, bridge.ErrNotFound
		}
		route, innerMappings, err := r.resolveOutbound(ctx, proxy.OutboundKind, proxy.OutboundID, depth-1)
		if err != nil {
			return pipeline.Route{}, nil, err
		}
		mappings, err := r.store.ListModelMappings(ctx, proxy.ID)
		if err != nil {
			return pipeline.Route{}, nil, err
		}
		return route, append(mappings, innerMappings...), nil
	default:
		return pipeline.Route{}, nil, fmt.Errorf("router: unknown outbound kind %q", kind)
	}
}

// ResolvePassthrough resolves a Provider by its passthrough slug and
// returns it together with its decrypted API key, for callers -- the
// native HTTP passthrough handler -- that forward requests raw to the
// provider's own wire format instead of going through the bridge pipeline.
// Pool-backed providers are not supported here: a pooled OAuth account's
// token is meant to be selected per-request by the pipeline, not pinned to
// a long-lived passthrough client.
func (r *Router) ResolvePassthrough(ctx context.Context, slug string) (*bridge.Provider, string, error) {
	p, err := r.store.GetProviderBySlug(ctx, slug)
	if err != nil {
		return nil, "", err
	}
	if !p.Enabled || !p.Passthrough {
		return nil, "", bridge.ErrNotFound
	}
	if p.IsPool {
		return nil, "", fmt.Errorf("provider %q is pool-backed; native passthrough requires a static key", p.ID)
	}
	if len(p.APIKeyEnc) == 0 {
		return p, "", nil
	}
	if r.cipher == nil {
		return nil, "", fmt.Errorf("provider %q has an encrypted key but no cipher is configured", p.ID)
	}
	plain, err := r.cipher.Decrypt(p.APIKeyEnc)
	if err != nil {
		return nil, "", fmt.Errorf("decrypt provider key: %w", err)
	}
	return p, plain, nil
}

// routeFromProvider builds the auth-bearing half of a Route from a
// Provider row: either a pooled-account selector (IsPool) or a static
// decrypted API key.
func (r *Router) routeFromProvider(p *bridge.Provider) (pipeline.Route, error) {
	if !p.Enabled {
		return pipeline.Route{}, bridge.ErrNotFound
	}
	outbound, err := r.reg.Get(p.AdapterType)
	if err != nil {
		return pipeline.Route{}, fmt.Errorf("outbound adapter %q: %w", p.AdapterType, err)
	}

	route := pipeline.Route{
		Outbound:   outbound,
		ProviderID: p.ID,
		BaseURL:    p.BaseURL,
		ChatPath:   p.ChatPath,
	}

	if p.IsPool {
		if r.pool == nil {
			return pipeline.Route{}, fmt.Errorf("provider %q is pooled but no oauth pool is configured", p.ID)
		}
		providerType := p.OAuthProviderType
		route.SelectAccount = func(ctx context.Context, exclude map[string]bool) (pipeline.AccountSelection, error) {
			sel, err := r.pool.Select(ctx, providerType, exclude)
			if err != nil {
				return pipeline.AccountSelection{}, err
			}
			return pipeline.AccountSelection{AccountID: sel.AccountID, Token: sel.Token}, nil
		}
		route.MarkAccountResult = func(ctx context.Context, accountID string, status int) {
			if status >= 400 {
				r.pool.MarkFailure(ctx, accountID, status)
				return
			}
			r.pool.MarkSuccess(ctx, providerType, accountID)
		}
		return route, nil
	}

	if len(p.APIKeyEnc) > 0 {
		if r.cipher == nil {
			return pipeline.Route{}, fmt.Errorf("provider %q has an encrypted key but no cipher is configured", p.ID)
		}
		plain, err := r.cipher.Decrypt(p.APIKeyEnc)
		if err != nil {
			return pipeline.Route{}, fmt.Errorf("decrypt provider key: %w", err)
		}
		route.APIKey = plain
	}
	return route, nil
}
