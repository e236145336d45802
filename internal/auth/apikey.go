// Package auth implements API key authentication for the bridge's local
// HTTP front-end. Keys are validated against the store and cached in a
// W-TinyLFU cache.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/storage"
)

const (
	cacheTTL    = 30 * time.Second // short enough to pick up key revocations promptly
	cacheMaxLen = 10_000           // generous headroom for a single-user daemon
)

// APIKeyAuth authenticates requests using "sk-"-prefixed bearer credentials.
// It caches resolved keys in an otter W-TinyLFU cache for fast lookups.
type APIKeyAuth struct {
	store       storage.APIKeyStore
	cache       *otter.Cache[string, *bridge.APIKey]
	keyIDToHash sync.Map // keyID -> hash, for cache invalidation by key ID
}

// NewAPIKeyAuth returns a new APIKeyAuth backed by store.
func NewAPIKeyAuth(store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *bridge.APIKey]{
		MaximumSize:      cacheMaxLen,
		ExpiryCalculator: otter.ExpiryWriting[string, *bridge.APIKey](cacheTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create auth cache: %w", err)
	}
	return &APIKeyAuth{store: store, cache: c}, nil
}

// Authenticate extracts a Bearer token from the Authorization header,
// validates it against the store, and returns the caller's Identity. Only
// keys with the "sk-" prefix are handled; all others return ErrUnauthorized.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*bridge.Identity, error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" || raw == r.Header.Get("Authorization") {
		return nil, bridge.ErrUnauthorized
	}
	if !strings.HasPrefix(raw, bridge.APIKeyPrefix) {
		return nil, bridge.ErrUnauthorized
	}

	hash := bridge.HashKey(raw)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		if !key.Enabled {
			return nil, bridge.ErrUnauthorized
		}
		return buildIdentity(key), nil
	}

	key, err := a.store.GetKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, bridge.ErrNotFound) {
			return nil, bridge.ErrUnauthorized
		}
		return nil, err
	}

	// Belt-and-suspenders: constant-time comparison of the stored hash
	// against the computed hash. The DB lookup already matched, but this
	// guards against hypothetical SQL collation or encoding surprises.
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, bridge.ErrUnauthorized
	}
	if !key.Enabled {
		return nil, bridge.ErrUnauthorized
	}

	a.cache.Set(hash, key)
	a.keyIDToHash.Store(key.ID, hash)

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		a.store.TouchKeyUsed(ctx, key.ID) //nolint:errcheck
	}()

	return buildIdentity(key), nil
}

// InvalidateByKeyID removes a cached API key by its key ID. Used when admin
// operations (disable, update, delete) modify a key.
func (a *APIKeyAuth) InvalidateByKeyID(keyID string) {
	if hash, ok := a.keyIDToHash.LoadAndDelete(keyID); ok {
		a.cache.Invalidate(hash.(string))
	}
}

// buildIdentity constructs an Identity from a validated API key.
func buildIdentity(key *bridge.APIKey) *bridge.Identity {
	return &bridge.Identity{KeyID: key.ID, KeyPrefix: key.KeyPrefix}
}
