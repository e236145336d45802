package oauth

import (
	"context"
	"net/http"
	"sync"
	"testing"

	bridge "github.com/relayhq/bridge/internal"
)

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*bridge.OAuthAccount
}

func newFakeStore(accounts ...*bridge.OAuthAccount) *fakeStore {
	s := &fakeStore{accounts: make(map[string]*bridge.OAuthAccount)}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *fakeStore) ListOAuthAccounts(_ context.Context, providerType string) ([]*bridge.OAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*bridge.OAuthAccount
	for _, a := range s.accounts {
		if providerType == "" || a.ProviderType == providerType {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) GetOAuthAccount(_ context.Context, id string) (*bridge.OAuthAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id], nil
}

func (s *fakeStore) CreateOAuthAccount(_ context.Context, a *bridge.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *fakeStore) UpdateOAuthAccount(_ context.Context, a *bridge.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

type plaintextCipher struct{}

func (plaintextCipher) Decrypt(ciphertext []byte) (string, error) { return string(ciphertext), nil }
func (plaintextCipher) Encrypt(plaintext string) ([]byte, error)  { return []byte(plaintext), nil }

func TestPoolSelectPrefersLastSuccessful(t *testing.T) {
	t.Parallel()

	low := &bridge.OAuthAccount{ID: "a1", ProviderType: ProviderCodex, IsActive: true, PoolEnabled: true, HealthStatus: bridge.HealthActive, PoolWeight: 1, AccessTokenEnc: []byte("tok-a1")}
	high := &bridge.OAuthAccount{ID: "a2", ProviderType: ProviderCodex, IsActive: true, PoolEnabled: true, HealthStatus: bridge.HealthActive, PoolWeight: 10, AccessTokenEnc: []byte("tok-a2")}
	store := newFakeStore(low, high)
	pool := NewPool(store, plaintextCipher{})

	sel, err := pool.Select(context.Background(), ProviderCodex, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.AccountID != "a2" {
		t.Fatalf("account = %s, want a2 (highest weight, no prior success)", sel.AccountID)
	}

	pool.MarkSuccess(context.Background(), ProviderCodex, "a1")

	sel, err = pool.Select(context.Background(), ProviderCodex, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.AccountID != "a1" {
		t.Fatalf("account = %s, want a1 (remembered last success, despite lower weight)", sel.AccountID)
	}
}

func TestPoolSelectExcludesIneligible(t *testing.T) {
	t.Parallel()

	inactive := &bridge.OAuthAccount{ID: "a1", ProviderType: ProviderCodex, IsActive: false, PoolEnabled: true, HealthStatus: bridge.HealthActive}
	expired := &bridge.OAuthAccount{ID: "a2", ProviderType: ProviderCodex, IsActive: true, PoolEnabled: true, HealthStatus: bridge.HealthExpired}
	good := &bridge.OAuthAccount{ID: "a3", ProviderType: ProviderCodex, IsActive: true, PoolEnabled: true, HealthStatus: bridge.HealthActive, AccessTokenEnc: []byte("tok-a3")}
	store := newFakeStore(inactive, expired, good)
	pool := NewPool(store, plaintextCipher{})

	sel, err := pool.Select(context.Background(), ProviderCodex, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.AccountID != "a3" {
		t.Fatalf("account = %s, want a3", sel.AccountID)
	}
}

func TestPoolSelectNoneEligible(t *testing.T) {
	t.Parallel()

	store := newFakeStore(&bridge.OAuthAccount{ID: "a1", ProviderType: ProviderCodex, IsActive: false})
	pool := NewPool(store, plaintextCipher{})

	if _, err := pool.Select(context.Background(), ProviderCodex, nil); err != bridge.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPoolMarkFailureTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		wantHealth    bridge.HealthStatus
		wantActive    bool
		startFailures int
		wantFailures  int
	}{
		{"unauthorized deactivates", http.StatusUnauthorized, bridge.HealthExpired, false, 0, 1},
		{"forbidden deactivates", http.StatusForbidden, bridge.HealthForbidden, false, 0, 1},
		{"rate limited stays active", http.StatusTooManyRequests, bridge.HealthRateLimited, true, 0, 0},
		{"third consecutive error trips error state", http.StatusInternalServerError, bridge.HealthError, true, 2, 3},
		{"first error stays active", http.StatusInternalServerError, bridge.HealthActive, true, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &bridge.OAuthAccount{ID: "a1", ProviderType: ProviderCodex, IsActive: true, HealthStatus: bridge.HealthActive, ConsecutiveFailures: tt.startFailures}
			store := newFakeStore(a)
			pool := NewPool(store, plaintextCipher{})

			pool.MarkFailure(context.Background(), "a1", tt.status)

			if a.HealthStatus != tt.wantHealth {
				t.Errorf("health = %s, want %s", a.HealthStatus, tt.wantHealth)
			}
			if a.IsActive != tt.wantActive {
				t.Errorf("active = %v, want %v", a.IsActive, tt.wantActive)
			}
			if a.ConsecutiveFailures != tt.wantFailures {
				t.Errorf("failures = %d, want %d", a.ConsecutiveFailures, tt.wantFailures)
			}
		})
	}
}
