package oauth

import (
	"context"
	"net/http"
	"sync"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

// Pool selects among an OAuth provider type's pooled accounts and records
// outcomes into the health-status state machine carried on
// bridge.OAuthAccount. It is the intended implementation behind
// pipeline.Route's SelectAccount/MarkAccountResult callbacks.
type Pool struct {
	store  Store
	cipher Decrypter

	mu          sync.Mutex
	lastSuccess map[string]string // providerType -> accountID
}

// NewPool creates a Pool backed by store, decrypting access tokens with
// cipher.
func NewPool(store Store, cipher Decrypter) *Pool {
	return &Pool{store: store, cipher: cipher, lastSuccess: make(map[string]string)}
}

// Select returns a live bearer token for one eligible account of
// providerType, excluding any id in exclude. It prefers the last account
// that succeeded for this provider type, falling back to the eligible
// account with the largest PoolWeight.
func (p *Pool) Select(ctx context.Context, providerType string, exclude map[string]bool) (Selection, error) {
	accounts, err := p.store.ListOAuthAccounts(ctx, providerType)
	if err != nil {
		return Selection{}, err
	}

	var eligible []*bridge.OAuthAccount
	for _, a := range accounts {
		if exclude[a.ID] {
			continue
		}
		if !a.IsActive || !a.PoolEnabled || a.HealthStatus != bridge.HealthActive {
			continue
		}
		eligible = append(eligible, a)
	}
	if len(eligible) == 0 {
		return Selection{}, bridge.ErrNotFound
	}

	p.mu.Lock()
	preferred := p.lastSuccess[providerType]
	p.mu.Unlock()

	best := eligible[0]
	for _, a := range eligible {
		if a.ID == preferred {
			best = a
			break
		}
		if a.PoolWeight > best.PoolWeight {
			best = a
		}
	}

	token, err := p.cipher.Decrypt(best.AccessTokenEnc)
	if err != nil {
		p.transition(ctx, best, bridge.HealthForbidden, false, best.ConsecutiveFailures+1, "token decrypt failed: "+err.Error())
		return Selection{}, err
	}
	return Selection{AccountID: best.ID, Token: token}, nil
}

// MarkSuccess remembers accountID as the preferred account for
// providerType and touches its last-used timestamp.
func (p *Pool) MarkSuccess(ctx context.Context, providerType, accountID string) {
	p.mu.Lock()
	p.lastSuccess[providerType] = accountID
	p.mu.Unlock()

	a, err := p.store.GetOAuthAccount(ctx, accountID)
	if err != nil || a == nil {
		return
	}
	now := time.Now()
	a.LastUsedAt = &now
	a.UpdatedAt = now
	_ = p.store.UpdateOAuthAccount(ctx, a)
}

// MarkFailure advances accountID's health state machine for an upstream
// call that failed with httpStatus.
func (p *Pool) MarkFailure(ctx context.Context, accountID string, httpStatus int) {
	a, err := p.store.GetOAuthAccount(ctx, accountID)
	if err != nil || a == nil {
		return
	}

	switch httpStatus {
	case http.StatusUnauthorized:
		p.transition(ctx, a, bridge.HealthExpired, false, a.ConsecutiveFailures+1, "upstream returned 401")
	case http.StatusForbidden:
		p.transition(ctx, a, bridge.HealthForbidden, false, a.ConsecutiveFailures+1, "upstream returned 403")
	case http.StatusTooManyRequests:
		p.transition(ctx, a, bridge.HealthRateLimited, a.IsActive, a.ConsecutiveFailures, "upstream returned 429")
	default:
		failures := a.ConsecutiveFailures + 1
		status := a.HealthStatus
		if failures >= 3 {
			status = bridge.HealthError
		}
		p.transition(ctx, a, status, a.IsActive, failures, "upstream returned an unexpected error")
	}
}

func (p *Pool) transition(ctx context.Context, a *bridge.OAuthAccount, status bridge.HealthStatus, active bool, failures int, msg string) {
	a.HealthStatus = status
	a.IsActive = active
	a.ConsecutiveFailures = failures
	a.ErrorMessage = msg
	a.UpdatedAt = time.Now()
	_ = p.store.UpdateOAuthAccount(ctx, a)
}
