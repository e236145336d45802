package oauth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

const (
	refreshLeadTime               = 15 * time.Minute
	refreshSweepInterval          = time.Hour
	maxConsecutiveRefreshFailures = 3
)

// Refreshers maps an OAuthAccount.ProviderType to the Refresher that knows
// how to exchange its refresh token.
type Refreshers map[string]Refresher

// Scheduler maintains one refresh timer per pooled OAuth account. On
// start it sweeps every account, refreshing immediately if it expires
// within refreshLeadTime or arming a one-shot timer for expiresAt minus
// refreshLeadTime otherwise; it re-sweeps every hour as a backstop for
// accounts created or edited outside the scheduler's notice.
type Scheduler struct {
	store      Store
	cipher     Cipher
	refreshers Refreshers

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewScheduler creates a Scheduler. refreshers must have an entry for
// every ProviderType the store can return accounts for.
func NewScheduler(store Store, cipher Cipher, refreshers Refreshers) *Scheduler {
	return &Scheduler{store: store, cipher: cipher, refreshers: refreshers, timers: make(map[string]*time.Timer)}
}

func (s *Scheduler) Name() string { return "oauth_refresh" }

// Run implements worker.Worker.
func (s *Scheduler) Run(ctx context.Context) error {
	s.sweep(ctx)

	ticker := time.NewTicker(refreshSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			s.stopAllTimers()
			return nil
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	accounts, err := s.store.ListOAuthAccounts(ctx, "")
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "oauth refresh sweep failed to list accounts",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, a := range accounts {
		s.scheduleOne(ctx, a)
	}
}

func (s *Scheduler) scheduleOne(ctx context.Context, a *bridge.OAuthAccount) {
	if !a.IsActive {
		return
	}

	s.mu.Lock()
	if t, ok := s.timers[a.ID]; ok {
		t.Stop()
	}
	due := time.Until(a.ExpiresAt.Add(-refreshLeadTime))
	accountID := a.ID
	if due <= 0 {
		s.mu.Unlock()
		s.refreshOne(ctx, accountID)
		return
	}
	s.timers[accountID] = time.AfterFunc(due, func() {
		s.refreshOne(context.Background(), accountID)
	})
	s.mu.Unlock()
}

func (s *Scheduler) stopAllTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
}

func (s *Scheduler) refreshOne(ctx context.Context, accountID string) {
	a, err := s.store.GetOAuthAccount(ctx, accountID)
	if err != nil || a == nil {
		return
	}
	refresher, ok := s.refreshers[a.ProviderType]
	if !ok {
		slog.LogAttrs(ctx, slog.LevelWarn, "oauth refresh: no refresher registered for provider type",
			slog.String("account", a.ID), slog.String("provider_type", a.ProviderType),
		)
		return
	}

	refreshToken, err := s.cipher.Decrypt(a.RefreshTokenEnc)
	if err != nil {
		s.onRefreshFailure(ctx, a, "refresh token decrypt failed: "+err.Error())
		return
	}

	tokens, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		s.onRefreshFailure(ctx, a, err.Error())
		return
	}

	accessEnc, err := s.cipher.Encrypt(tokens.AccessToken)
	if err != nil {
		s.onRefreshFailure(ctx, a, "access token encrypt failed: "+err.Error())
		return
	}
	refreshEnc := a.RefreshTokenEnc
	if tokens.RefreshToken != "" {
		if enc, err := s.cipher.Encrypt(tokens.RefreshToken); err == nil {
			refreshEnc = enc
		}
	}

	now := time.Now()
	// Successful refresh clears the failure counter and returns the
	// account to active, per the health state machine.
	a.AccessTokenEnc = accessEnc
	a.RefreshTokenEnc = refreshEnc
	a.ExpiresAt = tokens.ExpiresAt
	a.HealthStatus = bridge.HealthActive
	a.IsActive = true
	a.ConsecutiveFailures = 0
	a.ErrorMessage = ""
	a.LastRefreshAt = &now
	a.UpdatedAt = now
	if err := s.store.UpdateOAuthAccount(ctx, a); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "oauth refresh: failed to persist new tokens",
			slog.String("account", a.ID), slog.String("error", err.Error()),
		)
		return
	}

	s.scheduleOne(ctx, a)
}

func (s *Scheduler) onRefreshFailure(ctx context.Context, a *bridge.OAuthAccount, msg string) {
	failures := a.ConsecutiveFailures + 1
	status := a.HealthStatus
	active := a.IsActive
	if failures >= maxConsecutiveRefreshFailures {
		status = bridge.HealthExpired
		active = false
	}
	a.HealthStatus = status
	a.IsActive = active
	a.ConsecutiveFailures = failures
	a.ErrorMessage = msg
	a.UpdatedAt = time.Now()
	if err := s.store.UpdateOAuthAccount(ctx, a); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "oauth refresh: failed to record failure",
			slog.String("account", a.ID), slog.String("error", err.Error()),
		)
	}
	slog.LogAttrs(ctx, slog.LevelWarn, "oauth token refresh failed",
		slog.String("account", a.ID), slog.Int("consecutive_failures", failures), slog.String("error", msg),
	)
}
