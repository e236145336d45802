package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
)

const flowTimeout = 10 * time.Minute

// LoginConfig describes one provider's authorization-code flow wiring.
type LoginConfig struct {
	ProviderType    string // codex | antigravity
	OAuth2          *oauth2.Config
	UsePKCE         bool
	CallbackPath    string // e.g. "/auth/callback" (Codex), "/google/callback" (Antigravity)
	Port            int
	ExtraAuthParams []oauth2.AuthCodeOption
}

// Result is a completed authorization-code exchange, ready to be
// encrypted and persisted as a bridge.OAuthAccount.
type Result struct {
	Tokens Tokens
}

// URLOpener opens an authorization URL for the user, typically in their
// default browser. A headless caller can pass a function that just logs
// the URL.
type URLOpener func(url string) error

// Flow drives one interactive login: starts a loopback listener, opens
// the authorization URL, and waits for the provider's redirect.
type Flow struct {
	cfg LoginConfig
}

// NewFlow creates a Flow for cfg.
func NewFlow(cfg LoginConfig) *Flow {
	return &Flow{cfg: cfg}
}

// Run starts the loopback listener, invokes open with the authorization
// URL, and blocks until the callback arrives, the flow times out after
// ten minutes, or ctx is cancelled.
func (f *Flow) Run(ctx context.Context, open URLOpener) (Result, error) {
	state, err := newState()
	if err != nil {
		return Result{}, fmt.Errorf("oauth: generate state: %w", err)
	}

	var pkce pkcePair
	var authOpts []oauth2.AuthCodeOption
	if f.cfg.UsePKCE {
		pkce = newPKCEPair()
		authOpts = append(authOpts, pkce.authCodeOption())
	}
	authOpts = append(authOpts, f.cfg.ExtraAuthParams...)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", f.cfg.Port))
	if err != nil {
		return Result{}, fmt.Errorf("oauth: listen on loopback port %d: %w", f.cfg.Port, err)
	}

	type callbackResult struct {
		tokens Tokens
		err    error
	}
	resultCh := make(chan callbackResult, 1)
	var once sync.Once
	publish := func(res callbackResult) { once.Do(func() { resultCh <- res }) }

	router := chi.NewRouter()
	router.Get(f.cfg.CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		if msg := q.Get("error"); msg != "" {
			publish(callbackResult{err: fmt.Errorf("oauth: provider returned error: %s", msg)})
			writeFlowPage(w, false, msg)
			return
		}
		if q.Get("state") != state {
			publish(callbackResult{err: errors.New("oauth: state mismatch")})
			writeFlowPage(w, false, "state mismatch")
			return
		}
		code := q.Get("code")
		if code == "" {
			publish(callbackResult{err: errors.New("oauth: callback missing authorization code")})
			writeFlowPage(w, false, "missing authorization code")
			return
		}

		exchangeOpts := authOpts
		if f.cfg.UsePKCE {
			exchangeOpts = append(exchangeOpts, pkce.exchangeOption())
		}
		token, err := f.cfg.OAuth2.Exchange(r.Context(), code, exchangeOpts...)
		if err != nil {
			publish(callbackResult{err: fmt.Errorf("oauth: token exchange: %w", err)})
			writeFlowPage(w, false, "token exchange failed")
			return
		}

		tokens := Tokens{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresAt:    token.Expiry,
			TokenType:    token.TokenType,
		}
		if idToken, ok := token.Extra("id_token").(string); ok {
			tokens.IDToken = idToken
		}
		publish(callbackResult{tokens: tokens})
		writeFlowPage(w, true, "")
	})

	srv := &http.Server{Handler: router}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.LogAttrs(ctx, slog.LevelError, "oauth loopback listener stopped unexpectedly",
				slog.String("error", err.Error()),
			)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authURL := f.cfg.OAuth2.AuthCodeURL(state, authOpts...)
	if err := open(authURL); err != nil {
		return Result{}, fmt.Errorf("oauth: open authorization url: %w", err)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return Result{}, res.err
		}
		return Result{Tokens: res.tokens}, nil
	case <-time.After(flowTimeout):
		return Result{}, errors.New("oauth: authorization timed out after 10 minutes")
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func writeFlowPage(w http.ResponseWriter, ok bool, detail string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if ok {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, flowSuccessHTML)
		return
	}
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, flowFailureHTML, detail)
}

const flowSuccessHTML = `<!doctype html><html><head><title>Signed in</title></head>` +
	`<body><h1>Signed in</h1><p>You can close this window and return to the app.</p></body></html>`

const flowFailureHTML = `<!doctype html><html><head><title>Sign-in failed</title></head>` +
	`<body><h1>Sign-in failed</h1><p>%s</p></body></html>`
