package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel/trace"

	"github.com/relayhq/bridge/internal/adapter"
	"github.com/relayhq/bridge/internal/adapter/anthropic"
	"github.com/relayhq/bridge/internal/adapter/gemini"
	"github.com/relayhq/bridge/internal/adapter/openai"
	"github.com/relayhq/bridge/internal/adapter/responses"
	"github.com/relayhq/bridge/internal/auth"
	"github.com/relayhq/bridge/internal/cache"
	"github.com/relayhq/bridge/internal/config"
	"github.com/relayhq/bridge/internal/oauth"
	"github.com/relayhq/bridge/internal/pipeline"
	"github.com/relayhq/bridge/internal/presets"
	"github.com/relayhq/bridge/internal/ratelimit"
	"github.com/relayhq/bridge/internal/router"
	"github.com/relayhq/bridge/internal/server"
	"github.com/relayhq/bridge/internal/storage/sqlite"
	"github.com/relayhq/bridge/internal/telemetry"
	"github.com/relayhq/bridge/internal/tunnel"
	"github.com/relayhq/bridge/internal/vault"
	"github.com/relayhq/bridge/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting relayd", "version", version, "addr", cfg.Server.Addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("database opened", "dsn", cfg.Database.DSN)

	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	passphrase, salt, err := config.EnsureVaultSecret(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("vault secret: %w", err)
	}
	v, err := vault.New(passphrase, salt)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	// Shared DNS cache for every outbound provider HTTP client.
	dnsResolver := &dnscache.Resolver{}
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for range t.C {
			dnsResolver.Refresh(true)
		}
	}()
	httpClient := &http.Client{Transport: adapter.NewTransport(dnsResolver, true)}

	reg := adapter.NewRegistry()
	reg.Register("openai", openai.New("openai", adapter.Info{BaseURL: "https://api.openai.com", ChatPath: "/v1/chat/completions", ModelsPath: "/v1/models"}))
	reg.Register("openai-responses", responses.New(adapter.Info{BaseURL: "https://api.openai.com", ChatPath: "/v1/responses", ModelsPath: "/v1/models"}))
	reg.Register("anthropic", anthropic.New(adapter.Info{BaseURL: "https://api.anthropic.com", ChatPath: "/v1/messages", ModelsPath: "/v1/models"}))
	reg.Register("google", gemini.New(adapter.Info{BaseURL: "https://generativelanguage.googleapis.com", ChatPath: "/v1beta/models/{model}:generateContent", ModelsPath: "/v1beta/models"}))
	for _, dialect := range adapter.OpenAICompatibleDialects {
		reg.Register(dialect, openai.New(dialect, adapter.Info{BaseURL: "", ChatPath: "/v1/chat/completions", ModelsPath: "/v1/models"}))
	}
	slog.Info("adapters registered", "dialects", reg.List())

	pool := oauth.NewPool(store, v)

	refreshers := oauth.Refreshers{}
	if cfg.OAuth.CodexClientID != "" {
		refreshers[oauth.ProviderCodex] = oauth.NewCodexRefresher(cfg.OAuth.CodexClientID)
	}
	if cfg.OAuth.AntigravityClientID != "" {
		refreshers[oauth.ProviderAntigravity] = oauth.NewAntigravityRefresher(cfg.OAuth.AntigravityClientID, cfg.OAuth.AntigravityClientSecret)
	}
	scheduler := oauth.NewScheduler(store, v, refreshers)

	oauthLoginConfigs := map[string]oauth.LoginConfig{}
	if cfg.OAuth.CodexClientID != "" {
		oauthLoginConfigs[oauth.ProviderCodex] = oauth.NewCodexLoginConfig(cfg.OAuth.CodexClientID, cfg.OAuth.CodexLoopbackPort)
	}
	if cfg.OAuth.AntigravityClientID != "" {
		oauthLoginConfigs[oauth.ProviderAntigravity] = oauth.NewAntigravityLoginConfig(
			cfg.OAuth.AntigravityClientID, cfg.OAuth.AntigravityClientSecret, cfg.OAuth.AntigravityLoopbackPort,
		)
	}
	antigravityClient := oauth.NewAntigravityClient(httpClient)

	presetLoader, err := presets.New(store, httpClient)
	if err != nil {
		return fmt.Errorf("init presets: %w", err)
	}

	dataDir, err := dataDirectory()
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	tunnelAPI := tunnel.NewHTTPAPI(cfg.Tunnel.APIBaseURL, cfg.Tunnel.APIKey, httpClient)
	tunnelLocator := &tunnel.DefaultLocator{UserDataDir: dataDir, HTTPClient: httpClient}
	frontEndHost, frontEndPort := frontEndAddr(cfg.Server.Addr)
	supervisor := tunnel.NewSupervisor(store, tunnelAPI, tunnelLocator, v, tunnel.FrontEnd{Host: frontEndHost, Port: frontEndPort}, dataDir)

	apiKeyAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	routerSvc := router.New(store, v, reg, pool)

	pipelineCfg := pipeline.DefaultConfig()
	pipelineSvc := pipeline.New(httpClient, store, pipelineCfg, slog.Default())

	rateLimiter := ratelimit.NewRegistry()
	slog.Info("rate limits configured", "default_rpm", cfg.RateLimits.DefaultRPM, "default_tpm", cfg.RateLimits.DefaultTPM)

	var responseCache server.Cache
	if cfg.Cache.Enabled {
		mc, cacheErr := cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.DefaultTTL)
		if cacheErr != nil {
			return cacheErr
		}
		responseCache = mc
		slog.Info("response cache enabled", "max_size", cfg.Cache.MaxSize, "default_ttl", cfg.Cache.DefaultTTL)
	}

	runner := worker.NewRunner(scheduler, supervisor)

	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		promRegistry.MustRegister(collectors.NewGoCollector())
		metrics = telemetry.NewMetrics(promRegistry)
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})
		slog.Info("prometheus metrics enabled")
	}

	var tracer trace.Tracer
	var tracingShutdown func(context.Context) error
	if cfg.Telemetry.Tracing.Enabled {
		endpoint := cfg.Telemetry.Tracing.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		sampleRate := cfg.Telemetry.Tracing.SampleRate
		if sampleRate == 0 {
			sampleRate = 0.1
		}
		shutdown, err := telemetry.SetupTracing(ctx, endpoint, sampleRate)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without tracing", "error", err)
		} else {
			tracingShutdown = shutdown
			tracer = telemetry.Tracer("relayd/server")
			slog.Info("opentelemetry tracing enabled", "endpoint", endpoint, "sample_rate", sampleRate)
		}
	}

	handler := server.New(server.Deps{
		Auth:           apiKeyAuth,
		KeyCache:       apiKeyAuth,
		Router:         routerSvc,
		Pipeline:       pipelineSvc,
		Store:          store,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Tracer:         tracer,
		ReadyCheck:     store.Ping,
		RateLimiter:    rateLimiter,
		Cache:          responseCache,
		DefaultRPM:     cfg.RateLimits.DefaultRPM,
		DefaultTPM:     cfg.RateLimits.DefaultTPM,

		Presets: presetLoader,

		OAuthPool:         pool,
		OAuthLoginConfigs: oauthLoginConfigs,
		OAuthRefreshers:   refreshers,
		OAuthCipher:       v,
		Antigravity:       antigravityClient,

		Tunnel:        supervisor,
		TunnelLocator: tunnelLocator,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- runner.Run(workerCtx)
	}()

	go func() {
		t := time.NewTicker(10 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-t.C:
				if n := rateLimiter.EvictStale(time.Now().Add(-1 * time.Hour)); n > 0 {
					slog.Info("rate limiter eviction", "evicted", n)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("universal API enabled", "endpoints", []string{
		"POST /v1/chat/completions",
		"POST /v1/responses",
		"POST /v1/messages",
		"GET  /v1/models",
	})
	slog.Info("relayd ready", "addr", cfg.Server.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		workerCancel()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		workerCancel()
		return err
	}

	workerCancel()
	if err := <-workerDone; err != nil {
		slog.Error("worker shutdown error", "error", err)
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			slog.Error("tracing shutdown error", "error", err)
		}
	}

	slog.Info("relayd stopped")
	return nil
}

// dataDirectory returns the per-user directory the tunnel helper writes its
// credentials, config, and fallback binary under.
func dataDirectory() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "relayd"), nil
}

// frontEndAddr splits a listen address like "127.0.0.1:9527" into the host
// and port the tunnel helper should forward local traffic to. A bare ":port"
// address (listen on all interfaces) forwards to 127.0.0.1 instead, since
// the helper always dials loopback.
func frontEndAddr(addr string) (host string, port int) {
	h, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "127.0.0.1", 0
	}
	if h == "" {
		h = "127.0.0.1"
	}
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return h, 0
	}
	return h, port
}
