package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v3"

	bridge "github.com/relayhq/bridge/internal"
)

// Cipher encrypts the tunnel credentials blob for storage. Implemented by
// internal/vault; kept as an interface here so this package never imports
// it.
type Cipher interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
}

// Supervisor drives the tunnel helper's lifecycle state machine:
// inactive -> starting -> active -> stopping -> inactive, with any
// failure from the helper or the provisioning API moving it to error.
type Supervisor struct {
	store    Store
	api      API
	locator  HelperLocator
	cipher   Cipher
	frontEnd FrontEnd
	dataDir  string

	mu    sync.Mutex
	state bridge.TunnelState
	proc  *process
	cfg   *bridge.TunnelConfig

	restarts int
}

// NewSupervisor creates a Supervisor. dataDir is the user-data directory
// the helper's config/credentials files and fallback binary are written
// under.
func NewSupervisor(store Store, api API, locator HelperLocator, cipher Cipher, frontEnd FrontEnd, dataDir string) *Supervisor {
	return &Supervisor{
		store:    store,
		api:      api,
		locator:  locator,
		cipher:   cipher,
		frontEnd: frontEnd,
		dataDir:  dataDir,
		state:    bridge.TunnelInactive,
	}
}

// Name implements worker.Worker.
func (s *Supervisor) Name() string { return "tunnel_supervisor" }

// Run implements worker.Worker: it resumes a previously active tunnel (if
// one was configured) and then blocks until ctx is cancelled, at which
// point it stops the helper.
func (s *Supervisor) Run(ctx context.Context) error {
	cfg, err := s.store.GetTunnelConfig(ctx)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "tunnel: failed to load persisted config", slog.String("error", err.Error()))
	} else if cfg != nil {
		if err := s.Start(ctx); err != nil {
			slog.LogAttrs(ctx, slog.LevelError, "tunnel: resume on startup failed", slog.String("error", err.Error()))
		}
	}

	<-ctx.Done()
	s.Stop(context.Background())
	return nil
}

// State reports the current lifecycle state.
func (s *Supervisor) State() bridge.TunnelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state bridge.TunnelState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Start obtains (or reuses) a device tunnel, spawns the helper, and
// resolves once the helper reports it has registered its connection.
func (s *Supervisor) Start(ctx context.Context) error {
	s.setState(bridge.TunnelStarting)

	cfg, err := s.store.GetTunnelConfig(ctx)
	if err != nil && !errors.Is(err, bridge.ErrNotFound) {
		s.setState(bridge.TunnelError)
		return fmt.Errorf("tunnel: load config: %w", err)
	}
	if cfg == nil {
		cfg, err = s.provision(ctx)
		if err != nil {
			s.setState(bridge.TunnelError)
			return err
		}
	}

	binaryPath, err := s.locator.Locate(ctx)
	if err != nil {
		s.setState(bridge.TunnelError)
		return fmt.Errorf("tunnel: locate helper binary: %w", err)
	}

	_, configPath, err := s.writeHelperFiles(cfg)
	if err != nil {
		s.setState(bridge.TunnelError)
		return err
	}

	proc := newProcess(binaryPath, configPath)
	if err := proc.start(ctx); err != nil {
		s.setState(bridge.TunnelError)
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.cfg = cfg
	s.restarts = 0
	s.mu.Unlock()
	s.setState(bridge.TunnelActive)

	go s.monitor(ctx, proc)
	return nil
}

// monitor watches the running helper and auto-restarts it (up to
// maxRestartAttempts, with restartDelay between attempts) if it exits
// unexpectedly while the supervisor believes itself active.
func (s *Supervisor) monitor(ctx context.Context, proc *process) {
	err := proc.wait()
	if s.State() != bridge.TunnelActive {
		return // expected exit via Stop
	}

	slog.LogAttrs(ctx, slog.LevelWarn, "tunnel helper exited unexpectedly", slog.Any("error", err))

	for {
		s.mu.Lock()
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		if attempt > maxRestartAttempts {
			s.setState(bridge.TunnelError)
			return
		}

		select {
		case <-time.After(restartDelay):
		case <-ctx.Done():
			return
		}

		err := s.Start(ctx)
		if err == nil {
			return
		}
		slog.LogAttrs(ctx, slog.LevelError, "tunnel: auto-restart failed", slog.String("error", err.Error()), slog.Int("attempt", attempt))
	}
}

// Stop gracefully terminates the helper, escalating to a forced kill
// after gracefulStopTimeout.
func (s *Supervisor) Stop(_ context.Context) {
	s.setState(bridge.TunnelStopping)
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc != nil {
		_ = proc.stop(gracefulStopTimeout)
	}
	s.setState(bridge.TunnelInactive)
}

func (s *Supervisor) provision(ctx context.Context) (*bridge.TunnelConfig, error) {
	deviceID := uuid.NewString()

	created, err := s.api.CreateTunnel(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("tunnel: create tunnel: %w", err)
	}

	credEnc, err := s.cipher.Encrypt(string(created.Credentials))
	if err != nil {
		return nil, fmt.Errorf("tunnel: encrypt credentials: %w", err)
	}

	cfg := &bridge.TunnelConfig{
		ID:             uuid.NewString(),
		DeviceID:       deviceID,
		TunnelID:       created.TunnelID,
		Subdomain:      created.Subdomain,
		Domain:         created.Domain,
		Hostname:       fmt.Sprintf("%s.%s", created.Subdomain, created.Domain),
		CredentialsEnc: credEnc,
	}
	if err := s.store.PutTunnelConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("tunnel: persist config: %w", err)
	}
	return cfg, nil
}

type helperYAMLConfig struct {
	LocalHost       string `yaml:"local_host"`
	LocalPort       int    `yaml:"local_port"`
	CredentialsFile string `yaml:"credentials_file"`
}

// writeHelperFiles writes the decrypted credentials JSON and the YAML
// config the helper process reads on startup, returning both paths.
func (s *Supervisor) writeHelperFiles(cfg *bridge.TunnelConfig) (credentialsPath, configPath string, err error) {
	if err := os.MkdirAll(s.dataDir, 0o700); err != nil {
		return "", "", fmt.Errorf("tunnel: create data dir: %w", err)
	}

	credentials, err := s.cipher.Decrypt(cfg.CredentialsEnc)
	if err != nil {
		return "", "", fmt.Errorf("tunnel: decrypt credentials: %w", err)
	}

	credentialsPath = filepath.Join(s.dataDir, "tunnel-credentials.json")
	if !json.Valid([]byte(credentials)) {
		return "", "", fmt.Errorf("tunnel: decrypted credentials are not valid JSON")
	}
	if err := os.WriteFile(credentialsPath, []byte(credentials), 0o600); err != nil {
		return "", "", fmt.Errorf("tunnel: write credentials file: %w", err)
	}

	helperCfg := helperYAMLConfig{
		LocalHost:       s.frontEnd.Host,
		LocalPort:       s.frontEnd.Port,
		CredentialsFile: credentialsPath,
	}
	out, err := yaml.Marshal(helperCfg)
	if err != nil {
		return "", "", fmt.Errorf("tunnel: marshal helper config: %w", err)
	}

	configPath = filepath.Join(s.dataDir, "tunnel-config.yaml")
	if err := os.WriteFile(configPath, out, 0o600); err != nil {
		return "", "", fmt.Errorf("tunnel: write helper config: %w", err)
	}
	return credentialsPath, configPath, nil
}
