package tunnel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	bridge "github.com/relayhq/bridge/internal"
)

type fakeStore struct {
	mu  sync.Mutex
	cfg *bridge.TunnelConfig
}

func (s *fakeStore) GetTunnelConfig(context.Context) (*bridge.TunnelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, nil
}

func (s *fakeStore) PutTunnelConfig(_ context.Context, cfg *bridge.TunnelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

func (s *fakeStore) AppendTunnelAccessLog(context.Context, *bridge.TunnelAccessLog) error { return nil }

func (s *fakeStore) FoldTunnelStats(context.Context, string, int64, int64, int64, int64, float64, int64) error {
	return nil
}

type fakeAPI struct {
	created CreatedTunnel
}

func (a *fakeAPI) CreateTunnel(context.Context, string) (CreatedTunnel, error) {
	return a.created, nil
}

type passthroughCipher struct{}

func (passthroughCipher) Encrypt(plaintext string) ([]byte, error) { return []byte(plaintext), nil }
func (passthroughCipher) Decrypt(ciphertext []byte) (string, error) {
	return string(ciphertext), nil
}

func TestSupervisorProvisionPersistsConfig(t *testing.T) {
	t.Parallel()

	creds, _ := json.Marshal(map[string]string{"token": "secret"})
	store := &fakeStore{}
	api := &fakeAPI{created: CreatedTunnel{TunnelID: "t1", Subdomain: "alice", Domain: "relay.dev", Credentials: creds}}

	sup := NewSupervisor(store, api, nil, passthroughCipher{}, FrontEnd{Host: "127.0.0.1", Port: 8080}, t.TempDir())

	cfg, err := sup.provision(context.Background())
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if cfg.Hostname != "alice.relay.dev" {
		t.Errorf("hostname = %q, want alice.relay.dev", cfg.Hostname)
	}
	if store.cfg == nil || store.cfg.TunnelID != "t1" {
		t.Errorf("config not persisted: %+v", store.cfg)
	}
	if cfg.DeviceID == "" {
		t.Error("device id was not generated")
	}
}

func TestSupervisorWriteHelperFiles(t *testing.T) {
	t.Parallel()

	creds, _ := json.Marshal(map[string]string{"token": "secret"})
	store := &fakeStore{}
	sup := NewSupervisor(store, &fakeAPI{}, nil, passthroughCipher{}, FrontEnd{Host: "127.0.0.1", Port: 9090}, t.TempDir())

	cfg := &bridge.TunnelConfig{CredentialsEnc: creds}
	credPath, configPath, err := sup.writeHelperFiles(cfg)
	if err != nil {
		t.Fatalf("writeHelperFiles: %v", err)
	}
	if credPath == "" || configPath == "" {
		t.Fatal("expected non-empty file paths")
	}
}

func TestSupervisorInitialState(t *testing.T) {
	t.Parallel()
	sup := NewSupervisor(&fakeStore{}, &fakeAPI{}, nil, passthroughCipher{}, FrontEnd{}, t.TempDir())
	if sup.State() != bridge.TunnelInactive {
		t.Errorf("initial state = %s, want inactive", sup.State())
	}
}
