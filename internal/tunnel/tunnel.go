// Package tunnel supervises the vendor tunnel helper subprocess that
// exposes the local HTTP front end on a public subdomain.
package tunnel

import (
	"context"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

// Store is the persistence contract the supervisor needs. It matches
// sqlite.Store's own method names directly.
type Store interface {
	GetTunnelConfig(ctx context.Context) (*bridge.TunnelConfig, error)
	PutTunnelConfig(ctx context.Context, cfg *bridge.TunnelConfig) error
	AppendTunnelAccessLog(ctx context.Context, l *bridge.TunnelAccessLog) error
	FoldTunnelStats(ctx context.Context, date string, reqs, bytesUp, bytesDown, errs int64, latencyMillis float64, uniqueIPs int64) error
}

// API talks to the vendor's tunnel-provisioning backend.
type API interface {
	// CreateTunnel registers a new tunnel for deviceID and returns its
	// assigned identity.
	CreateTunnel(ctx context.Context, deviceID string) (CreatedTunnel, error)
}

// CreatedTunnel is the identity a fresh tunnel is assigned on creation.
type CreatedTunnel struct {
	TunnelID    string
	Subdomain   string
	Domain      string
	Credentials []byte // opaque JSON, persisted encrypted
}

// HelperLocator finds (or fetches) the platform tunnel helper binary.
type HelperLocator interface {
	Locate(ctx context.Context) (path string, err error)
}

// FrontEnd is the local HTTP listener the helper process tunnels traffic
// to.
type FrontEnd struct {
	Host string
	Port int
}

const (
	startTimeout        = 30 * time.Second
	restartDelay        = 5 * time.Second
	maxRestartAttempts  = 3
	gracefulStopTimeout = 5 * time.Second
	registeredLogLine   = "Registered tunnel connection"
)
