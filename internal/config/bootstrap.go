// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/storage"
	"github.com/relayhq/bridge/internal/vault"
)

// settingVaultSalt and settingVaultPassphrase are the Setting keys the
// fallback AES-GCM vault's secret material is persisted under when no
// passphrase is supplied in Config and no OS secret store is wired. They
// are not part of the spec's named settings surface and are never listed
// by settings:getAll.
const (
	settingVaultSalt       = "_internal.vault.salt"
	settingVaultPassphrase = "_internal.vault.passphrase"
)

// defaultSettings enumerates every Setting key relayd expects to find on
// first boot, with its default JSON-encoded value.
func defaultSettings() map[string]any {
	return map[string]any{
		"proxy.port":      9527,
		"proxy.host":      "127.0.0.1",
		"proxy.autoStart": false,
		"proxy.timeout":   60000,

		"proxy.retry.enabled":    true,
		"proxy.retry.maxRetries": 3,
		"proxy.retry.retryDelay": 1000,
		"proxy.retry.retryOn":    []int{429, 500, 502, 503, 504},

		"proxy.circuitBreaker.enabled":      true,
		"proxy.circuitBreaker.threshold":    5,
		"proxy.circuitBreaker.resetTimeout": 30000,

		"proxy.cors.enabled": true,
		"proxy.cors.origins": []string{"*"},

		"proxy.sse.heartbeatInterval":  30000,
		"proxy.sse.connectionTimeout":  300000,

		"logs.enabled":          true,
		"logs.retentionDays":    30,
		"logs.maxEntries":       10000,
		"logs.saveRequestBody":  false,
		"logs.saveResponseBody": false,
		"logs.maxBodySize":      10240,

		"tunnel.autoStart":     false,
		"tunnel.requireApiKey": true,
		"tunnel.api.baseUrl":   "",

		"tunnel.rateLimit.enabled":           true,
		"tunnel.rateLimit.requestsPerMinute": 60,

		"tunnel.health.checkInterval": 30000,
		"tunnel.health.maxRetries":    3,

		"security.unifiedApiKey.enabled":  false,
		"security.masterPassword.enabled": false,
		"security.masterPassword.hash":    "",

		"presets.remoteUrl":  "",
		"presets.autoUpdate": true,
		"presets.lastUpdated": "",

		"analytics.enabled": false,
		"analytics.userId":  "",

		"appearance.theme":    "system",
		"appearance.language": "en-US",
	}
}

// Bootstrap seeds the Setting table with defaults on first run and, if no
// API key exists yet, provisions one from cfg.Auth.AdminKey (or generates a
// random one, logging it exactly once since only its hash is retrievable
// afterward).
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	if err := seedSettings(ctx, store); err != nil {
		return err
	}
	return seedAdminKey(ctx, cfg, store)
}

func seedSettings(ctx context.Context, store storage.Store) error {
	now := time.Now()
	for key, value := range defaultSettings() {
		if _, err := store.GetSetting(ctx, key); err == nil {
			continue // already set, e.g. by the admin API or a previous run
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		if err := store.PutSetting(ctx, &bridge.Setting{Key: key, Value: raw, UpdatedAt: now}); err != nil {
			return err
		}
	}
	return nil
}

func seedAdminKey(ctx context.Context, cfg *Config, store storage.Store) error {
	existing, err := store.ListKeys(ctx, 0, 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	raw := cfg.Auth.AdminKey
	generated := raw == ""
	if generated {
		raw, err = GenerateAdminKey()
		if err != nil {
			return err
		}
	}

	key := &bridge.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		KeyHash:   bridge.HashKey(raw),
		KeyPrefix: raw[:len(bridge.APIKeyPrefix)+6],
		Label:     "bootstrap",
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := store.CreateKey(ctx, key); err != nil {
		return err
	}
	if generated {
		slog.Warn("generated admin API key, shown only this once", "key", raw)
	}
	return nil
}

// GenerateAdminKey creates a random bootstrap API key and returns the
// plaintext.
func GenerateAdminKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return bridge.APIKeyPrefix + hex.EncodeToString(buf), nil
}

// EnsureVaultSecret resolves the passphrase and salt used to construct the
// fallback AES-GCM vault. A passphrase configured explicitly is used as-is,
// with a random salt minted and persisted alongside it on first boot; when
// no passphrase is configured, both are generated once and persisted to the
// Setting store so restarts can still decrypt previously sealed values.
func EnsureVaultSecret(ctx context.Context, cfg *Config, store storage.Store) (passphrase string, salt []byte, err error) {
	salt, err = ensureVaultSalt(ctx, store)
	if err != nil {
		return "", nil, err
	}

	if cfg.Vault.Passphrase != "" {
		return cfg.Vault.Passphrase, salt, nil
	}

	if s, err := store.GetSetting(ctx, settingVaultPassphrase); err == nil {
		var encoded string
		if err := json.Unmarshal(s.Value, &encoded); err == nil {
			if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
				return string(decoded), salt, nil
			}
		}
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, err
	}
	passphrase = string(buf)
	raw, err := json.Marshal(base64.StdEncoding.EncodeToString(buf))
	if err != nil {
		return "", nil, err
	}
	if err := store.PutSetting(ctx, &bridge.Setting{Key: settingVaultPassphrase, Value: raw, UpdatedAt: time.Now()}); err != nil {
		return "", nil, err
	}
	return passphrase, salt, nil
}

func ensureVaultSalt(ctx context.Context, store storage.Store) ([]byte, error) {
	if s, err := store.GetSetting(ctx, settingVaultSalt); err == nil {
		var encoded string
		if err := json.Unmarshal(s.Value, &encoded); err == nil {
			if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil {
				return decoded, nil
			}
		}
	}

	salt, err := vault.NewSalt()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(base64.StdEncoding.EncodeToString(salt))
	if err != nil {
		return nil, err
	}
	if err := store.PutSetting(ctx, &bridge.Setting{Key: settingVaultSalt, Value: raw, UpdatedAt: time.Now()}); err != nil {
		return nil, err
	}
	return salt, nil
}
