package sqlite

import (
	"context"
	"database/sql"
	"time"

	bridge "github.com/relayhq/bridge/internal"
)

// CreateKey inserts a new API key.
func (s *Store) CreateKey(ctx context.Context, key *bridge.APIKey) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, label, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, nullStr(key.Label), boolToInt(key.Enabled), timeToStr(key.CreatedAt),
	)
	return err
}

// GetKeyByHash retrieves an API key by its SHA-256 hash.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*bridge.APIKey, error) {
	row := s.read.QueryRowContext(ctx, apiKeySelect+` WHERE key_hash = ?`, hash)
	return scanKey(row)
}

// ListKeys returns API keys ordered by creation time, most recent first.
func (s *Store) ListKeys(ctx context.Context, offset, limit int) ([]*bridge.APIKey, error) {
	rows, err := s.read.QueryContext(ctx,
		apiKeySelect+` ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*bridge.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKey updates an existing API key's mutable fields.
func (s *Store) UpdateKey(ctx context.Context, key *bridge.APIKey) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET label=?, enabled=? WHERE id=?`,
		nullStr(key.Label), boolToInt(key.Enabled), key.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// DeleteKey removes an API key.
func (s *Store) DeleteKey(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "api key")
}

// TouchKeyUsed updates the last_used_at timestamp to now.
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at=? WHERE id=?`, timeToStr(time.Now()), id,
	)
	return err
}

const apiKeySelect = `SELECT id, key_hash, key_prefix, label, enabled, last_used_at, created_at FROM api_keys`

func scanKey(row scanner) (*bridge.APIKey, error) {
	var k bridge.APIKey
	var label, lastUsedAt sql.NullString
	var enabled int
	var createdAt string

	err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &label, &enabled, &lastUsedAt, &createdAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	k.Label = label.String
	k.Enabled = enabled != 0
	k.LastUsedAt = parseTime(lastUsedAt)
	k.CreatedAt = mustParseTime(createdAt)
	return &k, nil
}
