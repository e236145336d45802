package sqlite

import (
	"context"
	"database/sql"

	bridge "github.com/relayhq/bridge/internal"
)

// CreateOAuthAccount inserts a new pooled OAuth account.
func (s *Store) CreateOAuthAccount(ctx context.Context, a *bridge.OAuthAccount) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO oauth_accounts (id, provider_type, email, access_token_enc, refresh_token_enc,
		 expires_at, token_type, is_active, health_status, consecutive_failures, pool_enabled, pool_weight,
		 last_used_at, last_refresh_at, error_message, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProviderType, a.Email, a.AccessTokenEnc, a.RefreshTokenEnc,
		timeToStr(a.ExpiresAt), a.TokenType, boolToInt(a.IsActive), string(a.HealthStatus), a.ConsecutiveFailures,
		boolToInt(a.PoolEnabled), a.PoolWeight,
		timePtrToStr(a.LastUsedAt), timePtrToStr(a.LastRefreshAt), nullStr(a.ErrorMessage), nullBytes(a.Metadata),
		timeToStr(a.CreatedAt), timeToStr(a.UpdatedAt),
	)
	return err
}

// GetOAuthAccount retrieves an account by ID.
func (s *Store) GetOAuthAccount(ctx context.Context, id string) (*bridge.OAuthAccount, error) {
	row := s.read.QueryRowContext(ctx, oauthAccountSelect+` WHERE id = ?`, id)
	return scanOAuthAccount(row)
}

// ListOAuthAccounts returns accounts for a provider type, or all accounts
// when providerType is empty. Ordered by pool_weight descending to match
// the pool's tie-break preference.
func (s *Store) ListOAuthAccounts(ctx context.Context, providerType string) ([]*bridge.OAuthAccount, error) {
	query := oauthAccountSelect
	args := []any{}
	if providerType != "" {
		query += ` WHERE provider_type = ?`
		args = append(args, providerType)
	}
	query += ` ORDER BY pool_weight DESC`

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.OAuthAccount
	for rows.Next() {
		a, err := scanOAuthAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateOAuthAccount updates an account in place, including health-state and
// token fields; callers re-read-then-write the full row.
func (s *Store) UpdateOAuthAccount(ctx context.Context, a *bridge.OAuthAccount) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE oauth_accounts SET email=?, access_token_enc=?, refresh_token_enc=?, expires_at=?,
		 token_type=?, is_active=?, health_status=?, consecutive_failures=?, pool_enabled=?, pool_weight=?,
		 last_used_at=?, last_refresh_at=?, error_message=?, metadata=?, updated_at=? WHERE id=?`,
		a.Email, a.AccessTokenEnc, a.RefreshTokenEnc, timeToStr(a.ExpiresAt),
		a.TokenType, boolToInt(a.IsActive), string(a.HealthStatus), a.ConsecutiveFailures,
		boolToInt(a.PoolEnabled), a.PoolWeight,
		timePtrToStr(a.LastUsedAt), timePtrToStr(a.LastRefreshAt), nullStr(a.ErrorMessage), nullBytes(a.Metadata),
		timeToStr(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "oauth account")
}

// DeleteOAuthAccount removes an account.
func (s *Store) DeleteOAuthAccount(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM oauth_accounts WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "oauth account")
}

const oauthAccountSelect = `SELECT id, provider_type, email, access_token_enc, refresh_token_enc,
	 expires_at, token_type, is_active, health_status, consecutive_failures, pool_enabled, pool_weight,
	 last_used_at, last_refresh_at, error_message, metadata, created_at, updated_at
	 FROM oauth_accounts`

func scanOAuthAccount(row scanner) (*bridge.OAuthAccount, error) {
	var a bridge.OAuthAccount
	var healthStatus string
	var isActive, poolEnabled int
	var expiresAt, createdAt, updatedAt string
	var lastUsedAt, lastRefreshAt, errorMessage sql.NullString
	var metadata sql.NullString

	err := row.Scan(&a.ID, &a.ProviderType, &a.Email, &a.AccessTokenEnc, &a.RefreshTokenEnc,
		&expiresAt, &a.TokenType, &isActive, &healthStatus, &a.ConsecutiveFailures, &poolEnabled, &a.PoolWeight,
		&lastUsedAt, &lastRefreshAt, &errorMessage, &metadata, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}

	a.ExpiresAt = mustParseTime(expiresAt)
	a.IsActive = isActive != 0
	a.HealthStatus = bridge.HealthStatus(healthStatus)
	a.PoolEnabled = poolEnabled != 0
	a.LastUsedAt = parseTime(lastUsedAt)
	a.LastRefreshAt = parseTime(lastRefreshAt)
	a.ErrorMessage = errorMessage.String
	if metadata.Valid {
		a.Metadata = []byte(metadata.String)
	}
	a.CreatedAt = mustParseTime(createdAt)
	a.UpdatedAt = mustParseTime(updatedAt)
	return &a, nil
}
