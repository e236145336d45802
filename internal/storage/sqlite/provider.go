package sqlite

import (
	"context"
	"database/sql"

	bridge "github.com/relayhq/bridge/internal"
)

// CreateProvider inserts a new provider.
func (s *Store) CreateProvider(ctx context.Context, p *bridge.Provider) error {
	models, err := marshalJSON(p.Models)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO providers (id, name, adapter_type, api_key_enc, base_url, chat_path, models_path,
		 models, enabled, sort_order, logo, color, passthrough, passthrough_slug,
		 is_pool, pool_strategy, oauth_account_id, oauth_provider_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.AdapterType, p.APIKeyEnc, p.BaseURL, p.ChatPath, p.ModelsPath,
		models, boolToInt(p.Enabled), p.SortOrder, nullStr(p.Logo), nullStr(p.Color),
		boolToInt(p.Passthrough), nullStr(p.PassthroughSlug),
		boolToInt(p.IsPool), nullStr(p.PoolStrategy), nullStr(p.OAuthAccountID), nullStr(p.OAuthProviderType),
		timeToStr(p.CreatedAt), timeToStr(p.UpdatedAt),
	)
	return err
}

// GetProvider retrieves a provider by ID.
func (s *Store) GetProvider(ctx context.Context, id string) (*bridge.Provider, error) {
	row := s.read.QueryRowContext(ctx, providerSelect+` WHERE id = ?`, id)
	return scanProvider(row)
}

// GetProviderBySlug retrieves a provider by its unique passthrough slug.
func (s *Store) GetProviderBySlug(ctx context.Context, slug string) (*bridge.Provider, error) {
	row := s.read.QueryRowContext(ctx, providerSelect+` WHERE passthrough_slug = ?`, slug)
	return scanProvider(row)
}

// ListProviders returns all providers ordered for display.
func (s *Store) ListProviders(ctx context.Context) ([]*bridge.Provider, error) {
	rows, err := s.read.QueryContext(ctx, providerSelect+` ORDER BY sort_order ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProvider updates a provider in place.
func (s *Store) UpdateProvider(ctx context.Context, p *bridge.Provider) error {
	models, err := marshalJSON(p.Models)
	if err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE providers SET name=?, adapter_type=?, api_key_enc=?, base_url=?, chat_path=?, models_path=?,
		 models=?, enabled=?, sort_order=?, logo=?, color=?, passthrough=?, passthrough_slug=?,
		 is_pool=?, pool_strategy=?, oauth_account_id=?, oauth_provider_type=?, updated_at=?
		 WHERE id=?`,
		p.Name, p.AdapterType, p.APIKeyEnc, p.BaseURL, p.ChatPath, p.ModelsPath,
		models, boolToInt(p.Enabled), p.SortOrder, nullStr(p.Logo), nullStr(p.Color),
		boolToInt(p.Passthrough), nullStr(p.PassthroughSlug),
		boolToInt(p.IsPool), nullStr(p.PoolStrategy), nullStr(p.OAuthAccountID), nullStr(p.OAuthProviderType),
		timeToStr(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "provider")
}

// DeleteProvider removes a provider.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM providers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "provider")
}

const providerSelect = `SELECT id, name, adapter_type, api_key_enc, base_url, chat_path, models_path,
	 models, enabled, sort_order, logo, color, passthrough, passthrough_slug,
	 is_pool, pool_strategy, oauth_account_id, oauth_provider_type, created_at, updated_at
	 FROM providers`

func scanProvider(row scanner) (*bridge.Provider, error) {
	var p bridge.Provider
	var modelsJSON sql.NullString
	var logo, color, slug, poolStrategy, oauthAccountID, oauthProviderType sql.NullString
	var enabled, passthrough, isPool int
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &p.Name, &p.AdapterType, &p.APIKeyEnc, &p.BaseURL, &p.ChatPath, &p.ModelsPath,
		&modelsJSON, &enabled, &p.SortOrder, &logo, &color, &passthrough, &slug,
		&isPool, &poolStrategy, &oauthAccountID, &oauthProviderType, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, notFoundErr(err)
	}

	p.Enabled = enabled != 0
	p.Passthrough = passthrough != 0
	p.IsPool = isPool != 0
	p.Logo = logo.String
	p.Color = color.String
	p.PassthroughSlug = slug.String
	p.PoolStrategy = poolStrategy.String
	p.OAuthAccountID = oauthAccountID.String
	p.OAuthProviderType = oauthProviderType.String
	p.CreatedAt = mustParseTime(createdAt)
	p.UpdatedAt = mustParseTime(updatedAt)

	models, err := unmarshalStringSlice(modelsJSON)
	if err != nil {
		return nil, err
	}
	p.Models = models
	return &p, nil
}
