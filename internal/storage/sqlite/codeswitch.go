package sqlite

import (
	"context"

	bridge "github.com/relayhq/bridge/internal"
)

// CreateCodeSwitchConfig inserts a new CLI binding. Deactivating a config
// never deletes historical rows, so create is append-only.
func (s *Store) CreateCodeSwitchConfig(ctx context.Context, c *bridge.CodeSwitchConfig) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO code_switch_configs (id, cli, provider_id, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.CLI, c.ProviderID, boolToInt(c.Active), timeToStr(c.CreatedAt),
	)
	return err
}

// GetActiveCodeSwitchConfig returns the single active config for a CLI, if any.
func (s *Store) GetActiveCodeSwitchConfig(ctx context.Context, cli string) (*bridge.CodeSwitchConfig, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, cli, provider_id, active, created_at FROM code_switch_configs WHERE cli = ? AND active = 1`,
		cli,
	)
	return scanCodeSwitchConfig(row)
}

// ListCodeSwitchConfigs returns all configs (active and historical) for a CLI.
func (s *Store) ListCodeSwitchConfigs(ctx context.Context, cli string) ([]*bridge.CodeSwitchConfig, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, cli, provider_id, active, created_at FROM code_switch_configs WHERE cli = ? ORDER BY created_at DESC`,
		cli,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.CodeSwitchConfig
	for rows.Next() {
		c, err := scanCodeSwitchConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCodeSwitchActive flips a config's active flag. The caller is
// responsible for deactivating any previously active config for the same
// CLI first, since at most one active set is allowed per CLI.
func (s *Store) SetCodeSwitchActive(ctx context.Context, id string, active bool) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE code_switch_configs SET active=? WHERE id=?`, boolToInt(active), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "code switch config")
}

func scanCodeSwitchConfig(row scanner) (*bridge.CodeSwitchConfig, error) {
	var c bridge.CodeSwitchConfig
	var active int
	var createdAt string
	if err := row.Scan(&c.ID, &c.CLI, &c.ProviderID, &active, &createdAt); err != nil {
		return nil, notFoundErr(err)
	}
	c.Active = active != 0
	c.CreatedAt = mustParseTime(createdAt)
	return &c, nil
}

// UpsertCodeModelMapping inserts or replaces a mapping keyed by
// (code_switch_id, provider_id, source_model, mapping_type).
func (s *Store) UpsertCodeModelMapping(ctx context.Context, m *bridge.CodeModelMapping) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO code_model_mappings (id, code_switch_id, provider_id, source_model, target_model, mapping_type)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(code_switch_id, provider_id, source_model, mapping_type)
		 DO UPDATE SET target_model=excluded.target_model`,
		m.ID, m.CodeSwitchID, m.ProviderID, m.SourceModel, m.TargetModel, string(m.MappingType),
	)
	return err
}

// ListCodeModelMappings returns all mappings for one code-switch config.
func (s *Store) ListCodeModelMappings(ctx context.Context, codeSwitchID string) ([]*bridge.CodeModelMapping, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, code_switch_id, provider_id, source_model, target_model, mapping_type
		 FROM code_model_mappings WHERE code_switch_id = ?`, codeSwitchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.CodeModelMapping
	for rows.Next() {
		var m bridge.CodeModelMapping
		var mappingType string
		if err := rows.Scan(&m.ID, &m.CodeSwitchID, &m.ProviderID, &m.SourceModel, &m.TargetModel, &mappingType); err != nil {
			return nil, err
		}
		m.MappingType = bridge.CodeMappingType(mappingType)
		out = append(out, &m)
	}
	return out, rows.Err()
}
