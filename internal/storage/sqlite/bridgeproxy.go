package sqlite

import (
	"context"
	"database/sql"

	bridge "github.com/relayhq/bridge/internal"
)

// CreateProxy inserts a new bridge proxy after checking for outbound cycles.
func (s *Store) CreateProxy(ctx context.Context, p *bridge.BridgeProxy) error {
	if err := s.checkProxyCycle(ctx, p.ID, p.OutboundKind, p.OutboundID); err != nil {
		return err
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO bridge_proxies (id, name, inbound_adapter, outbound_kind, outbound_id, proxy_path, enabled, sort_order, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.InboundAdapter, string(p.OutboundKind), p.OutboundID, p.ProxyPath,
		boolToInt(p.Enabled), p.SortOrder, timeToStr(p.CreatedAt), timeToStr(p.UpdatedAt),
	)
	return err
}

// GetProxy retrieves a proxy by ID.
func (s *Store) GetProxy(ctx context.Context, id string) (*bridge.BridgeProxy, error) {
	row := s.read.QueryRowContext(ctx, proxySelect+` WHERE id = ?`, id)
	return scanProxy(row)
}

// GetProxyByPath retrieves a proxy by its unique mount path.
func (s *Store) GetProxyByPath(ctx context.Context, path string) (*bridge.BridgeProxy, error) {
	row := s.read.QueryRowContext(ctx, proxySelect+` WHERE proxy_path = ?`, path)
	return scanProxy(row)
}

// ListProxies returns all bridge proxies ordered for display.
func (s *Store) ListProxies(ctx context.Context) ([]*bridge.BridgeProxy, error) {
	rows, err := s.read.QueryContext(ctx, proxySelect+` ORDER BY sort_order ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.BridgeProxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProxy updates a proxy in place after re-checking for outbound cycles.
func (s *Store) UpdateProxy(ctx context.Context, p *bridge.BridgeProxy) error {
	if err := s.checkProxyCycle(ctx, p.ID, p.OutboundKind, p.OutboundID); err != nil {
		return err
	}
	result, err := s.write.ExecContext(ctx,
		`UPDATE bridge_proxies SET name=?, inbound_adapter=?, outbound_kind=?, outbound_id=?,
		 proxy_path=?, enabled=?, sort_order=?, updated_at=? WHERE id=?`,
		p.Name, p.InboundAdapter, string(p.OutboundKind), p.OutboundID,
		p.ProxyPath, boolToInt(p.Enabled), p.SortOrder, timeToStr(p.UpdatedAt), p.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "bridge proxy")
}

// DeleteProxy removes a proxy; model mappings cascade via foreign key.
func (s *Store) DeleteProxy(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM bridge_proxies WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "bridge proxy")
}

// checkProxyCycle walks the outbound chain starting at (outboundKind,
// outboundID) breadth-first; if selfID is ever revisited, the proxy being
// mutated would route back into itself.
func (s *Store) checkProxyCycle(ctx context.Context, selfID string, outboundKind bridge.OutboundKind, outboundID string) error {
	if outboundKind != bridge.OutboundProxy {
		return nil
	}
	visited := map[string]bool{selfID: true}
	queue := []string{outboundID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			return bridge.ErrCircular
		}
		visited[id] = true

		next, err := s.GetProxy(ctx, id)
		if err != nil {
			// Missing id terminates the walk without error; the
			// dangling reference is a separate validation concern.
			continue
		}
		if next.OutboundKind == bridge.OutboundProxy {
			queue = append(queue, next.OutboundID)
		}
	}
	return nil
}

const proxySelect = `SELECT id, name, inbound_adapter, outbound_kind, outbound_id, proxy_path, enabled, sort_order, created_at, updated_at
	 FROM bridge_proxies`

func scanProxy(row scanner) (*bridge.BridgeProxy, error) {
	var p bridge.BridgeProxy
	var outboundKind string
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Name, &p.InboundAdapter, &outboundKind, &p.OutboundID,
		&p.ProxyPath, &enabled, &p.SortOrder, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	p.OutboundKind = bridge.OutboundKind(outboundKind)
	p.Enabled = enabled != 0
	p.CreatedAt = mustParseTime(createdAt)
	p.UpdatedAt = mustParseTime(updatedAt)
	return &p, nil
}

// CreateModelMapping inserts a model mapping row.
func (s *Store) CreateModelMapping(ctx context.Context, m *bridge.ModelMapping) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO model_mappings (id, proxy_id, source_model, target_model, is_default)
		 VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ProxyID, nullStr(m.SourceModel), m.TargetModel, boolToInt(m.IsDefault),
	)
	return err
}

// ListModelMappings returns all mappings for a proxy.
func (s *Store) ListModelMappings(ctx context.Context, proxyID string) ([]*bridge.ModelMapping, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, proxy_id, source_model, target_model, is_default FROM model_mappings WHERE proxy_id = ?`,
		proxyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.ModelMapping
	for rows.Next() {
		var m bridge.ModelMapping
		var source sql.NullString
		var isDefault int
		if err := rows.Scan(&m.ID, &m.ProxyID, &source, &m.TargetModel, &isDefault); err != nil {
			return nil, err
		}
		m.SourceModel = source.String
		m.IsDefault = isDefault != 0
		out = append(out, &m)
	}
	return out, rows.Err()
}

// UpdateModelMapping updates a model mapping in place.
func (s *Store) UpdateModelMapping(ctx context.Context, m *bridge.ModelMapping) error {
	result, err := s.write.ExecContext(ctx,
		`UPDATE model_mappings SET source_model=?, target_model=?, is_default=? WHERE id=?`,
		nullStr(m.SourceModel), m.TargetModel, boolToInt(m.IsDefault), m.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "model mapping")
}

// DeleteModelMapping removes a model mapping.
func (s *Store) DeleteModelMapping(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM model_mappings WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, "model mapping")
}
