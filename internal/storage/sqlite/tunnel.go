package sqlite

import (
	"context"
	"database/sql"

	bridge "github.com/relayhq/bridge/internal"
)

// GetTunnelConfig returns the single persistent tunnel identity row, if any.
func (s *Store) GetTunnelConfig(ctx context.Context) (*bridge.TunnelConfig, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, device_id, tunnel_id, subdomain, domain, hostname, credentials_enc, created_at, updated_at
		 FROM tunnel_configs LIMIT 1`,
	)
	var c bridge.TunnelConfig
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.DeviceID, &c.TunnelID, &c.Subdomain, &c.Domain, &c.Hostname,
		&c.CredentialsEnc, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err)
	}
	c.CreatedAt = mustParseTime(createdAt)
	c.UpdatedAt = mustParseTime(updatedAt)
	return &c, nil
}

// PutTunnelConfig upserts the single tunnel identity row.
func (s *Store) PutTunnelConfig(ctx context.Context, c *bridge.TunnelConfig) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO tunnel_configs (id, device_id, tunnel_id, subdomain, domain, hostname, credentials_enc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET tunnel_id=excluded.tunnel_id, subdomain=excluded.subdomain,
		 domain=excluded.domain, hostname=excluded.hostname, credentials_enc=excluded.credentials_enc,
		 updated_at=excluded.updated_at`,
		c.ID, c.DeviceID, c.TunnelID, c.Subdomain, c.Domain, c.Hostname, c.CredentialsEnc,
		timeToStr(c.CreatedAt), timeToStr(c.UpdatedAt),
	)
	return err
}

// FoldTunnelStats folds one batch of counters into the daily aggregate row,
// computing a request-weighted average for latency.
func (s *Store) FoldTunnelStats(ctx context.Context, date string, reqs, bytesUp, bytesDown, errs int64, latencyMillis float64, uniqueIPs int64) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingReqs int64
	var existingAvg float64
	row := tx.QueryRowContext(ctx, `SELECT requests, avg_latency_millis FROM tunnel_stats WHERE date = ?`, date)
	err = row.Scan(&existingReqs, &existingAvg)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tunnel_stats (date, requests, bytes_up, bytes_down, errors, avg_latency_millis, unique_ips)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			date, reqs, bytesUp, bytesDown, errs, latencyMillis, uniqueIPs,
		)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		totalReqs := existingReqs + reqs
		foldedAvg := existingAvg
		if totalReqs > 0 {
			foldedAvg = (existingAvg*float64(existingReqs) + latencyMillis*float64(reqs)) / float64(totalReqs)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE tunnel_stats SET requests=requests+?, bytes_up=bytes_up+?, bytes_down=bytes_down+?,
			 errors=errors+?, avg_latency_millis=?, unique_ips=? WHERE date=?`,
			reqs, bytesUp, bytesDown, errs, foldedAvg, uniqueIPs, date,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTunnelStats returns the aggregated counters for one day.
func (s *Store) GetTunnelStats(ctx context.Context, date string) (*bridge.TunnelStats, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT date, requests, bytes_up, bytes_down, errors, avg_latency_millis, unique_ips FROM tunnel_stats WHERE date = ?`,
		date,
	)
	var t bridge.TunnelStats
	err := row.Scan(&t.Date, &t.Requests, &t.BytesUp, &t.BytesDown, &t.Errors, &t.AvgLatencyMillis, &t.UniqueIPs)
	if err != nil {
		return nil, notFoundErr(err)
	}
	return &t, nil
}

// AppendTunnelAccessLog inserts one recent access log row.
func (s *Store) AppendTunnelAccessLog(ctx context.Context, l *bridge.TunnelAccessLog) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO tunnel_access_logs (id, method, path, status_code, remote_ip, latency_millis, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Method, l.Path, l.StatusCode, l.RemoteIP, l.LatencyMillis, timeToStr(l.CreatedAt),
	)
	return err
}

// ListTunnelAccessLogs returns the most recent access logs, newest first.
func (s *Store) ListTunnelAccessLogs(ctx context.Context, limit int) ([]*bridge.TunnelAccessLog, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, method, path, status_code, remote_ip, latency_millis, created_at
		 FROM tunnel_access_logs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.TunnelAccessLog
	for rows.Next() {
		var l bridge.TunnelAccessLog
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Method, &l.Path, &l.StatusCode, &l.RemoteIP, &l.LatencyMillis, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = mustParseTime(createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}

// AppendTunnelSystemLog inserts one diagnostic log line from the tunnel helper.
func (s *Store) AppendTunnelSystemLog(ctx context.Context, l *bridge.TunnelSystemLog) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO tunnel_system_logs (id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		l.ID, l.Level, l.Message, timeToStr(l.CreatedAt),
	)
	return err
}

// ListTunnelSystemLogs returns the most recent diagnostic lines, newest first.
func (s *Store) ListTunnelSystemLogs(ctx context.Context, limit int) ([]*bridge.TunnelSystemLog, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, level, message, created_at FROM tunnel_system_logs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.TunnelSystemLog
	for rows.Next() {
		var l bridge.TunnelSystemLog
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Level, &l.Message, &createdAt); err != nil {
			return nil, err
		}
		l.CreatedAt = mustParseTime(createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}
