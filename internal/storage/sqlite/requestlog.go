package sqlite

import (
	"context"
	"database/sql"

	bridge "github.com/relayhq/bridge/internal"
)

// InsertRequestLog inserts one immutable request log row.
func (s *Store) InsertRequestLog(ctx context.Context, l *bridge.RequestLog) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO request_logs (id, proxy_id, proxy_path, source_model, target_model, http_status,
		 input_tokens, output_tokens, latency_millis, request_body, response_body, error, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, nullStr(l.ProxyID), nullStr(l.ProxyPath), l.SourceModel, l.TargetModel, l.HTTPStatus,
		l.InputTokens, l.OutputTokens, l.LatencyMillis, nullBytes(l.RequestBody), nullBytes(l.ResponseBody),
		nullStr(l.Error), string(l.Source), timeToStr(l.CreatedAt),
	)
	return err
}

// ListRequestLogs returns recent request logs, optionally filtered to one
// proxy, most recent first.
func (s *Store) ListRequestLogs(ctx context.Context, proxyID string, offset, limit int) ([]*bridge.RequestLog, error) {
	query := `SELECT id, proxy_id, proxy_path, source_model, target_model, http_status,
	 input_tokens, output_tokens, latency_millis, error, source, created_at FROM request_logs`
	args := []any{}
	if proxyID != "" {
		query += ` WHERE proxy_id = ?`
		args = append(args, proxyID)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.RequestLog
	for rows.Next() {
		var l bridge.RequestLog
		var proxyID, proxyPath, errStr sql.NullString
		var source, createdAt string
		err := rows.Scan(&l.ID, &proxyID, &proxyPath, &l.SourceModel, &l.TargetModel, &l.HTTPStatus,
			&l.InputTokens, &l.OutputTokens, &l.LatencyMillis, &errStr, &source, &createdAt)
		if err != nil {
			return nil, err
		}
		l.ProxyID = proxyID.String
		l.ProxyPath = proxyPath.String
		l.Error = errStr.String
		l.Source = bridge.RequestSource(source)
		l.CreatedAt = mustParseTime(createdAt)
		out = append(out, &l)
	}
	return out, rows.Err()
}
