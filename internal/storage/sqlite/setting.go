package sqlite

import (
	"context"

	bridge "github.com/relayhq/bridge/internal"
)

// GetSetting retrieves one typed setting by key.
func (s *Store) GetSetting(ctx context.Context, key string) (*bridge.Setting, error) {
	row := s.read.QueryRowContext(ctx, `SELECT key, value, updated_at FROM settings WHERE key = ?`, key)
	return scanSetting(row)
}

// PutSetting upserts a setting.
func (s *Store) PutSetting(ctx context.Context, st *bridge.Setting) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		st.Key, string(st.Value), timeToStr(st.UpdatedAt),
	)
	return err
}

// ListSettings returns every stored setting.
func (s *Store) ListSettings(ctx context.Context) ([]*bridge.Setting, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT key, value, updated_at FROM settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*bridge.Setting
	for rows.Next() {
		st, err := scanSetting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanSetting(row scanner) (*bridge.Setting, error) {
	var st bridge.Setting
	var value, updatedAt string
	if err := row.Scan(&st.Key, &value, &updatedAt); err != nil {
		return nil, notFoundErr(err)
	}
	st.Value = []byte(value)
	st.UpdatedAt = mustParseTime(updatedAt)
	return &st, nil
}
