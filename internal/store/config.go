package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ReadConfig returns the raw stored value for key. ok is false when the key
// has never been set.
func (s *Store) ReadConfig(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("read config", err)
	}
	return value, true, nil
}

// ReadAllConfig returns every stored key/value pair.
func (s *Store) ReadAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, classify("read all config", err)
	}
	defer rows.Close()

	values := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, classify("read all config: scan", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, classify("read all config: iterate", err)
	}
	return values, nil
}

// WriteConfig stores values in a single transaction: either every key is
// written or none is.
func (s *Store) WriteConfig(ctx context.Context, values map[string]string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("write config: begin tx", err)
	}
	defer tx.Rollback()

	for k, v := range values {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO config (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, k, v, toNanos(at))
		if err != nil {
			return classify("write config "+k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("write config: commit", err)
	}
	return nil
}

// DeleteConfig removes stored values so their defaults apply again.
// With no keys, every stored value is removed.
func (s *Store) DeleteConfig(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM config`); err != nil {
			return classify("delete config", err)
		}
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("delete config: begin tx", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, k); err != nil {
			return classify("delete config "+k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify("delete config: commit", err)
	}
	return nil
}
