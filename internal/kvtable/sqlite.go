package kvtable

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteTable stores one hash as rows of rerouting_hash.
type SQLiteTable struct {
	db   *sql.DB
	name string
}

// NewSQLite returns the hash called name. The schema is created by storage.OpenSQLite.
func NewSQLite(db *sql.DB, name string) *SQLiteTable {
	return &SQLiteTable{db: db, name: name}
}

func (t *SQLiteTable) Name() string { return t.name }

func (t *SQLiteTable) Set(ctx context.Context, field, value string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := t.db.ExecContext(ctx, `
INSERT INTO rerouting_hash(hash_name, field, value, updated_at)
VALUES(?, ?, ?, ?)
ON CONFLICT(hash_name, field) DO UPDATE SET
  value = excluded.value,
  updated_at = excluded.updated_at;
`, t.name, field, value, now)
	if err != nil {
		return fmt.Errorf("sqlite hset: %w", err)
	}
	return nil
}

func (t *SQLiteTable) Delete(ctx context.Context, field string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM rerouting_hash WHERE hash_name = ? AND field = ?;`, t.name, field); err != nil {
		return fmt.Errorf("sqlite hdel: %w", err)
	}
	return nil
}

func (t *SQLiteTable) DeleteAll(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM rerouting_hash WHERE hash_name = ?;`, t.name); err != nil {
		return fmt.Errorf("sqlite del: %w", err)
	}
	return nil
}

func (t *SQLiteTable) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT field, value FROM rerouting_hash WHERE hash_name = ?;`, t.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite hgetall: %w", err)
	}
	return collect(rows)
}

func (t *SQLiteTable) BatchGet(ctx context.Context, fields ...string) ([]string, []bool, error) {
	values := make([]string, len(fields))
	found := make([]bool, len(fields))
	if len(fields) == 0 {
		return values, found, nil
	}

	args := make([]any, 0, len(fields)+1)
	args = append(args, t.name)
	for _, f := range fields {
		args = append(args, f)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(fields)), ",")
	rows, err := t.db.QueryContext(ctx,
		`SELECT field, value FROM rerouting_hash WHERE hash_name = ? AND field IN (`+placeholders+`);`, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite hmget: %w", err)
	}
	got, err := collect(rows)
	if err != nil {
		return nil, nil, err
	}

	for i, f := range fields {
		values[i], found[i] = got[f]
	}
	return values, found, nil
}

func collect(rows *sql.Rows) (map[string]string, error) {
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("scan hash row: %w", err)
		}
		out[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read hash rows: %w", err)
	}
	return out, nil
}
