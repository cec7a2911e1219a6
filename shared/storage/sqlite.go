package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteDB holds the kv table shared by every area opened from it.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLiteDB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("sqlite: mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		area  TEXT NOT NULL,
		key   TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (area, key)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Area returns the area stored under name. Notifications are process local.
func (s *SQLiteDB) Area(name string) *SQLiteArea {
	return &SQLiteArea{db: s.db, name: name}
}

type SQLiteArea struct {
	db   *sql.DB
	name string
	Notifier
}

func (a *SQLiteArea) Name() string {
	return a.name
}

func (a *SQLiteArea) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value string
	err := a.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE area = ? AND key = ?`, a.name, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: get %s/%s: %w", a.name, key, err)
	}
	return json.RawMessage(value), true, nil
}

func (a *SQLiteArea) GetAll(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT key, value FROM kv WHERE area = ?`, a.name)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %s: %w", a.name, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", a.name, err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

func (a *SQLiteArea) Set(ctx context.Context, values map[string]json.RawMessage) error {
	if err := validateValues(a.name, values); err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	prev := make(map[string]json.RawMessage, len(values))
	for k := range values {
		var value string
		err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE area = ? AND key = ?`, a.name, k).Scan(&value)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("sqlite: read %s/%s: %w", a.name, k, err)
		default:
			prev[k] = json.RawMessage(value)
		}
	}

	changes := diff(prev, values)
	for k := range changes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv (area, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(area, key) DO UPDATE SET value = excluded.value`,
			a.name, k, string(values[k])); err != nil {
			return fmt.Errorf("sqlite: write %s/%s: %w", a.name, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	a.Publish(changes)
	return nil
}

func (a *SQLiteArea) Remove(ctx context.Context, keys ...string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	changes := make(Changes, len(keys))
	for _, k := range keys {
		var value string
		err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE area = ? AND key = ?`, a.name, k).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("sqlite: read %s/%s: %w", a.name, k, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE area = ? AND key = ?`, a.name, k); err != nil {
			return fmt.Errorf("sqlite: delete %s/%s: %w", a.name, k, err)
		}
		changes[k] = Change{OldValue: json.RawMessage(value)}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}

	a.Publish(changes)
	return nil
}
