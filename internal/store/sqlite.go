package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a single node backend. One connection serializes every
// statement, and mu keeps transactions from interleaving with plain writes.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	hub *hub
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, hub: newHub()}, nil
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) Get(ctx context.Context, key string, out any) (int64, error) {
	return sqlGet(ctx, s.db, key, out)
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]Record, error) {
	return sqlList(ctx, s.db, prefix)
}

func (s *SQLite) Put(ctx context.Context, key string, v any) (int64, error) {
	raw, err := encode(v)
	if err != nil {
		return 0, err
	}
	var c Change
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		c, err = sqlPut(ctx, tx, key, raw)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.hub.publish(c)
	return c.Version, nil
}

func (s *SQLite) Update(ctx context.Context, key string, fields map[string]any) (int64, error) {
	var c Change
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var current []byte
		if err := tx.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key).Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		raw, err := mergeFields(current, fields)
		if err != nil {
			return err
		}
		c, err = sqlPut(ctx, tx, key, raw)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.hub.publish(c)
	return c.Version, nil
}

func (s *SQLite) Swap(ctx context.Context, key string, version int64, v any) (int64, error) {
	raw, err := encode(v)
	if err != nil {
		return 0, err
	}
	var c Change
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var current int64
		err := tx.QueryRowContext(ctx, `SELECT version FROM documents WHERE key = ?`, key).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if current != version {
			return ErrConflict
		}
		c, err = sqlPut(ctx, tx, key, raw)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.hub.publish(c)
	return c.Version, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	var deleted bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, err = sqlDelete(ctx, tx, key)
		return err
	})
	if err != nil {
		return err
	}
	if deleted {
		s.hub.publish(Change{Key: key, Deleted: true})
	}
	return nil
}

func (s *SQLite) Subscribe(ctx context.Context, prefix string) (<-chan Change, error) {
	return s.hub.subscribe(ctx, prefix), nil
}

func (s *SQLite) Txn(ctx context.Context, fn func(tx Tx) error) error {
	stx := &sqliteTx{}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stx.tx = tx
		stx.changes = stx.changes[:0]
		return fn(stx)
	})
	if err != nil {
		return err
	}
	s.hub.publish(stx.changes...)
	return nil
}

func (s *SQLite) Close() error {
	s.hub.close()
	return s.db.Close()
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx      *sql.Tx
	changes []Change
}

func (t *sqliteTx) Get(ctx context.Context, key string, out any) (int64, error) {
	return sqlGet(ctx, t.tx, key, out)
}

func (t *sqliteTx) List(ctx context.Context, prefix string) ([]Record, error) {
	return sqlList(ctx, t.tx, prefix)
}

func (t *sqliteTx) Put(ctx context.Context, key string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	c, err := sqlPut(ctx, t.tx, key, raw)
	if err != nil {
		return err
	}
	t.changes = append(t.changes, c)
	return nil
}

func (t *sqliteTx) Delete(ctx context.Context, key string) error {
	deleted, err := sqlDelete(ctx, t.tx, key)
	if err != nil {
		return err
	}
	if deleted {
		t.changes = append(t.changes, Change{Key: key, Deleted: true})
	}
	return nil
}

func sqlGet(ctx context.Context, q sqlQuerier, key string, out any) (int64, error) {
	var version int64
	var raw []byte
	err := q.QueryRowContext(ctx, `SELECT version, value FROM documents WHERE key = ?`, key).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return version, decode(raw, out)
}

func sqlList(ctx context.Context, q sqlQuerier, prefix string) ([]Record, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key, version, value, updated_at
		FROM documents
		WHERE substr(key, 1, ?) = ?
		ORDER BY key
	`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var raw []byte
		var updatedAt string
		if err := rows.Scan(&rec.Key, &rec.Version, &raw, &updatedAt); err != nil {
			return nil, err
		}
		rec.Value = raw
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func sqlPut(ctx context.Context, q sqlQuerier, key string, raw []byte) (Change, error) {
	var version int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO documents (key, version, value, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, version = documents.version + 1, updated_at = excluded.updated_at
		RETURNING version
	`, key, string(raw), time.Now().UTC().Format(time.RFC3339Nano)).Scan(&version)
	if err != nil {
		return Change{}, err
	}
	return Change{Key: key, Version: version, Value: append([]byte(nil), raw...)}, nil
}

func sqlDelete(ctx context.Context, q sqlQuerier, key string) (bool, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
