package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notifyChannel = "tycoon_changes"

// Postgres stores documents in tycoon.documents. See db.Migrate for the
// schema.
type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type notifyPayload struct {
	Key     string `json:"key"`
	Version int64  `json:"version"`
	Deleted bool   `json:"deleted,omitempty"`
}

func (p *Postgres) Get(ctx context.Context, key string, out any) (int64, error) {
	return pgGet(ctx, p.db, key, out, false)
}

func (p *Postgres) List(ctx context.Context, prefix string) ([]Record, error) {
	return pgList(ctx, p.db, prefix)
}

func (p *Postgres) Put(ctx context.Context, key string, v any) (int64, error) {
	raw, err := encode(v)
	if err != nil {
		return 0, err
	}
	var version int64
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		version, err = pgPut(ctx, tx, key, raw)
		return err
	})
	return version, err
}

func (p *Postgres) Update(ctx context.Context, key string, fields map[string]any) (int64, error) {
	patch, err := json.Marshal(fields)
	if err != nil {
		return 0, err
	}
	var version int64
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE tycoon.documents
			SET value = value || $2::jsonb, version = version + 1, updated_at = now()
			WHERE key = $1
			RETURNING version
		`, key, string(patch)).Scan(&version)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return pgNotify(ctx, tx, notifyPayload{Key: key, Version: version})
	})
	return version, err
}

func (p *Postgres) Swap(ctx context.Context, key string, version int64, v any) (int64, error) {
	raw, err := encode(v)
	if err != nil {
		return 0, err
	}
	var next int64
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		if version == 0 {
			err = tx.QueryRow(ctx, `
				INSERT INTO tycoon.documents (key, version, value, updated_at)
				VALUES ($1, 1, $2::jsonb, now())
				ON CONFLICT (key) DO NOTHING
				RETURNING version
			`, key, string(raw)).Scan(&next)
		} else {
			err = tx.QueryRow(ctx, `
				UPDATE tycoon.documents
				SET value = $3::jsonb, version = version + 1, updated_at = now()
				WHERE key = $1 AND version = $2
				RETURNING version
			`, key, version, string(raw)).Scan(&next)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		return pgNotify(ctx, tx, notifyPayload{Key: key, Version: next})
	})
	return next, err
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		return pgDelete(ctx, tx, key)
	})
}

func (p *Postgres) Txn(ctx context.Context, fn func(tx Tx) error) error {
	return p.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&postgresTx{tx: tx})
	})
}

// Subscribe holds a dedicated connection in LISTEN mode until ctx is done.
// Notifications only carry the key, so each change is read back from the pool.
func (p *Postgres) Subscribe(ctx context.Context, prefix string) (<-chan Change, error) {
	pooled, err := p.db.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	conn := pooled.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen: %w", err)
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Error("store notification wait failed", "err", err)
				}
				return
			}
			var msg notifyPayload
			if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
				continue
			}
			if !matchPrefix(msg.Key, prefix) {
				continue
			}
			change := Change{Key: msg.Key, Version: msg.Version, Deleted: msg.Deleted}
			if !msg.Deleted {
				var raw json.RawMessage
				version, err := p.Get(ctx, msg.Key, &raw)
				if err != nil {
					continue
				}
				change.Version = version
				change.Value = raw
			}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the pool is owned by the caller.
func (p *Postgres) Close() error {
	return nil
}

func (p *Postgres) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	err = func() error {
		defer tx.Rollback(ctx)
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}()
	if isSerializationError(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) Get(ctx context.Context, key string, out any) (int64, error) {
	return pgGet(ctx, t.tx, key, out, true)
}

func (t *postgresTx) List(ctx context.Context, prefix string) ([]Record, error) {
	return pgList(ctx, t.tx, prefix)
}

func (t *postgresTx) Put(ctx context.Context, key string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	_, err = pgPut(ctx, t.tx, key, raw)
	return err
}

func (t *postgresTx) Delete(ctx context.Context, key string) error {
	return pgDelete(ctx, t.tx, key)
}

func pgGet(ctx context.Context, q pgQuerier, key string, out any, lock bool) (int64, error) {
	query := `SELECT version, value FROM tycoon.documents WHERE key = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var version int64
	var raw []byte
	if err := q.QueryRow(ctx, query, key).Scan(&version, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return version, decode(raw, out)
}

func pgList(ctx context.Context, q pgQuerier, prefix string) ([]Record, error) {
	rows, err := q.Query(ctx, `
		SELECT key, version, value, updated_at
		FROM tycoon.documents
		WHERE starts_with(key, $1)
		ORDER BY key
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var raw []byte
		var updatedAt time.Time
		if err := rows.Scan(&rec.Key, &rec.Version, &raw, &updatedAt); err != nil {
			return nil, err
		}
		rec.Value = raw
		rec.UpdatedAt = updatedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func pgPut(ctx context.Context, q pgQuerier, key string, raw []byte) (int64, error) {
	var version int64
	err := q.QueryRow(ctx, `
		INSERT INTO tycoon.documents (key, version, value, updated_at)
		VALUES ($1, 1, $2::jsonb, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, version = tycoon.documents.version + 1, updated_at = now()
		RETURNING version
	`, key, string(raw)).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, pgNotify(ctx, q, notifyPayload{Key: key, Version: version})
}

func pgDelete(ctx context.Context, q pgQuerier, key string) error {
	cmd, err := q.Exec(ctx, `DELETE FROM tycoon.documents WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return nil
	}
	return pgNotify(ctx, q, notifyPayload{Key: key, Deleted: true})
}

// pgNotify is transactional: listeners only see the change after commit.
func pgNotify(ctx context.Context, q pgQuerier, msg notifyPayload) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload))
	return err
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}
