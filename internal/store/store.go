package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document version conflict")
)

// Record is one stored document. Version starts at 1 and grows by one on
// every write.
type Record struct {
	Key       string          `json:"key"`
	Version   int64           `json:"version"`
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (r Record) Decode(out any) error {
	return json.Unmarshal(r.Value, out)
}

type Change struct {
	Key     string          `json:"key"`
	Version int64           `json:"version"`
	Value   json.RawMessage `json:"value,omitempty"`
	Deleted bool            `json:"deleted,omitempty"`
}

// Tx is a serializable view over the store. Writes become visible to other
// readers only when the enclosing Txn returns nil.
type Tx interface {
	Get(ctx context.Context, key string, out any) (int64, error)
	List(ctx context.Context, prefix string) ([]Record, error)
	Put(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

type Store interface {
	Get(ctx context.Context, key string, out any) (int64, error)
	List(ctx context.Context, prefix string) ([]Record, error)
	Put(ctx context.Context, key string, v any) (int64, error)
	Update(ctx context.Context, key string, fields map[string]any) (int64, error)
	// Swap writes v only when the stored version equals version. Version 0
	// means the key must not exist yet.
	Swap(ctx context.Context, key string, version int64, v any) (int64, error)
	Delete(ctx context.Context, key string) error
	Subscribe(ctx context.Context, prefix string) (<-chan Change, error)
	Txn(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Run executes fn in a transaction and retries it with backoff while the
// store reports ErrConflict.
func Run(ctx context.Context, s Store, fn func(tx Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.Txn(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrConflict
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func matchPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}

func encode(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func decode(raw json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// mergeFields applies a shallow top level merge of fields onto a JSON object.
func mergeFields(raw json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		doc[k] = b
	}
	return json.Marshal(doc)
}
