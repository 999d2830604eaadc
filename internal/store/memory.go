package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps documents in process. Transactions hold the store lock for
// their whole duration, so they never conflict with each other.
type Memory struct {
	mu   sync.Mutex
	docs map[string]Record
	hub  *hub
}

func NewMemory() *Memory {
	return &Memory{
		docs: map[string]Record{},
		hub:  newHub(),
	}
}

func (m *Memory) Get(_ context.Context, key string, out any) (int64, error) {
	m.mu.Lock()
	rec, ok := m.docs[key]
	m.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	return rec.Version, decode(rec.Value, out)
}

func (m *Memory) List(_ context.Context, prefix string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(prefix, nil), nil
}

func (m *Memory) Put(_ context.Context, key string, v any) (int64, error) {
	raw, err := encode(v)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	c := m.writeLocked(key, raw)
	m.mu.Unlock()
	m.hub.publish(c)
	return c.Version, nil
}

func (m *Memory) Update(_ context.Context, key string, fields map[string]any) (int64, error) {
	m.mu.Lock()
	rec, ok := m.docs[key]
	if !ok {
		m.mu.Unlock()
		return 0, ErrNotFound
	}
	raw, err := mergeFields(rec.Value, fields)
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	c := m.writeLocked(key, raw)
	m.mu.Unlock()
	m.hub.publish(c)
	return c.Version, nil
}

func (m *Memory) Swap(_ context.Context, key string, version int64, v any) (int64, error) {
	raw, err := encode(v)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	if m.docs[key].Version != version {
		m.mu.Unlock()
		return 0, ErrConflict
	}
	c := m.writeLocked(key, raw)
	m.mu.Unlock()
	m.hub.publish(c)
	return c.Version, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	_, ok := m.docs[key]
	delete(m.docs, key)
	m.mu.Unlock()
	if ok {
		m.hub.publish(Change{Key: key, Deleted: true})
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, prefix string) (<-chan Change, error) {
	return m.hub.subscribe(ctx, prefix), nil
}

func (m *Memory) Txn(ctx context.Context, fn func(tx Tx) error) error {
	changes, err := m.commit(ctx, fn)
	if err != nil {
		return err
	}
	m.hub.publish(changes...)
	return nil
}

func (m *Memory) commit(ctx context.Context, fn func(tx Tx) error) ([]Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{m: m, staged: map[string]*Record{}}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	changes := make([]Change, 0, len(tx.order))
	for _, key := range tx.order {
		staged := tx.staged[key]
		if staged == nil {
			if _, ok := m.docs[key]; ok {
				delete(m.docs, key)
				changes = append(changes, Change{Key: key, Deleted: true})
			}
			continue
		}
		changes = append(changes, m.writeLocked(key, staged.Value))
	}
	return changes, nil
}

func (m *Memory) Close() error {
	m.hub.close()
	return nil
}

func (m *Memory) writeLocked(key string, raw []byte) Change {
	rec := m.docs[key]
	rec.Key = key
	rec.Version++
	rec.Value = append([]byte(nil), raw...)
	rec.UpdatedAt = time.Now().UTC()
	m.docs[key] = rec
	return Change{Key: key, Version: rec.Version, Value: rec.Value}
}

func (m *Memory) listLocked(prefix string, staged map[string]*Record) []Record {
	out := make([]Record, 0)
	for key, rec := range m.docs {
		if !matchPrefix(key, prefix) {
			continue
		}
		if _, shadowed := staged[key]; shadowed {
			continue
		}
		out = append(out, rec)
	}
	for key, rec := range staged {
		if rec == nil || !matchPrefix(key, prefix) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

type memoryTx struct {
	m      *Memory
	staged map[string]*Record // nil entry marks a delete
	order  []string
}

func (t *memoryTx) Get(_ context.Context, key string, out any) (int64, error) {
	if rec, ok := t.staged[key]; ok {
		if rec == nil {
			return 0, ErrNotFound
		}
		return rec.Version, decode(rec.Value, out)
	}
	rec, ok := t.m.docs[key]
	if !ok {
		return 0, ErrNotFound
	}
	return rec.Version, decode(rec.Value, out)
}

func (t *memoryTx) List(_ context.Context, prefix string) ([]Record, error) {
	return t.m.listLocked(prefix, t.staged), nil
}

func (t *memoryTx) Put(_ context.Context, key string, v any) error {
	raw, err := encode(v)
	if err != nil {
		return err
	}
	version := t.m.docs[key].Version + 1
	t.stage(key, &Record{Key: key, Version: version, Value: raw, UpdatedAt: time.Now().UTC()})
	return nil
}

func (t *memoryTx) Delete(_ context.Context, key string) error {
	t.stage(key, nil)
	return nil
}

func (t *memoryTx) stage(key string, rec *Record) {
	if _, seen := t.staged[key]; !seen {
		t.order = append(t.order, key)
	}
	t.staged[key] = rec
}
