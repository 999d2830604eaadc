package game

import (
	"context"
	"testing"
	"time"

	"tycoon/internal/catalog"
	"tycoon/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) // a Wednesday

type testEnv struct {
	svc   *Service
	store *store.Memory
	clock *FakeClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	clock := NewFakeClock(testEpoch)
	opts = append([]Option{WithClock(clock), WithChance(NewChance(42))}, opts...)
	svc := NewService(st, catalog.Default(), nil, opts...)
	require.NoError(t, svc.SeedDefaults(context.Background()))
	return &testEnv{svc: svc, store: st, clock: clock}
}

func (e *testEnv) player(t *testing.T, id string) Account {
	t.Helper()
	acct, err := e.svc.EnsurePlayer(context.Background(), id, id+"@example.com", "")
	require.NoError(t, err)
	return acct
}

func (e *testEnv) account(t *testing.T, id string) Account {
	t.Helper()
	acct, err := loadAccount(context.Background(), e.store, id)
	require.NoError(t, err)
	return acct
}

func (e *testEnv) editAccount(t *testing.T, id string, fn func(*Account)) {
	t.Helper()
	acct := e.account(t, id)
	fn(&acct)
	_, err := e.store.Put(context.Background(), accountKey(id), acct)
	require.NoError(t, err)
}

func (e *testEnv) companion(t *testing.T, id string) Companion {
	t.Helper()
	c, err := loadCompanion(context.Background(), e.store, id)
	require.NoError(t, err)
	return c
}

func (e *testEnv) putCompanion(t *testing.T, c Companion) {
	t.Helper()
	_, err := e.store.Put(context.Background(), companionKey(c.AccountID), c)
	require.NoError(t, err)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}
