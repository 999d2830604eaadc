package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tycoon/internal/auth"
	"tycoon/internal/config"
	"tycoon/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() config.APIConfig {
	return config.APIConfig{
		Store:           config.StoreMemory,
		Auth:            config.AuthLocal,
		MarketTickEvery: time.Second,
		MiningTickEvery: time.Second,
		BTCPerTHPerTick: 0.0001,
		StartupSeed:     true,
		RandomSeed:      7,
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestOpenMemorySeedsCatalog(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, baseConfig(), quiet())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	items, err := a.Game.ListItems(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, items)

	syndicates, err := a.Game.ListSyndicates(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, syndicates)

	_, ok := a.AuthProvider(baseConfig()).(*auth.LocalProvider)
	assert.True(t, ok)
}

func TestOpenSQLiteCreatesDirectory(t *testing.T) {
	cfg := baseConfig()
	cfg.Store = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "nested", "tycoon.db")

	a, err := Open(context.Background(), cfg, quiet())
	require.NoError(t, err)
	require.NoError(t, a.Shutdown(context.Background()))

	_, err = os.Stat(cfg.SQLitePath)
	assert.NoError(t, err)
}

func TestOpenRejectsBadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("farms: [::"), 0o600))
	cfg := baseConfig()
	cfg.CatalogPath = path

	_, err := Open(context.Background(), cfg, quiet())
	assert.ErrorContains(t, err, "parse catalog")
}

func TestAnnouncerFallsBackToLog(t *testing.T) {
	a := &App{log: quiet()}
	_, ok := a.announcer(baseConfig()).(notify.Log)
	assert.True(t, ok)

	cfg := baseConfig()
	cfg.DiscordToken = "token"
	cfg.DiscordChannelID = "123"
	_, ok = a.announcer(cfg).(*notify.Discord)
	assert.True(t, ok)
	assert.NoError(t, a.Close())
}

func TestSupabaseProviderSelected(t *testing.T) {
	a := &App{log: quiet()}
	cfg := baseConfig()
	cfg.Auth = config.AuthSupabase
	cfg.SupabaseURL = "https://example.supabase.co"
	cfg.SupabaseAnonKey = "anon"
	_, ok := a.AuthProvider(cfg).(*auth.SupabaseClient)
	assert.True(t, ok)
}
