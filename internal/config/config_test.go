package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "TYCOON_API_ADDR", "TYCOON_STORE", "DATABASE_URL", "TYCOON_SQLITE_PATH", "TYCOON_AUTH",
		"SUPABASE_URL", "SUPABASE_ANON_KEY", "TYCOON_CATALOG_PATH", "TYCOON_RANDOM_SEED",
		"TYCOON_MARKET_TICK_EVERY", "TYCOON_MINING_TICK_EVERY", "TYCOON_BTC_PER_TH_PER_TICK",
		"TYCOON_STARTUP_SEED", "TYCOON_WORKER_RUN_ONCE", "TYCOON_RATE_LIMIT_RPS", "TYCOON_RATE_LIMIT_BURST",
		"TYCOON_CORS_ORIGINS", "TYCOON_DISCORD_TOKEN", "TYCOON_DISCORD_CHANNEL", "TYC_API_BASE_URL",
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoadAPIDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TYCOON_STORE", "memory")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, AuthLocal, cfg.Auth)
	assert.Equal(t, 5*time.Second, cfg.MarketTickEvery)
	assert.Equal(t, time.Minute, cfg.MiningTickEvery)
	assert.InDelta(t, 0.0001, cfg.BTCPerTHPerTick, 1e-12)
	assert.True(t, cfg.StartupSeed)
	assert.False(t, cfg.WorkerRunOnce)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestLoadAPIOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("TYCOON_STORE", "SQLite")
	t.Setenv("TYCOON_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("TYCOON_MARKET_TICK_EVERY", "250ms")
	t.Setenv("TYCOON_RANDOM_SEED", "42")
	t.Setenv("TYCOON_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("TYCOON_WORKER_RUN_ONCE", "true")
	t.Setenv("TYCOON_RATE_LIMIT_BURST", "nope")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, 250*time.Millisecond, cfg.MarketTickEvery)
	assert.EqualValues(t, 42, cfg.RandomSeed)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.WorkerRunOnce)
	assert.Equal(t, 20, cfg.RateLimitBurst)
}

func TestValidate(t *testing.T) {
	base := APIConfig{Store: StoreMemory, Auth: AuthLocal, MarketTickEvery: time.Second, MiningTickEvery: time.Second}
	require.NoError(t, base.Validate())

	pg := base
	pg.Store = StorePostgres
	assert.ErrorContains(t, pg.Validate(), "DATABASE_URL")

	sb := base
	sb.Auth = AuthSupabase
	assert.ErrorContains(t, sb.Validate(), "SUPABASE_URL")
	sb.SupabaseURL = "https://x.supabase.co"
	assert.ErrorContains(t, sb.Validate(), "SUPABASE_ANON_KEY")

	bad := base
	bad.Store = "redis"
	assert.Error(t, bad.Validate())

	tick := base
	tick.MiningTickEvery = 0
	assert.ErrorContains(t, tick.Validate(), "tick intervals")
}

func TestLoadCLI(t *testing.T) {
	clearEnv(t)
	assert.Equal(t, "http://localhost:8080", LoadCLIFromEnv().APIBaseURL)
	t.Setenv("TYC_API_BASE_URL", "https://api.example.com/")
	assert.Equal(t, "https://api.example.com", LoadCLIFromEnv().APIBaseURL)
}
