package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	AuthLocal    = "local"
	AuthSupabase = "supabase"
)

type APIConfig struct {
	Addr            string
	Store           string
	DatabaseURL     string
	SQLitePath      string
	Auth            string
	SupabaseURL     string
	SupabaseAnonKey string
	CatalogPath     string
	RandomSeed      int64

	MarketTickEvery  time.Duration
	MiningTickEvery  time.Duration
	BTCPerTHPerTick  float64
	StartupSeed      bool
	WorkerRunOnce    bool
	RateLimitRPS     float64
	RateLimitBurst   int
	CORSOrigins      []string
	DiscordToken     string
	DiscordChannelID string
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	_ = godotenv.Load()

	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TYCOON_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:             addr,
		Store:            strings.ToLower(envDefault("TYCOON_STORE", StorePostgres)),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:       envDefault("TYCOON_SQLITE_PATH", "./data/tycoon.db"),
		Auth:             strings.ToLower(envDefault("TYCOON_AUTH", AuthLocal)),
		SupabaseURL:      strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
		SupabaseAnonKey:  strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		CatalogPath:      strings.TrimSpace(os.Getenv("TYCOON_CATALOG_PATH")),
		RandomSeed:       envInt64Default("TYCOON_RANDOM_SEED", 0),
		MarketTickEvery:  envDurationDefault("TYCOON_MARKET_TICK_EVERY", 5*time.Second),
		MiningTickEvery:  envDurationDefault("TYCOON_MINING_TICK_EVERY", time.Minute),
		BTCPerTHPerTick:  envFloatDefault("TYCOON_BTC_PER_TH_PER_TICK", 0.0001),
		StartupSeed:      envBoolDefault("TYCOON_STARTUP_SEED", true),
		WorkerRunOnce:    envBoolDefault("TYCOON_WORKER_RUN_ONCE", false),
		RateLimitRPS:     envFloatDefault("TYCOON_RATE_LIMIT_RPS", 10),
		RateLimitBurst:   envIntDefault("TYCOON_RATE_LIMIT_BURST", 20),
		CORSOrigins:      envListDefault("TYCOON_CORS_ORIGINS", []string{"*"}),
		DiscordToken:     strings.TrimSpace(os.Getenv("TYCOON_DISCORD_TOKEN")),
		DiscordChannelID: strings.TrimSpace(os.Getenv("TYCOON_DISCORD_CHANNEL")),
	}
	return cfg, cfg.Validate()
}

func (c APIConfig) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("TYCOON_SQLITE_PATH is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("TYCOON_STORE must be memory, postgres or sqlite")
	}
	switch c.Auth {
	case AuthSupabase:
		if c.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required")
		}
		if c.SupabaseAnonKey == "" {
			return fmt.Errorf("SUPABASE_ANON_KEY is required")
		}
	case AuthLocal:
	default:
		return fmt.Errorf("TYCOON_AUTH must be local or supabase")
	}
	if c.MarketTickEvery <= 0 || c.MiningTickEvery <= 0 {
		return fmt.Errorf("tick intervals must be > 0")
	}
	return nil
}

func LoadCLIFromEnv() CLIConfig {
	_ = godotenv.Load()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TYC_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envListDefault(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
