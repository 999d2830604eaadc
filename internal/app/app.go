package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tycoon/internal/auth"
	"tycoon/internal/catalog"
	"tycoon/internal/config"
	"tycoon/internal/db"
	"tycoon/internal/game"
	"tycoon/internal/notify"
	"tycoon/internal/store"
)

// App holds the collaborators shared by the API and the worker.
type App struct {
	Store store.Store
	Game  *game.Service

	log     *slog.Logger
	closers []func() error
}

// Open builds the store, catalog, announcer and game service described by
// cfg, then seeds the catalog when StartupSeed is set.
func Open(ctx context.Context, cfg config.APIConfig, logger *slog.Logger, opts ...game.Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{log: logger}

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Store = st

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	base := []game.Option{
		game.WithChance(game.NewChance(cfg.RandomSeed)),
		game.WithMiningRate(cfg.BTCPerTHPerTick),
		game.WithAnnouncer(a.announcer(cfg)),
	}
	a.Game = game.NewService(st, cat, logger, append(base, opts...)...)

	if cfg.StartupSeed {
		if err := a.Game.SeedDefaults(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("seed defaults: %w", err)
		}
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.APIConfig) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		st := store.NewMemory()
		a.closers = append(a.closers, st.Close)
		return st, nil
	case config.StoreSQLite:
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := db.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		st := store.NewPostgres(pool, a.log)
		a.closers = append(a.closers, st.Close)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func (a *App) announcer(cfg config.APIConfig) game.Announcer {
	if cfg.DiscordToken == "" || cfg.DiscordChannelID == "" {
		return notify.NewLog(a.log)
	}
	d, err := notify.NewDiscord(cfg.DiscordToken, cfg.DiscordChannelID)
	if err != nil {
		a.log.Warn("discord disabled", "err", err)
		return notify.NewLog(a.log)
	}
	a.closers = append(a.closers, d.Close)
	return d
}

// AuthProvider returns the sign-in backend selected by cfg.Auth.
func (a *App) AuthProvider(cfg config.APIConfig) auth.Provider {
	if cfg.Auth == config.AuthSupabase {
		return auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	}
	return auth.NewLocalProvider(a.Store, 0)
}

// Shutdown stops live arena sessions so their rewards are flushed, then
// releases everything Open acquired.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Game != nil {
		if err := a.Game.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("arena shutdown: %w", err))
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
