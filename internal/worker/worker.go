package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tycoon/internal/game"
)

// Ticker is the part of the game service the worker drives.
type Ticker interface {
	RunMarketTick(ctx context.Context) (game.MarketState, error)
	RunMiningTick(ctx context.Context) (int, error)
	RunMaintenance(ctx context.Context) (game.MaintenanceReport, error)
}

type Runner struct {
	svc         Ticker
	log         *slog.Logger
	marketEvery time.Duration
	miningEvery time.Duration
}

func New(svc Ticker, logger *slog.Logger, marketEvery, miningEvery time.Duration) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{svc: svc, log: logger, marketEvery: marketEvery, miningEvery: miningEvery}
}

// RunOnce performs one market tick and one mining plus maintenance pass.
func (r *Runner) RunOnce(ctx context.Context) error {
	return errors.Join(r.market(ctx), r.mining(ctx))
}

// Run ticks both loops until ctx is done. Tick failures are logged and the
// loop keeps going.
func (r *Runner) Run(ctx context.Context) {
	market := time.NewTicker(r.marketEvery)
	defer market.Stop()
	mining := time.NewTicker(r.miningEvery)
	defer mining.Stop()

	r.log.Info("worker started", "market_every", r.marketEvery.String(), "mining_every", r.miningEvery.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("worker shutdown")
			return
		case <-market.C:
			_ = r.market(ctx)
		case <-mining.C:
			_ = r.mining(ctx)
		}
	}
}

func (r *Runner) market(ctx context.Context) error {
	state, err := r.svc.RunMarketTick(ctx)
	if err != nil {
		r.log.Error("market tick failed", "err", err)
		return err
	}
	r.log.Debug("market tick complete", "price", state.Price.String())
	return nil
}

func (r *Runner) mining(ctx context.Context) error {
	credited, err := r.svc.RunMiningTick(ctx)
	if err != nil {
		r.log.Error("mining tick failed", "err", err)
		return err
	}
	report, err := r.svc.RunMaintenance(ctx)
	if err != nil {
		r.log.Error("maintenance failed", "err", err)
		return err
	}
	r.log.Info("mining tick complete",
		"credited", credited,
		"accounts", report.Accounts,
		"farms_activated", report.FarmsActivated,
		"quests_completed", report.QuestsCompleted,
		"syndicate_payouts", report.SyndicatePayouts,
		"failures", report.Failures,
	)
	return nil
}
