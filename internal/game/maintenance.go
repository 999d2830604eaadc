package game

import (
	"context"
	"errors"

	"tycoon/internal/store"

	"github.com/shopspring/decimal"
)

// MaintenanceReport counts what one maintenance pass changed.
type MaintenanceReport struct {
	Accounts         int `json:"accounts"`
	FarmsActivated   int `json:"farms_activated"`
	QuestsCompleted  int `json:"quests_completed"`
	ArenaSettled     int `json:"arena_settled"`
	SyndicatePayouts int `json:"syndicate_payouts"`
	Failures         int `json:"failures"`
}

// MiningYield is the BTC one mining tick produces for the given effective
// power.
func MiningYield(power, btcPerTH decimal.Decimal) decimal.Decimal {
	return power.Mul(btcPerTH).Truncate(BTCPlaces)
}

// RunMiningTick credits every account with its mining yield and refreshes
// syndicate contributions. Failures on one account do not stop the others.
func (s *Service) RunMiningTick(ctx context.Context) (int, error) {
	ids, err := s.ListAccountIDs(ctx)
	if err != nil {
		return 0, err
	}
	credited := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return credited, err
		}
		var earned decimal.Decimal
		err := s.mutate(ctx, id, "", "mining_tick", func(tx store.Tx) error {
			now := s.clock.Now()
			acct, err := loadAccount(ctx, tx, id)
			if err != nil {
				return err
			}
			farms, err := loadFarms(ctx, tx, id, now)
			if err != nil {
				return err
			}
			earned = MiningYield(EffectiveMiningPower(acct, farms), s.miningRate)
			if !earned.IsPositive() {
				return nil
			}
			acct.BTCBalance = acct.BTCBalance.Add(earned)
			acct.TotalMinedBTC = acct.TotalMinedBTC.Add(earned)
			if err := tx.Put(ctx, accountKey(id), acct); err != nil {
				return err
			}
			return foldWeekly(ctx, tx, id, now, func(w *WeeklyStats) {
				w.BTCEarned = w.BTCEarned.Add(earned)
			})
		})
		if err != nil {
			s.log.Warn("mining tick failed", "account_id", id, "err", err)
			continue
		}
		if earned.IsPositive() {
			credited++
		}
		if _, err := s.UpdateContribution(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			s.log.Warn("contribution update failed", "account_id", id, "err", err)
		}
	}
	return credited, nil
}

// RunMaintenance applies every lazy transition that is due, so stored state
// does not depend on clients reading it. It also settles parked arena
// results.
func (s *Service) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	if _, err := s.HeistState(ctx); err != nil {
		return report, err
	}
	ids, err := s.ListAccountIDs(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var flipped, completed int
		err := s.mutate(ctx, id, "", "maintenance", func(tx store.Tx) error {
			now := s.clock.Now()
			var err error
			if flipped, err = persistFarmResolutions(ctx, tx, id, now); err != nil {
				return err
			}
			if _, _, err = s.resolveCompanionTx(ctx, tx, id, now); err != nil {
				return err
			}
			done, err := evaluateQuestsTx(ctx, tx, id, now)
			completed = len(done)
			return err
		})
		report.Accounts++
		if err != nil {
			report.Failures++
			s.log.Warn("account maintenance failed", "account_id", id, "err", err)
			continue
		}
		report.FarmsActivated += flipped
		report.QuestsCompleted += completed

		settled, err := s.settlePendingArena(ctx, id)
		report.ArenaSettled += settled
		if err != nil {
			report.Failures++
			s.log.Warn("arena settlement failed", "account_id", id, "err", err)
		}
	}

	syndicates, err := s.ListSyndicates(ctx)
	if err != nil {
		return report, err
	}
	for _, syn := range syndicates {
		paid, err := s.CheckGoal(ctx, syn.ID)
		if err != nil {
			report.Failures++
			s.log.Warn("syndicate goal check failed", "syndicate_id", syn.ID, "err", err)
			continue
		}
		if paid {
			report.SyndicatePayouts++
		}
	}
	return report, nil
}
