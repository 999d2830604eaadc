package game

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"tycoon/internal/store"

	"github.com/shopspring/decimal"
)

// ResolveFarm flips an UnderConstruction farm to Active once now reaches its
// construction end. It has no other effect and is safe to call repeatedly.
func ResolveFarm(f Farm, now time.Time) Farm {
	if f.Status == FarmUnderConstruction && !now.Before(f.ConstructionEnd) {
		f.Status = FarmActive
	}
	return f
}

// RemainingSeconds is the whole seconds left until construction ends, never
// negative.
func RemainingSeconds(f Farm, now time.Time) int64 {
	if f.Status == FarmActive {
		return 0
	}
	left := f.ConstructionEnd.Sub(now)
	if left <= 0 {
		return 0
	}
	return int64(math.Floor(left.Seconds()))
}

func (s *Service) StartBuild(ctx context.Context, in StartBuildInput) (Farm, error) {
	tpl, ok := s.catalog.Farm(strings.TrimSpace(in.TemplateID))
	if !ok {
		return Farm{}, fmt.Errorf("%w: farm template %q", ErrNotFound, in.TemplateID)
	}

	var out Farm
	err := s.mutate(ctx, in.AccountID, in.IdempotencyKey, "start_build", func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, in.AccountID)
		if err != nil {
			return err
		}
		cost := fromFloat(tpl.Cost).Mul(acct.BuildCostMultiplier)
		if acct.BTCBalance.LessThan(cost) {
			return fmt.Errorf("%w: build costs %s BTC, balance %s", ErrInsufficientFunds, cost, acct.BTCBalance)
		}
		acct.BTCBalance = acct.BTCBalance.Sub(cost)

		now := s.clock.Now()
		out = Farm{
			ID:              newID(),
			AccountID:       in.AccountID,
			TemplateID:      tpl.ID,
			Name:            tpl.Name,
			Level:           tpl.Level,
			Cost:            cost,
			MiningPower:     fromFloat(tpl.MiningPower),
			BuildTime:       tpl.BuildTime,
			Status:          FarmUnderConstruction,
			ConstructionEnd: now.Add(time.Duration(tpl.BuildTime) * time.Second),
			CreatedAt:       now,
		}
		if err := tx.Put(ctx, accountKey(acct.ID), acct); err != nil {
			return err
		}
		return tx.Put(ctx, farmKey(acct.ID, out.ID), out)
	})
	if err != nil {
		return Farm{}, err
	}
	s.log.Info("farm construction started", "account_id", in.AccountID, "farm_id", out.ID, "template", tpl.ID)
	return out, nil
}

func (s *Service) ListFarms(ctx context.Context, accountID string) ([]FarmView, error) {
	now := s.clock.Now()
	farms, err := loadFarms(ctx, s.store, accountID, now)
	if err != nil {
		return nil, err
	}
	return farmViews(farms, now), nil
}

// loadFarms returns the account's farms resolved against now, oldest first.
func loadFarms(ctx context.Context, r reader, accountID string, now time.Time) ([]Farm, error) {
	farms, err := listDocs[Farm](ctx, r, farmsPrefix(accountID))
	if err != nil {
		return nil, err
	}
	for i := range farms {
		farms[i] = ResolveFarm(farms[i], now)
	}
	sort.SliceStable(farms, func(i, j int) bool { return farms[i].CreatedAt.Before(farms[j].CreatedAt) })
	return farms, nil
}

func farmViews(farms []Farm, now time.Time) []FarmView {
	out := make([]FarmView, 0, len(farms))
	for _, f := range farms {
		out = append(out, FarmView{Farm: f, RemainingSeconds: RemainingSeconds(f, now)})
	}
	return out
}

func activeFarmCount(farms []Farm) int64 {
	var n int64
	for _, f := range farms {
		if f.Status == FarmActive {
			n++
		}
	}
	return n
}

// persistFarmResolutions writes back farms whose stored status lags behind
// the clock.
func persistFarmResolutions(ctx context.Context, tx store.Tx, accountID string, now time.Time) (int, error) {
	stored, err := listDocs[Farm](ctx, tx, farmsPrefix(accountID))
	if err != nil {
		return 0, err
	}
	flipped := 0
	for _, f := range stored {
		resolved := ResolveFarm(f, now)
		if resolved.Status == f.Status {
			continue
		}
		if err := tx.Put(ctx, farmKey(accountID, f.ID), resolved); err != nil {
			return flipped, err
		}
		flipped++
	}
	return flipped, nil
}

func farmPower(farms []Farm) decimal.Decimal {
	total := decimal.Zero
	for _, f := range farms {
		if f.Status == FarmActive {
			total = total.Add(f.MiningPower)
		}
	}
	return total
}
