package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tycoon/internal/store"

	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	// MaxPriceStep bounds one tick of the price walk in either direction.
	MaxPriceStep = 0.05
)

// PriceWalk applies one multiplicative step to price, rounds to whole USD and
// clamps the result to [MinBTCPrice, MaxBTCPrice].
func PriceWalk(price decimal.Decimal, change float64) decimal.Decimal {
	next := price.Mul(decimal.NewFromInt(1).Add(fromFloat(change))).Round(0)
	if next.LessThan(MinBTCPrice) {
		return MinBTCPrice
	}
	if next.GreaterThan(MaxBTCPrice) {
		return MaxBTCPrice
	}
	return next
}

// RunMarketTick moves the global BTC price one step. The write is a
// compare-and-swap on the market document, retried on conflict.
func (s *Service) RunMarketTick(ctx context.Context) (MarketState, error) {
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var state MarketState
		version, err := s.store.Get(ctx, marketKey, &state)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return MarketState{}, err
		}
		if errors.Is(err, store.ErrNotFound) || state.Price.IsZero() {
			state.Price = InitialBTCPrice
		}

		now := s.clock.Now()
		change := s.chance.Uniform(StreamPrice, -MaxPriceStep, MaxPriceStep)
		state.Price = PriceWalk(state.Price, change)
		state.UpdatedAt = now
		state.History = append(state.History, PricePoint{At: now, Price: state.Price})
		if len(state.History) > PriceHistoryLen {
			state.History = append([]PricePoint(nil), state.History[len(state.History)-PriceHistoryLen:]...)
		}

		if _, err := s.store.Swap(ctx, marketKey, version, state); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return MarketState{}, err
		}
		return state, nil
	}
	return MarketState{}, fmt.Errorf("%w: market tick", ErrLostUpdate)
}

func (s *Service) Quote(ctx context.Context) (MarketState, error) {
	state, err := getDoc[MarketState](ctx, s.store, marketKey)
	if errors.Is(err, ErrNotFound) {
		return MarketState{Price: InitialBTCPrice, UpdatedAt: s.clock.Now()}, nil
	}
	return state, err
}

func (s *Service) Trade(ctx context.Context, in TradeInput) (TradeResult, error) {
	side := strings.ToLower(strings.TrimSpace(in.Side))
	if side != SideBuy && side != SideSell {
		return TradeResult{}, fmt.Errorf("%w: side must be buy or sell", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return TradeResult{}, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidInput)
	}

	var out TradeResult
	err := s.mutate(ctx, in.AccountID, in.IdempotencyKey, "trade_"+side, func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, in.AccountID)
		if err != nil {
			return err
		}
		price, err := currentPrice(ctx, tx)
		if err != nil {
			return err
		}
		notional := in.Amount.Mul(price)

		switch side {
		case SideBuy:
			if acct.USDBalance.LessThan(notional) {
				return fmt.Errorf("%w: need %s USD, have %s", ErrInsufficientFunds, notional, acct.USDBalance)
			}
			acct.USDBalance = acct.USDBalance.Sub(notional)
			acct.BTCBalance = acct.BTCBalance.Add(in.Amount)
		case SideSell:
			if acct.BTCBalance.LessThan(in.Amount) {
				return fmt.Errorf("%w: need %s BTC, have %s", ErrInsufficientFunds, in.Amount, acct.BTCBalance)
			}
			acct.BTCBalance = acct.BTCBalance.Sub(in.Amount)
			acct.USDBalance = acct.USDBalance.Add(notional)
		}
		acct.Transactions++
		acct.LargestTransaction = maxDecimal(acct.LargestTransaction, notional)

		now := s.clock.Now()
		rec := TxRecord{
			ID:        newID(),
			Type:      side,
			Amount:    in.Amount,
			Price:     price,
			Notional:  notional,
			Timestamp: now,
		}
		if err := tx.Put(ctx, accountKey(acct.ID), acct); err != nil {
			return err
		}
		if err := tx.Put(ctx, txLogPrefix(acct.ID)+rec.ID, rec); err != nil {
			return err
		}
		if err := foldWeekly(ctx, tx, acct.ID, now, func(w *WeeklyStats) {
			if side == SideBuy {
				w.BTCBought = w.BTCBought.Add(in.Amount)
			} else {
				w.BTCSold = w.BTCSold.Add(in.Amount)
			}
			w.Trades++
		}); err != nil {
			return err
		}

		out = TradeResult{
			TxID:       rec.ID,
			Price:      price,
			Notional:   notional,
			BTCBalance: acct.BTCBalance,
			USDBalance: acct.USDBalance,
		}
		return nil
	})
	if err != nil {
		return TradeResult{}, err
	}
	s.log.Info("trade executed", "account_id", in.AccountID, "side", side, "amount", in.Amount.String(), "price", out.Price.String())
	return out, nil
}

func currentPrice(ctx context.Context, r reader) (decimal.Decimal, error) {
	state, err := getDoc[MarketState](ctx, r, marketKey)
	if errors.Is(err, ErrNotFound) || state.Price.IsZero() {
		return InitialBTCPrice, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return state.Price, nil
}

// foldWeekly applies fn to the account's stats for the ISO week of now.
func foldWeekly(ctx context.Context, tx store.Tx, accountID string, now time.Time, fn func(*WeeklyStats)) error {
	week := ISOWeekKey(now)
	stats, err := getDoc[WeeklyStats](ctx, tx, weeklyKey(accountID, week))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	stats.Week = week
	fn(&stats)
	return tx.Put(ctx, weeklyKey(accountID, week), stats)
}

// ListTransactions returns the account's trades, newest first.
func (s *Service) ListTransactions(ctx context.Context, accountID string, limit int) ([]TxRecord, error) {
	recs, err := listDocs[TxRecord](ctx, s.store, txLogPrefix(accountID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.After(recs[j].Timestamp) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// ListWeeklyStats returns the account's weekly aggregates, latest week first.
func (s *Service) ListWeeklyStats(ctx context.Context, accountID string) ([]WeeklyStats, error) {
	stats, err := listDocs[WeeklyStats](ctx, s.store, weeklyPrefix(accountID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Week > stats[j].Week })
	return stats, nil
}
