package game

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tycoon/internal/store"
)

const (
	EffectMiningPower         = "miningPower"
	EffectBuildCostMultiplier = "buildCostMultiplier"
)

// ApplyItem charges the item's price and applies its effect to the account.
func ApplyItem(acct Account, item Item) (Account, error) {
	if acct.BTCBalance.LessThan(item.Price) {
		return acct, fmt.Errorf("%w: %s costs %s BTC, balance %s", ErrInsufficientFunds, item.Name, item.Price, acct.BTCBalance)
	}
	acct.BTCBalance = acct.BTCBalance.Sub(item.Price)
	switch item.Effect.Type {
	case EffectMiningPower:
		acct.MiningPower = acct.MiningPower.Add(item.Effect.Value)
	case EffectBuildCostMultiplier:
		acct.BuildCostMultiplier = acct.BuildCostMultiplier.Mul(item.Effect.Value)
	}
	acct.Items = append(acct.Items, item.Name)
	return acct, nil
}

func (s *Service) ListItems(ctx context.Context) ([]Item, error) {
	items, err := listDocs[Item](ctx, s.store, itemsPrefix)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Price.LessThan(items[j].Price) })
	return items, nil
}

func (s *Service) BuyItem(ctx context.Context, accountID, itemID, idem string) (Account, error) {
	itemID = strings.TrimSpace(itemID)
	var out Account
	err := s.mutate(ctx, accountID, idem, "buy_item", func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		item, err := getDoc[Item](ctx, tx, itemKey(itemID))
		if err != nil {
			return err
		}
		acct, err = ApplyItem(acct, item)
		if err != nil {
			return err
		}
		out = acct
		return tx.Put(ctx, accountKey(accountID), acct)
	})
	if err != nil {
		return Account{}, err
	}
	s.log.Info("darkweb item bought", "account_id", accountID, "item_id", itemID)
	return out, nil
}
