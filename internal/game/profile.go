package game

import (
	"context"
	"sort"
	"strings"
	"time"

	"tycoon/internal/catalog"
	"tycoon/internal/store"

	"github.com/shopspring/decimal"
)

const (
	MetricTransactions    = "transactions"
	MetricBTCBalance      = "btcBalance"
	MetricQuestsCompleted = "questsCompleted"
)

// AchievementMet reports whether the account has reached the achievement's
// target on its metric.
func AchievementMet(a catalog.Achievement, acct Account, questsCompleted int64) bool {
	target := fromFloat(a.Target)
	switch a.Metric {
	case MetricTransactions:
		return decimal.NewFromInt(acct.Transactions).GreaterThanOrEqual(target)
	case MetricBTCBalance:
		return acct.BTCBalance.GreaterThanOrEqual(target)
	case MetricQuestsCompleted:
		return decimal.NewFromInt(questsCompleted).GreaterThanOrEqual(target)
	default:
		return false
	}
}

type ProfileUpdate struct {
	AccountID      string
	Nickname       string
	Avatar         string
	IdempotencyKey string
}

func (s *Service) UpdateProfile(ctx context.Context, in ProfileUpdate) (Account, error) {
	nickname := strings.TrimSpace(in.Nickname)
	avatar := strings.TrimSpace(in.Avatar)
	if nickname != "" {
		if err := ValidateNickname(nickname); err != nil {
			return Account{}, err
		}
	}
	if avatar != "" {
		if err := ValidateAvatar(avatar); err != nil {
			return Account{}, err
		}
	}
	var out Account
	err := s.mutate(ctx, in.AccountID, in.IdempotencyKey, "update_profile", func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, in.AccountID)
		if err != nil {
			return err
		}
		if nickname != "" {
			acct.Nickname = nickname
		}
		if avatar != "" {
			acct.Avatar = avatar
		}
		out = acct
		return tx.Put(ctx, accountKey(acct.ID), acct)
	})
	return out, err
}

// Profile returns the account with its achievements and weekly stats.
// Newly met achievements are recorded on the way.
func (s *Service) Profile(ctx context.Context, accountID string) (Profile, error) {
	var out Profile
	err := s.mutate(ctx, accountID, "", "profile", func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		achievements, err := evaluateAchievementsTx(ctx, tx, s.catalog.Achievements, acct, s.clock.Now())
		if err != nil {
			return err
		}
		out = Profile{Account: acct, Achievements: achievements}
		return nil
	})
	if err != nil {
		return Profile{}, err
	}
	if out.Weekly, err = s.ListWeeklyStats(ctx, accountID); err != nil {
		return Profile{}, err
	}
	return out, nil
}

func evaluateAchievementsTx(ctx context.Context, tx store.Tx, defs []catalog.Achievement, acct Account, now time.Time) ([]Achievement, error) {
	questsDone, err := completedQuestCount(ctx, tx, acct.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Achievement, 0, len(defs))
	for _, def := range defs {
		key := achievementKey(acct.ID, def.ID)
		stored, err := getDoc[Achievement](ctx, tx, key)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		if err == nil && stored.Completed {
			out = append(out, stored)
			continue
		}
		a := Achievement{ID: def.ID, Name: def.Name, Description: def.Description}
		if AchievementMet(def, acct, questsDone) {
			at := now
			a.Completed = true
			a.CompletedAt = &at
			if err := tx.Put(ctx, key, a); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// Leaderboard ranks accounts by BTC balance.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	accounts, err := listDocs[Account](ctx, s.store, accountsPrefix)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(accounts, func(i, j int) bool {
		if !accounts[i].BTCBalance.Equal(accounts[j].BTCBalance) {
			return accounts[i].BTCBalance.GreaterThan(accounts[j].BTCBalance)
		}
		return accounts[i].ID < accounts[j].ID
	})
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if len(accounts) > limit {
		accounts = accounts[:limit]
	}
	out := make([]LeaderboardRow, 0, len(accounts))
	for i, a := range accounts {
		out = append(out, LeaderboardRow{
			Rank:       int64(i + 1),
			AccountID:  a.ID,
			Nickname:   a.Nickname,
			BTCBalance: a.BTCBalance,
		})
	}
	return out, nil
}
