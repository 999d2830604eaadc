package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"tycoon/internal/store"

	"github.com/shopspring/decimal"
)

const (
	GoalTotalMinedBTC = "totalMinedBtc"
	GoalBTCBalance    = "btcBalance"

	MaxChatMessageLen = 500
)

func GoalStat(goalType string, acct Account) decimal.Decimal {
	switch goalType {
	case GoalBTCBalance:
		return acct.BTCBalance
	default:
		return acct.TotalMinedBTC
	}
}

// ApplyContribution recomputes the member's contribution from stat and folds
// the delta into the syndicate's aggregate progress.
func ApplyContribution(syn Syndicate, m Membership, stat decimal.Decimal) (Syndicate, Membership, decimal.Decimal) {
	next := nonNegative(stat.Sub(m.Baseline))
	delta := next.Sub(m.Contribution)
	m.Contribution = next
	syn.Progress = nonNegative(syn.Progress.Add(delta))
	return syn, m, delta
}

func GoalReached(syn Syndicate) bool {
	return syn.Goal.Target.IsPositive() && syn.Progress.GreaterThanOrEqual(syn.Goal.Target)
}

func (s *Service) ListSyndicates(ctx context.Context) ([]Syndicate, error) {
	return listDocs[Syndicate](ctx, s.store, syndicatesPrefix)
}

func (s *Service) GetSyndicate(ctx context.Context, syndicateID string) (Syndicate, error) {
	return getDoc[Syndicate](ctx, s.store, syndicateKey(strings.TrimSpace(syndicateID)))
}

func (s *Service) MyMembership(ctx context.Context, accountID string) (Membership, error) {
	m, ok, err := loadMembership(ctx, s.store, accountID)
	if err != nil {
		return Membership{}, err
	}
	if !ok {
		return Membership{}, fmt.Errorf("%w: not in a syndicate", ErrNotFound)
	}
	return m, nil
}

func (s *Service) JoinSyndicate(ctx context.Context, accountID, syndicateID, idem string) (Membership, error) {
	syndicateID = strings.TrimSpace(syndicateID)
	var out Membership
	err := s.mutate(ctx, accountID, idem, "join_syndicate", func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if existing, ok, err := loadMembership(ctx, tx, accountID); err != nil {
			return err
		} else if ok {
			return fmt.Errorf("%w: already a member of %s", ErrAlreadyInState, existing.SyndicateID)
		}
		syn, err := getDoc[Syndicate](ctx, tx, syndicateKey(syndicateID))
		if err != nil {
			return err
		}
		out = Membership{
			AccountID:    accountID,
			SyndicateID:  syndicateID,
			Contribution: decimal.Zero,
			Baseline:     GoalStat(syn.Goal.Type, acct),
			JoinedAt:     s.clock.Now(),
		}
		if !syn.HasMember(accountID) {
			syn.Members = append(syn.Members, accountID)
		}
		if err := tx.Put(ctx, syndicateKey(syndicateID), syn); err != nil {
			return err
		}
		return tx.Put(ctx, membershipKey(accountID), out)
	})
	if err != nil {
		return Membership{}, err
	}
	s.log.Info("syndicate joined", "account_id", accountID, "syndicate_id", syndicateID)
	return out, nil
}

func (s *Service) LeaveSyndicate(ctx context.Context, accountID, idem string) error {
	return s.mutate(ctx, accountID, idem, "leave_syndicate", func(tx store.Tx) error {
		m, ok, err := loadMembership(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: not in a syndicate", ErrNotFound)
		}
		syn, err := getDoc[Syndicate](ctx, tx, syndicateKey(m.SyndicateID))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil {
			syn.Progress = nonNegative(syn.Progress.Sub(m.Contribution))
			syn.Members = removeString(syn.Members, accountID)
			if err := tx.Put(ctx, syndicateKey(syn.ID), syn); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, membershipKey(accountID))
	})
}

// UpdateContribution refreshes the account's contribution and checks the
// syndicate goal in the same transaction.
func (s *Service) UpdateContribution(ctx context.Context, accountID string) (Membership, error) {
	var (
		out    Membership
		payout *goalPayout
	)
	err := s.mutate(ctx, accountID, "", "update_contribution", func(tx store.Tx) error {
		payout = nil
		m, ok, err := loadMembership(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: not in a syndicate", ErrNotFound)
		}
		acct, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		syn, err := getDoc[Syndicate](ctx, tx, syndicateKey(m.SyndicateID))
		if err != nil {
			return err
		}
		syn, m, _ = ApplyContribution(syn, m, GoalStat(syn.Goal.Type, acct))
		out = m
		if err := tx.Put(ctx, membershipKey(accountID), m); err != nil {
			return err
		}
		payout, err = checkGoalTx(ctx, tx, syn)
		return err
	})
	if err != nil {
		return Membership{}, err
	}
	s.announcePayout(ctx, payout)
	return out, nil
}

// CheckGoal pays out and resets the syndicate when its goal is reached. It
// reports whether a payout happened.
func (s *Service) CheckGoal(ctx context.Context, syndicateID string) (bool, error) {
	var payout *goalPayout
	err := s.mutate(ctx, "", "", "check_goal", func(tx store.Tx) error {
		syn, err := getDoc[Syndicate](ctx, tx, syndicateKey(syndicateID))
		if err != nil {
			return err
		}
		payout, err = checkGoalTx(ctx, tx, syn)
		return err
	})
	if err != nil {
		return false, err
	}
	s.announcePayout(ctx, payout)
	return payout != nil, nil
}

type goalPayout struct {
	Syndicate Syndicate
	Paid      []string
}

// checkGoalTx writes syn back, paying every member and resetting progress
// and membership first when the goal is reached.
func checkGoalTx(ctx context.Context, tx store.Tx, syn Syndicate) (*goalPayout, error) {
	if !GoalReached(syn) {
		return nil, tx.Put(ctx, syndicateKey(syn.ID), syn)
	}
	paid := make([]string, 0, len(syn.Members))
	for _, memberID := range syn.Members {
		acct, err := loadAccount(ctx, tx, memberID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		acct.BTCBalance = acct.BTCBalance.Add(syn.Reward.BTC)
		acct.MiningPower = acct.MiningPower.Add(syn.Reward.MiningPower)
		if err := tx.Put(ctx, accountKey(memberID), acct); err != nil {
			return nil, err
		}
		if err := tx.Delete(ctx, membershipKey(memberID)); err != nil {
			return nil, err
		}
		paid = append(paid, memberID)
	}
	before := syn
	syn.Progress = decimal.Zero
	syn.Members = []string{}
	syn.Completions++
	if err := tx.Put(ctx, syndicateKey(syn.ID), syn); err != nil {
		return nil, err
	}
	return &goalPayout{Syndicate: before, Paid: paid}, nil
}

func (s *Service) announcePayout(ctx context.Context, p *goalPayout) {
	if p == nil {
		return
	}
	s.log.Info("syndicate goal reached", "syndicate_id", p.Syndicate.ID, "members_paid", len(p.Paid))
	s.announce(ctx, fmt.Sprintf("Syndicate %s reached its goal. %d members received %s BTC each.",
		p.Syndicate.Name, len(p.Paid), p.Syndicate.Reward.BTC))
}

func (s *Service) SyndicateLeaderboard(ctx context.Context, limit int) ([]SyndicateRow, error) {
	syndicates, err := s.ListSyndicates(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(syndicates, func(i, j int) bool {
		if !syndicates[i].Progress.Equal(syndicates[j].Progress) {
			return syndicates[i].Progress.GreaterThan(syndicates[j].Progress)
		}
		return syndicates[i].ID < syndicates[j].ID
	})
	if limit > 0 && len(syndicates) > limit {
		syndicates = syndicates[:limit]
	}
	out := make([]SyndicateRow, 0, len(syndicates))
	for i, syn := range syndicates {
		out = append(out, SyndicateRow{
			Rank:        int64(i + 1),
			SyndicateID: syn.ID,
			Name:        syn.Name,
			Progress:    syn.Progress,
			Members:     len(syn.Members),
		})
	}
	return out, nil
}

func (s *Service) PostChat(ctx context.Context, accountID, message, idem string) (ChatMessage, error) {
	message = strings.TrimSpace(message)
	if n := utf8.RuneCountInString(message); n == 0 || n > MaxChatMessageLen {
		return ChatMessage{}, fmt.Errorf("%w: message must be 1-%d characters", ErrInvalidInput, MaxChatMessageLen)
	}
	var out ChatMessage
	err := s.mutate(ctx, accountID, idem, "post_chat", func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		m, ok, err := loadMembership(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: join a syndicate to chat", ErrNotEligible)
		}
		out = ChatMessage{
			ID:          newID(),
			SyndicateID: m.SyndicateID,
			AccountID:   accountID,
			Nickname:    acct.Nickname,
			Message:     message,
			Timestamp:   s.clock.Now(),
		}
		return tx.Put(ctx, chatPrefix(m.SyndicateID)+out.ID, out)
	})
	return out, err
}

// ListChat returns the most recent messages of the caller's syndicate in
// chronological order.
func (s *Service) ListChat(ctx context.Context, accountID string, limit int) ([]ChatMessage, error) {
	m, ok, err := loadMembership(ctx, s.store, accountID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: join a syndicate to chat", ErrNotEligible)
	}
	msgs, err := listDocs[ChatMessage](ctx, s.store, chatPrefix(m.SyndicateID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func removeString(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

