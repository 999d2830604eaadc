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

const questAvailable = "available"

// QuestProgress projects live account state onto a quest's metric. Unknown
// quest types report no progress.
func QuestProgress(q Quest, acct Account, farms []Farm) decimal.Decimal {
	switch q.Type {
	case QuestFarmCount:
		return decimal.NewFromInt(activeFarmCount(farms))
	case QuestBTCEarned:
		return nonNegative(acct.BTCBalance.Sub(StarterBTC))
	default:
		return decimal.Zero
	}
}

// EvaluateQuest recomputes an accepted quest's progress. When the target is
// reached the quest completes with progress clamped to the target and
// completed reports true exactly once; completed quests are returned as is.
func EvaluateQuest(q Quest, uq UserQuest, acct Account, farms []Farm, now time.Time) (next UserQuest, completed bool) {
	if uq.Status == QuestCompleted {
		return uq, false
	}
	uq.Progress = QuestProgress(q, acct, farms)
	if uq.Progress.GreaterThanOrEqual(q.Target) {
		uq.Progress = q.Target
		uq.Status = QuestCompleted
		at := now
		uq.CompletedAt = &at
		return uq, true
	}
	return uq, false
}

func (s *Service) ListQuests(ctx context.Context, accountID string) ([]QuestView, error) {
	quests, err := listDocs[Quest](ctx, s.store, questsPrefix)
	if err != nil {
		return nil, err
	}
	userQuests, err := listDocs[UserQuest](ctx, s.store, userQuestsPrefix(accountID))
	if err != nil {
		return nil, err
	}
	byID := make(map[string]UserQuest, len(userQuests))
	for _, uq := range userQuests {
		byID[uq.QuestID] = uq
	}
	out := make([]QuestView, 0, len(quests))
	for _, q := range quests {
		view := QuestView{Quest: q, Status: questAvailable, Progress: decimal.Zero}
		if uq, ok := byID[q.ID]; ok {
			view.Status = string(uq.Status)
			view.Progress = uq.Progress
		}
		out = append(out, view)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Service) AcceptQuest(ctx context.Context, accountID, questID, idem string) (UserQuest, error) {
	questID = strings.TrimSpace(questID)
	var out UserQuest
	err := s.mutate(ctx, accountID, idem, "accept_quest", func(tx store.Tx) error {
		if _, err := loadAccount(ctx, tx, accountID); err != nil {
			return err
		}
		if _, err := getDoc[Quest](ctx, tx, questKey(questID)); err != nil {
			return err
		}
		_, err := getDoc[UserQuest](ctx, tx, userQuestKey(accountID, questID))
		if err == nil {
			return fmt.Errorf("%w: quest %s already accepted", ErrAlreadyInState, questID)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		out = UserQuest{
			QuestID:    questID,
			Status:     QuestAccepted,
			Progress:   decimal.Zero,
			AcceptedAt: s.clock.Now(),
		}
		return tx.Put(ctx, userQuestKey(accountID, questID), out)
	})
	return out, err
}

// EvaluateQuests recomputes every accepted quest for the account and pays
// rewards for the ones that just completed.
func (s *Service) EvaluateQuests(ctx context.Context, accountID string) ([]QuestView, error) {
	var completedNow []string
	err := s.mutate(ctx, accountID, "", "evaluate_quests", func(tx store.Tx) error {
		completedNow = completedNow[:0]
		ids, err := evaluateQuestsTx(ctx, tx, accountID, s.clock.Now())
		completedNow = append(completedNow, ids...)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, id := range completedNow {
		s.log.Info("quest completed", "account_id", accountID, "quest_id", id)
	}
	return s.ListQuests(ctx, accountID)
}

func evaluateQuestsTx(ctx context.Context, tx store.Tx, accountID string, now time.Time) ([]string, error) {
	acct, err := loadAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	farms, err := loadFarms(ctx, tx, accountID, now)
	if err != nil {
		return nil, err
	}
	userQuests, err := listDocs[UserQuest](ctx, tx, userQuestsPrefix(accountID))
	if err != nil {
		return nil, err
	}

	var completed []string
	earned := decimal.Zero
	for _, uq := range userQuests {
		if uq.Status == QuestCompleted {
			continue
		}
		q, err := getDoc[Quest](ctx, tx, questKey(uq.QuestID))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		next, done := EvaluateQuest(q, uq, acct, farms, now)
		if done {
			acct.BTCBalance = acct.BTCBalance.Add(q.Reward.BTC)
			acct.MiningPower = acct.MiningPower.Add(q.Reward.MiningPower)
			earned = earned.Add(q.Reward.BTC)
			completed = append(completed, q.ID)
		}
		if next.Progress.Equal(uq.Progress) && next.Status == uq.Status {
			continue
		}
		if err := tx.Put(ctx, userQuestKey(accountID, uq.QuestID), next); err != nil {
			return nil, err
		}
	}
	if len(completed) == 0 {
		return nil, nil
	}
	if err := tx.Put(ctx, accountKey(accountID), acct); err != nil {
		return nil, err
	}
	err = foldWeekly(ctx, tx, accountID, now, func(w *WeeklyStats) {
		w.BTCEarned = w.BTCEarned.Add(earned)
		w.QuestsCompleted += int64(len(completed))
	})
	return completed, err
}

func completedQuestCount(ctx context.Context, r reader, accountID string) (int64, error) {
	userQuests, err := listDocs[UserQuest](ctx, r, userQuestsPrefix(accountID))
	if err != nil {
		return 0, err
	}
	var n int64
	for _, uq := range userQuests {
		if uq.Status == QuestCompleted {
			n++
		}
	}
	return n, nil
}
