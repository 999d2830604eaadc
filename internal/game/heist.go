package game

import (
	"context"
	"fmt"
	"time"

	"tycoon/internal/store"

	"github.com/shopspring/decimal"
)

type HeistStage string

const (
	StageObservation HeistStage = "observation"
	StagePlanning    HeistStage = "planning"
	StageInsider     HeistStage = "insider"
	StageExecution   HeistStage = "execution"
	StageFinished    HeistStage = "finished"
)

const (
	HeistOutcomeSuccess = "success"
	HeistOutcomeFailure = "failure"

	HeistProgressStep  = 20
	HeistStageComplete = 100
	ShadowCoreBonus    = 5
	ShadowCoreItem     = "SHADOW Core"
	PrisonTerm         = 24 * time.Hour
)

var heistStages = []HeistStage{StageObservation, StagePlanning, StageInsider, StageExecution, StageFinished}

var stageBonus = map[HeistStage]int{
	StagePlanning:  10,
	StageInsider:   20,
	StageExecution: 30,
}

var (
	HeistReward       = Reward{BTC: decimal.NewFromInt(500), MiningPower: decimal.NewFromInt(100)}
	HeistBankDefenses = BankDefenses{Firewall: 80, Guards: 50, Alarms: 70}
)

type BankDefenses struct {
	Firewall int `json:"firewall"`
	Guards   int `json:"guards"`
	Alarms   int `json:"alarms"`
}

type HeistEvent struct {
	EventID       string       `json:"event_id"`
	StartTime     time.Time    `json:"start_time"`
	EndTime       time.Time    `json:"end_time"`
	Stage         HeistStage   `json:"stage"`
	Progress      int          `json:"progress"`
	Participants  []string     `json:"participants"`
	BankDefenses  BankDefenses `json:"bank_defenses"`
	SuccessChance int          `json:"success_chance"`
	Reward        Reward       `json:"reward"`
	Outcome       string       `json:"outcome,omitempty"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

func (e HeistEvent) HasParticipant(syndicateID string) bool {
	for _, p := range e.Participants {
		if p == syndicateID {
			return true
		}
	}
	return false
}

func StageIndex(stage HeistStage) int {
	for i, s := range heistStages {
		if s == stage {
			return i
		}
	}
	return -1
}

// HeistWindow is the UTC ISO week containing now, Monday 00:00:00.000 through
// Sunday 23:59:59.999, and the event id derived from it.
func HeistWindow(now time.Time) (start, end time.Time, eventID string) {
	now = now.UTC()
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -daysSinceMonday)
	end = start.AddDate(0, 0, 7).Add(-time.Millisecond)
	year, week := start.ISOWeek()
	return start, end, fmt.Sprintf("week_%d_%d", year, week)
}

func NewHeistEvent(now time.Time) HeistEvent {
	start, end, id := HeistWindow(now)
	return HeistEvent{
		EventID:      id,
		StartTime:    start,
		EndTime:      end,
		Stage:        StageObservation,
		Participants: []string{},
		BankDefenses: HeistBankDefenses,
		Reward:       HeistReward,
	}
}

func ResolveHeist(ev HeistEvent, now time.Time) (next HeistEvent, reset bool) {
	if ev.EventID == "" || now.After(ev.EndTime) {
		return NewHeistEvent(now), true
	}
	return ev, false
}

// AdvanceHeistStage adds one progress step. A full stage rolls over into the next
// one and collects that stage's success bonus; entered reports the stage
// reached when that happens.
func AdvanceHeistStage(ev HeistEvent) (next HeistEvent, entered HeistStage, err error) {
	if ev.Stage == StageFinished {
		return ev, "", fmt.Errorf("%w: heist already finished", ErrNotEligible)
	}
	idx := StageIndex(ev.Stage)
	if idx < 0 {
		return ev, "", fmt.Errorf("%w: unknown heist stage %q", ErrInvalidInput, ev.Stage)
	}
	ev.Progress += HeistProgressStep
	if ev.Progress < HeistStageComplete {
		return ev, "", nil
	}
	ev.Progress = 0
	ev.Stage = heistStages[idx+1]
	ev.SuccessChance += stageBonus[ev.Stage]
	return ev, ev.Stage, nil
}

func HeistSucceeds(successChance int, draw float64) bool {
	return draw*100 < float64(successChance)
}

func (s *Service) HeistState(ctx context.Context) (HeistEvent, error) {
	now := s.clock.Now()
	ev, err := getDoc[HeistEvent](ctx, s.store, heistKey)
	if err != nil && !isNotFound(err) {
		return HeistEvent{}, err
	}
	if _, stale := ResolveHeist(ev, now); !stale {
		return ev, nil
	}
	err = s.mutate(ctx, "", "", "heist_reset", func(tx store.Tx) error {
		var err error
		ev, err = loadHeistTx(ctx, tx, now)
		return err
	})
	return ev, err
}

func loadHeistTx(ctx context.Context, tx store.Tx, now time.Time) (HeistEvent, error) {
	ev, err := getDoc[HeistEvent](ctx, tx, heistKey)
	if err != nil && !isNotFound(err) {
		return HeistEvent{}, err
	}
	ev, reset := ResolveHeist(ev, now)
	if reset {
		if err := tx.Put(ctx, heistKey, ev); err != nil {
			return HeistEvent{}, err
		}
	}
	return ev, nil
}

func (s *Service) JoinHeist(ctx context.Context, accountID, idem string) (HeistEvent, error) {
	var out HeistEvent
	err := s.mutate(ctx, accountID, idem, "join_heist", func(tx store.Tx) error {
		now := s.clock.Now()
		m, ok, err := loadMembership(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: join a syndicate first", ErrNotEligible)
		}
		ev, err := loadHeistTx(ctx, tx, now)
		if err != nil {
			return err
		}
		if ev.HasParticipant(m.SyndicateID) {
			return fmt.Errorf("%w: syndicate already joined the heist", ErrAlreadyInState)
		}
		if ev.Stage == StageFinished {
			return fmt.Errorf("%w: heist already finished", ErrNotEligible)
		}
		syn, err := getDoc[Syndicate](ctx, tx, syndicateKey(m.SyndicateID))
		if err != nil {
			return err
		}
		hasCore := false
		for _, memberID := range syn.Members {
			p, err := loadPrison(ctx, tx, memberID, now)
			if err != nil {
				return err
			}
			if p.InPrison {
				return fmt.Errorf("%w: a syndicate member is in prison until %s", ErrNotEligible, p.PrisonEndTime.Format(time.RFC3339))
			}
			acct, err := loadAccount(ctx, tx, memberID)
			if err != nil && !isNotFound(err) {
				return err
			}
			if acct.HasItem(ShadowCoreItem) {
				hasCore = true
			}
		}
		ev.Participants = append(ev.Participants, m.SyndicateID)
		if hasCore {
			ev.SuccessChance += ShadowCoreBonus
		}
		out = ev
		return tx.Put(ctx, heistKey, ev)
	})
	if err != nil {
		return HeistEvent{}, err
	}
	s.log.Info("heist joined", "account_id", accountID, "event_id", out.EventID)
	return out, nil
}

// AdvanceHeist pushes the heist forward on behalf of the caller's syndicate.
// Entering the finished stage resolves the outcome for every participant.
func (s *Service) AdvanceHeist(ctx context.Context, accountID, idem string) (HeistEvent, error) {
	var (
		out      HeistEvent
		affected int
	)
	err := s.mutate(ctx, accountID, idem, "advance_heist", func(tx store.Tx) error {
		affected = 0
		now := s.clock.Now()
		m, ok, err := loadMembership(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: join a syndicate first", ErrNotEligible)
		}
		p, err := loadPrison(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		if p.InPrison {
			return fmt.Errorf("%w: in prison until %s", ErrNotEligible, p.PrisonEndTime.Format(time.RFC3339))
		}
		ev, err := loadHeistTx(ctx, tx, now)
		if err != nil {
			return err
		}
		if !ev.HasParticipant(m.SyndicateID) {
			return fmt.Errorf("%w: syndicate is not part of the heist", ErrNotEligible)
		}
		ev, entered, err := AdvanceHeistStage(ev)
		if err != nil {
			return err
		}
		if entered == StageFinished {
			success := HeistSucceeds(ev.SuccessChance, s.chance.Float64(StreamHeist))
			affected, err = settleHeistTx(ctx, tx, ev, success, now)
			if err != nil {
				return err
			}
			ev.Outcome = HeistOutcomeFailure
			if success {
				ev.Outcome = HeistOutcomeSuccess
			}
			at := now
			ev.ResolvedAt = &at
		}
		out = ev
		return tx.Put(ctx, heistKey, ev)
	})
	if err != nil {
		return HeistEvent{}, err
	}
	if out.Outcome != "" {
		s.log.Info("heist resolved", "event_id", out.EventID, "outcome", out.Outcome, "members", affected)
		if out.Outcome == HeistOutcomeSuccess {
			s.announce(ctx, fmt.Sprintf("Heist %s succeeded. %d crew members split the vault: %s BTC each.", out.EventID, affected, out.Reward.BTC))
		} else {
			s.announce(ctx, fmt.Sprintf("Heist %s failed. %d crew members are in prison for 24 hours.", out.EventID, affected))
		}
	}
	return out, nil
}

func settleHeistTx(ctx context.Context, tx store.Tx, ev HeistEvent, success bool, now time.Time) (int, error) {
	seen := map[string]bool{}
	for _, synID := range ev.Participants {
		syn, err := getDoc[Syndicate](ctx, tx, syndicateKey(synID))
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		for _, memberID := range syn.Members {
			if seen[memberID] {
				continue
			}
			seen[memberID] = true
			if !success {
				p := PrisonStatus{InPrison: true, PrisonEndTime: now.Add(PrisonTerm)}
				if err := tx.Put(ctx, prisonKey(memberID), p); err != nil {
					return 0, err
				}
				continue
			}
			acct, err := loadAccount(ctx, tx, memberID)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return 0, err
			}
			acct.BTCBalance = acct.BTCBalance.Add(ev.Reward.BTC)
			acct.MiningPower = acct.MiningPower.Add(ev.Reward.MiningPower)
			if err := tx.Put(ctx, accountKey(memberID), acct); err != nil {
				return 0, err
			}
		}
	}
	return len(seen), nil
}

func (s *Service) Prison(ctx context.Context, accountID string) (PrisonStatus, error) {
	return loadPrison(ctx, s.store, accountID, s.clock.Now())
}
