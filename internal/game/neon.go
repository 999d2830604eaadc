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
	MaxNeonLevel        = 4
	NeonQuestTTL        = 48 * time.Hour
	ShadowCooldown      = 24 * time.Hour
	ShadowThreatStep    = 10
	ShadowThreatMax     = 100
	ShadowAttackFloor   = 50
	NeonQuestLoyalty    = 20
	NeonQuestShards     = 5
	LegacySteps         = 3
	legacyMultiplierPct = 115

	BonusOverclock  = "overclock"
	BonusHackShield = "hackShield"
	BonusDataVault  = "dataVault"

	AttackMiningPower = "miningPowerReduction"
	AttackBTCTheft    = "btcTheft"

	MessageQuest    = "quest"
	MessageReaction = "reaction"
	MessageTip      = "tip"

	TopicStrategy    = "strategy"
	TopicMiningPower = "miningPower"
)

var BonusCosts = map[string]int64{
	BonusOverclock:  50,
	BonusHackShield: 100,
	BonusDataVault:  200,
}

var legacyStepText = []string{
	"Hack into the Crypto Exchange and retrieve a data fragment (cost: 50 BTC).",
	"Join a CryptoBank Robbery and steal a secure key (cost: 100 loyalty points).",
	"Decrypt the final fragment using 30 NEON shards.",
}

var (
	legacyBTCCost     = decimal.NewFromInt(50)
	legacyLoyaltyCost = int64(100)
	legacyShardCost   = int64(30)
)

type NeonQuestReward struct {
	BTC         decimal.Decimal `json:"btc"`
	MiningPower decimal.Decimal `json:"mining_power"`
	Item        string          `json:"item,omitempty"`
}

type NeonQuest struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Deadline    time.Time       `json:"deadline"`
	Reward      NeonQuestReward `json:"reward"`
}

type Companion struct {
	AccountID            string      `json:"account_id"`
	NeonLevel            int         `json:"neon_level"`
	LoyaltyPoints        int64       `json:"loyalty_points"`
	Shards               int64       `json:"shards"`
	ActiveQuests         []NeonQuest `json:"active_quests"`
	UnlockedBonuses      []string    `json:"unlocked_bonuses"`
	LegacyQuestProgress  int         `json:"legacy_quest_progress"`
	ShadowThreatLevel    int         `json:"shadow_threat_level"`
	ShadowAttackCooldown time.Time   `json:"shadow_attack_cooldown"`
	CyberArenaCooldown   time.Time   `json:"cyber_arena_cooldown"`
}

func (c Companion) HasBonus(bonus string) bool {
	for _, b := range c.UnlockedBonuses {
		if b == bonus {
			return true
		}
	}
	return false
}

func (c Companion) quest(id string) (NeonQuest, int) {
	for i, q := range c.ActiveQuests {
		if q.ID == id {
			return q, i
		}
	}
	return NeonQuest{}, -1
}

type ShadowAttack struct {
	ID         string          `json:"id"`
	AttackType string          `json:"attack_type"`
	Damage     decimal.Decimal `json:"damage"`
	Timestamp  time.Time       `json:"timestamp"`
}

type NeonMessage struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func NewCompanion(accountID string) Companion {
	return Companion{
		AccountID:       accountID,
		NeonLevel:       1,
		ActiveQuests:    []NeonQuest{},
		UnlockedBonuses: []string{},
	}
}

func UpgradeCost(level int) int64 {
	return int64(level) * 20
}

func UpgradeNeon(c Companion) (Companion, error) {
	if c.NeonLevel >= MaxNeonLevel {
		return c, fmt.Errorf("%w: NEON is already at max level", ErrAlreadyInState)
	}
	cost := UpgradeCost(c.NeonLevel)
	if c.Shards < cost {
		return c, fmt.Errorf("%w: upgrade needs %d shards, have %d", ErrInsufficientShards, cost, c.Shards)
	}
	c.Shards -= cost
	c.NeonLevel++
	return c, nil
}

func UnlockBonus(c Companion, bonus string) (Companion, error) {
	cost, ok := BonusCosts[bonus]
	if !ok {
		return c, fmt.Errorf("%w: unknown bonus %q", ErrNotFound, bonus)
	}
	if c.HasBonus(bonus) {
		return c, fmt.Errorf("%w: bonus %s already unlocked", ErrAlreadyInState, bonus)
	}
	if c.LoyaltyPoints < cost {
		return c, fmt.Errorf("%w: %s needs %d loyalty points, have %d", ErrInsufficientLoyalty, bonus, cost, c.LoyaltyPoints)
	}
	c.LoyaltyPoints -= cost
	c.UnlockedBonuses = append(c.UnlockedBonuses, bonus)
	return c, nil
}

// EnsureNeonQuest issues the scripted quest when no active quest has a
// deadline in the future. issued reports whether a quest was added.
func EnsureNeonQuest(c Companion, now time.Time) (Companion, bool) {
	for _, q := range c.ActiveQuests {
		if q.Deadline.After(now) {
			return c, false
		}
	}
	c.ActiveQuests = append(c.ActiveQuests, NeonQuest{
		ID:          "quest_" + newID(),
		Description: "Infiltrate the Darkweb Market and buy a Decryptor within 48 hours.",
		Deadline:    now.Add(NeonQuestTTL),
		Reward: NeonQuestReward{
			BTC:         decimal.NewFromInt(50),
			MiningPower: decimal.NewFromInt(10),
			Item:        "Quantum Firewall",
		},
	})
	return c, true
}

func CounterShadowCost(threat int) int64 {
	return int64(threat / 2)
}

func CounterShadow(c Companion) (Companion, error) {
	if c.ShadowThreatLevel == 0 {
		return c, fmt.Errorf("%w: no SHADOW threat to counter", ErrNotEligible)
	}
	cost := CounterShadowCost(c.ShadowThreatLevel)
	if c.Shards < cost {
		return c, fmt.Errorf("%w: countering needs %d shards, have %d", ErrInsufficientShards, cost, c.Shards)
	}
	c.Shards -= cost
	c.ShadowThreatLevel = 0
	return c, nil
}

// ResolveShadow runs one SHADOW cycle when its cooldown has passed: threat
// grows and, past the attack floor, a coin flip decides whether SHADOW
// strikes. The returned attack is nil when nothing happened.
func ResolveShadow(c Companion, acct Account, now time.Time, rng Rand) (Companion, Account, *ShadowAttack) {
	if now.Before(c.ShadowAttackCooldown) {
		return c, acct, nil
	}
	c.ShadowThreatLevel += ShadowThreatStep
	if c.ShadowThreatLevel > ShadowThreatMax {
		c.ShadowThreatLevel = ShadowThreatMax
	}
	c.ShadowAttackCooldown = now.Add(ShadowCooldown)
	if c.ShadowThreatLevel < ShadowAttackFloor || rng.Float64() >= 0.5 {
		return c, acct, nil
	}

	attack := &ShadowAttack{ID: newID(), Timestamp: now}
	if rng.Float64() < 0.5 {
		attack.AttackType = AttackMiningPower
		attack.Damage = percentOf(acct.MiningPower, 10)
		acct.MiningPower = nonNegative(acct.MiningPower.Sub(attack.Damage))
	} else {
		attack.AttackType = AttackBTCTheft
		attack.Damage = percentOf(acct.BTCBalance, 5)
		if c.HasBonus(BonusDataVault) {
			attack.Damage = attack.Damage.Div(decimal.NewFromInt(2)).Truncate(BTCPlaces)
		}
		acct.BTCBalance = nonNegative(acct.BTCBalance.Sub(attack.Damage))
	}
	return c, acct, attack
}

// AdvanceLegacy pays for and completes the next legacy step. The final step
// raises the account's mining multiplier by 15%.
func AdvanceLegacy(c Companion, acct Account) (Companion, Account, error) {
	switch c.LegacyQuestProgress {
	case 0:
		if acct.BTCBalance.LessThan(legacyBTCCost) {
			return c, acct, fmt.Errorf("%w: step 1 needs %s BTC", ErrInsufficientFunds, legacyBTCCost)
		}
		acct.BTCBalance = acct.BTCBalance.Sub(legacyBTCCost)
	case 1:
		if c.LoyaltyPoints < legacyLoyaltyCost {
			return c, acct, fmt.Errorf("%w: step 2 needs %d loyalty points", ErrInsufficientLoyalty, legacyLoyaltyCost)
		}
		c.LoyaltyPoints -= legacyLoyaltyCost
	case 2:
		if c.Shards < legacyShardCost {
			return c, acct, fmt.Errorf("%w: step 3 needs %d shards", ErrInsufficientShards, legacyShardCost)
		}
		c.Shards -= legacyShardCost
		acct.MiningMultiplier = acct.MiningMultiplier.Mul(decimal.NewFromInt(legacyMultiplierPct)).Div(decimal.NewFromInt(100))
	default:
		return c, acct, fmt.Errorf("%w: legacy questline already completed", ErrAlreadyInState)
	}
	c.LegacyQuestProgress++
	return c, acct, nil
}

func loadCompanion(ctx context.Context, r reader, accountID string) (Companion, error) {
	c, err := getDoc[Companion](ctx, r, companionKey(accountID))
	if isNotFound(err) {
		return NewCompanion(accountID), nil
	}
	if err != nil {
		return c, err
	}
	if c.NeonLevel == 0 {
		c.NeonLevel = 1
	}
	return c, nil
}

func putNeonMessage(ctx context.Context, tx store.Tx, accountID, kind, text string, now time.Time) (NeonMessage, error) {
	msg := NeonMessage{ID: newID(), Type: kind, Message: text, Timestamp: now}
	return msg, tx.Put(ctx, neonMessagesPrefix(accountID)+msg.ID, msg)
}

// resolveCompanionTx applies the lazy companion transitions (first contact,
// quest issue, SHADOW cycle) and persists whatever changed.
func (s *Service) resolveCompanionTx(ctx context.Context, tx store.Tx, accountID string, now time.Time) (Companion, Account, error) {
	acct, err := loadAccount(ctx, tx, accountID)
	if err != nil {
		return Companion{}, acct, err
	}
	_, getErr := tx.Get(ctx, companionKey(accountID), nil)
	if getErr != nil && !errors.Is(getErr, store.ErrNotFound) {
		return Companion{}, acct, getErr
	}
	fresh := getErr != nil
	c, err := loadCompanion(ctx, tx, accountID)
	if err != nil {
		return c, acct, err
	}
	if fresh {
		if _, err := putNeonMessage(ctx, tx, accountID, MessageQuest,
			"I've detected a hidden data fragment about my creators. Will you help me find it, human?", now); err != nil {
			return c, acct, err
		}
	}

	var issued bool
	c, issued = EnsureNeonQuest(c, now)
	if issued {
		if _, err := putNeonMessage(ctx, tx, accountID, MessageQuest, "New quest available: Infiltrate the Darkweb Market!", now); err != nil {
			return c, acct, err
		}
	}

	before := c
	var attack *ShadowAttack
	c, acct, attack = ResolveShadow(c, acct, now, s.chance.Source(StreamShadow))
	if attack != nil {
		if err := tx.Put(ctx, shadowAttacksPrefix(accountID)+attack.ID, attack); err != nil {
			return c, acct, err
		}
		if err := tx.Put(ctx, accountKey(accountID), acct); err != nil {
			return c, acct, err
		}
		text := fmt.Sprintf("SHADOW attacked! Your mining power decreased by %s TH/s. We need to fight back!", attack.Damage)
		if attack.AttackType == AttackBTCTheft {
			text = fmt.Sprintf("SHADOW stole %s BTC from you! This is getting serious, human.", attack.Damage)
		}
		if _, err := putNeonMessage(ctx, tx, accountID, MessageReaction, text, now); err != nil {
			return c, acct, err
		}
	}

	if fresh || issued || !before.ShadowAttackCooldown.Equal(c.ShadowAttackCooldown) {
		if err := tx.Put(ctx, companionKey(accountID), c); err != nil {
			return c, acct, err
		}
	}
	return c, acct, nil
}

func (s *Service) Companion(ctx context.Context, accountID string) (Companion, error) {
	var out Companion
	err := s.mutate(ctx, accountID, "", "companion", func(tx store.Tx) error {
		c, _, err := s.resolveCompanionTx(ctx, tx, accountID, s.clock.Now())
		out = c
		return err
	})
	return out, err
}

func (s *Service) companionAction(ctx context.Context, accountID, idem, action string, fn func(c Companion, acct Account, now time.Time) (Companion, Account, string, error)) (Companion, error) {
	var out Companion
	err := s.mutate(ctx, accountID, idem, action, func(tx store.Tx) error {
		now := s.clock.Now()
		c, acct, err := s.resolveCompanionTx(ctx, tx, accountID, now)
		if err != nil {
			return err
		}
		c, acct, msg, err := fn(c, acct, now)
		if err != nil {
			return err
		}
		if msg != "" {
			if _, err := putNeonMessage(ctx, tx, accountID, MessageReaction, msg, now); err != nil {
				return err
			}
		}
		if err := tx.Put(ctx, accountKey(accountID), acct); err != nil {
			return err
		}
		out = c
		return tx.Put(ctx, companionKey(accountID), c)
	})
	return out, err
}

func (s *Service) UpgradeNeon(ctx context.Context, accountID, idem string) (Companion, error) {
	return s.companionAction(ctx, accountID, idem, "neon_upgrade", func(c Companion, acct Account, _ time.Time) (Companion, Account, string, error) {
		c, err := UpgradeNeon(c)
		if err != nil {
			return c, acct, "", err
		}
		return c, acct, fmt.Sprintf("NEON upgraded to level %d! I'm even smarter now. What's next?", c.NeonLevel), nil
	})
}

func (s *Service) UnlockNeonBonus(ctx context.Context, accountID, bonus, idem string) (Companion, error) {
	bonus = strings.TrimSpace(bonus)
	return s.companionAction(ctx, accountID, idem, "neon_unlock_bonus", func(c Companion, acct Account, _ time.Time) (Companion, Account, string, error) {
		c, err := UnlockBonus(c, bonus)
		if err != nil {
			return c, acct, "", err
		}
		return c, acct, fmt.Sprintf("Bonus unlocked: %s! You're making me proud, human.", bonus), nil
	})
}

func (s *Service) AdvanceLegacy(ctx context.Context, accountID, idem string) (Companion, error) {
	return s.companionAction(ctx, accountID, idem, "neon_legacy", func(c Companion, acct Account, _ time.Time) (Companion, Account, string, error) {
		step := c.LegacyQuestProgress
		c, acct, err := AdvanceLegacy(c, acct)
		if err != nil {
			return c, acct, "", err
		}
		if step+1 < LegacySteps {
			return c, acct, fmt.Sprintf("Step %d completed! Next: %s", step+1, legacyStepText[step+1]), nil
		}
		return c, acct, "We did it, human! The data fragment reveals where my creators are. NEON Core unlocked: +15% mining power!", nil
	})
}

func (s *Service) CounterShadow(ctx context.Context, accountID, idem string) (Companion, error) {
	return s.companionAction(ctx, accountID, idem, "neon_counter_shadow", func(c Companion, acct Account, _ time.Time) (Companion, Account, string, error) {
		c, err := CounterShadow(c)
		if err != nil {
			return c, acct, "", err
		}
		return c, acct, "SHADOW threat neutralized! That pest won't bother us for a while.", nil
	})
}

// CompleteNeonQuest pays out an active NEON quest. An expired quest is
// removed and reported as ErrNotEligible; the removal is kept.
func (s *Service) CompleteNeonQuest(ctx context.Context, accountID, questID, idem string) (Companion, error) {
	expired := false
	c, err := s.companionAction(ctx, accountID, idem, "neon_complete_quest", func(c Companion, acct Account, now time.Time) (Companion, Account, string, error) {
		expired = false
		q, idx := c.quest(questID)
		if idx < 0 {
			return c, acct, "", fmt.Errorf("%w: neon quest %s", ErrNotFound, questID)
		}
		c.ActiveQuests = append(append([]NeonQuest{}, c.ActiveQuests[:idx]...), c.ActiveQuests[idx+1:]...)
		if now.After(q.Deadline) {
			expired = true
			return c, acct, "Too slow, human... That quest expired. Better luck next time!", nil
		}
		acct.BTCBalance = acct.BTCBalance.Add(q.Reward.BTC)
		acct.MiningPower = acct.MiningPower.Add(q.Reward.MiningPower)
		if q.Reward.Item != "" && !acct.HasItem(q.Reward.Item) {
			acct.Items = append(acct.Items, q.Reward.Item)
		}
		c.LoyaltyPoints += NeonQuestLoyalty
		c.Shards += NeonQuestShards
		return c, acct, fmt.Sprintf("Quest completed! Reward: %s BTC, %s TH/s. Nice work, human!", q.Reward.BTC, q.Reward.MiningPower), nil
	})
	if err != nil {
		return c, err
	}
	if expired {
		return c, fmt.Errorf("%w: neon quest %s expired", ErrNotEligible, questID)
	}
	return c, nil
}

func (s *Service) AskNeon(ctx context.Context, accountID, topic, idem string) (NeonMessage, error) {
	topic = strings.TrimSpace(topic)
	if topic != TopicStrategy && topic != TopicMiningPower {
		return NeonMessage{}, fmt.Errorf("%w: unknown topic %q", ErrInvalidInput, topic)
	}
	var out NeonMessage
	err := s.mutate(ctx, accountID, idem, "neon_ask", func(tx store.Tx) error {
		acct, err := loadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		text := "For the CryptoBank Robbery, level NEON up and join a strong syndicate like the Crypto Kings."
		if topic == TopicMiningPower {
			text = fmt.Sprintf("Build bigger farms or buy an ASIC rig on the Darkweb Market. Your mining power is %s TH/s.", acct.MiningPower)
		}
		out, err = putNeonMessage(ctx, tx, accountID, MessageTip, text, s.clock.Now())
		return err
	})
	return out, err
}

func (s *Service) ListNeonMessages(ctx context.Context, accountID string, limit int) ([]NeonMessage, error) {
	msgs, err := listDocs[NeonMessage](ctx, s.store, neonMessagesPrefix(accountID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].Timestamp.After(msgs[j].Timestamp)
		}
		return msgs[i].ID > msgs[j].ID
	})
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (s *Service) ListShadowAttacks(ctx context.Context, accountID string) ([]ShadowAttack, error) {
	attacks, err := listDocs[ShadowAttack](ctx, s.store, shadowAttacksPrefix(accountID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(attacks, func(i, j int) bool { return attacks[i].Timestamp.After(attacks[j].Timestamp) })
	return attacks, nil
}
