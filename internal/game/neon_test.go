package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqRand replays fixed draws, repeating the last one.
type seqRand struct {
	draws []float64
}

func (r *seqRand) Float64() float64 {
	v := r.draws[0]
	if len(r.draws) > 1 {
		r.draws = r.draws[1:]
	}
	return v
}

func TestUpgradeNeonCostsShards(t *testing.T) {
	c := NewCompanion("u1")
	c.Shards = 15
	_, err := UpgradeNeon(c)
	require.ErrorIs(t, err, ErrInsufficientShards)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	c.Shards = 25
	c, err = UpgradeNeon(c)
	require.NoError(t, err)
	assert.Equal(t, 2, c.NeonLevel)
	assert.Equal(t, int64(5), c.Shards)

	c.NeonLevel, c.Shards = MaxNeonLevel, 1000
	_, err = UpgradeNeon(c)
	require.ErrorIs(t, err, ErrAlreadyInState)
}

func TestUnlockBonus(t *testing.T) {
	c := NewCompanion("u1")
	c.LoyaltyPoints = 120

	c, err := UnlockBonus(c, BonusOverclock)
	require.NoError(t, err)
	assert.Equal(t, int64(70), c.LoyaltyPoints)

	_, err = UnlockBonus(c, BonusOverclock)
	require.ErrorIs(t, err, ErrAlreadyInState)
	_, err = UnlockBonus(c, BonusHackShield)
	require.ErrorIs(t, err, ErrInsufficientLoyalty)
	_, err = UnlockBonus(c, "teleport")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdvanceLegacyStepByStep(t *testing.T) {
	c := NewCompanion("u1")
	acct := Account{BTCBalance: dec("49"), MiningMultiplier: dec("1")}

	_, _, err := AdvanceLegacy(c, acct)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	acct.BTCBalance = dec("60")
	c, acct, err = AdvanceLegacy(c, acct)
	require.NoError(t, err)
	requireDecimal(t, "10", acct.BTCBalance)

	_, _, err = AdvanceLegacy(c, acct)
	require.ErrorIs(t, err, ErrInsufficientLoyalty)
	c.LoyaltyPoints = 100
	c, acct, err = AdvanceLegacy(c, acct)
	require.NoError(t, err)

	c.Shards = 30
	c, acct, err = AdvanceLegacy(c, acct)
	require.NoError(t, err)
	assert.Equal(t, LegacySteps, c.LegacyQuestProgress)
	assert.Zero(t, c.Shards)
	requireDecimal(t, "1.15", acct.MiningMultiplier)

	_, _, err = AdvanceLegacy(c, acct)
	require.ErrorIs(t, err, ErrAlreadyInState)
}

func TestResolveShadow(t *testing.T) {
	acct := Account{MiningPower: dec("55"), BTCBalance: dec("100")}
	c := NewCompanion("u1")
	c.ShadowThreatLevel = 40
	c.ShadowAttackCooldown = testEpoch.Add(time.Hour)

	same, _, attack := ResolveShadow(c, acct, testEpoch, &seqRand{draws: []float64{0}})
	assert.Nil(t, attack)
	assert.Equal(t, c, same)

	c.ShadowAttackCooldown = testEpoch
	next, hit, attack := ResolveShadow(c, acct, testEpoch, &seqRand{draws: []float64{0.2, 0.2}})
	require.NotNil(t, attack)
	assert.Equal(t, 50, next.ShadowThreatLevel)
	assert.Equal(t, testEpoch.Add(ShadowCooldown), next.ShadowAttackCooldown)
	assert.Equal(t, AttackMiningPower, attack.AttackType)
	requireDecimal(t, "5.5", attack.Damage)
	requireDecimal(t, "49.5", hit.MiningPower)

	c.UnlockedBonuses = []string{BonusDataVault}
	_, hit, attack = ResolveShadow(c, acct, testEpoch, &seqRand{draws: []float64{0.2, 0.8}})
	require.NotNil(t, attack)
	assert.Equal(t, AttackBTCTheft, attack.AttackType)
	requireDecimal(t, "2.5", attack.Damage)
	requireDecimal(t, "97.5", hit.BTCBalance)

	_, _, attack = ResolveShadow(c, acct, testEpoch, &seqRand{draws: []float64{0.7}})
	assert.Nil(t, attack)

	c.ShadowThreatLevel = 95
	capped, _, _ := ResolveShadow(c, acct, testEpoch, &seqRand{draws: []float64{0.9}})
	assert.Equal(t, ShadowThreatMax, capped.ShadowThreatLevel)
}

func TestCounterShadow(t *testing.T) {
	c := NewCompanion("u1")
	_, err := CounterShadow(c)
	require.ErrorIs(t, err, ErrNotEligible)

	c.ShadowThreatLevel, c.Shards = 55, 20
	_, err = CounterShadow(c)
	require.ErrorIs(t, err, ErrInsufficientShards)

	c.Shards = 30
	c, err = CounterShadow(c)
	require.NoError(t, err)
	assert.Zero(t, c.ShadowThreatLevel)
	assert.Equal(t, int64(3), c.Shards)
}

func TestCompanionIssuesQuestAndPaysIt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")

	c, err := env.svc.Companion(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.ActiveQuests, 1)
	q := c.ActiveQuests[0]
	assert.Equal(t, testEpoch.Add(NeonQuestTTL), q.Deadline)

	again, err := env.svc.Companion(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, again.ActiveQuests, 1)

	c, err = env.svc.CompleteNeonQuest(ctx, "u1", q.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(NeonQuestLoyalty), c.LoyaltyPoints)
	assert.Equal(t, int64(NeonQuestShards), c.Shards)

	acct := env.account(t, "u1")
	requireDecimal(t, "60", acct.BTCBalance)
	requireDecimal(t, "10", acct.MiningPower)
	assert.True(t, acct.HasItem("Quantum Firewall"))

	_, err = env.svc.CompleteNeonQuest(ctx, "u1", q.ID, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteExpiredNeonQuestRemovesIt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")

	c, err := env.svc.Companion(ctx, "u1")
	require.NoError(t, err)
	q := c.ActiveQuests[0]

	env.clock.Advance(NeonQuestTTL + time.Minute)
	_, err = env.svc.CompleteNeonQuest(ctx, "u1", q.ID, "")
	require.ErrorIs(t, err, ErrNotEligible)

	stored := env.companion(t, "u1")
	_, idx := stored.quest(q.ID)
	assert.Equal(t, -1, idx)
	assert.Zero(t, stored.LoyaltyPoints)
	requireDecimal(t, "10", env.account(t, "u1").BTCBalance)

	msgs, err := env.svc.ListNeonMessages(ctx, "u1", 0)
	require.NoError(t, err)
	texts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		texts = append(texts, m.Message)
	}
	assert.Contains(t, texts, "Too slow, human... That quest expired. Better luck next time!")
}

func TestUpgradeNeonThroughService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")
	c := NewCompanion("u1")
	c.Shards = 15
	c.ShadowAttackCooldown = testEpoch.Add(time.Hour)
	env.putCompanion(t, c)

	_, err := env.svc.UpgradeNeon(ctx, "u1", "")
	require.ErrorIs(t, err, ErrInsufficientShards)
	assert.Equal(t, int64(15), env.companion(t, "u1").Shards)

	c = env.companion(t, "u1")
	c.Shards = 25
	env.putCompanion(t, c)
	c, err = env.svc.UpgradeNeon(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, c.NeonLevel)
	assert.Equal(t, int64(5), c.Shards)
}

func TestAskNeon(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")

	_, err := env.svc.AskNeon(ctx, "u1", "weather", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	msg, err := env.svc.AskNeon(ctx, "u1", TopicMiningPower, "")
	require.NoError(t, err)
	assert.Equal(t, MessageTip, msg.Type)
	assert.Contains(t, msg.Message, "0 TH/s")
}
