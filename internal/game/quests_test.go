package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateQuestClampsAndCompletesOnce(t *testing.T) {
	q := Quest{ID: "btc-hoarder", Type: QuestBTCEarned, Target: dec("50"), Reward: Reward{BTC: dec("10")}}
	acct := Account{BTCBalance: dec("75")}
	uq := UserQuest{QuestID: q.ID, Status: QuestAccepted}

	next, done := EvaluateQuest(q, uq, acct, nil, testEpoch)
	require.True(t, done)
	assert.Equal(t, QuestCompleted, next.Status)
	requireDecimal(t, "50", next.Progress)

	again, done := EvaluateQuest(q, next, Account{BTCBalance: dec("500")}, nil, testEpoch.Add(time.Hour))
	assert.False(t, done)
	assert.Equal(t, next, again)
}

func TestQuestProgressProjections(t *testing.T) {
	farms := []Farm{{Status: FarmActive}, {Status: FarmUnderConstruction}, {Status: FarmActive}}
	requireDecimal(t, "2", QuestProgress(Quest{Type: QuestFarmCount}, Account{}, farms))
	requireDecimal(t, "0", QuestProgress(Quest{Type: QuestBTCEarned}, Account{BTCBalance: dec("3")}, nil))
	requireDecimal(t, "0", QuestProgress(Quest{Type: "mystery"}, Account{BTCBalance: dec("99")}, farms))
}

func TestQuestRewardPaidExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")

	_, err := env.svc.AcceptQuest(ctx, "u1", "first-farm", "")
	require.NoError(t, err)
	_, err = env.svc.AcceptQuest(ctx, "u1", "first-farm", "")
	require.ErrorIs(t, err, ErrAlreadyInState)
	_, err = env.svc.AcceptQuest(ctx, "u1", "nope", "")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = env.svc.StartBuild(ctx, StartBuildInput{AccountID: "u1", TemplateID: "small"})
	require.NoError(t, err)

	views, err := env.svc.EvaluateQuests(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, string(QuestAccepted), questStatus(views, "first-farm"))

	env.clock.Advance(5 * time.Minute)
	for i := 0; i < 3; i++ {
		views, err = env.svc.EvaluateQuests(ctx, "u1")
		require.NoError(t, err)
	}
	assert.Equal(t, string(QuestCompleted), questStatus(views, "first-farm"))

	acct := env.account(t, "u1")
	requireDecimal(t, "5", acct.BTCBalance)
	requireDecimal(t, "2", acct.MiningPower)

	weekly, err := env.svc.ListWeeklyStats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, weekly, 1)
	assert.Equal(t, int64(1), weekly[0].QuestsCompleted)
	requireDecimal(t, "5", weekly[0].BTCEarned)
}

func questStatus(views []QuestView, id string) string {
	for _, v := range views {
		if v.ID == id {
			return v.Status
		}
	}
	return ""
}
