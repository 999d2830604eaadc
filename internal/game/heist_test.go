package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeistWindow(t *testing.T) {
	start, end, id := HeistWindow(testEpoch)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 8, 23, 59, 59, int(999*time.Millisecond), time.UTC), end)
	assert.Equal(t, "week_2026_10", id)

	sunday := time.Date(2026, 3, 8, 23, 0, 0, 0, time.UTC)
	s2, _, id2 := HeistWindow(sunday)
	assert.Equal(t, start, s2)
	assert.Equal(t, id, id2)

	_, _, next := HeistWindow(end.Add(time.Millisecond))
	assert.Equal(t, "week_2026_11", next)
}

func TestAdvanceHeistStageMovesForwardOnly(t *testing.T) {
	ev := NewHeistEvent(testEpoch)
	prevStage := StageIndex(ev.Stage)
	prevChance := ev.SuccessChance
	var entered []HeistStage
	for ev.Stage != StageFinished {
		var (
			stage HeistStage
			err   error
		)
		ev, stage, err = AdvanceHeistStage(ev)
		require.NoError(t, err)
		if stage != "" {
			entered = append(entered, stage)
		}
		require.GreaterOrEqual(t, StageIndex(ev.Stage), prevStage)
		require.GreaterOrEqual(t, ev.SuccessChance, prevChance)
		prevStage, prevChance = StageIndex(ev.Stage), ev.SuccessChance
	}
	assert.Equal(t, []HeistStage{StagePlanning, StageInsider, StageExecution, StageFinished}, entered)
	assert.Equal(t, 60, ev.SuccessChance)

	_, _, err := AdvanceHeistStage(ev)
	require.ErrorIs(t, err, ErrNotEligible)
}

func TestResolveHeistResetsAfterWeek(t *testing.T) {
	ev := NewHeistEvent(testEpoch)
	ev.Stage = StageExecution
	ev.SuccessChance = 60

	same, reset := ResolveHeist(ev, ev.EndTime)
	assert.False(t, reset)
	assert.Equal(t, ev, same)

	fresh, reset := ResolveHeist(ev, ev.EndTime.Add(time.Millisecond))
	require.True(t, reset)
	assert.Equal(t, StageObservation, fresh.Stage)
	assert.Zero(t, fresh.SuccessChance)
	assert.Empty(t, fresh.Participants)
	assert.Equal(t, HeistBankDefenses, fresh.BankDefenses)
}

func heistCrew(t *testing.T, env *testEnv, ids ...string) {
	t.Helper()
	for _, id := range ids {
		env.player(t, id)
		_, err := env.svc.JoinSyndicate(context.Background(), id, "syndicate1", "")
		require.NoError(t, err)
	}
}

func runHeistToEnd(t *testing.T, env *testEnv, accountID string) HeistEvent {
	t.Helper()
	var ev HeistEvent
	for i := 0; ; i++ {
		var err error
		ev, err = env.svc.AdvanceHeist(context.Background(), accountID, "")
		require.NoError(t, err)
		if ev.Stage == StageFinished {
			return ev
		}
		require.Less(t, i, 40)
	}
}

func TestHeistSuccessPaysEveryMember(t *testing.T) {
	ann := &recordingAnnouncer{}
	env := newTestEnv(t, WithAnnouncer(ann), WithChance(NewScriptedChance(map[Stream][]float64{StreamHeist: {0.1}})))
	ctx := context.Background()
	heistCrew(t, env, "a", "b")

	_, err := env.svc.AdvanceHeist(ctx, "a", "")
	require.ErrorIs(t, err, ErrNotEligible)

	_, err = env.svc.JoinHeist(ctx, "a", "")
	require.NoError(t, err)
	_, err = env.svc.JoinHeist(ctx, "b", "")
	require.ErrorIs(t, err, ErrAlreadyInState)

	ev := runHeistToEnd(t, env, "b")
	assert.Equal(t, HeistOutcomeSuccess, ev.Outcome)
	for _, id := range []string{"a", "b"} {
		acct := env.account(t, id)
		requireDecimal(t, "510", acct.BTCBalance)
		requireDecimal(t, "100", acct.MiningPower)
	}
	_, err = env.svc.AdvanceHeist(ctx, "a", "")
	require.ErrorIs(t, err, ErrNotEligible)
	require.Len(t, ann.messages, 1)
}

func TestHeistFailureImprisonsCrew(t *testing.T) {
	env := newTestEnv(t, WithChance(NewScriptedChance(map[Stream][]float64{StreamHeist: {0.99}})))
	ctx := context.Background()
	heistCrew(t, env, "a", "b")

	_, err := env.svc.JoinHeist(ctx, "a", "")
	require.NoError(t, err)
	ev := runHeistToEnd(t, env, "a")
	assert.Equal(t, HeistOutcomeFailure, ev.Outcome)

	p, err := env.svc.Prison(ctx, "b")
	require.NoError(t, err)
	assert.True(t, p.InPrison)
	assert.Equal(t, env.clock.Now().Add(PrisonTerm), p.PrisonEndTime)
	requireDecimal(t, "10", env.account(t, "b").BTCBalance)

	_, err = env.svc.JoinHeist(ctx, "a", "")
	require.ErrorIs(t, err, ErrAlreadyInState)

	// The term is over by the time next week's heist opens.
	env.clock.Set(ev.EndTime.Add(time.Millisecond))
	_, err = env.svc.JoinHeist(ctx, "a", "")
	require.NoError(t, err)
}

func TestHeistJoinBlockedByPrison(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	heistCrew(t, env, "a", "b")
	_, err := env.store.Put(ctx, prisonKey("b"), PrisonStatus{InPrison: true, PrisonEndTime: testEpoch.Add(time.Hour)})
	require.NoError(t, err)

	_, err = env.svc.JoinHeist(ctx, "a", "")
	require.ErrorIs(t, err, ErrNotEligible)

	env.clock.Advance(time.Hour)
	_, err = env.svc.JoinHeist(ctx, "a", "")
	require.NoError(t, err)
}

func TestHeistAdvanceBlockedByPrison(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	heistCrew(t, env, "a")
	_, err := env.svc.JoinHeist(ctx, "a", "")
	require.NoError(t, err)

	env.player(t, "c")
	_, err = env.store.Put(ctx, prisonKey("c"), PrisonStatus{InPrison: true, PrisonEndTime: testEpoch.Add(12 * time.Hour)})
	require.NoError(t, err)
	_, err = env.svc.JoinSyndicate(ctx, "c", "syndicate1", "")
	require.NoError(t, err)

	_, err = env.svc.AdvanceHeist(ctx, "c", "")
	require.ErrorIs(t, err, ErrNotEligible)
	state, err := env.svc.HeistState(ctx)
	require.NoError(t, err)
	assert.Zero(t, state.Progress)

	env.clock.Advance(12 * time.Hour)
	ev, err := env.svc.AdvanceHeist(ctx, "c", "")
	require.NoError(t, err)
	assert.Equal(t, HeistProgressStep, ev.Progress)
}

func TestHeistShadowCoreBonusAndDuplicateAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	heistCrew(t, env, "a")
	env.editAccount(t, "a", func(acct *Account) { acct.Items = append(acct.Items, ShadowCoreItem) })

	ev, err := env.svc.JoinHeist(ctx, "a", "")
	require.NoError(t, err)
	assert.Equal(t, ShadowCoreBonus, ev.SuccessChance)

	ev, err = env.svc.AdvanceHeist(ctx, "a", "adv-1")
	require.NoError(t, err)
	assert.Equal(t, HeistProgressStep, ev.Progress)

	_, err = env.svc.AdvanceHeist(ctx, "a", "adv-1")
	require.ErrorIs(t, err, ErrDuplicateIdempotency)
	state, err := env.svc.HeistState(ctx)
	require.NoError(t, err)
	assert.Equal(t, HeistProgressStep, state.Progress)
}

func TestConcurrentHeistJoinEnrollsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d", "e", "f"}
	heistCrew(t, env, ids...)
	for _, id := range ids {
		env.editAccount(t, id, func(acct *Account) { acct.Items = append(acct.Items, ShadowCoreItem) })
	}

	var (
		wg     sync.WaitGroup
		joined atomic.Int32
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.JoinHeist(ctx, id, "")
			switch {
			case err == nil:
				joined.Add(1)
			case !errors.Is(err, ErrAlreadyInState):
				t.Errorf("join by %s: %v", id, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), joined.Load())
	state, err := env.svc.HeistState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"syndicate1"}, state.Participants)
	assert.Equal(t, ShadowCoreBonus, state.SuccessChance)
}

func TestHeistJoinRequiresSyndicate(t *testing.T) {
	env := newTestEnv(t)
	env.player(t, "loner")
	_, err := env.svc.JoinHeist(context.Background(), "loner", "")
	require.ErrorIs(t, err, ErrNotEligible)
}
