package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFarmIsIdempotent(t *testing.T) {
	end := testEpoch.Add(5 * time.Minute)
	farm := Farm{Status: FarmUnderConstruction, ConstructionEnd: end}

	for _, now := range []time.Time{end.Add(-time.Second), end, end.Add(time.Hour)} {
		once := ResolveFarm(farm, now)
		twice := ResolveFarm(once, now)
		assert.Equal(t, once, twice)
	}
	assert.Equal(t, FarmUnderConstruction, ResolveFarm(farm, end.Add(-time.Millisecond)).Status)
	assert.Equal(t, FarmActive, ResolveFarm(farm, end).Status)
}

func TestRemainingSecondsNeverNegative(t *testing.T) {
	end := testEpoch.Add(90*time.Second + 500*time.Millisecond)
	farm := Farm{Status: FarmUnderConstruction, ConstructionEnd: end}

	assert.Equal(t, int64(90), RemainingSeconds(farm, testEpoch))
	assert.Equal(t, int64(0), RemainingSeconds(farm, end))
	assert.Equal(t, int64(0), RemainingSeconds(farm, end.Add(time.Hour)))
}

func TestStartBuildDebitsExactBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")

	farm, err := env.svc.StartBuild(ctx, StartBuildInput{AccountID: "u1", TemplateID: "small"})
	require.NoError(t, err)
	assert.Equal(t, FarmUnderConstruction, farm.Status)
	assert.Equal(t, testEpoch.Add(300*time.Second), farm.ConstructionEnd)
	requireDecimal(t, "0", env.account(t, "u1").BTCBalance)
}

func TestStartBuildInsufficientFundsLeavesBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")
	env.editAccount(t, "u1", func(a *Account) { a.BTCBalance = dec("5") })

	_, err := env.svc.StartBuild(ctx, StartBuildInput{AccountID: "u1", TemplateID: "small"})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	requireDecimal(t, "5", env.account(t, "u1").BTCBalance)

	farms, err := env.svc.ListFarms(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, farms)
}

func TestStartBuildAppliesCostMultiplier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")
	env.editAccount(t, "u1", func(a *Account) {
		a.BTCBalance = dec("100")
		a.BuildCostMultiplier = dec("0.9")
	})

	farm, err := env.svc.StartBuild(ctx, StartBuildInput{AccountID: "u1", TemplateID: "medium"})
	require.NoError(t, err)
	requireDecimal(t, "45", farm.Cost)
	requireDecimal(t, "55", env.account(t, "u1").BTCBalance)
}

func TestStartBuildUnknownTemplate(t *testing.T) {
	env := newTestEnv(t)
	env.player(t, "u1")
	_, err := env.svc.StartBuild(context.Background(), StartBuildInput{AccountID: "u1", TemplateID: "castle"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFarmPowerCountsOnceActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")
	_, err := env.svc.StartBuild(ctx, StartBuildInput{AccountID: "u1", TemplateID: "small"})
	require.NoError(t, err)

	dash, err := env.svc.Dashboard(ctx, "u1")
	require.NoError(t, err)
	requireDecimal(t, "0", dash.EffectiveMiningPower)
	require.Len(t, dash.Farms, 1)
	assert.Equal(t, int64(300), dash.Farms[0].RemainingSeconds)

	env.clock.Advance(5 * time.Minute)
	dash, err = env.svc.Dashboard(ctx, "u1")
	require.NoError(t, err)
	requireDecimal(t, "5", dash.EffectiveMiningPower)
	assert.Equal(t, FarmActive, dash.Farms[0].Status)
}
