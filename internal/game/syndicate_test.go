package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAnnouncer struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingAnnouncer) Announce(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func TestApplyContributionFoldsDelta(t *testing.T) {
	syn := Syndicate{Progress: dec("30")}
	m := Membership{Baseline: dec("100"), Contribution: dec("10")}

	syn, m, delta := ApplyContribution(syn, m, dec("125"))
	requireDecimal(t, "15", delta)
	requireDecimal(t, "25", m.Contribution)
	requireDecimal(t, "45", syn.Progress)
}

func TestJoinAndLeaveSyndicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")

	_, err := env.svc.JoinSyndicate(ctx, "u1", "syndicate1", "")
	require.NoError(t, err)
	_, err = env.svc.JoinSyndicate(ctx, "u1", "syndicate2", "")
	require.ErrorIs(t, err, ErrAlreadyInState)

	syn, err := env.svc.GetSyndicate(ctx, "syndicate1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, syn.Members)

	env.editAccount(t, "u1", func(a *Account) { a.TotalMinedBTC = dec("40") })
	m, err := env.svc.UpdateContribution(ctx, "u1")
	require.NoError(t, err)
	requireDecimal(t, "40", m.Contribution)

	require.NoError(t, env.svc.LeaveSyndicate(ctx, "u1", ""))
	syn, err = env.svc.GetSyndicate(ctx, "syndicate1")
	require.NoError(t, err)
	requireDecimal(t, "0", syn.Progress)
	assert.Empty(t, syn.Members)

	require.ErrorIs(t, env.svc.LeaveSyndicate(ctx, "u1", ""), ErrNotFound)
	_, err = env.svc.JoinSyndicate(ctx, "u1", "missing", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestContributionsSumToProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		env.player(t, id)
		_, err := env.svc.JoinSyndicate(ctx, id, "syndicate1", "")
		require.NoError(t, err)
	}
	mined := map[string]string{"a": "12.5", "b": "30", "c": "7.25"}
	for id, v := range mined {
		env.editAccount(t, id, func(a *Account) { a.TotalMinedBTC = dec(v) })
		_, err := env.svc.UpdateContribution(ctx, id)
		require.NoError(t, err)
	}
	env.editAccount(t, "b", func(a *Account) { a.TotalMinedBTC = dec("35") })
	_, err := env.svc.UpdateContribution(ctx, "b")
	require.NoError(t, err)

	syn, err := env.svc.GetSyndicate(ctx, "syndicate1")
	require.NoError(t, err)
	requireDecimal(t, "54.75", syn.Progress)
}

func crew(t *testing.T, env *testEnv, syndicateID string, n int, mined string) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%02d", i)
		env.player(t, id)
		_, err := env.svc.JoinSyndicate(context.Background(), id, syndicateID, "")
		require.NoError(t, err)
		env.editAccount(t, id, func(a *Account) { a.TotalMinedBTC = dec(mined) })
		ids = append(ids, id)
	}
	return ids
}

func TestConcurrentContributionsAreNotLost(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ids := crew(t, env, "syndicate1", 20, "10")

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)*2)
	for _, id := range ids {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := env.svc.UpdateContribution(ctx, id)
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	syn, err := env.svc.GetSyndicate(ctx, "syndicate1")
	require.NoError(t, err)
	requireDecimal(t, "200", syn.Progress)
	sum := dec("0")
	for _, id := range ids {
		m, err := env.svc.MyMembership(ctx, id)
		require.NoError(t, err)
		requireDecimal(t, "10", m.Contribution)
		sum = sum.Add(m.Contribution)
	}
	requireDecimal(t, syn.Progress.String(), sum)
}

func TestConcurrentGoalCrossingPaysOnce(t *testing.T) {
	ann := &recordingAnnouncer{}
	env := newTestEnv(t, WithAnnouncer(ann))
	ctx := context.Background()
	ids := crew(t, env, "syndicate2", 10, "60")

	var wg sync.WaitGroup
	errs := make(chan error, len(ids)+4)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.UpdateContribution(ctx, id)
			errs <- err
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.CheckGoal(ctx, "syndicate2")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		// Members updating after the payout have already left the syndicate.
		if err != nil && !errors.Is(err, ErrNotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	syn, err := env.svc.GetSyndicate(ctx, "syndicate2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), syn.Completions)
	requireDecimal(t, "0", syn.Progress)
	assert.Empty(t, syn.Members)
	for _, id := range ids {
		requireDecimal(t, "40", env.account(t, id).BTCBalance)
	}
	assert.Len(t, ann.messages, 1)
}

func TestCheckGoalPaysEveryMemberOnceAndResets(t *testing.T) {
	ann := &recordingAnnouncer{}
	env := newTestEnv(t, WithAnnouncer(ann))
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		env.player(t, id)
		_, err := env.svc.JoinSyndicate(ctx, id, "syndicate2", "")
		require.NoError(t, err)
	}

	env.editAccount(t, "a", func(a *Account) { a.TotalMinedBTC = dec("300") })
	_, err := env.svc.UpdateContribution(ctx, "a")
	require.NoError(t, err)
	env.editAccount(t, "b", func(a *Account) { a.TotalMinedBTC = dec("250") })
	_, err = env.svc.UpdateContribution(ctx, "b")
	require.NoError(t, err)

	syn, err := env.svc.GetSyndicate(ctx, "syndicate2")
	require.NoError(t, err)
	requireDecimal(t, "0", syn.Progress)
	assert.Empty(t, syn.Members)
	assert.Equal(t, int64(1), syn.Completions)

	for _, id := range []string{"a", "b"} {
		acct := env.account(t, id)
		requireDecimal(t, "40", acct.BTCBalance)
		requireDecimal(t, "10", acct.MiningPower)
		_, err := env.svc.MyMembership(ctx, id)
		require.ErrorIs(t, err, ErrNotFound)
	}

	paid, err := env.svc.CheckGoal(ctx, "syndicate2")
	require.NoError(t, err)
	assert.False(t, paid)
	requireDecimal(t, "40", env.account(t, "a").BTCBalance)

	require.Len(t, ann.messages, 1)
	assert.True(t, strings.Contains(ann.messages[0], "Darkweb Elites"))
}

func TestSyndicateChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.player(t, "u1")

	_, err := env.svc.PostChat(ctx, "u1", "hello", "")
	require.ErrorIs(t, err, ErrNotEligible)

	_, err = env.svc.JoinSyndicate(ctx, "u1", "syndicate1", "")
	require.NoError(t, err)
	_, err = env.svc.PostChat(ctx, "u1", "   ", "")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.svc.PostChat(ctx, "u1", strings.Repeat("x", MaxChatMessageLen+1), "")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = env.svc.PostChat(ctx, "u1", "first", "")
	require.NoError(t, err)
	env.clock.Advance(1)
	_, err = env.svc.PostChat(ctx, "u1", "second", "")
	require.NoError(t, err)

	msgs, err := env.svc.ListChat(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Message)
	assert.Equal(t, "second", msgs[1].Message)

	rows, err := env.svc.SyndicateLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].Rank)
}
