package syncq

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errOffline  = errors.New("offline")
	errApplied  = errors.New("applied")
	errRejected = errors.New("rejected")
)

func isOffline(err error) bool { return errors.Is(err, errOffline) }
func isApplied(err error) bool { return errors.Is(err, errApplied) }

func cmd(key string) Command {
	return Command{Method: "POST", Path: "/v1/heist/join", IdempotencyKey: key}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	q := New(t.TempDir())
	got, err := q.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPushAppendsInOrder(t *testing.T) {
	q := New(t.TempDir())
	require.NoError(t, q.Push(cmd("a")))
	require.NoError(t, q.Push(Command{
		Method:         "POST",
		Path:           "/v1/market/trades",
		Body:           map[string]any{"side": "buy", "amount": "1"},
		IdempotencyKey: "b",
	}))

	got, err := q.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].IdempotencyKey)
	assert.Equal(t, "buy", got[1].Body["side"])

	info, err := os.Stat(q.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestReplayStopsAtFirstRetryableError(t *testing.T) {
	q := New(t.TempDir())
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Push(cmd(k)))
	}

	var sent []string
	res, err := q.Replay(context.Background(), func(_ context.Context, c Command) error {
		sent = append(sent, c.IdempotencyKey)
		switch c.IdempotencyKey {
		case "a":
			return nil
		case "b":
			return errApplied
		default:
			return errOffline
		}
	}, isOffline, isApplied)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, sent)
	assert.Equal(t, 1, res.Replayed)
	assert.Equal(t, 1, res.Duplicate)
	assert.Equal(t, 2, res.Remaining)
	require.Len(t, res.Failed, 1)

	left, err := q.Load()
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "c", left[0].IdempotencyKey)
	assert.Equal(t, "d", left[1].IdempotencyKey)
}

func TestReplayDropsRejectedCommands(t *testing.T) {
	q := New(t.TempDir())
	require.NoError(t, q.Push(cmd("a")))
	require.NoError(t, q.Push(cmd("b")))

	res, err := q.Replay(context.Background(), func(_ context.Context, c Command) error {
		if c.IdempotencyKey == "a" {
			return errRejected
		}
		return nil
	}, isOffline, isApplied)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Replayed)
	assert.Zero(t, res.Remaining)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "a", res.Failed[0].Command.IdempotencyKey)

	left, err := q.Load()
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestReplayKeepsEverythingWhenCancelled(t *testing.T) {
	q := New(t.TempDir())
	require.NoError(t, q.Push(cmd("a")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := q.Replay(ctx, func(context.Context, Command) error {
		t.Fatal("nothing should be sent")
		return nil
	}, isOffline, isApplied)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Remaining)

	left, err := q.Load()
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
