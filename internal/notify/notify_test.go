package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	channel string
	sent    []string
	err     error
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func TestDiscordAnnounce(t *testing.T) {
	fake := &fakeSender{}
	d := &Discord{channelID: "123", sender: fake}
	ctx := context.Background()

	require.NoError(t, d.Announce(ctx, "  heist succeeded  "))
	require.NoError(t, d.Announce(ctx, " "))
	require.NoError(t, d.Announce(ctx, strings.Repeat("x", 2500)))

	require.Len(t, fake.sent, 2)
	assert.Equal(t, "123", fake.channel)
	assert.Equal(t, "heist succeeded", fake.sent[0])
	assert.Len(t, fake.sent[1], discordLimit)

	fake.err = errors.New("rate limited")
	require.ErrorContains(t, d.Announce(ctx, "payout"), "rate limited")
}

func TestNewDiscordNeedsCredentials(t *testing.T) {
	_, err := NewDiscord("", "123")
	require.Error(t, err)
	_, err = NewDiscord("token", " ")
	require.Error(t, err)
}

func TestLogAnnounce(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, l.Announce(context.Background(), "syndicate paid"))
	assert.Contains(t, buf.String(), `"message":"syndicate paid"`)
}
