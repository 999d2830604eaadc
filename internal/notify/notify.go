package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// discordLimit is Discord's maximum message length.
const discordLimit = 2000

type channelSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts announcements to one channel with a bot token.
type Discord struct {
	channelID string
	sender    channelSender
	session   *discordgo.Session
}

func NewDiscord(token, channelID string) (*Discord, error) {
	token = strings.TrimSpace(token)
	if token == "" || strings.TrimSpace(channelID) == "" {
		return nil, fmt.Errorf("discord token and channel are required")
	}
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &Discord{channelID: channelID, sender: sess, session: sess}, nil
}

func (d *Discord) Announce(ctx context.Context, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	if len(message) > discordLimit {
		message = message[:discordLimit-3] + "..."
	}
	if _, err := d.sender.ChannelMessageSend(d.channelID, message, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (d *Discord) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

// Log writes announcements to the structured log. It is the fallback when
// no chat integration is configured.
type Log struct {
	log *slog.Logger
}

func NewLog(logger *slog.Logger) Log {
	if logger == nil {
		logger = slog.Default()
	}
	return Log{log: logger}
}

func (l Log) Announce(_ context.Context, message string) error {
	l.log.Info("announcement", "message", message)
	return nil
}
