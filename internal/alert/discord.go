package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/voiceguard/pkg/types"
)

// DiscordScheme is the destination prefix for Discord channel IDs.
const DiscordScheme = "discord"

// Embed colours by threat level.
const (
	colorHigh   = 0xE74C3C
	colorMedium = 0xE67E22
	colorOther  = 0x95A5A6
)

// EmbedSender is the subset of [discordgo.Session] used by [Discord].
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts as embeds into text channels.
type Discord struct {
	sender  EmbedSender
	session *discordgo.Session
}

var _ Transport = (*Discord)(nil)

// NewDiscord creates a REST-only Discord session for the bot token. No gateway
// connection is opened; sending channel messages does not need one.
func NewDiscord(token string) (*Discord, error) {
	if token == "" {
		return nil, errors.New("alert: discord token must not be empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("alert: create discord session: %w", err)
	}
	return &Discord{sender: session, session: session}, nil
}

// NewDiscordWithSender wraps an existing sender. Used by tests and by callers
// that already own a session.
func NewDiscordWithSender(sender EmbedSender) *Discord {
	return &Discord{sender: sender}
}

// Scheme implements [Transport].
func (d *Discord) Scheme() string { return DiscordScheme }

// Send implements [Transport]. recipient is a channel ID.
func (d *Discord) Send(ctx context.Context, recipient string, a Alert) error {
	if _, err := d.sender.ChannelMessageSendEmbed(recipient, buildAlertEmbed(a), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send to channel %s: %w", recipient, err)
	}
	return nil
}

// Close releases the owned session, if any.
func (d *Discord) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

func buildAlertEmbed(a Alert) *discordgo.MessageEmbed {
	color := colorOther
	switch a.Level {
	case types.ThreatHigh:
		color = colorHigh
	case types.ThreatMedium:
		color = colorMedium
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Incident", Value: a.IncidentID, Inline: true},
		{Name: "Threat level", Value: a.Level.String(), Inline: true},
		{Name: "Volume", Value: fmt.Sprintf("%.0f", a.Volume), Inline: true},
		{Name: "Speech confidence", Value: fmt.Sprintf("%.2f", a.Confidence), Inline: true},
	}
	if a.Transcript != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Transcript", Value: truncate(a.Transcript, 1000)})
	}

	embed := &discordgo.MessageEmbed{
		Title:       "VoiceGuard alert",
		Description: a.Message,
		Color:       color,
		Fields:      fields,
	}
	if !a.Timestamp.IsZero() {
		embed.Timestamp = a.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return embed
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
