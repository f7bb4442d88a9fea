// Package notify posts operator notifications to a Discord channel.
//
// Two events are announced: a call ending (duration, outcome, summary) and a
// booking being created on a caller's behalf. Notifications are fire and
// forget: failures are logged, never propagated, so a Discord outage can
// not affect call handling.
//
// Only the REST API is used; the gateway connection is never opened.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/trunkline/internal/calllog"
	"github.com/MrWong99/trunkline/internal/scheduling"
)

// embedColorGreen is the embed sidebar color for successful outcomes.
const embedColorGreen = 0x2ECC71

// embedColorRed is the embed sidebar color for failed calls.
const embedColorRed = 0xE74C3C

// embedColorBlue is the embed sidebar color for booking announcements.
const embedColorBlue = 0x3498DB

// Messenger is the subset of [*discordgo.Session] the notifier uses.
type Messenger interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier posts call and booking embeds to a fixed channel.
type Notifier struct {
	messenger Messenger
	channelID string
}

// New creates a Notifier with its own discordgo session. The session is used
// for REST calls only, so the gateway is not opened and no intents are needed.
func New(token, channelID string) (*Notifier, error) {
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("notify: token and channelID must not be empty")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: create session: %w", err)
	}
	return NewWithMessenger(session, channelID), nil
}

// NewWithMessenger creates a Notifier on an existing messenger.
func NewWithMessenger(m Messenger, channelID string) *Notifier {
	return &Notifier{messenger: m, channelID: channelID}
}

// CallEnded announces a finished call. The record's summary, when present,
// becomes the embed description.
func (n *Notifier) CallEnded(rec calllog.CallRecord) {
	color := embedColorGreen
	if rec.Outcome == calllog.OutcomeFailed {
		color = embedColorRed
	}

	duration := rec.EndedAt.Sub(rec.StartedAt)
	fields := []*discordgo.MessageEmbedField{
		{Name: "Call", Value: fmt.Sprintf("`%s`", rec.ID), Inline: true},
		{Name: "Duration", Value: formatDuration(duration), Inline: true},
		{Name: "Outcome", Value: string(rec.Outcome), Inline: true},
		{Name: "Frames", Value: fmt.Sprintf("%d forwarded, %d dropped", rec.FramesForwarded, rec.FramesDropped), Inline: true},
	}

	embed := &discordgo.MessageEmbed{
		Title:       "Call ended",
		Description: rec.Summary,
		Color:       color,
		Fields:      fields,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	n.send(embed)
}

// BookingCreated announces a booking made during a call.
func (n *Notifier) BookingCreated(callID string, booking scheduling.Booking) {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Resource", Value: booking.Resource, Inline: true},
		{Name: "Start", Value: booking.StartTime.Format("Mon, 02 Jan 2006 15:04"), Inline: true},
		{Name: "Duration", Value: formatDuration(booking.EndTime.Sub(booking.StartTime)), Inline: true},
		{Name: "Booking", Value: fmt.Sprintf("`%s`", booking.ID), Inline: true},
		{Name: "Call", Value: fmt.Sprintf("`%s`", callID), Inline: true},
	}
	if booking.Description != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Description", Value: booking.Description, Inline: false,
		})
	}

	embed := &discordgo.MessageEmbed{
		Title:     "Booking created",
		Color:     embedColorBlue,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	n.send(embed)
}

func (n *Notifier) send(embed *discordgo.MessageEmbed) {
	if _, err := n.messenger.ChannelMessageSendEmbed(n.channelID, embed); err != nil {
		slog.Warn("notify: failed to post embed", "channel", n.channelID, "title", embed.Title, "error", err)
	}
}

// formatDuration formats a duration as "Xh Ym Zs", omitting leading zero units.
func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
