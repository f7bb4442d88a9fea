// Package mock provides an in-memory [notify.Messenger] that records every
// embed instead of talking to Discord.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/trunkline/internal/notify"
)

var _ notify.Messenger = (*Messenger)(nil)

// SentEmbed records one ChannelMessageSendEmbed invocation.
type SentEmbed struct {
	ChannelID string
	Embed     *discordgo.MessageEmbed
}

// Messenger is a recording test double for [notify.Messenger].
// Safe for concurrent use.
type Messenger struct {
	mu   sync.Mutex
	sent []SentEmbed

	// SendErr is returned by ChannelMessageSendEmbed when non-nil; the embed
	// is still recorded.
	SendErr error
}

// ChannelMessageSendEmbed implements [notify.Messenger].
func (m *Messenger) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentEmbed{ChannelID: channelID, Embed: embed})
	if m.SendErr != nil {
		return nil, m.SendErr
	}
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID}, nil
}

// Sent returns a copy of all recorded embeds.
func (m *Messenger) Sent() []SentEmbed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentEmbed, len(m.sent))
	copy(out, m.sent)
	return out
}

// Reset clears all recorded embeds.
func (m *Messenger) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}
