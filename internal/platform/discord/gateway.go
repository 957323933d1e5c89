package discord

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

func (a *Adapter) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	guilds := make([]platform.GuildID, 0, len(r.Guilds))
	for _, g := range r.Guilds {
		guilds = append(guilds, platform.GuildID(g.ID))
	}
	a.log.Info("gateway ready",
		logx.String("user", r.User.Username),
		logx.Int("guilds", len(guilds)))
	if a.handlers.OnReady != nil {
		a.handlers.OnReady(guilds)
	}
}

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.GuildID == "" {
		return
	}
	if a.handlers.OnMessage == nil {
		return
	}
	fromBot := m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID)
	a.handlers.OnMessage(platform.Message{
		ID:        platform.MessageID(m.ID),
		GuildID:   platform.GuildID(m.GuildID),
		ChannelID: platform.ChannelID(m.ChannelID),
		AuthorID:  platform.UserID(m.Author.ID),
		Content:   m.Content,
		PostedAt:  m.Timestamp,
		FromBot:   fromBot,
	})
}

// onGuildMemberUpdate surfaces timeout changes. Discord delivers the full
// member object on any update; the aggregator dedups by expected expiry.
func (a *Adapter) onGuildMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.User == nil || a.handlers.OnTimeoutChange == nil {
		return
	}
	var until *time.Time
	if m.CommunicationDisabledUntil != nil {
		t := *m.CommunicationDisabledUntil
		until = &t
	}
	a.handlers.OnTimeoutChange(platform.TimeoutChange{
		GuildID: platform.GuildID(m.GuildID),
		UserID:  platform.UserID(m.User.ID),
		Until:   until,
	})
}

// onPresenceUpdate reduces the presence to a single streaming bit. Discord
// sends the full activity list on every change; the indicator is idempotent,
// so repeated updates with the same bit are harmless.
func (a *Adapter) onPresenceUpdate(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
	if p.User == nil || p.GuildID == "" || a.handlers.OnPresenceChange == nil {
		return
	}
	streaming := false
	for _, act := range p.Activities {
		if act != nil && act.Type == discordgo.ActivityTypeStreaming {
			streaming = true
			break
		}
	}
	a.handlers.OnPresenceChange(platform.PresenceChange{
		GuildID:   platform.GuildID(p.GuildID),
		UserID:    platform.UserID(p.User.ID),
		Streaming: streaming,
	})
}

func (a *Adapter) onThreadUpdate(_ *discordgo.Session, t *discordgo.ThreadUpdate) {
	if t.Channel == nil || t.ThreadMetadata == nil || a.handlers.OnThreadChange == nil {
		return
	}
	a.handlers.OnThreadChange(platform.ThreadChange{
		GuildID:  platform.GuildID(t.GuildID),
		ThreadID: platform.ChannelID(t.ID),
		Archived: t.ThreadMetadata.Archived,
		Locked:   t.ThreadMetadata.Locked,
	})
}

func (a *Adapter) onInteractionCreate(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	switch ic.Type {
	case discordgo.InteractionApplicationCommand:
		a.handleCommand(s, ic)
	case discordgo.InteractionModalSubmit:
		a.handleModalSubmit(ic)
	}
}

func (a *Adapter) handleCommand(s *discordgo.Session, ic *discordgo.InteractionCreate) {
	if a.dispatch == nil {
		return
	}

	a.mu.Lock()
	a.pending[ic.ID] = ic.Interaction
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, ic.ID)
		a.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	reply, err := a.dispatch(ctx, ic)
	if err != nil {
		a.log.Warn("command failed",
			logx.String("interaction", ic.ID),
			logx.Err(err))
		reply = "Error: " + err.Error()
	}
	if reply == "" {
		// The handler already responded (e.g. with a modal).
		return
	}
	respErr := s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: reply,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if respErr != nil {
		// The modal path consumes the interaction response; fall back to a
		// followup for replies issued after a form round-trip.
		_, fErr := s.FollowupMessageCreate(ic.Interaction, true, &discordgo.WebhookParams{
			Content: reply,
			Flags:   discordgo.MessageFlagsEphemeral,
		})
		if fErr != nil {
			a.log.Warn("interaction reply failed",
				logx.String("interaction", ic.ID),
				logx.Err(fErr))
		}
	}
}

func (a *Adapter) handleModalSubmit(ic *discordgo.InteractionCreate) {
	data := ic.ModalSubmitData()

	a.mu.Lock()
	waiter, ok := a.forms[data.CustomID]
	a.mu.Unlock()
	if !ok {
		return
	}

	var value string
	for _, row := range data.Components {
		ar, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, comp := range ar.Components {
			if ti, ok := comp.(*discordgo.TextInput); ok && ti.CustomID == "value" {
				value = ti.Value
			}
		}
	}

	// Ack the modal so Discord doesn't show a failure to the user; the
	// command's result arrives as a followup on the original interaction.
	_ = a.session.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Got it.",
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})

	select {
	case waiter <- value:
	default:
	}
}
