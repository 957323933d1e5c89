// Package streams marks members who are live: while a member's presence
// carries a streaming activity their nickname gets a red-dot prefix, removed
// again when the stream ends.
package streams

import (
	"context"
	"fmt"
	"strings"

	"guildbot/internal/events"
	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

const (
	// streamingPrefix is prepended to the display name while live.
	streamingPrefix = "🔴 "

	// maxNicknameLen is the platform's nickname length cap.
	maxNicknameLen = 30
)

type Indicator struct {
	client platform.Client
	bus    *events.Bus
	log    logx.Logger
}

func New(client platform.Client, bus *events.Bus, log logx.Logger) *Indicator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Indicator{client: client, bus: bus, log: log}
}

// OnPresenceChange reconciles the member's nickname with their streaming
// state. The prefix check makes repeated presence updates idempotent, so the
// gateway can deliver the same state any number of times.
func (i *Indicator) OnPresenceChange(ctx context.Context, ev platform.PresenceChange) error {
	m, err := i.client.Member(ctx, ev.GuildID, ev.UserID)
	if err != nil {
		return fmt.Errorf("member lookup: %w", err)
	}
	if m.IsBot {
		return nil
	}

	current := m.Nickname
	if current == "" {
		current = m.Username
	}
	marked := strings.HasPrefix(current, streamingPrefix)

	switch {
	case ev.Streaming && !marked:
		name := streamingPrefix + current
		if r := []rune(name); len(r) > maxNicknameLen {
			name = string(r[:maxNicknameLen])
		}
		if err := i.client.SetNickname(ctx, ev.GuildID, ev.UserID, name); err != nil {
			return fmt.Errorf("mark streaming: %w", err)
		}
		i.log.Info("stream indicator set",
			logx.String("guild", string(ev.GuildID)),
			logx.String("user", string(ev.UserID)))
		if i.bus != nil {
			i.bus.Publish(ctx, events.KindStreamStart,
				fmt.Sprintf("%s is now streaming in guild %s.", current, ev.GuildID))
		}
	case !ev.Streaming && marked:
		name := strings.TrimPrefix(current, streamingPrefix)
		if err := i.client.SetNickname(ctx, ev.GuildID, ev.UserID, name); err != nil {
			return fmt.Errorf("clear streaming: %w", err)
		}
		i.log.Info("stream indicator cleared",
			logx.String("guild", string(ev.GuildID)),
			logx.String("user", string(ev.UserID)))
	}
	return nil
}
