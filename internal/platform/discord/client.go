// Package discord adapts the discordgo session to the platform interfaces
// the engines consume, and translates gateway events into core callbacks.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

// Handlers are the core callbacks the gateway feeds. Nil fields are skipped.
type Handlers struct {
	OnMessage        func(msg platform.Message)
	OnTimeoutChange  func(ev platform.TimeoutChange)
	OnPresenceChange func(ev platform.PresenceChange)
	OnThreadChange   func(ev platform.ThreadChange)
	OnReady          func(guilds []platform.GuildID)
}

type Adapter struct {
	session *discordgo.Session
	log     logx.Logger

	handlers Handlers

	mu         sync.Mutex
	logChannel platform.ChannelID
	// pending maps in-flight interaction ids to their interaction, so a
	// command handler can open a modal against them.
	pending map[string]*discordgo.Interaction
	// forms maps modal custom ids to waiter channels.
	forms map[string]chan string

	// dispatch routes slash-command interactions; installed by the app
	// after the router is built.
	dispatch func(ctx context.Context, ic *discordgo.InteractionCreate) (string, error)
}

func New(token string, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("discord token is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsMessageContent

	a := &Adapter{
		session: s,
		log:     log,
		pending: map[string]*discordgo.Interaction{},
		forms:   map[string]chan string{},
	}
	return a, nil
}

// SetHandlers installs core callbacks. Must be called before Open.
func (a *Adapter) SetHandlers(h Handlers) { a.handlers = h }

// SetDispatch installs the slash-command dispatcher. Must be called before
// Open.
func (a *Adapter) SetDispatch(fn func(ctx context.Context, ic *discordgo.InteractionCreate) (string, error)) {
	a.dispatch = fn
}

// SetLogChannel points the log relay at a channel; empty disables it.
func (a *Adapter) SetLogChannel(ch platform.ChannelID) {
	a.mu.Lock()
	a.logChannel = ch
	a.mu.Unlock()
}

// Open connects the gateway and registers handlers.
func (a *Adapter) Open(ctx context.Context) error {
	a.session.AddHandler(a.onReady)
	a.session.AddHandler(a.onMessageCreate)
	a.session.AddHandler(a.onGuildMemberUpdate)
	a.session.AddHandler(a.onPresenceUpdate)
	a.session.AddHandler(a.onThreadUpdate)
	a.session.AddHandler(a.onInteractionCreate)
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("gateway open: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	return a.session.Close()
}

// mapError folds discordgo REST errors into the shared error kinds.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", platform.ErrPermissionDenied, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", platform.ErrNetworkTransient, err)
		}
	}
	return err
}

func (a *Adapter) PostMessage(ctx context.Context, channel platform.ChannelID, text string) (platform.MessageID, error) {
	msg, err := a.session.ChannelMessageSend(string(channel), text, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}
	return platform.MessageID(msg.ID), nil
}

func (a *Adapter) EditMessage(ctx context.Context, channel platform.ChannelID, id platform.MessageID, text string) error {
	_, err := a.session.ChannelMessageEdit(string(channel), string(id), text, discordgo.WithContext(ctx))
	return mapError(err)
}

func (a *Adapter) ListReactions(ctx context.Context, channel platform.ChannelID, id platform.MessageID) (map[string]int, error) {
	msg, err := a.session.ChannelMessage(string(channel), string(id), discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	counts := make(map[string]int, len(msg.Reactions))
	for _, r := range msg.Reactions {
		if r == nil {
			continue
		}
		counts[r.Emoji.APIName()] += r.Count
	}
	return counts, nil
}

func (a *Adapter) SetNickname(ctx context.Context, guild platform.GuildID, user platform.UserID, nickname string) error {
	err := a.session.GuildMemberNickname(string(guild), string(user), nickname, discordgo.WithContext(ctx))
	return mapError(err)
}

func (a *Adapter) ListMembers(ctx context.Context, guild platform.GuildID) ([]platform.Member, error) {
	var out []platform.Member
	after := ""
	for {
		batch, err := a.session.GuildMembers(string(guild), after, 1000, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
		for _, m := range batch {
			if m == nil || m.User == nil {
				continue
			}
			out = append(out, platform.Member{
				UserID:   platform.UserID(m.User.ID),
				Username: m.User.Username,
				Nickname: m.Nick,
				IsBot:    m.User.Bot,
			})
		}
		if len(batch) < 1000 {
			return out, nil
		}
		after = batch[len(batch)-1].User.ID
	}
}

func (a *Adapter) Member(ctx context.Context, guild platform.GuildID, user platform.UserID) (platform.Member, error) {
	m, err := a.session.GuildMember(string(guild), string(user), discordgo.WithContext(ctx))
	if err != nil {
		return platform.Member{}, mapError(err)
	}
	out := platform.Member{UserID: user, Nickname: m.Nick}
	if m.User != nil {
		out.Username = m.User.Username
		out.IsBot = m.User.Bot
	}
	return out, nil
}

func (a *Adapter) UnarchiveThread(ctx context.Context, thread platform.ChannelID) error {
	archived := false
	_, err := a.session.ChannelEditComplex(string(thread), &discordgo.ChannelEdit{
		Archived: &archived,
	}, discordgo.WithContext(ctx))
	return mapError(err)
}

func (a *Adapter) SendDirectMessage(ctx context.Context, user platform.UserID, text string) error {
	ch, err := a.session.UserChannelCreate(string(user), discordgo.WithContext(ctx))
	if err != nil {
		return mapError(err)
	}
	_, err = a.session.ChannelMessageSend(ch.ID, text, discordgo.WithContext(ctx))
	return mapError(err)
}

// listRecentCap bounds how far back a catch-up scan walks.
const listRecentCap = 500

func (a *Adapter) ListRecentMessages(ctx context.Context, channel platform.ChannelID, since time.Time) ([]platform.Message, error) {
	var out []platform.Message
	before := ""
	for len(out) < listRecentCap {
		batch, err := a.session.ChannelMessages(string(channel), 100, before, "", "", discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
		if len(batch) == 0 {
			break
		}
		stop := false
		for _, m := range batch { // newest first
			if m == nil || m.Author == nil {
				continue
			}
			if m.Timestamp.Before(since) {
				stop = true
				break
			}
			out = append(out, platform.Message{
				ID:        platform.MessageID(m.ID),
				GuildID:   platform.GuildID(m.GuildID),
				ChannelID: channel,
				AuthorID:  platform.UserID(m.Author.ID),
				Content:   m.Content,
				PostedAt:  m.Timestamp,
				FromBot:   m.Author.Bot,
			})
		}
		if stop || len(batch) < 100 {
			break
		}
		before = batch[len(batch)-1].ID
	}
	// Oldest first, matching live delivery order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// RelayLog implements the logx relay sink by posting to the configured log
// channel. Dropping when unconfigured keeps logging non-fatal.
func (a *Adapter) RelayLog(ctx context.Context, text string) error {
	a.mu.Lock()
	ch := a.logChannel
	a.mu.Unlock()
	if ch == "" {
		return nil
	}
	_, err := a.PostMessage(ctx, ch, text)
	return err
}

// OpenInputForm shows a single-textarea modal against a pending interaction
// and blocks until the user submits (or ctx expires).
func (a *Adapter) OpenInputForm(ctx context.Context, interactionID string, title, prefilled string) (string, error) {
	a.mu.Lock()
	ic, ok := a.pending[interactionID]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown interaction %q", platform.ErrNotFound, interactionID)
	}

	customID := "form:" + interactionID
	waiter := make(chan string, 1)
	a.mu.Lock()
	a.forms[customID] = waiter
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.forms, customID)
		a.mu.Unlock()
	}()

	err := a.session.InteractionRespond(ic, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID,
			Title:    title,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:  "value",
							Label:     title,
							Style:     discordgo.TextInputParagraph,
							Value:     prefilled,
							Required:  false,
							MaxLength: 4000,
						},
					},
				},
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapError(err)
	}

	select {
	case v := <-waiter:
		return v, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(10 * time.Minute):
		return "", fmt.Errorf("%w: form submission timed out", platform.ErrNetworkTransient)
	}
}
