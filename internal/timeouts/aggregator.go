// Package timeouts accumulates per-member timeout statistics from platform
// member-update events and posts configurable channel announcements.
package timeouts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"guildbot/internal/clock"
	"guildbot/internal/platform"
	"guildbot/internal/statestore"
	logx "guildbot/pkg/logx"
)

// Record is the queryable view of one member's accumulated timeouts.
type Record struct {
	Count        int64
	TotalSeconds int64
}

type Aggregator struct {
	store  statestore.Store
	client platform.Client
	clk    clock.Clock
	log    logx.Logger

	// limiter keeps a timeout storm from flooding the announcement channel.
	limiter *rate.Limiter
}

func New(store statestore.Store, client platform.Client, clk clock.Clock, log logx.Logger) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{
		store:   store,
		client:  client,
		clk:     clk,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
}

// OnTimeoutChange processes a member-update event. Only a new or extended
// timeout counts: the event stream re-delivers the same deadline on unrelated
// member updates, so the stored expected expiry dedups them. Counters
// saturate and never decrease.
func (a *Aggregator) OnTimeoutChange(ctx context.Context, ev platform.TimeoutChange) error {
	now := a.clk.Now()
	var announce bool
	var announceCfg statestore.AnnouncementConfig
	var rec Record

	err := a.store.UpdateGuild(ev.GuildID, func(g *statestore.GuildState) error {
		if ev.Until == nil || !ev.Until.After(now) {
			// Timeout lifted or already expired; nothing to record.
			return nil
		}
		if g.Timeouts == nil {
			g.Timeouts = map[platform.UserID]statestore.TimeoutRecord{}
		}
		cur := g.Timeouts[ev.UserID]
		if cur.ExpectedExpiry != nil && cur.ExpectedExpiry.Equal(*ev.Until) {
			// Same timeout re-delivered.
			return nil
		}

		seconds := int64(ev.Until.Sub(now) / time.Second)
		if seconds < 0 {
			seconds = 0
		}
		cur.Count++
		cur.TotalSeconds += seconds
		cur.LastTimedOut = &now
		cur.ExpectedExpiry = ev.Until
		g.Timeouts[ev.UserID] = cur

		announce = true
		announceCfg = g.Announce
		rec = Record{Count: cur.Count, TotalSeconds: cur.TotalSeconds}
		return nil
	})
	if err != nil {
		return err
	}
	if !announce {
		return nil
	}

	a.log.Info("timeout recorded",
		logx.String("guild", string(ev.GuildID)),
		logx.String("user", string(ev.UserID)),
		logx.Int64("count", rec.Count),
		logx.Int64("total_seconds", rec.TotalSeconds))

	// Unconfigured channel is a silent no-op.
	if announceCfg.Channel == "" {
		return nil
	}
	if !a.limiter.Allow() {
		a.log.Warn("timeout announcement suppressed (rate limit)",
			logx.String("guild", string(ev.GuildID)))
		return nil
	}
	text := announceCfg.Prefix + FormatSummary(ev.UserID, rec)
	if _, err := a.client.PostMessage(ctx, announceCfg.Channel, text); err != nil {
		a.log.Warn("timeout announcement failed",
			logx.String("guild", string(ev.GuildID)), logx.Err(err))
	}
	return nil
}

// CheckUser returns the member's accumulated record; zero-valued if the
// member was never timed out. Pure read.
func (a *Aggregator) CheckUser(guild platform.GuildID, user platform.UserID) (Record, error) {
	g, err := a.store.Guild(guild)
	if err != nil {
		return Record{}, err
	}
	rec := g.Timeouts[user]
	return Record{Count: rec.Count, TotalSeconds: rec.TotalSeconds}, nil
}

// SetAnnouncements configures the announcement channel and prefix. A prefix
// is only meaningful with a channel: passing one while no channel is
// configured (and none is being set) fails with ErrNotConfigured.
func (a *Aggregator) SetAnnouncements(guild platform.GuildID, channel platform.ChannelID, prefix string) error {
	return a.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		if channel == "" && strings.TrimSpace(prefix) != "" && g.Announce.Channel == "" {
			return fmt.Errorf("%w: announcement prefix requires a channel", platform.ErrNotConfigured)
		}
		if channel != "" {
			g.Announce.Channel = channel
		}
		g.Announce.Prefix = prefix
		return nil
	})
}

// StopAnnouncements clears the channel and prefix.
func (a *Aggregator) StopAnnouncements(guild platform.GuildID) error {
	return a.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		g.Announce = statestore.AnnouncementConfig{}
		return nil
	})
}

// FormatSummary renders the announcement body appended to the guild prefix.
func FormatSummary(user platform.UserID, rec Record) string {
	return fmt.Sprintf("<@%s> has been timed out %d time(s) for a total of %s.",
		user, rec.Count, (time.Duration(rec.TotalSeconds) * time.Second).String())
}
