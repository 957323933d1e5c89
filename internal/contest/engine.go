// Package contest implements the per-guild meme-of-the-week cycle: watch a
// channel for candidates, remind when nothing was posted, tally reactions,
// announce a winner, restart.
package contest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"guildbot/internal/clock"
	"guildbot/internal/events"
	"guildbot/internal/platform"
	"guildbot/internal/scheduler"
	"guildbot/internal/statestore"
	logx "guildbot/pkg/logx"
)

const (
	// reminderAfter is how long after a cycle starts the reminder fires.
	reminderAfter = 5 * 24 * time.Hour
	// tallyAfter is how long after the reminder the tally fires.
	tallyAfter = 2 * 24 * time.Hour
)

type Engine struct {
	store  statestore.Store
	sched  *scheduler.Service
	client platform.Client
	clk    clock.Clock
	bus    *events.Bus
	log    logx.Logger
}

func New(store statestore.Store, sched *scheduler.Service, client platform.Client, clk clock.Clock, bus *events.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{store: store, sched: sched, client: client, clk: clk, bus: bus, log: log}
	sched.RegisterHandler(scheduler.FeatureContest, e.onFire)
	return e
}

// SetChannel starts (or restarts) the contest in channel. The cycle begins
// immediately in the watching phase with a reminder five days out.
func (e *Engine) SetChannel(ctx context.Context, guild platform.GuildID, channel platform.ChannelID) error {
	if channel == "" {
		return fmt.Errorf("%w: channel is required", platform.ErrInvalidInput)
	}
	now := e.clk.Now()
	err := e.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		g.Contest = statestore.ContestState{
			Phase:          statestore.ContestWatching,
			Channel:        channel,
			CycleStartedAt: now,
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.sched.ScheduleAt(guild, scheduler.FeatureContest, now.Add(reminderAfter))
	e.log.Info("contest channel set",
		logx.String("guild", string(guild)),
		logx.String("channel", string(channel)))

	// Announcement is best-effort; the cycle is already committed.
	deadline := now.Add(reminderAfter + tallyAfter)
	text := fmt.Sprintf("Meme of the week is on! Post your best memes here. Voting closes %s.",
		deadline.Format("Monday, Jan 2 at 15:04 MST"))
	if _, err := e.client.PostMessage(ctx, channel, text); err != nil {
		e.log.Warn("contest kickoff post failed",
			logx.String("guild", string(guild)), logx.Err(err))
	}
	return nil
}

// UnsetChannel disables the contest and cancels any pending deadline.
func (e *Engine) UnsetChannel(ctx context.Context, guild platform.GuildID) error {
	var prevChannel platform.ChannelID
	var wasActive bool
	err := e.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		prevChannel = g.Contest.Channel
		wasActive = g.Contest.Phase != statestore.ContestIdle
		g.Contest = statestore.ContestState{Phase: statestore.ContestIdle}
		return nil
	})
	if err != nil {
		return err
	}
	e.sched.Cancel(guild, scheduler.FeatureContest)
	e.log.Info("contest channel unset", logx.String("guild", string(guild)))

	if wasActive && prevChannel != "" {
		if _, err := e.client.PostMessage(ctx, prevChannel, "Meme of the week is over. Thanks for playing!"); err != nil {
			e.log.Warn("contest farewell post failed",
				logx.String("guild", string(guild)), logx.Err(err))
		}
	}
	return nil
}

// OnMessage appends a qualifying channel message as a candidate. Bot posts
// and messages outside the configured channel are ignored; re-delivery of a
// message id is a no-op.
func (e *Engine) OnMessage(msg platform.Message) error {
	if msg.FromBot {
		return nil
	}
	return e.store.UpdateGuild(msg.GuildID, func(g *statestore.GuildState) error {
		c := &g.Contest
		if c.Phase != statestore.ContestWatching && c.Phase != statestore.ContestReminderSent {
			return nil
		}
		if c.Channel != msg.ChannelID {
			return nil
		}
		if c.HasCandidate(msg.ID) {
			return nil
		}
		c.Candidates = append(c.Candidates, statestore.Candidate{
			MessageID: msg.ID,
			AuthorID:  msg.AuthorID,
			PostedAt:  msg.PostedAt,
		})
		return nil
	})
}

// InitGuilds reconstructs contest deadlines from persisted state on boot.
// Deadlines already in the past fire promptly.
func (e *Engine) InitGuilds(ctx context.Context) error {
	guilds, err := e.store.Guilds()
	if err != nil {
		return err
	}
	for _, guild := range guilds {
		g, err := e.store.Guild(guild)
		if err != nil {
			e.log.Error("contest boot: guild read failed",
				logx.String("guild", string(guild)), logx.Err(err))
			continue
		}
		switch g.Contest.Phase {
		case statestore.ContestWatching:
			e.sched.ScheduleAt(guild, scheduler.FeatureContest, g.Contest.CycleStartedAt.Add(reminderAfter))
		case statestore.ContestReminderSent:
			e.sched.ScheduleAt(guild, scheduler.FeatureContest, g.Contest.CycleStartedAt.Add(reminderAfter+tallyAfter))
		case statestore.ContestTallying:
			// Crashed mid-tally; resolve as soon as the loop runs.
			e.sched.ScheduleAt(guild, scheduler.FeatureContest, e.clk.Now())
		}
	}
	return nil
}

// CatchUp appends candidates from messages posted while the process was
// down. Safe to run any time; candidate appends are idempotent by message id.
func (e *Engine) CatchUp(ctx context.Context) {
	guilds, err := e.store.Guilds()
	if err != nil {
		e.log.Error("contest catch-up: guild list failed", logx.Err(err))
		return
	}
	for _, guild := range guilds {
		g, err := e.store.Guild(guild)
		if err != nil {
			continue
		}
		c := g.Contest
		if c.Phase != statestore.ContestWatching && c.Phase != statestore.ContestReminderSent {
			continue
		}
		since := c.CycleStartedAt
		for _, cand := range c.Candidates {
			if cand.PostedAt.After(since) {
				since = cand.PostedAt
			}
		}
		msgs, err := e.client.ListRecentMessages(ctx, c.Channel, since)
		if err != nil {
			e.log.Warn("contest catch-up: history fetch failed",
				logx.String("guild", string(guild)), logx.Err(err))
			continue
		}
		for _, m := range msgs {
			m.GuildID = guild
			if err := e.OnMessage(m); err != nil {
				e.log.Warn("contest catch-up: append failed",
					logx.String("guild", string(guild)), logx.Err(err))
			}
		}
		if len(msgs) > 0 {
			e.log.Info("contest catch-up scanned",
				logx.String("guild", string(guild)),
				logx.Int("messages", len(msgs)))
		}
	}
}

// onFire advances the cycle. Which transition applies is decided by the
// persisted phase, not by which deadline we think we slept for, so missed or
// doubled wake-ups converge.
func (e *Engine) onFire(ctx context.Context, guild platform.GuildID, firedAt time.Time) {
	g, err := e.store.Guild(guild)
	if err != nil {
		e.log.Error("contest fire: guild read failed",
			logx.String("guild", string(guild)), logx.Err(err))
		return
	}
	switch g.Contest.Phase {
	case statestore.ContestWatching:
		e.fireReminder(ctx, guild, firedAt)
	case statestore.ContestReminderSent, statestore.ContestTallying:
		e.fireTally(ctx, guild, firedAt)
	default:
		// Unset raced the deadline; nothing to do.
	}
}

func (e *Engine) fireReminder(ctx context.Context, guild platform.GuildID, firedAt time.Time) {
	var channel platform.ChannelID
	var needReminder bool
	err := e.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		if g.Contest.Phase != statestore.ContestWatching {
			return nil
		}
		g.Contest.Phase = statestore.ContestReminderSent
		channel = g.Contest.Channel
		needReminder = len(g.Contest.Candidates) == 0
		return nil
	})
	if err != nil {
		e.log.Error("contest reminder: state update failed",
			logx.String("guild", string(guild)), logx.Err(err))
		return
	}
	if channel == "" {
		return
	}

	// The tally runs two days out whether or not a reminder was warranted.
	e.sched.ScheduleAt(guild, scheduler.FeatureContest, firedAt.Add(tallyAfter))

	if needReminder {
		text := "No memes submitted yet this week! Post your best memes here; voting closes in two days."
		if _, err := e.client.PostMessage(ctx, channel, text); err != nil {
			e.log.Warn("contest reminder post failed",
				logx.String("guild", string(guild)), logx.Err(err))
		}
	}
}

func (e *Engine) fireTally(ctx context.Context, guild platform.GuildID, firedAt time.Time) {
	// Mark the tally before the reaction fetches so a crash mid-fetch
	// resumes here instead of re-sending the reminder.
	var channel platform.ChannelID
	var candidates []statestore.Candidate
	err := e.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		if g.Contest.Phase != statestore.ContestReminderSent && g.Contest.Phase != statestore.ContestTallying {
			return nil
		}
		g.Contest.Phase = statestore.ContestTallying
		channel = g.Contest.Channel
		candidates = append([]statestore.Candidate(nil), g.Contest.Candidates...)
		return nil
	})
	if err != nil {
		e.log.Error("contest tally: state update failed",
			logx.String("guild", string(guild)), logx.Err(err))
		return
	}
	if channel == "" {
		return
	}

	winner, votes := e.pickWinner(ctx, channel, candidates)

	// Commit the next cycle before announcing; a failed announcement must
	// not repeat the tally.
	err = e.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		if g.Contest.Phase != statestore.ContestTallying {
			return nil
		}
		g.Contest.Phase = statestore.ContestWatching
		g.Contest.CycleStartedAt = firedAt
		g.Contest.Candidates = nil
		return nil
	})
	if err != nil {
		e.log.Error("contest resolve: state update failed",
			logx.String("guild", string(guild)), logx.Err(err))
		return
	}
	e.sched.ScheduleAt(guild, scheduler.FeatureContest, firedAt.Add(reminderAfter))

	var text string
	if winner == nil {
		text = "No memes were submitted this week, so there is no winner. A new week starts now!"
	} else {
		text = fmt.Sprintf("The meme of the week goes to <@%s> with %d reactions! A new week starts now.",
			winner.AuthorID, votes)
	}
	if _, err := e.client.PostMessage(ctx, channel, text); err != nil {
		e.log.Warn("contest winner announcement failed",
			logx.String("guild", string(guild)), logx.Err(err))
	}
	if e.bus != nil && winner != nil {
		e.bus.Publish(ctx, events.KindContestResolve,
			fmt.Sprintf("Meme of the week resolved in guild %s: winner <@%s> with %d reactions.", guild, winner.AuthorID, votes))
	}
	e.log.Info("contest resolved",
		logx.String("guild", string(guild)),
		logx.Int("candidates", len(candidates)),
		logx.Bool("has_winner", winner != nil))
}

// pickWinner fetches reaction counts for every candidate and returns the one
// with the strictly greatest total, earliest-posted first on ties. A fetch
// failure counts as zero rather than blocking resolution.
func (e *Engine) pickWinner(ctx context.Context, channel platform.ChannelID, candidates []statestore.Candidate) (*statestore.Candidate, int) {
	if len(candidates) == 0 {
		return nil, 0
	}

	type scored struct {
		cand  statestore.Candidate
		votes int
	}
	scores := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		total := 0
		counts, err := e.client.ListReactions(ctx, channel, c.MessageID)
		if err != nil {
			e.log.Warn("reaction fetch failed; scoring candidate as zero",
				logx.String("message", string(c.MessageID)), logx.Err(err))
		} else {
			for _, n := range counts {
				total += n
			}
		}
		scores = append(scores, scored{cand: c, votes: total})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].votes != scores[j].votes {
			return scores[i].votes > scores[j].votes
		}
		return scores[i].cand.PostedAt.Before(scores[j].cand.PostedAt)
	})
	best := scores[0]
	return &best.cand, best.votes
}
