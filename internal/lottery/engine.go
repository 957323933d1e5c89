// Package lottery implements the nickname rotation: at a random interval,
// pick a random name from the guild's pool and rename every member the bot is
// permitted to rename.
package lottery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guildbot/internal/clock"
	"guildbot/internal/events"
	"guildbot/internal/platform"
	"guildbot/internal/scheduler"
	"guildbot/internal/statestore"
	logx "guildbot/pkg/logx"
)

const (
	// maxNicknameLen is the platform's nickname length cap.
	maxNicknameLen = 30

	defaultMinInterval = 30 * time.Minute
	defaultMaxInterval = 5 * 24 * time.Hour

	// aprilFoolsInterval replaces the random draw on April 1.
	aprilFoolsInterval = 30 * time.Minute
)

type Engine struct {
	store  statestore.Store
	sched  *scheduler.Service
	client platform.Client
	clk    clock.Clock
	rng    clock.RNG
	bus    *events.Bus
	log    logx.Logger

	minInterval time.Duration
	maxInterval time.Duration
}

func New(store statestore.Store, sched *scheduler.Service, client platform.Client, clk clock.Clock, rng clock.RNG, bus *events.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		store:       store,
		sched:       sched,
		client:      client,
		clk:         clk,
		rng:         rng,
		bus:         bus,
		log:         log,
		minInterval: defaultMinInterval,
		maxInterval: defaultMaxInterval,
	}
	sched.RegisterHandler(scheduler.FeatureLottery, e.onFire)
	return e
}

// SetIntervalBounds overrides the random draw window. Zero values keep the
// current bound.
func (e *Engine) SetIntervalBounds(min, max time.Duration) {
	if min > 0 {
		e.minInterval = min
	}
	if max > 0 {
		e.maxInterval = max
	}
	if e.maxInterval < e.minInterval {
		e.maxInterval = e.minInterval
	}
}

// SanitizeNames trims whitespace then truncates each name to the platform's
// 30-character cap, dropping entries that end up empty. Order and duplicates
// are preserved.
func SanitizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if r := []rune(n); len(r) > maxNicknameLen {
			n = string(r[:maxNicknameLen])
		}
		out = append(out, n)
	}
	return out
}

// SetNicknamePool replaces the guild's pool wholesale. An empty resulting
// pool disables the lottery and cancels the pending fire; a non-empty pool
// (re)schedules one.
func (e *Engine) SetNicknamePool(ctx context.Context, guild platform.GuildID, names []string) error {
	pool := SanitizeNames(names)
	err := e.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		g.Lottery.NicknamePool = pool
		return nil
	})
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		e.sched.Cancel(guild, scheduler.FeatureLottery)
		e.log.Info("lottery disabled (empty pool)", logx.String("guild", string(guild)))
		return nil
	}
	e.scheduleNext(guild)
	e.log.Info("lottery pool set",
		logx.String("guild", string(guild)),
		logx.Int("names", len(pool)))
	return nil
}

// Pool returns the guild's current pool.
func (e *Engine) Pool(guild platform.GuildID) ([]string, error) {
	g, err := e.store.Guild(guild)
	if err != nil {
		return nil, err
	}
	return g.Lottery.NicknamePool, nil
}

// SetAnnounceChannel configures (or clears, with an empty id) the channel
// that receives rotation announcements.
func (e *Engine) SetAnnounceChannel(guild platform.GuildID, channel platform.ChannelID) error {
	return e.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		g.Lottery.AnnounceChannel = channel
		return nil
	})
}

// SetTitleOverride sets the announcement title used instead of the default.
func (e *Engine) SetTitleOverride(guild platform.GuildID, title string) error {
	return e.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		g.Lottery.TitleOverride = strings.TrimSpace(title)
		return nil
	})
}

// NextInterval draws the next rotation delay. April 1 (process-local date)
// pins the delay to 30 minutes; otherwise it's uniform over the configured
// window.
func (e *Engine) NextInterval(now time.Time) time.Duration {
	if now.Month() == time.April && now.Day() == 1 {
		return aprilFoolsInterval
	}
	return e.rng.DurationBetween(e.minInterval, e.maxInterval)
}

func (e *Engine) scheduleNext(guild platform.GuildID) {
	now := e.clk.Now()
	d := e.NextInterval(now)
	e.sched.ScheduleAt(guild, scheduler.FeatureLottery, now.Add(d))
	e.log.Debug("lottery scheduled",
		logx.String("guild", string(guild)),
		logx.Duration("in", d))
}

// InitGuilds redraws a fire time for every guild with a non-empty pool. The
// previous fire time is not persisted, so a restart loses it; the fresh draw
// bounds the gap by one extra interval.
func (e *Engine) InitGuilds(ctx context.Context) error {
	guilds, err := e.store.Guilds()
	if err != nil {
		return err
	}
	for _, guild := range guilds {
		g, err := e.store.Guild(guild)
		if err != nil {
			e.log.Error("lottery boot: guild read failed",
				logx.String("guild", string(guild)), logx.Err(err))
			continue
		}
		if len(g.Lottery.NicknamePool) > 0 {
			e.scheduleNext(guild)
		}
	}
	return nil
}

// EnsureScheduled schedules a fire for any enabled guild that lost its
// deadline, without disturbing existing ones. Used by the daily resync.
func (e *Engine) EnsureScheduled(ctx context.Context) error {
	guilds, err := e.store.Guilds()
	if err != nil {
		return err
	}
	for _, guild := range guilds {
		if e.sched.Scheduled(guild, scheduler.FeatureLottery) {
			continue
		}
		g, err := e.store.Guild(guild)
		if err != nil {
			continue
		}
		if len(g.Lottery.NicknamePool) > 0 {
			e.log.Warn("lottery deadline missing; redrawing",
				logx.String("guild", string(guild)))
			e.scheduleNext(guild)
		}
	}
	return nil
}

// onFire performs one rotation. Once the pool is confirmed non-empty the next
// fire is always scheduled, whatever the per-member outcomes. An empty pool
// must NOT reschedule: a fire can race the clear-then-cancel in
// SetNicknamePool, and re-registering here would leave a disabled guild with
// a timer nothing ever removes.
func (e *Engine) onFire(ctx context.Context, guild platform.GuildID, firedAt time.Time) {
	g, err := e.store.Guild(guild)
	if err != nil {
		e.log.Error("lottery fire: guild read failed",
			logx.String("guild", string(guild)), logx.Err(err))
		// Pool state is unknown; keep the lottery alive and let the next
		// fire (or the daily resync) sort it out.
		e.scheduleNext(guild)
		return
	}
	pool := g.Lottery.NicknamePool
	if len(pool) == 0 {
		return
	}
	defer e.scheduleNext(guild)
	name := pool[e.rng.IntN(len(pool))]

	members, err := e.client.ListMembers(ctx, guild)
	if err != nil {
		e.log.Error("lottery fire: member list failed",
			logx.String("guild", string(guild)), logx.Err(err))
		return
	}

	var report platform.Report
	for _, m := range members {
		if m.IsBot {
			continue
		}
		err := e.client.SetNickname(ctx, guild, m.UserID, name)
		report.Add(m.UserID, err)
	}
	e.log.Info("lottery rotated",
		logx.String("guild", string(guild)),
		logx.String("nickname", name),
		logx.Int("renamed", report.Succeeded()),
		logx.Int("failed", report.Failed()))

	e.announce(ctx, guild, g.Lottery, name, report)
	if e.bus != nil {
		e.bus.Publish(ctx, events.KindLotteryRotate,
			fmt.Sprintf("Nickname lottery rotated guild %s to %q (%d renamed, %d failed).",
				guild, name, report.Succeeded(), report.Failed()))
	}
}

func (e *Engine) announce(ctx context.Context, guild platform.GuildID, st statestore.LotteryState, name string, report platform.Report) {
	if st.AnnounceChannel == "" {
		return
	}
	title := st.TitleOverride
	if title == "" {
		title = "Nickname lottery"
	}
	text := fmt.Sprintf("%s: everyone is now %q (%d renamed, %d could not be renamed).",
		title, name, report.Succeeded(), report.Failed())
	if _, err := e.client.PostMessage(ctx, st.AnnounceChannel, text); err != nil {
		e.log.Warn("lottery announcement failed",
			logx.String("guild", string(guild)), logx.Err(err))
	}
}
