// Package scheduler maintains the union of pending feature deadlines across
// all guilds and wakes the process at the earliest one.
//
// One run loop owns all timing: registrations replace earlier ones for the
// same (guild, feature) pair, an earlier registration preempts the current
// sleep, and fire callbacks run synchronously on the loop goroutine. State
// mutation inside a callback goes through the store's per-guild lock, so it
// serializes against command-triggered mutations.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"guildbot/internal/clock"
	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

// Feature names a timer-driven engine. One pending deadline exists per
// (guild, feature) pair at a time.
type Feature string

const (
	FeatureContest Feature = "contest"
	FeatureLottery Feature = "lottery"
)

// HandlerFunc is an engine's fire callback. It runs on the scheduler
// goroutine; long platform calls should be issued after state is committed.
type HandlerFunc func(ctx context.Context, guild platform.GuildID, firedAt time.Time)

type key struct {
	guild   platform.GuildID
	feature Feature
}

type Service struct {
	log logx.Logger
	clk clock.Clock

	mu        sync.Mutex
	deadlines map[key]time.Time
	handlers  map[Feature]HandlerFunc
	resync    func(ctx context.Context)
	running   bool
	stop      context.CancelFunc

	wake chan struct{}
	cron *cron.Cron

	wg sync.WaitGroup
}

func New(clk clock.Clock, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:       log,
		clk:       clk,
		deadlines: map[key]time.Time{},
		handlers:  map[Feature]HandlerFunc{},
		wake:      make(chan struct{}, 1),
	}
}

// RegisterHandler binds a feature's fire callback. Must be called before
// Start; later registrations replace earlier ones.
func (s *Service) RegisterHandler(f Feature, fn HandlerFunc) {
	s.mu.Lock()
	s.handlers[f] = fn
	s.mu.Unlock()
}

// SetResync installs the daily resync job body (re-derives deadlines from
// persisted state). May be nil.
func (s *Service) SetResync(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.resync = fn
	s.mu.Unlock()
}

// ScheduleAt registers or replaces the wake request for (guild, feature).
func (s *Service) ScheduleAt(guild platform.GuildID, f Feature, at time.Time) {
	s.mu.Lock()
	s.deadlines[key{guild, f}] = at
	s.mu.Unlock()
	s.log.Debug("deadline scheduled",
		logx.String("guild", string(guild)),
		logx.String("feature", string(f)),
		logx.Time("at", at))
	s.kick()
}

// Cancel removes the pending wake request for (guild, feature), if any.
func (s *Service) Cancel(guild platform.GuildID, f Feature) {
	s.mu.Lock()
	_, had := s.deadlines[key{guild, f}]
	delete(s.deadlines, key{guild, f})
	s.mu.Unlock()
	if had {
		s.log.Debug("deadline cancelled",
			logx.String("guild", string(guild)),
			logx.String("feature", string(f)))
		s.kick()
	}
}

// Scheduled reports whether (guild, feature) has a pending deadline.
func (s *Service) Scheduled(guild platform.GuildID, f Feature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.deadlines[key{guild, f}]
	return ok
}

// NextDeadline returns the earliest pending deadline, if any.
func (s *Service) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, at, ok := s.earliestLocked()
	return at, ok
}

// Pending returns the number of registered deadlines.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadlines)
}

func (s *Service) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) earliestLocked() (key, time.Time, bool) {
	var bestKey key
	var bestAt time.Time
	found := false
	for k, at := range s.deadlines {
		if !found || at.Before(bestAt) {
			bestKey, bestAt, found = k, at, true
		}
	}
	return bestKey, bestAt, found
}

// Start launches the run loop and the daily resync cron. Idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel

	c := cron.New()
	if s.resync != nil {
		resync := s.resync
		_, _ = c.AddFunc("@daily", func() { resync(runCtx) })
	}
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()
	s.log.Info("scheduler started")
}

// Stop halts the run loop and waits for it to exit (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.stop
	s.stop = nil
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop deadline reached")
	}
}

func (s *Service) run(ctx context.Context) {
	for {
		s.mu.Lock()
		k, at, ok := s.earliestLocked()
		s.mu.Unlock()

		var timerC <-chan time.Time
		var timer *time.Timer
		if ok {
			d := at.Sub(s.clk.Now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			// Deadline set changed; recompute the sleep.
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			s.fire(ctx, k, at)
		}
	}
}

// fire removes the deadline and invokes the owning engine synchronously. The
// entry is only removed if it wasn't replaced while we slept.
func (s *Service) fire(ctx context.Context, k key, at time.Time) {
	s.mu.Lock()
	cur, ok := s.deadlines[k]
	if !ok || !cur.Equal(at) {
		// Replaced or cancelled during the sleep; the loop will pick up
		// the new earliest deadline.
		s.mu.Unlock()
		return
	}
	delete(s.deadlines, k)
	fn := s.handlers[k.feature]
	s.mu.Unlock()

	if fn == nil {
		s.log.Warn("no handler for feature", logx.String("feature", string(k.feature)))
		return
	}

	firedAt := s.clk.Now()
	s.log.Debug("deadline fired",
		logx.String("guild", string(k.guild)),
		logx.String("feature", string(k.feature)),
		logx.Time("scheduled", at))

	defer func() {
		if r := recover(); r != nil {
			// One guild's failure must not take the loop down.
			s.log.Error("fire handler panicked",
				logx.String("guild", string(k.guild)),
				logx.String("feature", string(k.feature)),
				logx.Any("panic", r))
		}
	}()
	fn(ctx, k.guild, firedAt)
}
