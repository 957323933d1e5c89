// Package app wires the engines, platform adapter, store, and config manager
// together and owns the process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"guildbot/internal/clock"
	"guildbot/internal/config"
	"guildbot/internal/contest"
	"guildbot/internal/events"
	"guildbot/internal/lottery"
	"guildbot/internal/platform"
	"guildbot/internal/platform/discord"
	"guildbot/internal/router"
	"guildbot/internal/runtime/supervisor"
	"guildbot/internal/scheduler"
	"guildbot/internal/scoreboard"
	"guildbot/internal/statestore"
	"guildbot/internal/streams"
	"guildbot/internal/textresponse"
	"guildbot/internal/threads"
	"guildbot/internal/timeouts"
	logx "guildbot/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   statestore.Store
	adapter *discord.Adapter

	sched     *scheduler.Service
	contest   *contest.Engine
	lottery   *lottery.Engine
	timeouts  *timeouts.Aggregator
	bus       *events.Bus
	boards    *scoreboard.Service
	responses *textresponse.Service
	indicator *streams.Indicator
	reviver   *threads.Reviver
	rt        *router.Router

	registerOnce sync.Once
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Bootstrap with the relay disabled: the relay target is the Discord
	// adapter, which doesn't exist yet. Attach it below, then Apply the
	// final config.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Relay: logx.RelayConfig{
			Enabled:    false,
			MinLevel:   cfg.Logging.Relay.MinLevel,
			RatePerSec: cfg.Logging.Relay.RatePerSec,
		},
	}
	logSvc, log := logx.New(baseLogCfg, nil)
	log = log.With(logx.String("comp", "app"))

	adapter, err := discord.New(cfg.Discord.Token, log.With(logx.String("comp", "discord")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	adapter.SetLogChannel(platform.ChannelID(cfg.Discord.LogChannel))
	logSvc.SetRelay(adapter)

	finalLogCfg := baseLogCfg
	finalLogCfg.Relay.Enabled = cfg.Logging.Relay.Enabled
	logSvc.Apply(finalLogCfg)

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	store, err := statestore.Open(storeCfg, log.With(logx.String("comp", "statestore")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("state store opened", logx.String("driver", storeCfg.Driver))

	clk := clock.System()
	rng := clock.NewRNG()

	sched := scheduler.New(clk, log.With(logx.String("comp", "scheduler")))
	bus := events.NewBus(store, adapter, log.With(logx.String("comp", "events")))
	contestEng := contest.New(store, sched, adapter, clk, bus, log.With(logx.String("comp", "contest")))
	lotteryEng := lottery.New(store, sched, adapter, clk, rng, bus, log.With(logx.String("comp", "lottery")))
	timeoutAgg := timeouts.New(store, adapter, clk, log.With(logx.String("comp", "timeouts")))
	boards := scoreboard.New(store, log.With(logx.String("comp", "scoreboard")))
	responses := textresponse.New(store)
	indicator := streams.New(adapter, bus, log.With(logx.String("comp", "streams")))
	reviver := threads.New(adapter, log.With(logx.String("comp", "threads")))

	if min, max, err := mapLotteryBounds(cfg); err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	} else {
		lotteryEng.SetIntervalBounds(min, max)
	}

	rt := router.New(router.Deps{
		Store:     store,
		Contest:   contestEng,
		Lottery:   lotteryEng,
		Timeouts:  timeoutAgg,
		Bus:       bus,
		Boards:    boards,
		Responses: responses,
		Forms:     adapter,
		ManagerID: platform.UserID(cfg.Discord.ManagerUserID),
		Log:       log.With(logx.String("comp", "router")),
	})

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logSvc,
		store:     store,
		adapter:   adapter,
		sched:     sched,
		contest:   contestEng,
		lottery:   lotteryEng,
		timeouts:  timeoutAgg,
		bus:       bus,
		boards:    boards,
		responses: responses,
		indicator: indicator,
		reviver:   reviver,
		rt:        rt,
	}
	a.wireGateway()
	return a, nil
}

func (a *App) wireGateway() {
	a.adapter.SetDispatch(func(ctx context.Context, ic *discordgo.InteractionCreate) (string, error) {
		return a.rt.Dispatch(ctx, discord.ToCommand(ic))
	})
	a.adapter.SetHandlers(discord.Handlers{
		OnReady: func(guilds []platform.GuildID) {
			a.registerOnce.Do(func() {
				if err := a.adapter.RegisterCommands(); err != nil {
					a.log.Error("command registration failed", logx.Err(err))
				}
			})
		},
		OnMessage: func(msg platform.Message) {
			if err := a.contest.OnMessage(msg); err != nil {
				a.log.Warn("candidate append failed",
					logx.String("guild", string(msg.GuildID)), logx.Err(err))
			}
			if msg.FromBot {
				return
			}
			if resp, ok := a.responses.Lookup(msg.GuildID, msg.Content); ok {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if _, err := a.adapter.PostMessage(ctx, msg.ChannelID, resp); err != nil {
					a.log.Warn("text response failed", logx.Err(err))
				}
			}
		},
		OnTimeoutChange: func(ev platform.TimeoutChange) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.timeouts.OnTimeoutChange(ctx, ev); err != nil {
				a.log.Warn("timeout event failed",
					logx.String("guild", string(ev.GuildID)), logx.Err(err))
			}
		},
		OnPresenceChange: func(ev platform.PresenceChange) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.indicator.OnPresenceChange(ctx, ev); err != nil {
				a.log.Warn("stream indicator failed",
					logx.String("guild", string(ev.GuildID)), logx.Err(err))
			}
		},
		OnThreadChange: func(ev platform.ThreadChange) {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := a.reviver.OnThreadChange(ctx, ev); err != nil {
				a.log.Warn("thread revive failed",
					logx.String("guild", string(ev.GuildID)), logx.Err(err))
			}
		},
	})
}

// Done is closed when the app supervisor context is canceled (fatal error or
// Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, _, err := mapLotteryBounds(cfg)
		return err
	})

	if err := a.adapter.Open(a.sup.Context()); err != nil {
		return err
	}

	// Reconstruct deadlines from persisted state, then catch up on missed
	// channel traffic in the background.
	if err := a.contest.InitGuilds(a.sup.Context()); err != nil {
		return fmt.Errorf("contest boot: %w", err)
	}
	if err := a.lottery.InitGuilds(a.sup.Context()); err != nil {
		return fmt.Errorf("lottery boot: %w", err)
	}
	a.sched.SetResync(func(c context.Context) {
		if err := a.contest.InitGuilds(c); err != nil {
			a.log.Warn("contest resync failed", logx.Err(err))
		}
		if err := a.lottery.EnsureScheduled(c); err != nil {
			a.log.Warn("lottery resync failed", logx.Err(err))
		}
	})
	a.sched.Start(a.sup.Context())

	a.sup.Go0("contest.catchup", func(c context.Context) {
		a.contest.CatchUp(c)
	})

	a.sup.Go0("events.startup", func(c context.Context) {
		a.bus.Publish(c, events.KindStartup, "guildbot is up.")
	})

	// Surface the first fatal error to error subscribers, best effort.
	a.sup.Go0("events.fatal", func(c context.Context) {
		<-c.Done()
		if err := a.sup.Err(); err != nil {
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.bus.Publish(pubCtx, events.KindError, "guildbot hit a fatal error: "+err.Error())
		}
	})

	// Hot reload fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(last, newCfg)
				last = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(old, cfg *config.Config) {
	if old != nil && (old.Storage != cfg.Storage) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.adapter.SetLogChannel(platform.ChannelID(cfg.Discord.LogChannel))
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Relay: logx.RelayConfig{
			Enabled:    cfg.Logging.Relay.Enabled,
			MinLevel:   cfg.Logging.Relay.MinLevel,
			RatePerSec: cfg.Logging.Relay.RatePerSec,
		},
	})

	a.rt.SetManager(platform.UserID(cfg.Discord.ManagerUserID))

	if min, max, err := mapLotteryBounds(cfg); err == nil {
		a.lottery.SetIntervalBounds(min, max)
	} else {
		a.log.Warn("invalid lottery bounds; keeping previous", logx.Err(err))
	}

	a.log.Info("config reloaded")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
		start := time.Now()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end",
				logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Close() })
	step("statestore", 1*time.Second, func(c context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

func mapStorageConfig(cfg *config.Config) (statestore.Config, error) {
	driver := strings.TrimSpace(cfg.Storage.Driver)
	if driver == "" {
		driver = "file"
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return statestore.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./guildbot_state.json"
		if driver == "sqlite" {
			path = "./guildbot.db"
		}
	}
	return statestore.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapLotteryBounds(cfg *config.Config) (time.Duration, time.Duration, error) {
	min, err := config.ParseDurationField("lottery.min_interval", cfg.Lottery.MinInterval)
	if err != nil {
		return 0, 0, err
	}
	max, err := config.ParseDurationField("lottery.max_interval", cfg.Lottery.MaxInterval)
	if err != nil {
		return 0, 0, err
	}
	if min > 0 && max > 0 && max < min {
		return 0, 0, fmt.Errorf("lottery: max_interval must be >= min_interval")
	}
	return min, max, nil
}
