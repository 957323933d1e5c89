package statestore

import (
	"fmt"
	"strings"
	"sync"

	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

// Store is the durable, per-guild feature-state record.
//
// Mutations go through UpdateGuild/UpdateSubscriptions, which serialize per
// guild (a global lock for the subscription map) and commit atomically: the
// mutation function runs against a working copy, and only a nil return
// persists it. Reads return deep-copied snapshots.
//
// Implementations must never invoke network I/O inside the mutation path.
type Store interface {
	// Guild returns a snapshot of the guild's state. A guild that was never
	// configured yields a zero-valued state, not an error.
	Guild(id platform.GuildID) (GuildState, error)

	// UpdateGuild applies fn to the guild's state under the guild's lock and
	// persists the result atomically. If fn returns an error nothing is
	// written and the error is returned unchanged.
	UpdateGuild(id platform.GuildID, fn func(*GuildState) error) error

	// Guilds lists every guild with a persisted record.
	Guilds() ([]platform.GuildID, error)

	// Subscriptions returns a snapshot of the global subscription map.
	Subscriptions() (Subscriptions, error)

	// UpdateSubscriptions applies fn to the subscription map under its lock
	// and persists the result atomically.
	UpdateSubscriptions(fn func(Subscriptions) error) error

	Close() error
}

// Open constructs a Store from config.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown statestore driver %q", cfg.Driver)
	}
}

// guildLocks hands out one mutex per guild so unrelated guilds never contend.
type guildLocks struct {
	mu sync.Mutex
	m  map[platform.GuildID]*sync.Mutex
}

func newGuildLocks() *guildLocks {
	return &guildLocks{m: map[platform.GuildID]*sync.Mutex{}}
}

func (l *guildLocks) get(id platform.GuildID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.m[id]
	if !ok {
		mu = &sync.Mutex{}
		l.m[id] = mu
	}
	return mu
}
