// Package threads keeps threads alive: whenever the platform auto-archives a
// thread, it is immediately unarchived again. Locked threads are left alone,
// since a moderator locked those on purpose.
package threads

import (
	"context"
	"fmt"

	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

type Reviver struct {
	client platform.Client
	log    logx.Logger
}

func New(client platform.Client, log logx.Logger) *Reviver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reviver{client: client, log: log}
}

// OnThreadChange reopens a freshly archived, unlocked thread.
func (r *Reviver) OnThreadChange(ctx context.Context, ev platform.ThreadChange) error {
	if !ev.Archived || ev.Locked {
		return nil
	}
	if err := r.client.UnarchiveThread(ctx, ev.ThreadID); err != nil {
		return fmt.Errorf("unarchive thread %s: %w", ev.ThreadID, err)
	}
	r.log.Info("thread revived",
		logx.String("guild", string(ev.GuildID)),
		logx.String("thread", string(ev.ThreadID)))
	return nil
}
