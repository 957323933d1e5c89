// Package events implements the subscription registry and DM fan-out for
// operational events.
package events

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"guildbot/internal/platform"
	"guildbot/internal/statestore"
	logx "guildbot/pkg/logx"
)

// Kind names a publishable event stream.
type Kind string

const (
	KindStartup        Kind = "startup"
	KindError          Kind = "error"
	KindContestResolve Kind = "contest-resolved"
	KindLotteryRotate  Kind = "lottery-rotated"
	KindStreamStart    Kind = "stream-started"
)

// Kinds lists every subscribable event kind.
func Kinds() []Kind {
	return []Kind{KindStartup, KindError, KindContestResolve, KindLotteryRotate, KindStreamStart}
}

// Known reports whether k is a subscribable kind.
func Known(k Kind) bool {
	for _, kk := range Kinds() {
		if kk == k {
			return true
		}
	}
	return false
}

// Bus delivers events to subscribed users by direct message. Subscriptions
// persist across restarts; delivery is rate limited so a burst of events
// doesn't trip API limits.
type Bus struct {
	store  statestore.Store
	client platform.Client
	log    logx.Logger

	// limiter spaces DM sends across all publishes.
	limiter *rate.Limiter
}

func NewBus(store statestore.Store, client platform.Client, log logx.Logger) *Bus {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bus{
		store:   store,
		client:  client,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
}

// Subscribe adds user to kind's subscriber set. Subscribing twice is a no-op
// success.
func (b *Bus) Subscribe(user platform.UserID, kind Kind) error {
	if !Known(kind) {
		return fmt.Errorf("%w: unknown event kind %q", platform.ErrInvalidInput, kind)
	}
	return b.store.UpdateSubscriptions(func(subs statestore.Subscriptions) error {
		if subs[user] == nil {
			subs[user] = map[string]bool{}
		}
		subs[user][string(kind)] = true
		return nil
	})
}

// Unsubscribe removes user from kind's subscriber set. Unsubscribing while
// not subscribed is a no-op success.
func (b *Bus) Unsubscribe(user platform.UserID, kind Kind) error {
	if !Known(kind) {
		return fmt.Errorf("%w: unknown event kind %q", platform.ErrInvalidInput, kind)
	}
	return b.store.UpdateSubscriptions(func(subs statestore.Subscriptions) error {
		if subs[user] != nil {
			delete(subs[user], string(kind))
			if len(subs[user]) == 0 {
				delete(subs, user)
			}
		}
		return nil
	})
}

// SubscribedTo returns the kinds user currently subscribes to.
func (b *Bus) SubscribedTo(user platform.UserID) ([]Kind, error) {
	subs, err := b.store.Subscriptions()
	if err != nil {
		return nil, err
	}
	var out []Kind
	for _, k := range Kinds() {
		if subs[user][string(k)] {
			out = append(out, k)
		}
	}
	return out, nil
}

// Publish delivers text to every subscriber of kind. One failed DM does not
// stop delivery to the rest; the report carries per-target outcomes.
func (b *Bus) Publish(ctx context.Context, kind Kind, text string) platform.Report {
	var report platform.Report

	subs, err := b.store.Subscriptions()
	if err != nil {
		b.log.Error("event publish: subscription read failed",
			logx.String("kind", string(kind)), logx.Err(err))
		return report
	}

	body := fmt.Sprintf("%s\n\nYou're receiving this message because you're subscribed to the `%s` event.", text, kind)
	for user, kinds := range subs {
		if !kinds[string(kind)] {
			continue
		}
		if err := b.limiter.Wait(ctx); err != nil {
			report.Add(user, err)
			continue
		}
		err := b.client.SendDirectMessage(ctx, user, body)
		report.Add(user, err)
		if err != nil {
			b.log.Warn("event DM failed",
				logx.String("kind", string(kind)),
				logx.String("user", string(user)),
				logx.Err(err))
		}
	}

	b.log.Debug("event published",
		logx.String("kind", string(kind)),
		logx.Int("delivered", report.Succeeded()),
		logx.Int("failed", report.Failed()))
	return report
}
