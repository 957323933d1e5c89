package platform

import (
	"context"
	"time"
)

// IDs are platform snowflakes kept as opaque strings.
type (
	GuildID   string
	ChannelID string
	UserID    string
	MessageID string
)

// Message is an inbound channel message observed on the gateway.
type Message struct {
	ID        MessageID
	GuildID   GuildID
	ChannelID ChannelID
	AuthorID  UserID
	Content   string
	PostedAt  time.Time
	FromBot   bool
}

// TimeoutChange is an inbound member-update carrying the member's
// communication-disabled deadline (nil when the member is not timed out).
type TimeoutChange struct {
	GuildID GuildID
	UserID  UserID
	Until   *time.Time
}

// Member is a renameable guild member. Nickname is empty when the member has
// no guild-specific name; Username is the account name shown in that case.
type Member struct {
	UserID   UserID
	Username string
	Nickname string
	IsBot    bool
}

// PresenceChange is an inbound presence update reduced to the one bit the
// engines care about: whether the member is currently streaming.
type PresenceChange struct {
	GuildID   GuildID
	UserID    UserID
	Streaming bool
}

// ThreadChange is an inbound thread update carrying its archival state.
type ThreadChange struct {
	GuildID  GuildID
	ThreadID ChannelID
	Archived bool
	Locked   bool
}

// Client is the outward-facing surface the engines call. Implementations
// perform network I/O and must never be invoked while holding state locks.
type Client interface {
	// PostMessage sends text to a channel and returns the created message id.
	PostMessage(ctx context.Context, channel ChannelID, text string) (MessageID, error)

	// EditMessage replaces the text of a previously posted message.
	EditMessage(ctx context.Context, channel ChannelID, id MessageID, text string) error

	// ListReactions returns reaction counts per emoji for a message.
	ListReactions(ctx context.Context, channel ChannelID, id MessageID) (map[string]int, error)

	// SetNickname renames a member. The platform enforces role hierarchy and
	// ownership; a denied rename surfaces as ErrPermissionDenied.
	SetNickname(ctx context.Context, guild GuildID, user UserID, nickname string) error

	// ListMembers enumerates guild members.
	ListMembers(ctx context.Context, guild GuildID) ([]Member, error)

	// Member fetches a single guild member.
	Member(ctx context.Context, guild GuildID, user UserID) (Member, error)

	// UnarchiveThread reopens an archived thread.
	UnarchiveThread(ctx context.Context, thread ChannelID) error

	// SendDirectMessage delivers text to a user's DM channel.
	SendDirectMessage(ctx context.Context, user UserID, text string) error

	// ListRecentMessages returns channel messages posted at or after since,
	// oldest first. Used to catch up on messages missed while offline.
	ListRecentMessages(ctx context.Context, channel ChannelID, since time.Time) ([]Message, error)
}

// FormOpener shows a prefilled text input form to the user behind an
// interaction and blocks until submission (or timeout). Used for
// nickname-pool editing.
type FormOpener interface {
	OpenInputForm(ctx context.Context, interactionID string, title, prefilled string) (string, error)
}

// Outcome records the result of one outward call against one target, so a
// partially failing fan-out can be reported without aborting the rest.
type Outcome struct {
	Target UserID
	Err    error
}

// Report aggregates per-target outcomes of a fan-out operation.
type Report struct {
	Outcomes []Outcome
}

func (r *Report) Add(target UserID, err error) {
	r.Outcomes = append(r.Outcomes, Outcome{Target: target, Err: err})
}

func (r *Report) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

func (r *Report) Succeeded() int { return len(r.Outcomes) - r.Failed() }
