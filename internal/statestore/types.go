package statestore

import (
	"errors"
	"time"

	"guildbot/internal/platform"
)

var ErrDisabled = errors.New("statestore disabled")

// Config configures the state store.
//
// Driver values:
//   - "file": whole-state JSON document, atomic tmp+rename replace
//   - "sqlite": SQLite database file (modernc driver)
//
// If Driver is empty, "file" is assumed.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ContestPhase is the contest state machine's tagged phase.
type ContestPhase string

const (
	ContestIdle         ContestPhase = "idle"
	ContestWatching     ContestPhase = "watching"
	ContestReminderSent ContestPhase = "reminder_sent"
	ContestTallying     ContestPhase = "tallying"
)

// Candidate is one message submitted during a contest cycle's watch window.
type Candidate struct {
	MessageID platform.MessageID `json:"message_id"`
	AuthorID  platform.UserID    `json:"author_id"`
	PostedAt  time.Time          `json:"posted_at"`
}

// ContestState holds one guild's contest machine.
//
// Invariant: Phase != ContestIdle implies Channel != "".
type ContestState struct {
	Phase          ContestPhase `json:"phase"`
	Channel        platform.ChannelID `json:"channel,omitempty"`
	CycleStartedAt time.Time    `json:"cycle_started_at,omitempty"`
	Candidates     []Candidate  `json:"candidates,omitempty"`
}

// HasCandidate reports whether id was already appended this cycle.
func (c *ContestState) HasCandidate(id platform.MessageID) bool {
	for _, cand := range c.Candidates {
		if cand.MessageID == id {
			return true
		}
	}
	return false
}

// LotteryState holds one guild's nickname-rotation configuration. The next
// fire time is deliberately not persisted; it is redrawn on boot.
type LotteryState struct {
	NicknamePool    []string           `json:"nickname_pool,omitempty"`
	AnnounceChannel platform.ChannelID `json:"announce_channel,omitempty"`
	TitleOverride   string             `json:"title_override,omitempty"`
}

// TimeoutRecord accumulates one member's timeout statistics. Count and
// TotalSeconds are monotonically non-decreasing.
type TimeoutRecord struct {
	Count          int64      `json:"count"`
	TotalSeconds   int64      `json:"total_seconds"`
	LastTimedOut   *time.Time `json:"last_timed_out,omitempty"`
	ExpectedExpiry *time.Time `json:"expected_expiry,omitempty"`
}

// AnnouncementConfig controls timeout announcements for a guild. Prefix is
// only meaningful when Channel is set.
type AnnouncementConfig struct {
	Channel platform.ChannelID `json:"channel,omitempty"`
	Prefix  string             `json:"prefix,omitempty"`
}

// Scoreboard maps user ids to scores.
type Scoreboard struct {
	Scores map[platform.UserID]int64 `json:"scores"`
}

// GuildState is the full per-guild feature record. One exists per guild that
// has ever configured a feature; it is never deleted automatically.
type GuildState struct {
	Contest     ContestState                     `json:"contest"`
	Lottery     LotteryState                     `json:"lottery"`
	Timeouts    map[platform.UserID]TimeoutRecord `json:"timeouts,omitempty"`
	Announce    AnnouncementConfig               `json:"announcements"`
	Scoreboards map[string]Scoreboard            `json:"scoreboards,omitempty"`
	Triggers    map[string]string                `json:"triggers,omitempty"`

	// StatusMeaning is the manager-maintained explanation shown by the
	// status-meaning command.
	StatusMeaning string `json:"status_meaning,omitempty"`
}

// Clone returns a deep copy so snapshot reads can't alias store-owned memory.
func (g *GuildState) Clone() GuildState {
	cp := *g
	if g.Contest.Candidates != nil {
		cp.Contest.Candidates = append([]Candidate(nil), g.Contest.Candidates...)
	}
	if g.Lottery.NicknamePool != nil {
		cp.Lottery.NicknamePool = append([]string(nil), g.Lottery.NicknamePool...)
	}
	if g.Timeouts != nil {
		cp.Timeouts = make(map[platform.UserID]TimeoutRecord, len(g.Timeouts))
		for k, v := range g.Timeouts {
			cp.Timeouts[k] = v
		}
	}
	if g.Scoreboards != nil {
		cp.Scoreboards = make(map[string]Scoreboard, len(g.Scoreboards))
		for name, sb := range g.Scoreboards {
			scores := make(map[platform.UserID]int64, len(sb.Scores))
			for k, v := range sb.Scores {
				scores[k] = v
			}
			cp.Scoreboards[name] = Scoreboard{Scores: scores}
		}
	}
	if g.Triggers != nil {
		cp.Triggers = make(map[string]string, len(g.Triggers))
		for k, v := range g.Triggers {
			cp.Triggers[k] = v
		}
	}
	return cp
}

// Subscriptions maps user ids to the set of event kinds they subscribed to.
type Subscriptions map[platform.UserID]map[string]bool

// Clone returns a deep copy.
func (s Subscriptions) Clone() Subscriptions {
	cp := make(Subscriptions, len(s))
	for uid, kinds := range s {
		ks := make(map[string]bool, len(kinds))
		for k, v := range kinds {
			ks[k] = v
		}
		cp[uid] = ks
	}
	return cp
}
