// Package router maps parsed commands onto engine operations and renders
// their replies. It is platform-agnostic: the discord adapter converts
// interactions into Commands and displays the returned text.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"guildbot/internal/contest"
	"guildbot/internal/events"
	"guildbot/internal/lottery"
	"guildbot/internal/platform"
	"guildbot/internal/scoreboard"
	"guildbot/internal/statestore"
	"guildbot/internal/textresponse"
	"guildbot/internal/timeouts"
	logx "guildbot/pkg/logx"
)

// Command is one parsed invocation.
type Command struct {
	InteractionID string
	Guild         platform.GuildID
	Channel       platform.ChannelID
	User          platform.UserID
	Name          string
	Sub           string
	Options       map[string]string
}

func (c Command) opt(key string) string { return c.Options[key] }

type Router struct {
	store     statestore.Store
	contest   *contest.Engine
	lottery   *lottery.Engine
	timeouts  *timeouts.Aggregator
	bus       *events.Bus
	boards    *scoreboard.Service
	responses *textresponse.Service
	forms     platform.FormOpener
	managerID platform.UserID
	log       logx.Logger
}

type Deps struct {
	Store     statestore.Store
	Contest   *contest.Engine
	Lottery   *lottery.Engine
	Timeouts  *timeouts.Aggregator
	Bus       *events.Bus
	Boards    *scoreboard.Service
	Responses *textresponse.Service
	Forms     platform.FormOpener
	ManagerID platform.UserID
	Log       logx.Logger
}

func New(d Deps) *Router {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		store:     d.Store,
		contest:   d.Contest,
		lottery:   d.Lottery,
		timeouts:  d.Timeouts,
		bus:       d.Bus,
		boards:    d.Boards,
		responses: d.Responses,
		forms:     d.Forms,
		managerID: d.ManagerID,
		log:       log,
	}
}

// SetManager updates the privileged user id (config hot reload).
func (r *Router) SetManager(id platform.UserID) { r.managerID = id }

// Dispatch executes cmd and returns the reply text shown to the invoker.
func (r *Router) Dispatch(ctx context.Context, cmd Command) (string, error) {
	r.log.Debug("command",
		logx.String("name", cmd.Name),
		logx.String("sub", cmd.Sub),
		logx.String("guild", string(cmd.Guild)),
		logx.String("user", string(cmd.User)))

	switch cmd.Name {
	case "contest":
		return r.handleContest(ctx, cmd)
	case "nicknames":
		return r.handleNicknames(ctx, cmd)
	case "events":
		return r.handleEvents(cmd)
	case "timeouts":
		return r.handleTimeouts(cmd)
	case "scoreboard":
		return r.handleScoreboard(cmd)
	case "responses":
		return r.handleResponses(cmd)
	case "status-meaning":
		return r.handleStatusMeaning(cmd)
	default:
		return "", fmt.Errorf("%w: unknown command %q", platform.ErrInvalidInput, cmd.Name)
	}
}

func (r *Router) handleContest(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Sub {
	case "set-channel":
		ch := platform.ChannelID(cmd.opt("channel"))
		if ch == "" {
			ch = cmd.Channel
		}
		if err := r.contest.SetChannel(ctx, cmd.Guild, ch); err != nil {
			return "", err
		}
		return fmt.Sprintf("Meme of the week is running in <#%s>.", ch), nil
	case "unset":
		if err := r.contest.UnsetChannel(ctx, cmd.Guild); err != nil {
			return "", err
		}
		return "Meme of the week disabled.", nil
	default:
		return "", fmt.Errorf("%w: unknown contest subcommand %q", platform.ErrInvalidInput, cmd.Sub)
	}
}

func (r *Router) handleNicknames(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Sub {
	case "edit":
		pool, err := r.lottery.Pool(cmd.Guild)
		if err != nil {
			return "", err
		}
		submitted, err := r.forms.OpenInputForm(ctx, cmd.InteractionID,
			"Nickname pool (one per line)", strings.Join(pool, "\n"))
		if err != nil {
			return "", err
		}
		names := strings.Split(submitted, "\n")
		if err := r.lottery.SetNicknamePool(ctx, cmd.Guild, names); err != nil {
			return "", err
		}
		cleaned := lottery.SanitizeNames(names)
		if len(cleaned) == 0 {
			return "Nickname pool cleared; the lottery is off.", nil
		}
		return fmt.Sprintf("Nickname pool updated (%d names). The lottery is on.", len(cleaned)), nil
	case "channel":
		ch := platform.ChannelID(cmd.opt("channel"))
		if err := r.lottery.SetAnnounceChannel(cmd.Guild, ch); err != nil {
			return "", err
		}
		if ch == "" {
			return "Lottery announcements disabled.", nil
		}
		return fmt.Sprintf("Lottery announcements go to <#%s>.", ch), nil
	case "title":
		if err := r.lottery.SetTitleOverride(cmd.Guild, cmd.opt("title")); err != nil {
			return "", err
		}
		return "Lottery announcement title updated.", nil
	default:
		return "", fmt.Errorf("%w: unknown nicknames subcommand %q", platform.ErrInvalidInput, cmd.Sub)
	}
}

func (r *Router) handleEvents(cmd Command) (string, error) {
	kind := events.Kind(cmd.opt("kind"))
	switch cmd.Sub {
	case "subscribe":
		if err := r.bus.Subscribe(cmd.User, kind); err != nil {
			return "", err
		}
		return fmt.Sprintf("Subscribed to `%s`.", kind), nil
	case "unsubscribe":
		if err := r.bus.Unsubscribe(cmd.User, kind); err != nil {
			return "", err
		}
		return fmt.Sprintf("Unsubscribed from `%s`.", kind), nil
	case "list":
		kinds, err := r.bus.SubscribedTo(cmd.User)
		if err != nil {
			return "", err
		}
		if len(kinds) == 0 {
			return "You have no event subscriptions.", nil
		}
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = "`" + string(k) + "`"
		}
		return "Subscribed to: " + strings.Join(parts, ", "), nil
	default:
		return "", fmt.Errorf("%w: unknown events subcommand %q", platform.ErrInvalidInput, cmd.Sub)
	}
}

func (r *Router) handleTimeouts(cmd Command) (string, error) {
	switch cmd.Sub {
	case "check":
		user := platform.UserID(cmd.opt("user"))
		if user == "" {
			user = cmd.User
		}
		rec, err := r.timeouts.CheckUser(cmd.Guild, user)
		if err != nil {
			return "", err
		}
		if rec.Count == 0 {
			return fmt.Sprintf("<@%s> has never been timed out.", user), nil
		}
		return timeouts.FormatSummary(user, rec), nil
	case "announce":
		ch := platform.ChannelID(cmd.opt("channel"))
		prefix := cmd.opt("prefix")
		if err := r.timeouts.SetAnnouncements(cmd.Guild, ch, prefix); err != nil {
			return "", err
		}
		return "Timeout announcements configured.", nil
	case "stop":
		if err := r.timeouts.StopAnnouncements(cmd.Guild); err != nil {
			return "", err
		}
		return "Timeout announcements stopped.", nil
	default:
		return "", fmt.Errorf("%w: unknown timeouts subcommand %q", platform.ErrInvalidInput, cmd.Sub)
	}
}

func (r *Router) handleScoreboard(cmd Command) (string, error) {
	name := cmd.opt("name")
	switch cmd.Sub {
	case "create":
		if err := r.boards.Create(cmd.Guild, name); err != nil {
			return "", err
		}
		return fmt.Sprintf("Scoreboard %q created.", name), nil
	case "delete":
		if err := r.boards.Delete(cmd.Guild, name); err != nil {
			return "", err
		}
		return fmt.Sprintf("Scoreboard %q deleted.", name), nil
	case "list":
		names, err := r.boards.List(cmd.Guild)
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			return "No scoreboards yet.", nil
		}
		return "Scoreboards: " + strings.Join(names, ", "), nil
	case "set":
		score, err := parseScore(cmd.opt("score"))
		if err != nil {
			return "", err
		}
		if err := r.boards.Set(cmd.Guild, name, cmd.User, score); err != nil {
			return "", err
		}
		return fmt.Sprintf("Your score on %q is now %d.", name, score), nil
	case "override":
		if !r.isManager(cmd.User) {
			return "", fmt.Errorf("%w: override is manager-only", platform.ErrPermissionDenied)
		}
		user := platform.UserID(cmd.opt("user"))
		if user == "" {
			return "", fmt.Errorf("%w: user is required", platform.ErrInvalidInput)
		}
		score, err := parseScore(cmd.opt("score"))
		if err != nil {
			return "", err
		}
		if err := r.boards.Override(cmd.Guild, name, user, score); err != nil {
			return "", err
		}
		return fmt.Sprintf("<@%s>'s score on %q is now %d.", user, name, score), nil
	case "view":
		entries, err := r.boards.Top(cmd.Guild, name, 10)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return fmt.Sprintf("Scoreboard %q is empty.", name), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Top of %q:\n", name)
		for _, e := range entries {
			fmt.Fprintf(&b, "%d. <@%s> — %d\n", e.Rank, e.User, e.Score)
		}
		return b.String(), nil
	case "rank":
		user := platform.UserID(cmd.opt("user"))
		if user == "" {
			user = cmd.User
		}
		entry, err := r.boards.Rank(cmd.Guild, name, user)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("<@%s> is #%d on %q with %d.", entry.User, entry.Rank, name, entry.Score), nil
	default:
		return "", fmt.Errorf("%w: unknown scoreboard subcommand %q", platform.ErrInvalidInput, cmd.Sub)
	}
}

func (r *Router) handleResponses(cmd Command) (string, error) {
	switch cmd.Sub {
	case "set":
		trigger := cmd.opt("trigger")
		response := cmd.opt("response")
		if err := r.responses.Set(cmd.Guild, trigger, response); err != nil {
			return "", err
		}
		if strings.TrimSpace(response) == "" {
			return fmt.Sprintf("Trigger %q removed.", trigger), nil
		}
		return fmt.Sprintf("Trigger %q set.", trigger), nil
	case "list":
		pairs, err := r.responses.List(cmd.Guild)
		if err != nil {
			return "", err
		}
		if len(pairs) == 0 {
			return "No text responses configured.", nil
		}
		var b strings.Builder
		for _, p := range pairs {
			fmt.Fprintf(&b, "%q -> %q\n", p[0], p[1])
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("%w: unknown responses subcommand %q", platform.ErrInvalidInput, cmd.Sub)
	}
}

func (r *Router) handleStatusMeaning(cmd Command) (string, error) {
	switch cmd.Sub {
	case "view", "":
		g, err := r.store.Guild(cmd.Guild)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(g.StatusMeaning) == "" {
			return "No status meaning has been set.", nil
		}
		return g.StatusMeaning, nil
	case "set":
		if !r.isManager(cmd.User) {
			return "", fmt.Errorf("%w: setting the status meaning is manager-only", platform.ErrPermissionDenied)
		}
		text := cmd.opt("text")
		err := r.store.UpdateGuild(cmd.Guild, func(g *statestore.GuildState) error {
			g.StatusMeaning = strings.TrimSpace(text)
			return nil
		})
		if err != nil {
			return "", err
		}
		return "Status meaning updated.", nil
	default:
		return "", fmt.Errorf("%w: unknown status-meaning subcommand %q", platform.ErrInvalidInput, cmd.Sub)
	}
}

func (r *Router) isManager(user platform.UserID) bool {
	return r.managerID != "" && user == r.managerID
}

func parseScore(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: score must be an integer", platform.ErrInvalidInput)
	}
	return n, nil
}

// IsUserError reports whether err should be shown verbatim to the invoker
// rather than logged as an operational failure.
func IsUserError(err error) bool {
	return errors.Is(err, platform.ErrInvalidInput) ||
		errors.Is(err, platform.ErrPermissionDenied) ||
		errors.Is(err, platform.ErrNotFound) ||
		errors.Is(err, platform.ErrNotConfigured)
}
