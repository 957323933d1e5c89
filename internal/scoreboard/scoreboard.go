// Package scoreboard implements named per-guild scoreboards: members record
// their own scores, the manager can override anyone's.
package scoreboard

import (
	"fmt"
	"sort"
	"strings"

	"guildbot/internal/platform"
	"guildbot/internal/statestore"
	logx "guildbot/pkg/logx"
)

// maxBoards bounds how many scoreboards one guild can create.
const maxBoards = 25

// Entry is one ranked scoreboard row.
type Entry struct {
	User  platform.UserID
	Score int64
	Rank  int
}

type Service struct {
	store statestore.Store
	log   logx.Logger
}

func New(store statestore.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return "", fmt.Errorf("%w: scoreboard name is required", platform.ErrInvalidInput)
	}
	return name, nil
}

// Create adds an empty scoreboard. Creating an existing name fails.
func (s *Service) Create(guild platform.GuildID, name string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	return s.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		if g.Scoreboards == nil {
			g.Scoreboards = map[string]statestore.Scoreboard{}
		}
		if _, ok := g.Scoreboards[name]; ok {
			return fmt.Errorf("%w: scoreboard %q already exists", platform.ErrInvalidInput, name)
		}
		if len(g.Scoreboards) >= maxBoards {
			return fmt.Errorf("%w: scoreboard limit reached (%d)", platform.ErrInvalidInput, maxBoards)
		}
		g.Scoreboards[name] = statestore.Scoreboard{Scores: map[platform.UserID]int64{}}
		return nil
	})
}

// Delete removes a scoreboard and its scores.
func (s *Service) Delete(guild platform.GuildID, name string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	return s.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		if _, ok := g.Scoreboards[name]; !ok {
			return fmt.Errorf("%w: no scoreboard %q", platform.ErrNotFound, name)
		}
		delete(g.Scoreboards, name)
		return nil
	})
}

// List returns scoreboard names sorted alphabetically.
func (s *Service) List(guild platform.GuildID) ([]string, error) {
	g, err := s.store.Guild(guild)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(g.Scoreboards))
	for n := range g.Scoreboards {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Set records user's own score on a scoreboard.
func (s *Service) Set(guild platform.GuildID, name string, user platform.UserID, score int64) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	return s.store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		sb, ok := g.Scoreboards[name]
		if !ok {
			return fmt.Errorf("%w: no scoreboard %q", platform.ErrNotFound, name)
		}
		if sb.Scores == nil {
			sb.Scores = map[platform.UserID]int64{}
		}
		sb.Scores[user] = score
		g.Scoreboards[name] = sb
		return nil
	})
}

// Override is Set for privileged callers; permission is the router's concern.
func (s *Service) Override(guild platform.GuildID, name string, user platform.UserID, score int64) error {
	return s.Set(guild, name, user, score)
}

// Top returns up to n entries sorted by score descending, ties by user id
// for a stable display order.
func (s *Service) Top(guild platform.GuildID, name string, n int) ([]Entry, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	g, err := s.store.Guild(guild)
	if err != nil {
		return nil, err
	}
	sb, ok := g.Scoreboards[name]
	if !ok {
		return nil, fmt.Errorf("%w: no scoreboard %q", platform.ErrNotFound, name)
	}
	entries := make([]Entry, 0, len(sb.Scores))
	for u, sc := range sb.Scores {
		entries = append(entries, Entry{User: u, Score: sc})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].User < entries[j].User
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// Rank returns a single user's entry with its rank, or ErrNotFound if the
// user has no score on the board.
func (s *Service) Rank(guild platform.GuildID, name string, user platform.UserID) (Entry, error) {
	entries, err := s.Top(guild, name, 0)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if e.User == user {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: no score for user on %q", platform.ErrNotFound, name)
}
