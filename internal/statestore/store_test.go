package statestore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

func openTestFileStore(t *testing.T, path string) Store {
	t.Helper()
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := openTestFileStore(t, path)

	started := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	err := s.UpdateGuild("g1", func(g *GuildState) error {
		g.Contest.Phase = ContestWatching
		g.Contest.Channel = "memes"
		g.Contest.CycleStartedAt = started
		g.Lottery.NicknamePool = []string{"alpha", "beta"}
		g.Timeouts = map[platform.UserID]TimeoutRecord{}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateGuild: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen from the same file and verify everything survived.
	s2 := openTestFileStore(t, path)
	defer s2.Close()
	g, err := s2.Guild("g1")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}
	if g.Contest.Phase != ContestWatching || g.Contest.Channel != "memes" {
		t.Fatalf("contest state lost: %+v", g.Contest)
	}
	if !g.Contest.CycleStartedAt.Equal(started) {
		t.Fatalf("cycle start = %v, want %v", g.Contest.CycleStartedAt, started)
	}
	if len(g.Lottery.NicknamePool) != 2 || g.Lottery.NicknamePool[0] != "alpha" {
		t.Fatalf("lottery pool lost: %v", g.Lottery.NicknamePool)
	}
}

func TestFileStoreUnknownGuildIsZero(t *testing.T) {
	s := openTestFileStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer s.Close()
	g, err := s.Guild("never-seen")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}
	if g.Contest.Phase != "" || g.Contest.Channel != "" {
		t.Fatalf("expected zero state, got %+v", g)
	}
}

func TestUpdateGuildErrorDiscardsChanges(t *testing.T) {
	s := openTestFileStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer s.Close()

	if err := s.UpdateGuild("g1", func(g *GuildState) error {
		g.Contest.Channel = "memes"
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	wantErr := errors.New("validation failed")
	err := s.UpdateGuild("g1", func(g *GuildState) error {
		g.Contest.Channel = "other"
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected mutation error back, got %v", err)
	}

	g, _ := s.Guild("g1")
	if g.Contest.Channel != "memes" {
		t.Fatalf("failed mutation leaked: channel = %q", g.Contest.Channel)
	}
}

func TestGuildSnapshotDoesNotAlias(t *testing.T) {
	s := openTestFileStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer s.Close()

	if err := s.UpdateGuild("g1", func(g *GuildState) error {
		g.Lottery.NicknamePool = []string{"alpha"}
		return nil
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	g, _ := s.Guild("g1")
	g.Lottery.NicknamePool[0] = "mutated"

	fresh, _ := s.Guild("g1")
	if fresh.Lottery.NicknamePool[0] != "alpha" {
		t.Fatalf("snapshot mutation reached the store")
	}
}

func TestGuildsListsPersistedRecords(t *testing.T) {
	s := openTestFileStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer s.Close()

	for _, id := range []platform.GuildID{"g1", "g2"} {
		if err := s.UpdateGuild(id, func(g *GuildState) error { return nil }); err != nil {
			t.Fatalf("UpdateGuild %s: %v", id, err)
		}
	}
	ids, err := s.Guilds()
	if err != nil {
		t.Fatalf("Guilds: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 guilds, got %v", ids)
	}
}

func TestSubscriptionsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s := openTestFileStore(t, path)

	err := s.UpdateSubscriptions(func(subs Subscriptions) error {
		subs["alice"] = map[string]bool{"startup": true, "error": true}
		subs["bob"] = map[string]bool{"startup": true}
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateSubscriptions: %v", err)
	}
	s.Close()

	s2 := openTestFileStore(t, path)
	defer s2.Close()
	subs, err := s2.Subscriptions()
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if !subs["alice"]["error"] || !subs["bob"]["startup"] {
		t.Fatalf("subscriptions lost across reopen: %v", subs)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestMemoryStoreBasics(t *testing.T) {
	s := NewMemory()
	if err := s.UpdateGuild("g1", func(g *GuildState) error {
		g.Triggers = map[string]string{"hello": "hi there"}
		return nil
	}); err != nil {
		t.Fatalf("UpdateGuild: %v", err)
	}
	g, err := s.Guild("g1")
	if err != nil {
		t.Fatalf("Guild: %v", err)
	}
	if g.Triggers["hello"] != "hi there" {
		t.Fatalf("trigger lost: %v", g.Triggers)
	}
}
