package scoreboard

import (
	"errors"
	"testing"

	"guildbot/internal/platform"
	"guildbot/internal/statestore"
	logx "guildbot/pkg/logx"
)

const guild = platform.GuildID("g1")

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(statestore.NewMemory(), logx.Nop())
}

func TestCreateAndList(t *testing.T) {
	s := newTestService(t)
	if err := s.Create(guild, "Pushups"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(guild, "chess"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	names, err := s.List(guild)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	// Names are normalized to lower case and listed alphabetically.
	if len(names) != 2 || names[0] != "chess" || names[1] != "pushups" {
		t.Fatalf("got %v", names)
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	s := newTestService(t)
	if err := s.Create(guild, "chess"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(guild, "CHESS"); !errors.Is(err, platform.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for duplicate, got %v", err)
	}
}

func TestCreateEmptyNameFails(t *testing.T) {
	s := newTestService(t)
	if err := s.Create(guild, "   "); !errors.Is(err, platform.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDeleteMissingFails(t *testing.T) {
	s := newTestService(t)
	if err := s.Delete(guild, "nope"); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetOnMissingBoardFails(t *testing.T) {
	s := newTestService(t)
	if err := s.Set(guild, "nope", "alice", 10); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTopOrdersByScoreThenUser(t *testing.T) {
	s := newTestService(t)
	if err := s.Create(guild, "chess"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for user, score := range map[platform.UserID]int64{
		"alice": 10, "bob": 30, "carol": 30, "dave": 5,
	} {
		if err := s.Set(guild, "chess", user, score); err != nil {
			t.Fatalf("Set %s: %v", user, err)
		}
	}

	top, err := s.Top(guild, "chess", 3)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(top))
	}
	// bob and carol tie at 30; bob sorts first by user id.
	if top[0].User != "bob" || top[1].User != "carol" || top[2].User != "alice" {
		t.Fatalf("unexpected order: %+v", top)
	}
	if top[0].Rank != 1 || top[2].Rank != 3 {
		t.Fatalf("ranks not assigned: %+v", top)
	}
}

func TestSetReplacesScore(t *testing.T) {
	s := newTestService(t)
	if err := s.Create(guild, "chess"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Set(guild, "chess", "alice", 10); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(guild, "chess", "alice", 42); err != nil {
		t.Fatalf("Set again: %v", err)
	}
	e, err := s.Rank(guild, "chess", "alice")
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if e.Score != 42 || e.Rank != 1 {
		t.Fatalf("got %+v", e)
	}
}

func TestRankMissingUserFails(t *testing.T) {
	s := newTestService(t)
	if err := s.Create(guild, "chess"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Rank(guild, "chess", "stranger"); !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBoardLimit(t *testing.T) {
	s := newTestService(t)
	for i := 0; i < maxBoards; i++ {
		if err := s.Create(guild, string(rune('a'+i%26))+string(rune('a'+i/26))); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	if err := s.Create(guild, "overflow"); !errors.Is(err, platform.ErrInvalidInput) {
		t.Fatalf("expected limit error, got %v", err)
	}
}
