package textresponse

import (
	"errors"
	"fmt"
	"testing"

	"guildbot/internal/platform"
	"guildbot/internal/statestore"
)

const guild = platform.GuildID("g1")

func TestSetAndLookup(t *testing.T) {
	s := New(statestore.NewMemory())
	if err := s.Set(guild, "Good Morning", "Morning!"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Matching is case-insensitive and trims surrounding whitespace.
	resp, ok := s.Lookup(guild, "  good morning ")
	if !ok || resp != "Morning!" {
		t.Fatalf("Lookup = (%q, %v)", resp, ok)
	}
	if _, ok := s.Lookup(guild, "good morning everyone"); ok {
		t.Fatalf("partial match must not trigger")
	}
}

func TestEmptyResponseRemovesTrigger(t *testing.T) {
	s := New(statestore.NewMemory())
	if err := s.Set(guild, "hello", "hi"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(guild, "hello", ""); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := s.Lookup(guild, "hello"); ok {
		t.Fatalf("removed trigger still matches")
	}
}

func TestEmptyTriggerRejected(t *testing.T) {
	s := New(statestore.NewMemory())
	if err := s.Set(guild, "  ", "hi"); !errors.Is(err, platform.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListSorted(t *testing.T) {
	s := New(statestore.NewMemory())
	for _, tr := range []string{"zebra", "apple", "mango"} {
		if err := s.Set(guild, tr, "r"); err != nil {
			t.Fatalf("Set %s: %v", tr, err)
		}
	}
	got, err := s.List(guild)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 || got[0][0] != "apple" || got[1][0] != "mango" || got[2][0] != "zebra" {
		t.Fatalf("got %v", got)
	}
}

func TestTriggerLimit(t *testing.T) {
	s := New(statestore.NewMemory())
	for i := 0; i < maxTriggers; i++ {
		if err := s.Set(guild, fmt.Sprintf("trigger-%d", i), "r"); err != nil {
			t.Fatalf("Set %d: %v", i, err)
		}
	}
	if err := s.Set(guild, "one-too-many", "r"); !errors.Is(err, platform.ErrInvalidInput) {
		t.Fatalf("expected limit error, got %v", err)
	}
	// Replacing an existing trigger is still allowed at the limit.
	if err := s.Set(guild, "trigger-0", "new"); err != nil {
		t.Fatalf("replace at limit: %v", err)
	}
}
