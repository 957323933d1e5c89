package lottery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"guildbot/internal/clock"
	"guildbot/internal/platform"
	"guildbot/internal/scheduler"
	"guildbot/internal/statestore"
	logx "guildbot/pkg/logx"
)

type fakeClient struct {
	mu      sync.Mutex
	members []platform.Member
	denied  map[platform.UserID]bool
	renames map[platform.UserID]string
	posts   []string
}

func newFakeClient(members ...platform.Member) *fakeClient {
	return &fakeClient{
		members: members,
		denied:  map[platform.UserID]bool{},
		renames: map[platform.UserID]string{},
	}
}

func (f *fakeClient) PostMessage(_ context.Context, _ platform.ChannelID, text string) (platform.MessageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, text)
	return "m", nil
}

func (f *fakeClient) EditMessage(context.Context, platform.ChannelID, platform.MessageID, string) error {
	return nil
}

func (f *fakeClient) ListReactions(context.Context, platform.ChannelID, platform.MessageID) (map[string]int, error) {
	return nil, nil
}

func (f *fakeClient) SetNickname(_ context.Context, _ platform.GuildID, user platform.UserID, nickname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denied[user] {
		return fmt.Errorf("%w: role hierarchy", platform.ErrPermissionDenied)
	}
	f.renames[user] = nickname
	return nil
}

func (f *fakeClient) ListMembers(context.Context, platform.GuildID) ([]platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members, nil
}

func (f *fakeClient) Member(context.Context, platform.GuildID, platform.UserID) (platform.Member, error) {
	return platform.Member{}, nil
}

func (f *fakeClient) UnarchiveThread(context.Context, platform.ChannelID) error { return nil }

func (f *fakeClient) SendDirectMessage(context.Context, platform.UserID, string) error {
	return nil
}

func (f *fakeClient) ListRecentMessages(context.Context, platform.ChannelID, time.Time) ([]platform.Message, error) {
	return nil, nil
}

const guild = platform.GuildID("g1")

func newTestEngine(t *testing.T, rng clock.RNG, client *fakeClient) (*Engine, statestore.Store, *scheduler.Service, *clock.Fake) {
	t.Helper()
	store := statestore.NewMemory()
	clk := clock.NewFake(time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC))
	sched := scheduler.New(clk, logx.Nop())
	e := New(store, sched, client, clk, rng, nil, logx.Nop())
	return e, store, sched, clk
}

func TestSanitizeNames(t *testing.T) {
	in := []string{"  alice  ", "", "   ", strings.Repeat("x", 40), "bob"}
	got := SanitizeNames(in)
	want := []string{"alice", strings.Repeat("x", 30), "bob"}
	if len(got) != len(want) {
		t.Fatalf("got %d names, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("name %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSanitizeNamesTrimsBeforeTruncate(t *testing.T) {
	// 28 chars of padding around a 5-char name: trim first, so nothing is cut.
	in := []string{"              short              "}
	got := SanitizeNames(in)
	if len(got) != 1 || got[0] != "short" {
		t.Fatalf("expected trim before truncate, got %v", got)
	}
}

func TestSanitizeNamesRuneSafe(t *testing.T) {
	name := strings.Repeat("ü", 35)
	got := SanitizeNames([]string{name})
	if len(got) != 1 {
		t.Fatalf("expected one name")
	}
	if r := []rune(got[0]); len(r) != 30 {
		t.Fatalf("expected 30 runes, got %d", len(r))
	}
}

func TestSetPoolSchedulesFire(t *testing.T) {
	rng := clock.NewScriptedRNG([]int{0}, []time.Duration{time.Hour})
	e, store, sched, clk := newTestEngine(t, rng, newFakeClient())

	if err := e.SetNicknamePool(context.Background(), guild, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("SetNicknamePool: %v", err)
	}
	g, _ := store.Guild(guild)
	if len(g.Lottery.NicknamePool) != 2 {
		t.Fatalf("expected 2 names persisted")
	}
	at, ok := sched.NextDeadline()
	if !ok || !at.Equal(clk.Now().Add(time.Hour)) {
		t.Fatalf("expected fire in 1h, got %v (ok=%v)", at, ok)
	}
}

func TestEmptyPoolDisables(t *testing.T) {
	rng := clock.NewScriptedRNG([]int{0}, []time.Duration{time.Hour})
	e, _, sched, _ := newTestEngine(t, rng, newFakeClient())

	if err := e.SetNicknamePool(context.Background(), guild, []string{"alpha"}); err != nil {
		t.Fatalf("SetNicknamePool: %v", err)
	}
	if err := e.SetNicknamePool(context.Background(), guild, []string{"  ", ""}); err != nil {
		t.Fatalf("SetNicknamePool empty: %v", err)
	}
	if sched.Scheduled(guild, scheduler.FeatureLottery) {
		t.Fatalf("expected pending fire cancelled for empty pool")
	}
}

func TestNextIntervalBounds(t *testing.T) {
	e, _, _, clk := newTestEngine(t, clock.NewRNG(), newFakeClient())
	for i := 0; i < 1000; i++ {
		d := e.NextInterval(clk.Now())
		if d < defaultMinInterval || d > defaultMaxInterval {
			t.Fatalf("interval %v outside [%v, %v]", d, defaultMinInterval, defaultMaxInterval)
		}
	}
}

func TestNextIntervalAprilFools(t *testing.T) {
	e, _, _, _ := newTestEngine(t, clock.NewRNG(), newFakeClient())
	april1 := time.Date(2026, time.April, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		if d := e.NextInterval(april1); d != aprilFoolsInterval {
			t.Fatalf("April 1 interval = %v, want %v", d, aprilFoolsInterval)
		}
	}
}

func TestFireRenamesMembersAndReschedules(t *testing.T) {
	client := newFakeClient(
		platform.Member{UserID: "alice"},
		platform.Member{UserID: "bot", IsBot: true},
		platform.Member{UserID: "carol"},
	)
	rng := clock.NewScriptedRNG([]int{1}, []time.Duration{time.Hour})
	e, _, sched, clk := newTestEngine(t, rng, client)

	if err := e.SetNicknamePool(context.Background(), guild, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("SetNicknamePool: %v", err)
	}

	clk.Advance(time.Hour)
	e.onFire(context.Background(), guild, clk.Now())

	if client.renames["alice"] != "beta" || client.renames["carol"] != "beta" {
		t.Fatalf("expected members renamed to beta, got %v", client.renames)
	}
	if _, ok := client.renames["bot"]; ok {
		t.Fatalf("bots must not be renamed")
	}
	if !sched.Scheduled(guild, scheduler.FeatureLottery) {
		t.Fatalf("expected a rescheduled fire")
	}
}

func TestFireSwallowsDeniedRenames(t *testing.T) {
	client := newFakeClient(
		platform.Member{UserID: "alice"},
		platform.Member{UserID: "owner"},
	)
	client.denied["owner"] = true
	rng := clock.NewScriptedRNG([]int{0}, []time.Duration{time.Hour})
	e, _, sched, clk := newTestEngine(t, rng, client)

	if err := e.SetNicknamePool(context.Background(), guild, []string{"alpha"}); err != nil {
		t.Fatalf("SetNicknamePool: %v", err)
	}
	clk.Advance(time.Hour)
	e.onFire(context.Background(), guild, clk.Now())

	if client.renames["alice"] != "alpha" {
		t.Fatalf("expected alice renamed despite owner denial")
	}
	if !sched.Scheduled(guild, scheduler.FeatureLottery) {
		t.Fatalf("denied renames must not stop rescheduling")
	}
}

func TestAnnounceUsesTitleOverride(t *testing.T) {
	client := newFakeClient(platform.Member{UserID: "alice"})
	rng := clock.NewScriptedRNG([]int{0}, []time.Duration{time.Hour})
	e, _, _, clk := newTestEngine(t, rng, client)

	if err := e.SetNicknamePool(context.Background(), guild, []string{"alpha"}); err != nil {
		t.Fatalf("SetNicknamePool: %v", err)
	}
	if err := e.SetAnnounceChannel(guild, "announce"); err != nil {
		t.Fatalf("SetAnnounceChannel: %v", err)
	}
	if err := e.SetTitleOverride(guild, "Identity crisis"); err != nil {
		t.Fatalf("SetTitleOverride: %v", err)
	}

	clk.Advance(time.Hour)
	e.onFire(context.Background(), guild, clk.Now())

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.posts) == 0 || !strings.HasPrefix(client.posts[len(client.posts)-1], "Identity crisis:") {
		t.Fatalf("expected title override in announcement, got %v", client.posts)
	}
}

func TestFireOnEmptyPoolStaysDisabled(t *testing.T) {
	rng := clock.NewScriptedRNG([]int{0}, []time.Duration{time.Hour})
	e, store, sched, clk := newTestEngine(t, rng, newFakeClient(platform.Member{UserID: "alice"}))

	if err := e.SetNicknamePool(context.Background(), guild, []string{"alpha"}); err != nil {
		t.Fatalf("SetNicknamePool: %v", err)
	}

	// A pool clear can race the fire: the store commit and the Cancel land
	// after the deadline was already dequeued, so the handler sees an empty
	// pool. It must not re-register a timer for the disabled guild.
	err := store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		g.Lottery.NicknamePool = nil
		return nil
	})
	if err != nil {
		t.Fatalf("clear pool: %v", err)
	}
	sched.Cancel(guild, scheduler.FeatureLottery)

	clk.Advance(time.Hour)
	e.onFire(context.Background(), guild, clk.Now())

	if sched.Scheduled(guild, scheduler.FeatureLottery) {
		t.Fatalf("fire on an empty pool must not reschedule")
	}
}

func TestInitGuildsRedrawsOnlyEnabled(t *testing.T) {
	rng := clock.NewScriptedRNG([]int{0}, []time.Duration{time.Hour})
	e, store, sched, _ := newTestEngine(t, rng, newFakeClient())

	err := store.UpdateGuild(guild, func(g *statestore.GuildState) error {
		g.Lottery.NicknamePool = []string{"alpha"}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	err = store.UpdateGuild("g2", func(g *statestore.GuildState) error {
		g.Lottery.NicknamePool = nil
		return nil
	})
	if err != nil {
		t.Fatalf("seed g2: %v", err)
	}

	if err := e.InitGuilds(context.Background()); err != nil {
		t.Fatalf("InitGuilds: %v", err)
	}
	if !sched.Scheduled(guild, scheduler.FeatureLottery) {
		t.Fatalf("expected enabled guild scheduled")
	}
	if sched.Scheduled("g2", scheduler.FeatureLottery) {
		t.Fatalf("guild without a pool must not be scheduled")
	}
}
