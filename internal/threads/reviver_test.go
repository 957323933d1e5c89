package threads

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guildbot/internal/platform"
	logx "guildbot/pkg/logx"
)

type fakeClient struct {
	mu         sync.Mutex
	unarchived []platform.ChannelID
	fail       error
}

func (f *fakeClient) PostMessage(context.Context, platform.ChannelID, string) (platform.MessageID, error) {
	return "m", nil
}

func (f *fakeClient) EditMessage(context.Context, platform.ChannelID, platform.MessageID, string) error {
	return nil
}

func (f *fakeClient) ListReactions(context.Context, platform.ChannelID, platform.MessageID) (map[string]int, error) {
	return nil, nil
}

func (f *fakeClient) SetNickname(context.Context, platform.GuildID, platform.UserID, string) error {
	return nil
}

func (f *fakeClient) ListMembers(context.Context, platform.GuildID) ([]platform.Member, error) {
	return nil, nil
}

func (f *fakeClient) Member(context.Context, platform.GuildID, platform.UserID) (platform.Member, error) {
	return platform.Member{}, nil
}

func (f *fakeClient) UnarchiveThread(_ context.Context, thread platform.ChannelID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.unarchived = append(f.unarchived, thread)
	return nil
}

func (f *fakeClient) SendDirectMessage(context.Context, platform.UserID, string) error {
	return nil
}

func (f *fakeClient) ListRecentMessages(context.Context, platform.ChannelID, time.Time) ([]platform.Message, error) {
	return nil, nil
}

func TestArchivedThreadIsReopened(t *testing.T) {
	client := &fakeClient{}
	r := New(client, logx.Nop())

	err := r.OnThreadChange(context.Background(), platform.ThreadChange{
		GuildID: "g1", ThreadID: "t1", Archived: true,
	})
	if err != nil {
		t.Fatalf("OnThreadChange: %v", err)
	}
	if len(client.unarchived) != 1 || client.unarchived[0] != "t1" {
		t.Fatalf("expected thread t1 unarchived, got %v", client.unarchived)
	}
}

func TestLockedThreadIsLeftArchived(t *testing.T) {
	client := &fakeClient{}
	r := New(client, logx.Nop())

	err := r.OnThreadChange(context.Background(), platform.ThreadChange{
		GuildID: "g1", ThreadID: "t1", Archived: true, Locked: true,
	})
	if err != nil {
		t.Fatalf("OnThreadChange: %v", err)
	}
	if len(client.unarchived) != 0 {
		t.Fatalf("locked thread must not be unarchived")
	}
}

func TestOpenThreadUpdateIsIgnored(t *testing.T) {
	client := &fakeClient{}
	r := New(client, logx.Nop())

	err := r.OnThreadChange(context.Background(), platform.ThreadChange{
		GuildID: "g1", ThreadID: "t1", Archived: false,
	})
	if err != nil {
		t.Fatalf("OnThreadChange: %v", err)
	}
	if len(client.unarchived) != 0 {
		t.Fatalf("open thread must not trigger an unarchive call")
	}
}

func TestUnarchiveFailureSurfaces(t *testing.T) {
	client := &fakeClient{fail: platform.ErrPermissionDenied}
	r := New(client, logx.Nop())

	err := r.OnThreadChange(context.Background(), platform.ThreadChange{
		GuildID: "g1", ThreadID: "t1", Archived: true,
	})
	if !errors.Is(err, platform.ErrPermissionDenied) {
		t.Fatalf("expected permission error, got %v", err)
	}
}
