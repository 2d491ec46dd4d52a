package channels

import (
	"context"
	"errors"
	"testing"

	"tg-channel-sync/internal/domain"
)

func TestParseChannelRef(t *testing.T) {
	cases := map[string]int64{
		"-1001234567890": 1234567890,
		"1234567890":     1234567890,
		" -123456 ":      123456,
		"@channel":       0,
		"12":             0,
	}
	for input, expected := range cases {
		id, err := ParseChannelRef(input)
		if expected == 0 {
			if err == nil {
				t.Fatalf("ожидали ошибку для %q", input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("не ожидали ошибку для %q: %v", input, err)
		}
		if id != expected {
			t.Fatalf("ожидали %d, получили %d", expected, id)
		}
	}
}

type stubInspector struct {
	admin bool
	info  domain.ChannelInfo
	found bool
}

func (s stubInspector) CheckAdminRights(context.Context, int64) (bool, string) {
	if s.admin {
		return true, "ok"
	}
	return false, "аккаунт не является администратором канала"
}

func (s stubInspector) GetChannelInfo(context.Context, int64) (domain.ChannelInfo, bool, error) {
	return s.info, s.found, nil
}

type memoryChannels struct {
	saved []domain.Channel
}

func (m *memoryChannels) UpsertChannel(_ context.Context, info domain.ChannelInfo, addedBy int64) (domain.Channel, error) {
	ch := domain.Channel{ID: int64(len(m.saved) + 1), TGChannelID: info.ID, Title: info.Title, DiscussionGroupID: info.LinkedChatID, AddedBy: addedBy}
	m.saved = append(m.saved, ch)
	return ch, nil
}

func (m *memoryChannels) GetChannel(_ context.Context, id int64) (domain.Channel, error) {
	for _, ch := range m.saved {
		if ch.TGChannelID == id {
			return ch, nil
		}
	}
	return domain.Channel{}, domain.ErrNotFound
}

func (m *memoryChannels) GetChannelByDiscussionGroup(_ context.Context, chatID int64) (domain.Channel, error) {
	for _, ch := range m.saved {
		if ch.DiscussionGroupID == chatID {
			return ch, nil
		}
	}
	return domain.Channel{}, domain.ErrNotFound
}

func (m *memoryChannels) ListChannels(context.Context) ([]domain.Channel, error) {
	return m.saved, nil
}

func TestRegister(t *testing.T) {
	repo := &memoryChannels{}
	svc := NewService(repo, stubInspector{admin: true, found: true, info: domain.ChannelInfo{ID: 777, Title: "News", LinkedChatID: 888}}, nil)

	ch, err := svc.Register(context.Background(), 777, 1)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if ch.TGChannelID != 777 || ch.AddedBy != 1 {
		t.Fatalf("неожиданный канал: %+v", ch)
	}

	found, ok, err := svc.ResolveDiscussion(context.Background(), 888)
	if err != nil || !ok || found.TGChannelID != 777 {
		t.Fatalf("ожидали канал по группе обсуждения, получили %+v ok=%v err=%v", found, ok, err)
	}
	if _, ok, err := svc.ResolveDiscussion(context.Background(), 999); ok || err != nil {
		t.Fatalf("неизвестная группа не должна находиться: ok=%v err=%v", ok, err)
	}
}

func TestRegisterRequiresAdmin(t *testing.T) {
	svc := NewService(&memoryChannels{}, stubInspector{}, nil)
	if _, err := svc.Register(context.Background(), 777, 1); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("ожидали ErrNotAdmin, получили %v", err)
	}
}

func TestRegisterMissingChannel(t *testing.T) {
	svc := NewService(&memoryChannels{}, stubInspector{admin: true}, nil)
	if _, err := svc.Register(context.Background(), 777, 1); !errors.Is(err, ErrChannelMissing) {
		t.Fatalf("ожидали ErrChannelMissing, получили %v", err)
	}
}

func TestRegisterWithoutInspector(t *testing.T) {
	svc := NewService(&memoryChannels{}, nil, nil)
	if _, err := svc.Register(context.Background(), 777, 1); !errors.Is(err, ErrNoInspector) {
		t.Fatalf("ожидали ErrNoInspector, получили %v", err)
	}
}
