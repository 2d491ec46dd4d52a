package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/usecase/ratecontrol"
)

type stubClient struct {
	infoErr   error
	members   map[int64]domain.Member
	memberErr map[int64]error
	recent    []int
	reactions map[int][]domain.Reaction
	memberReq int
}

func (s *stubClient) GetChannelMetadata(context.Context, int64) (domain.ChannelInfo, error) {
	return domain.ChannelInfo{ID: 100}, s.infoErr
}

func (s *stubClient) GetMember(_ context.Context, _ int64, userID int64) (domain.Member, error) {
	s.memberReq++
	if err, ok := s.memberErr[userID]; ok {
		return domain.Member{}, err
	}
	m, ok := s.members[userID]
	if !ok {
		return domain.Member{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *stubClient) ListRecentMessageIDs(_ context.Context, _ int64, limit int) ([]int, error) {
	if len(s.recent) > limit {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

func (s *stubClient) ListMessageReactions(_ context.Context, _ int64, messageID int) ([]domain.Reaction, error) {
	r, ok := s.reactions[messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

func (s *stubClient) ListMembers(context.Context, int64, int, int) (domain.MemberPage, error) {
	return domain.MemberPage{}, errors.New("not implemented")
}

func (s *stubClient) GetSelfMembership(context.Context, int64) (domain.Member, error) {
	return domain.Member{}, errors.New("not implemented")
}

func (s *stubClient) SendDirectMessage(context.Context, int64, string, domain.SendOptions) error {
	return errors.New("not implemented")
}

func newTestMonitor(client *stubClient) *Monitor {
	rc := ratecontrol.New(ratecontrol.Options{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}, zerolog.Nop())
	return NewMonitor(client, rc, Options{RecentPosts: 5}, zerolog.Nop())
}

func TestCheckUserActivity(t *testing.T) {
	joined := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	client := &stubClient{
		members: map[int64]domain.Member{
			1: {UserID: 1, Username: "alice", Status: domain.MemberStatusMember, JoinedAt: joined},
			2: {UserID: 2, Status: domain.MemberStatusLeft},
		},
		memberErr: map[int64]error{4: domain.ErrTransient},
	}
	m := newTestMonitor(client)

	result, err := m.CheckUserActivity(context.Background(), 100, []int64{1, 2, 3, 4, 1}, false)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(result) != 4 {
		t.Fatalf("ожидали 4 результата, получили %d", len(result))
	}
	if client.memberReq != 4 {
		t.Fatalf("повторный идентификатор не должен проверяться дважды, запросов %d", client.memberReq)
	}
	if a := result[1]; !a.InChannel || a.Username != "alice" || a.JoinedAt == nil || !a.JoinedAt.Equal(joined) {
		t.Fatalf("неожиданный результат для 1: %+v", a)
	}
	if a := result[2]; a.InChannel || a.Status != domain.MemberStatusLeft {
		t.Fatalf("ушедший пользователь должен быть вне канала: %+v", a)
	}
	if a := result[3]; a.InChannel || a.Error != "" {
		t.Fatalf("неизвестный пользователь — отсутствие, а не ошибка: %+v", a)
	}
	if a := result[4]; a.InChannel || a.Error == "" {
		t.Fatalf("ошибка проверки должна попасть в результат: %+v", a)
	}
}

func TestCheckUserActivityChannelUnavailable(t *testing.T) {
	m := newTestMonitor(&stubClient{infoErr: domain.ErrPermission})
	if _, err := m.CheckUserActivity(context.Background(), 100, []int64{1}, false); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("ожидали ErrPermission, получили %v", err)
	}
}

func TestCheckUserActivityWithReactions(t *testing.T) {
	older := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	client := &stubClient{
		members: map[int64]domain.Member{
			1: {UserID: 1, Status: domain.MemberStatusMember},
			2: {UserID: 2, Status: domain.MemberStatusMember},
		},
		recent:    []int{30, 29, 28},
		reactions: map[int][]domain.Reaction{
			30: {{UserID: 1, Key: "👍", MessageID: 30, Date: newer}, {UserID: 99, Key: "🔥", MessageID: 30, Date: newer}},
			28: {{UserID: 1, Key: "❤", MessageID: 28, Date: older}},
		},
	}
	m := newTestMonitor(client)

	result, err := m.CheckUserActivity(context.Background(), 100, []int64{1, 2}, true)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	last := result[1].LastReaction
	if last == nil || last.MessageID != 30 || last.Key != "👍" {
		t.Fatalf("ожидали самую свежую реакцию на пост 30, получили %+v", last)
	}
	if result[2].LastReaction != nil {
		t.Fatalf("у пользователя 2 нет реакций")
	}
	if _, ok := result[99]; ok {
		t.Fatalf("посторонние пользователи не должны попадать в результат")
	}
}

func TestGetRecentMessageReactions(t *testing.T) {
	client := &stubClient{reactions: map[int][]domain.Reaction{
		10: {{UserID: 1, Key: "👍"}, {UserID: 2, Key: "👍"}, {UserID: 3, Key: "🔥"}},
		11: {},
	}}
	m := newTestMonitor(client)
	ctx := context.Background()

	got, err := m.GetRecentMessageReactions(ctx, 100, 10)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !got.Found || len(got.ByKey["👍"]) != 2 || len(got.ByKey["🔥"]) != 1 {
		t.Fatalf("неожиданная группировка: %+v", got)
	}

	empty, err := m.GetRecentMessageReactions(ctx, 100, 11)
	if err != nil || !empty.Found || len(empty.ByKey) != 0 {
		t.Fatalf("пост без реакций: ожидали Found=true и пустой результат, получили %+v err=%v", empty, err)
	}

	missing, err := m.GetRecentMessageReactions(ctx, 100, 12)
	if err != nil || missing.Found || len(missing.ByKey) != 0 {
		t.Fatalf("отсутствующий пост: ожидали Found=false, получили %+v err=%v", missing, err)
	}
}
