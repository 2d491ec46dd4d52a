package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/usecase/ratecontrol"
)

type stubClient struct {
	mu       sync.Mutex
	members  []domain.Member
	self     domain.Member
	selfErr  error
	listErr  error
	info     domain.ChannelInfo
	infoErr  error
	memberBy map[int64]domain.Member
	// throttles: сколько раз подряд вернуть троттлинг для страницы с данным offset.
	throttles map[int]int
	offsets   []int
	onPage    func(offset int)
}

func (s *stubClient) ListMembers(_ context.Context, _ int64, offset, limit int) (domain.MemberPage, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if s.listErr != nil {
		s.mu.Unlock()
		return domain.MemberPage{}, s.listErr
	}
	if s.throttles[offset] > 0 {
		s.throttles[offset]--
		s.mu.Unlock()
		return domain.MemberPage{}, &domain.ThrottleError{Wait: 3 * time.Second}
	}
	hook := s.onPage
	s.mu.Unlock()
	if hook != nil {
		hook(offset)
	}

	if offset >= len(s.members) {
		return domain.MemberPage{Total: len(s.members)}, nil
	}
	end := offset + limit
	if end > len(s.members) {
		end = len(s.members)
	}
	page := append([]domain.Member(nil), s.members[offset:end]...)
	return domain.MemberPage{Members: page, Total: len(s.members)}, nil
}

func (s *stubClient) GetSelfMembership(context.Context, int64) (domain.Member, error) {
	return s.self, s.selfErr
}

func (s *stubClient) GetMember(_ context.Context, _ int64, userID int64) (domain.Member, error) {
	m, ok := s.memberBy[userID]
	if !ok {
		return domain.Member{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *stubClient) GetChannelMetadata(context.Context, int64) (domain.ChannelInfo, error) {
	return s.info, s.infoErr
}

func (s *stubClient) SendDirectMessage(context.Context, int64, string, domain.SendOptions) error {
	return errors.New("not implemented")
}

func (s *stubClient) ListRecentMessageIDs(context.Context, int64, int) ([]int, error) {
	return nil, errors.New("not implemented")
}

func (s *stubClient) ListMessageReactions(context.Context, int64, int) ([]domain.Reaction, error) {
	return nil, errors.New("not implemented")
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestSynchronizer(client *stubClient, opts Options) (*Synchronizer, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	rc := ratecontrol.New(ratecontrol.Options{Now: clock.Now, Sleep: clock.Sleep, Strategy: ratecontrol.FixedStrategy{}}, zerolog.Nop())
	opts.Now = clock.Now
	return NewSynchronizer(client, rc, opts, zerolog.Nop()), clock
}

func sampleMembers() []domain.Member {
	return []domain.Member{
		{UserID: 1, Username: "alice", FirstName: "Alice", Status: domain.MemberStatusMember},
		{UserID: 2, FirstName: "Bob", Status: domain.MemberStatusMember},
		{UserID: 3, Username: "helper_bot", IsBot: true, Status: domain.MemberStatusAdmin},
		{UserID: 4, Username: "carol", FirstName: "Carol", Status: domain.MemberStatusMember},
		{UserID: 5, FirstName: "Dan", Status: domain.MemberStatusMember},
	}
}

func TestParseFullExcludesBotsAndBucketsHumans(t *testing.T) {
	client := &stubClient{members: sampleMembers()}
	s, _ := newTestSynchronizer(client, Options{PageSize: 2})

	members, stats, err := s.ParseFull(context.Background(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(members) != 4 {
		t.Fatalf("ожидали 4 человека без бота, получили %d", len(members))
	}
	for i, want := range []int64{1, 2, 4, 5} {
		if members[i].UserID != want {
			t.Fatalf("порядок платформы нарушен: %+v", members)
		}
	}
	if stats.TotalProcessed != 5 || stats.BotsCount != 1 || stats.WithUsername != 2 || stats.WithoutUsername != 2 {
		t.Fatalf("неожиданная статистика: %+v", stats)
	}
	if stats.WithUsername+stats.WithoutUsername+stats.BotsCount != stats.TotalProcessed {
		t.Fatalf("сумма корзин не совпадает с total: %+v", stats)
	}
	if stats.DurationSeconds() < 0 {
		t.Fatalf("длительность не может быть отрицательной")
	}
}

func TestParseFullEmptyChannel(t *testing.T) {
	client := &stubClient{}
	s, _ := newTestSynchronizer(client, Options{})

	members, stats, err := s.ParseFull(context.Background(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(members) != 0 || stats.TotalProcessed != 0 {
		t.Fatalf("ожидали пустой результат, получили %d участников и %+v", len(members), stats)
	}
}

func TestParseFullPermissionDenied(t *testing.T) {
	client := &stubClient{listErr: fmt.Errorf("CHAT_ADMIN_REQUIRED: %w", domain.ErrPermission)}
	s, _ := newTestSynchronizer(client, Options{})

	if _, _, err := s.ParseFull(context.Background(), 100); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("ожидали ErrPermission, получили %v", err)
	}
}

func TestParseFullUnknownChannelIsPermissionError(t *testing.T) {
	missing := fmt.Errorf("канал не в диалогах: %w", domain.ErrNotFound)
	client := &stubClient{listErr: missing, infoErr: missing}
	s, _ := newTestSynchronizer(client, Options{})

	if _, _, err := s.ParseFull(context.Background(), 100); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("ожидали ErrPermission, получили %v", err)
	}
	if _, ok, err := s.GetChannelInfo(context.Background(), 100); ok || err != nil {
		t.Fatalf("сведения о неизвестном канале: ожидали отсутствие без ошибки, получили ok=%v err=%v", ok, err)
	}
}

func TestParseFullRetriesThrottledPage(t *testing.T) {
	client := &stubClient{members: sampleMembers(), throttles: map[int]int{2: 1}}
	s, clock := newTestSynchronizer(client, Options{PageSize: 2})

	members, _, err := s.ParseFull(context.Background(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(members) != 4 {
		t.Fatalf("троттлинг не должен терять участников, получили %d", len(members))
	}
	want := []int{0, 2, 2, 4, 5}
	if fmt.Sprint(client.offsets) != fmt.Sprint(want) {
		t.Fatalf("ожидали повтор той же страницы %v, получили %v", want, client.offsets)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 3*time.Second {
		t.Fatalf("ожидали ожидание штрафа 3s, получили %v", clock.sleeps)
	}
}

func TestParseFullGivesUpAfterRepeatedThrottles(t *testing.T) {
	client := &stubClient{members: sampleMembers(), throttles: map[int]int{0: 10}}
	s, _ := newTestSynchronizer(client, Options{ThrottleRetries: 2})

	if _, _, err := s.ParseFull(context.Background(), 100); !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("ожидали ErrRateLimited, получили %v", err)
	}
}

func TestParseFullUnsupportedScale(t *testing.T) {
	client := &stubClient{members: sampleMembers()}
	s, _ := newTestSynchronizer(client, Options{PageSize: 2, MaxMembers: 3})

	if _, _, err := s.ParseFull(context.Background(), 100); !errors.Is(err, domain.ErrUnsupportedScale) {
		t.Fatalf("ожидали ErrUnsupportedScale, получили %v", err)
	}
}

func TestParseFullStopBetweenPages(t *testing.T) {
	client := &stubClient{members: sampleMembers()}
	s, _ := newTestSynchronizer(client, Options{PageSize: 2})
	client.onPage = func(offset int) {
		if offset == 2 {
			s.Stop()
		}
	}

	members, stats, err := s.ParseFull(context.Background(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !stats.Interrupted {
		t.Fatalf("ожидали прерванный проход")
	}
	if stats.TotalProcessed != 4 || len(members) != 3 {
		t.Fatalf("ожидали две страницы, получили %+v и %d участников", stats, len(members))
	}
}

func TestParseFullSkipsDuplicatesAcrossPages(t *testing.T) {
	members := sampleMembers()
	members = append(members[:2], append([]domain.Member{members[1]}, members[2:]...)...)
	client := &stubClient{members: members}
	s, _ := newTestSynchronizer(client, Options{PageSize: 2})

	got, stats, err := s.ParseFull(context.Background(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(got) != 4 || stats.TotalProcessed != 5 {
		t.Fatalf("повторы не должны учитываться дважды: %d участников, %+v", len(got), stats)
	}
}

func TestParseIncrementalIndependentOfBatchSize(t *testing.T) {
	known := domain.NewKnownSetFromRecords([]domain.SubscriberRecord{
		{UserID: 1, Username: "alice", FirstName: "Alice"},
		{UserID: 2, Username: "", FirstName: "Robert"},
	})

	var first domain.SyncDelta
	for i, batch := range []int{1, 2, 3, 100} {
		client := &stubClient{members: sampleMembers()}
		s, _ := newTestSynchronizer(client, Options{})
		delta, stats, err := s.ParseIncremental(context.Background(), 100, known, batch)
		if err != nil {
			t.Fatalf("batch %d: неожиданная ошибка: %v", batch, err)
		}
		if stats.TotalProcessed != 5 {
			t.Fatalf("batch %d: total должен совпадать с реальным числом участников, получили %d", batch, stats.TotalProcessed)
		}
		if len(delta.Added) != 2 || delta.Added[0].UserID != 4 || delta.Added[1].UserID != 5 {
			t.Fatalf("batch %d: неожиданные новые участники: %+v", batch, delta.Added)
		}
		if len(delta.Updated) != 1 || delta.Updated[0].UserID != 2 {
			t.Fatalf("batch %d: неожиданные обновления: %+v", batch, delta.Updated)
		}
		if stats.Added != 2 || stats.Updated != 1 {
			t.Fatalf("batch %d: статистика должна совпадать с дельтой, получили %+v", batch, stats)
		}
		if i == 0 {
			first = delta
			continue
		}
		if fmt.Sprint(first) != fmt.Sprint(delta) {
			t.Fatalf("результат зависит от размера пачки: %+v vs %+v", first, delta)
		}
	}
}

func TestParseIncrementalAddedMatchesNewMembers(t *testing.T) {
	tests := []struct {
		name      string
		members   []domain.Member
		known     []int64
		batch     int
		wantAdded []int64
	}{
		{
			name:      "one new of three",
			members:   []domain.Member{{UserID: 1, Username: "alice"}, {UserID: 2, Username: "bob"}, {UserID: 3}},
			known:     []int64{1, 2},
			batch:     2,
			wantAdded: []int64{3},
		},
		{name: "nothing known", members: sampleMembers(), batch: 2, wantAdded: []int64{1, 2, 4, 5}},
		{name: "everyone known", members: sampleMembers(), known: []int64{1, 2, 3, 4, 5}, batch: 3},
		{name: "known users who left", members: sampleMembers()[:2], known: []int64{1, 2, 9}, batch: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSynchronizer(&stubClient{members: tt.members}, Options{})
			known := domain.NewKnownSetFromIDs(tt.known)

			delta, stats, err := s.ParseIncremental(context.Background(), 100, known, tt.batch)
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if stats.Added != len(delta.Added) {
				t.Fatalf("added=%d не совпадает с числом новых участников %d", stats.Added, len(delta.Added))
			}
			var got []int64
			for _, m := range delta.Added {
				if known.Contains(m.UserID) {
					t.Fatalf("участник %d уже известен, но попал в новые", m.UserID)
				}
				got = append(got, m.UserID)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.wantAdded) {
				t.Fatalf("ожидали новых %v, получили %v", tt.wantAdded, got)
			}

			next := append(append([]int64(nil), tt.known...), got...)
			again, againStats, err := s.ParseIncremental(context.Background(), 100, domain.NewKnownSetFromIDs(next), tt.batch)
			if err != nil {
				t.Fatalf("неожиданная ошибка повторного прохода: %v", err)
			}
			if againStats.Added != 0 || len(again.Added) != 0 {
				t.Fatalf("повторный проход не должен находить новых, получили %+v", again.Added)
			}
		})
	}
}

func TestParseIncrementalCaseSensitiveUpdate(t *testing.T) {
	known := domain.NewKnownSetFromRecords([]domain.SubscriberRecord{{UserID: 1, Username: "Alice", FirstName: "Alice"}})
	client := &stubClient{members: sampleMembers()[:1]}
	s, _ := newTestSynchronizer(client, Options{})

	delta, _, err := s.ParseIncremental(context.Background(), 100, known, 10)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(delta.Updated) != 1 {
		t.Fatalf("смена регистра username должна считаться изменением: %+v", delta)
	}
}

func TestCheckAdminRights(t *testing.T) {
	tests := []struct {
		name   string
		self   domain.Member
		err    error
		wantOK bool
	}{
		{name: "creator", self: domain.Member{Status: domain.MemberStatusCreator}, wantOK: true},
		{name: "admin", self: domain.Member{Status: domain.MemberStatusAdmin}, wantOK: true},
		{name: "member", self: domain.Member{Status: domain.MemberStatusMember}},
		{name: "no access", err: domain.ErrPermission},
		{name: "not found", err: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSynchronizer(&stubClient{self: tt.self, selfErr: tt.err}, Options{})
			ok, reason := s.CheckAdminRights(context.Background(), 100)
			if ok != tt.wantOK {
				t.Fatalf("ожидали %v, получили %v (%s)", tt.wantOK, ok, reason)
			}
			if reason == "" {
				t.Fatalf("причина должна быть заполнена")
			}
		})
	}
}

func TestGetMemberInfoAbsent(t *testing.T) {
	client := &stubClient{memberBy: map[int64]domain.Member{1: {UserID: 1, Status: domain.MemberStatusMember}}}
	s, _ := newTestSynchronizer(client, Options{})

	if _, ok, err := s.GetMemberInfo(context.Background(), 100, 42); ok || err != nil {
		t.Fatalf("ожидали отсутствие без ошибки, получили ok=%v err=%v", ok, err)
	}
	m, ok, err := s.GetMemberInfo(context.Background(), 100, 1)
	if !ok || err != nil || m.UserID != 1 {
		t.Fatalf("ожидали участника 1, получили %+v ok=%v err=%v", m, ok, err)
	}
}

func TestGetChannelMembersCount(t *testing.T) {
	s, _ := newTestSynchronizer(&stubClient{info: domain.ChannelInfo{ID: 100, MembersCount: 1234}}, Options{})
	count, ok, err := s.GetChannelMembersCount(context.Background(), 100)
	if err != nil || !ok || count != 1234 {
		t.Fatalf("ожидали 1234, получили %d ok=%v err=%v", count, ok, err)
	}

	missing, _ := newTestSynchronizer(&stubClient{infoErr: domain.ErrNotFound}, Options{})
	if _, ok, err := missing.GetChannelMembersCount(context.Background(), 100); ok || err != nil {
		t.Fatalf("ожидали отсутствие без ошибки, получили ok=%v err=%v", ok, err)
	}

	broken, _ := newTestSynchronizer(&stubClient{infoErr: domain.ErrTransient}, Options{})
	if _, _, err := broken.GetChannelMembersCount(context.Background(), 100); !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("временная ошибка должна пробрасываться, получили %v", err)
	}
}
