package membership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
)

type memorySubscribers struct {
	records map[int64]domain.SubscriberRecord
	applied []domain.Transitions
}

func newMemorySubscribers(records ...domain.SubscriberRecord) *memorySubscribers {
	m := &memorySubscribers{records: map[int64]domain.SubscriberRecord{}}
	for _, r := range records {
		m.records[r.UserID] = r
	}
	return m
}

func (m *memorySubscribers) AddSubscriber(_ context.Context, channelID int64, member domain.Member, at time.Time) (bool, error) {
	rec, ok := m.records[member.UserID]
	if !ok {
		m.records[member.UserID] = domain.NewSubscriberRecord(channelID, member, at)
		return true, nil
	}
	if !rec.Active() {
		m.records[member.UserID] = rec.Resubscribe(member, at)
	}
	return false, nil
}

func (m *memorySubscribers) MarkLeft(_ context.Context, _ int64, userID int64, at time.Time) error {
	rec, ok := m.records[userID]
	if !ok || !rec.Active() {
		return nil
	}
	rec.LeftAt = &at
	m.records[userID] = rec
	return nil
}

func (m *memorySubscribers) TouchActivity(_ context.Context, channelID int64, member domain.Member, at time.Time) error {
	rec, ok := m.records[member.UserID]
	if !ok {
		rec = domain.NewSubscriberRecord(channelID, member, at)
	}
	rec.LastActivityAt = &at
	m.records[member.UserID] = rec
	return nil
}

func (m *memorySubscribers) ListSubscribers(context.Context, int64) ([]domain.SubscriberRecord, error) {
	out := make([]domain.SubscriberRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *memorySubscribers) ListActiveSubscribers(context.Context, int64, time.Duration) ([]domain.SubscriberRecord, error) {
	return nil, nil
}

func (m *memorySubscribers) ApplyTransitions(ctx context.Context, channelID int64, tr domain.Transitions, at time.Time) (int, int, error) {
	m.applied = append(m.applied, tr)
	for _, member := range tr.Add {
		m.records[member.UserID] = domain.NewSubscriberRecord(channelID, member, at)
	}
	for _, member := range tr.Resubscribe {
		m.records[member.UserID] = m.records[member.UserID].Resubscribe(member, at)
	}
	for _, member := range tr.Update {
		rec := m.records[member.UserID]
		rec.Username, rec.FirstName, rec.FullName = member.Username, member.FirstName, member.FullName()
		m.records[member.UserID] = rec
	}
	for _, id := range tr.MarkLeft {
		_ = m.MarkLeft(ctx, channelID, id, at)
	}
	return len(tr.Add) + len(tr.Resubscribe), len(tr.Update), nil
}

func (m *memorySubscribers) SubscriberStats(context.Context, int64) (domain.SubscriberStats, error) {
	var stats domain.SubscriberStats
	for _, r := range m.records {
		stats.Total++
		if r.Active() {
			stats.Active++
		}
	}
	return stats, nil
}

func (m *memorySubscribers) ClearSubscribers(context.Context, int64) (int, error) {
	n := len(m.records)
	m.records = map[int64]domain.SubscriberRecord{}
	return n, nil
}

func (m *memorySubscribers) WasSubscriber(context.Context, int64, int64, time.Time) (bool, error) {
	return false, nil
}

func (m *memorySubscribers) CountSubscribersAt(context.Context, int64, time.Time) (int, error) {
	return 0, nil
}

type recordingMetrics struct {
	events []string
}

func (r *recordingMetrics) RecordBusinessMetric(_ context.Context, metric domain.BusinessMetric) error {
	r.events = append(r.events, metric.Event)
	return nil
}

type stubParser struct {
	members []domain.Member
	stats   domain.ParsingStats
	delta   domain.SyncDelta
	known   domain.KnownSet
	batch   int
	stopped bool
}

func (p *stubParser) ParseFull(context.Context, int64) ([]domain.Member, domain.ParsingStats, error) {
	return p.members, p.stats, nil
}

func (p *stubParser) ParseIncremental(_ context.Context, _ int64, known domain.KnownSet, batch int) (domain.SyncDelta, domain.ParsingStats, error) {
	p.known = known
	p.batch = batch
	return p.delta, p.stats, nil
}

func (p *stubParser) Stop() { p.stopped = true }

func TestPlanTransitions(t *testing.T) {
	left := time.Now().Add(-time.Hour)
	records := []domain.SubscriberRecord{
		{UserID: 1, Username: "alice", FirstName: "Alice"},
		{UserID: 2, Username: "bob", FirstName: "Bob"},
		{UserID: 3, Username: "carol", FirstName: "Carol", LeftAt: &left},
		{UserID: 4, Username: "dave", FirstName: "Dave"},
	}
	members := []domain.Member{
		{UserID: 1, Username: "alice", FirstName: "Alice"},
		{UserID: 2, Username: "bobby", FirstName: "Bob"},
		{UserID: 3, Username: "carol", FirstName: "Carol"},
		{UserID: 5, Username: "eve", FirstName: "Eve"},
		{UserID: 6, Username: "robot", IsBot: true},
	}

	tr := Plan(records, members, true)
	if len(tr.Add) != 1 || tr.Add[0].UserID != 5 {
		t.Fatalf("ожидали добавление 5, получили %+v", tr.Add)
	}
	if len(tr.Resubscribe) != 1 || tr.Resubscribe[0].UserID != 3 {
		t.Fatalf("ожидали возвращение 3, получили %+v", tr.Resubscribe)
	}
	if len(tr.Update) != 1 || tr.Update[0].UserID != 2 {
		t.Fatalf("ожидали обновление 2, получили %+v", tr.Update)
	}
	if len(tr.MarkLeft) != 1 || tr.MarkLeft[0] != 4 {
		t.Fatalf("ожидали отписку 4, получили %+v", tr.MarkLeft)
	}

	partial := Plan(records, members, false)
	if len(partial.MarkLeft) != 0 {
		t.Fatalf("неполный снимок не должен отмечать отписки: %+v", partial.MarkLeft)
	}
}

func TestPlanDeltaResubscribesReturningMembers(t *testing.T) {
	left := time.Now().Add(-time.Hour)
	records := []domain.SubscriberRecord{{UserID: 3, LeftAt: &left}}
	delta := domain.SyncDelta{
		Added:   []domain.Member{{UserID: 3}, {UserID: 7}},
		Updated: []domain.Member{{UserID: 9, Username: "new"}},
	}

	tr := PlanDelta(records, delta)
	if len(tr.Resubscribe) != 1 || tr.Resubscribe[0].UserID != 3 {
		t.Fatalf("ожидали возвращение 3, получили %+v", tr.Resubscribe)
	}
	if len(tr.Add) != 1 || tr.Add[0].UserID != 7 {
		t.Fatalf("ожидали добавление 7, получили %+v", tr.Add)
	}
	if len(tr.Update) != 1 || len(tr.MarkLeft) != 0 {
		t.Fatalf("неожиданные изменения: %+v", tr)
	}
}

func TestServiceSyncFullAppliesTransitions(t *testing.T) {
	repo := newMemorySubscribers(
		domain.SubscriberRecord{UserID: 1, Username: "alice", FirstName: "Alice"},
		domain.SubscriberRecord{UserID: 2, Username: "bob", FirstName: "Bob"},
	)
	parser := &stubParser{
		members: []domain.Member{{UserID: 1, Username: "alice", FirstName: "Alice"}, {UserID: 3, Username: "eve"}},
		stats:   domain.ParsingStats{TotalProcessed: 2, WithUsername: 2},
	}
	events := &recordingMetrics{}
	svc := NewService(parser, repo, nil, events, 100, zerolog.Nop())

	stats, err := svc.SyncFull(context.Background(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if stats.Added != 1 || stats.Updated != 0 {
		t.Fatalf("ожидали одно добавление, получили %+v", stats)
	}
	if repo.records[2].Active() {
		t.Fatalf("ушедший подписчик должен быть отмечен")
	}
	if len(events.events) != 1 || events.events[0] != domain.BusinessMetricEventSyncCompleted {
		t.Fatalf("ожидали событие завершения синхронизации, получили %v", events.events)
	}
}

func TestServiceSyncFullInterruptedKeepsMembers(t *testing.T) {
	repo := newMemorySubscribers(domain.SubscriberRecord{UserID: 2, Username: "bob"})
	parser := &stubParser{
		members: []domain.Member{{UserID: 1, Username: "alice"}},
		stats:   domain.ParsingStats{TotalProcessed: 1, Interrupted: true},
	}
	svc := NewService(parser, repo, nil, nil, 100, zerolog.Nop())

	if _, err := svc.SyncFull(context.Background(), 100); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !repo.records[2].Active() {
		t.Fatalf("прерванный проход не должен отмечать отписки")
	}
}

func TestServiceSyncIncrementalUsesStoredProfiles(t *testing.T) {
	repo := newMemorySubscribers(domain.SubscriberRecord{UserID: 1, Username: "alice"})
	parser := &stubParser{delta: domain.SyncDelta{Added: []domain.Member{{UserID: 2}}}}
	svc := NewService(parser, repo, nil, nil, 50, zerolog.Nop())

	stats, err := svc.SyncIncremental(context.Background(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if !parser.known.Contains(1) || parser.batch != 50 {
		t.Fatalf("парсер должен получить известное множество и размер пачки")
	}
	if stats.Added != 1 {
		t.Fatalf("ожидали одно добавление, получили %+v", stats)
	}
}

func TestServiceLiveEvents(t *testing.T) {
	repo := newMemorySubscribers()
	events := &recordingMetrics{}
	svc := NewService(&stubParser{}, repo, nil, events, 0, zerolog.Nop())
	ctx := context.Background()

	if err := svc.MemberJoined(ctx, 100, domain.Member{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := svc.MemberJoined(ctx, 100, domain.Member{UserID: 2, IsBot: true}); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := svc.MemberLeft(ctx, 100, 1); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := svc.MemberJoined(ctx, 100, domain.Member{UserID: 1, Username: "alice"}); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := svc.TouchActivity(ctx, 100, domain.Member{UserID: 5, Username: "commenter"}); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(repo.records) != 2 {
		t.Fatalf("ожидали двух подписчиков без бота, получили %d", len(repo.records))
	}
	if !repo.records[1].Active() {
		t.Fatalf("повторная подписка должна вернуть подписчика")
	}
	if repo.records[5].LastActivityAt == nil {
		t.Fatalf("активность неизвестного пользователя должна его добавить")
	}
	stats, err := svc.Stats(ctx, 100)
	if err != nil || stats.Active != 2 {
		t.Fatalf("ожидали 2 активных, получили %+v err=%v", stats, err)
	}
	if len(events.events) != 3 {
		t.Fatalf("ожидали три события подписки/отписки, получили %v", events.events)
	}
}

type memoryStops struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (s *memoryStops) RequestStop(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = true
	return nil
}

func (s *memoryStops) StopRequested(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *memoryStops) ClearStop(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// pausingParser отдаёт полный снимок, только если его не остановили за отведённое время.
type pausingParser struct {
	started chan struct{}
	stop    chan struct{}
	once    sync.Once
	members []domain.Member
}

func (p *pausingParser) ParseFull(context.Context, int64) ([]domain.Member, domain.ParsingStats, error) {
	close(p.started)
	select {
	case <-p.stop:
		return p.members[:1], domain.ParsingStats{TotalProcessed: 1, Interrupted: true}, nil
	case <-time.After(5 * time.Second):
		return p.members, domain.ParsingStats{TotalProcessed: len(p.members)}, nil
	}
}

func (p *pausingParser) ParseIncremental(context.Context, int64, domain.KnownSet, int) (domain.SyncDelta, domain.ParsingStats, error) {
	return domain.SyncDelta{}, domain.ParsingStats{}, nil
}

func (p *pausingParser) Stop() {
	p.once.Do(func() { close(p.stop) })
}

func TestServiceRemoteStopInterruptsSync(t *testing.T) {
	repo := newMemorySubscribers(domain.SubscriberRecord{UserID: 2, Username: "bob"})
	stops := &memoryStops{keys: map[string]bool{}}
	parser := &pausingParser{
		started: make(chan struct{}),
		stop:    make(chan struct{}),
		members: []domain.Member{{UserID: 1, Username: "alice"}, {UserID: 2, Username: "bob"}},
	}
	worker := NewService(parser, repo, stops, nil, 100, zerolog.Nop())
	worker.stopPoll = time.Millisecond
	gateway := NewService(nil, repo, stops, nil, 100, zerolog.Nop())

	type result struct {
		stats domain.ParsingStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := worker.SyncFull(context.Background(), 100)
		done <- result{stats, err}
	}()

	<-parser.started
	if err := gateway.RequestStop(context.Background(), 100); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	res := <-done
	if res.err != nil {
		t.Fatalf("неожиданная ошибка: %v", res.err)
	}
	if !res.stats.Interrupted {
		t.Fatalf("ожидали прерванный проход, получили %+v", res.stats)
	}
	if !repo.records[2].Active() {
		t.Fatalf("остановленный проход не должен отмечать отписки")
	}
}

func TestServiceWithoutParserOrSignals(t *testing.T) {
	svc := NewService(nil, newMemorySubscribers(), nil, nil, 0, zerolog.Nop())
	ctx := context.Background()
	if err := svc.RequestStop(ctx, 100); !errors.Is(err, ErrNoStopSignals) {
		t.Fatalf("ожидали ErrNoStopSignals, получили %v", err)
	}
	if _, err := svc.SyncFull(ctx, 100); !errors.Is(err, ErrNoParser) {
		t.Fatalf("ожидали ErrNoParser, получили %v", err)
	}
	if _, err := svc.SyncIncremental(ctx, 100); !errors.Is(err, ErrNoParser) {
		t.Fatalf("ожидали ErrNoParser, получили %v", err)
	}
}
