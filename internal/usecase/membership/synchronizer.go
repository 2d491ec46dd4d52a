package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/usecase/ratecontrol"
)

const (
	defaultPageSize        = 200
	defaultThrottleRetries = 3
)

// Options задаёт параметры синхронизатора.
type Options struct {
	PageSize int
	// MaxMembers ограничивает число участников на канал, 0 отключает лимит.
	MaxMembers int
	// ThrottleRetries задаёт число повторов одной страницы после штрафа.
	ThrottleRetries int
	Now             func() time.Time
}

// Synchronizer перечисляет участников канала и сравнивает их с известным множеством.
type Synchronizer struct {
	client domain.ChannelClient
	rc     *ratecontrol.Controller
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	stop chan struct{}
}

// NewSynchronizer создаёт синхронизатор поверх авторизованного клиента.
func NewSynchronizer(client domain.ChannelClient, rc *ratecontrol.Controller, opts Options, logger zerolog.Logger) *Synchronizer {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.ThrottleRetries <= 0 {
		opts.ThrottleRetries = defaultThrottleRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		client: client,
		rc:     rc,
		opts:   opts,
		logger: logger.With().Str("component", "membership").Logger(),
	}
}

// ParseFull возвращает всех текущих участников канала, кроме ботов.
// Боты учитываются только в TotalProcessed и BotsCount.
func (s *Synchronizer) ParseFull(ctx context.Context, channelID int64) ([]domain.Member, domain.ParsingStats, error) {
	stats := domain.ParsingStats{StartTime: s.opts.Now()}
	var members []domain.Member

	interrupted, err := s.enumerate(ctx, channelID, s.opts.PageSize, func(m domain.Member) {
		countMember(&stats, m)
		if !m.IsBot {
			members = append(members, m)
		}
	})
	stats.EndTime = s.opts.Now()
	stats.Interrupted = interrupted
	if err != nil {
		return nil, stats, err
	}

	s.logger.Info().
		Int64("channel_id", channelID).
		Int("total", stats.TotalProcessed).
		Int("bots", stats.BotsCount).
		Bool("interrupted", interrupted).
		Msg("membership: полный проход завершён")
	return members, stats, nil
}

// ParseIncremental находит новых участников и изменившиеся профили известных.
// batchSize влияет только на размер страницы.
func (s *Synchronizer) ParseIncremental(ctx context.Context, channelID int64, known domain.KnownSet, batchSize int) (domain.SyncDelta, domain.ParsingStats, error) {
	if batchSize <= 0 {
		batchSize = s.opts.PageSize
	}
	stats := domain.ParsingStats{StartTime: s.opts.Now()}
	var delta domain.SyncDelta

	interrupted, err := s.enumerate(ctx, channelID, batchSize, func(m domain.Member) {
		countMember(&stats, m)
		if m.IsBot {
			return
		}
		switch {
		case !known.Contains(m.UserID):
			delta.Added = append(delta.Added, m)
		case known.Changed(m):
			delta.Updated = append(delta.Updated, m)
		}
	})
	stats.EndTime = s.opts.Now()
	stats.Interrupted = interrupted
	if err != nil {
		return domain.SyncDelta{}, stats, err
	}
	stats.Added = len(delta.Added)
	stats.Updated = len(delta.Updated)

	s.logger.Info().
		Int64("channel_id", channelID).
		Int("total", stats.TotalProcessed).
		Int("added", len(delta.Added)).
		Int("updated", len(delta.Updated)).
		Bool("interrupted", interrupted).
		Msg("membership: инкрементальный проход завершён")
	return delta, stats, nil
}

// Stop просит текущий проход завершиться после текущей страницы.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// CheckAdminRights проверяет, является ли текущий аккаунт администратором канала.
// Отсутствие прав не считается ошибкой: причина возвращается строкой.
func (s *Synchronizer) CheckAdminRights(ctx context.Context, channelID int64) (bool, string) {
	var self domain.Member
	err := s.rc.Do(ctx, s.opts.ThrottleRetries, func(ctx context.Context) error {
		var err error
		self, err = s.client.GetSelfMembership(ctx, channelID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return false, "канал не найден или аккаунт не состоит в нём"
	case errors.Is(err, domain.ErrPermission):
		return false, "нет доступа к каналу"
	case err != nil:
		return false, fmt.Sprintf("не удалось проверить права: %v", err)
	case !self.Status.IsAdmin():
		return false, "аккаунт не является администратором канала"
	}
	return true, "аккаунт является администратором канала"
}

// GetChannelMembersCount возвращает количество участников; ok=false, если канал не найден.
func (s *Synchronizer) GetChannelMembersCount(ctx context.Context, channelID int64) (int, bool, error) {
	info, ok, err := s.GetChannelInfo(ctx, channelID)
	if err != nil || !ok {
		return 0, ok, err
	}
	return info.MembersCount, true, nil
}

// GetChannelInfo возвращает метаданные канала; ok=false, если канал не найден.
func (s *Synchronizer) GetChannelInfo(ctx context.Context, channelID int64) (domain.ChannelInfo, bool, error) {
	var info domain.ChannelInfo
	err := s.rc.Do(ctx, s.opts.ThrottleRetries, func(ctx context.Context) error {
		var err error
		info, err = s.client.GetChannelMetadata(ctx, channelID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ChannelInfo{}, false, nil
	}
	if err != nil {
		return domain.ChannelInfo{}, false, fmt.Errorf("получение канала %d: %w", channelID, err)
	}
	return info, true, nil
}

// GetMemberInfo возвращает участника канала; ok=false, если пользователь не найден.
func (s *Synchronizer) GetMemberInfo(ctx context.Context, channelID, userID int64) (domain.Member, bool, error) {
	var member domain.Member
	err := s.rc.Do(ctx, s.opts.ThrottleRetries, func(ctx context.Context) error {
		var err error
		member, err = s.client.GetMember(ctx, channelID, userID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Member{}, false, nil
	}
	if err != nil {
		return domain.Member{}, false, fmt.Errorf("получение участника %d: %w", userID, err)
	}
	return member, true, nil
}

// enumerate обходит курсор участников до конца. Повторы участников между страницами
// отбрасываются. Возвращает interrupted=true при остановке через Stop.
func (s *Synchronizer) enumerate(ctx context.Context, channelID int64, pageSize int, visit func(domain.Member)) (bool, error) {
	stop := s.begin()
	defer s.end(stop)

	seen := make(map[int64]struct{})
	offset := 0
	for {
		select {
		case <-stop:
			return true, nil
		default:
		}

		var page domain.MemberPage
		err := s.rc.Do(ctx, s.opts.ThrottleRetries, func(ctx context.Context) error {
			var err error
			page, err = s.client.ListMembers(ctx, channelID, offset, pageSize)
			return err
		})
		if errors.Is(err, domain.ErrNotFound) {
			// канал, которого аккаунт не видит, для перечисления означает отсутствие прав
			return false, fmt.Errorf("перечисление участников канала %d: %w: %v", channelID, domain.ErrPermission, err)
		}
		if err != nil {
			return false, fmt.Errorf("перечисление участников канала %d (offset %d): %w", channelID, offset, err)
		}
		if len(page.Members) == 0 {
			return false, nil
		}
		for _, m := range page.Members {
			if _, dup := seen[m.UserID]; dup {
				continue
			}
			seen[m.UserID] = struct{}{}
			visit(m)
		}
		offset += len(page.Members)

		if s.opts.MaxMembers > 0 && len(seen) >= s.opts.MaxMembers && page.Total > s.opts.MaxMembers {
			return false, fmt.Errorf("канал %d: %d участников при лимите %d: %w", channelID, page.Total, s.opts.MaxMembers, domain.ErrUnsupportedScale)
		}
		s.logger.Debug().Int64("channel_id", channelID).Int("offset", offset).Int("total", page.Total).Msg("membership: страница обработана")
	}
}

func (s *Synchronizer) begin() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop = make(chan struct{})
	return s.stop
}

func (s *Synchronizer) end(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == stop {
		s.stop = nil
	}
}

func countMember(stats *domain.ParsingStats, m domain.Member) {
	stats.TotalProcessed++
	switch {
	case m.IsBot:
		stats.BotsCount++
	case m.HasUsername():
		stats.WithUsername++
	default:
		stats.WithoutUsername++
	}
}
