package channels

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tg-channel-sync/internal/domain"
)

var (
	ErrNotAdmin       = errors.New("аккаунт не является администратором канала")
	ErrChannelMissing = errors.New("канал не найден")
	ErrRefInvalid     = errors.New("некорректный идентификатор канала")
	ErrNoInspector    = errors.New("проверка канала недоступна без MTProto-клиента")
)

var refRegex = regexp.MustCompile(`^-?\d{5,20}$`)

// Inspector проверяет права и метаданные канала.
type Inspector interface {
	CheckAdminRights(ctx context.Context, channelID int64) (bool, string)
	GetChannelInfo(ctx context.Context, channelID int64) (domain.ChannelInfo, bool, error)
}

// Service регистрирует каналы, с которыми работает синхронизация.
type Service struct {
	repo        domain.ChannelRepo
	inspector   Inspector
	metricsRepo domain.BusinessMetricRepo
}

// NewService создаёт новый сервис каналов. Без inspector доступны только чтение и поиск.
func NewService(repo domain.ChannelRepo, inspector Inspector, metricsRepo domain.BusinessMetricRepo) *Service {
	return &Service{repo: repo, inspector: inspector, metricsRepo: metricsRepo}
}

// ParseChannelRef приводит ввод администратора к идентификатору канала.
// Поддерживается формат Bot API с префиксом -100.
func ParseChannelRef(input string) (int64, error) {
	trim := strings.TrimSpace(input)
	if !refRegex.MatchString(trim) {
		return 0, ErrRefInvalid
	}
	if strings.HasPrefix(trim, "-100") {
		trim = strings.TrimPrefix(trim, "-100")
	} else {
		trim = strings.TrimPrefix(trim, "-")
	}
	id, err := strconv.ParseInt(trim, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrRefInvalid
	}
	return id, nil
}

// Register проверяет права аккаунта и сохраняет канал.
func (s *Service) Register(ctx context.Context, channelID, addedBy int64) (domain.Channel, error) {
	if s.inspector == nil {
		return domain.Channel{}, ErrNoInspector
	}
	if ok, reason := s.inspector.CheckAdminRights(ctx, channelID); !ok {
		return domain.Channel{}, fmt.Errorf("%w: %s", ErrNotAdmin, reason)
	}
	info, ok, err := s.inspector.GetChannelInfo(ctx, channelID)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("получение канала: %w", err)
	}
	if !ok {
		return domain.Channel{}, ErrChannelMissing
	}
	channel, err := s.repo.UpsertChannel(ctx, info, addedBy)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("сохранение канала: %w", err)
	}
	if s.metricsRepo != nil {
		userID := addedBy
		tgID := channel.TGChannelID
		_ = s.metricsRepo.RecordBusinessMetric(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventChannelRegistered,
			UserID:     &userID,
			ChannelID:  &tgID,
			Metadata:   map[string]any{"title": channel.Title, "members": info.MembersCount},
			OccurredAt: time.Now(),
		})
	}
	return channel, nil
}

// List возвращает зарегистрированные каналы.
func (s *Service) List(ctx context.Context) ([]domain.Channel, error) {
	channels, err := s.repo.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение каналов: %w", err)
	}
	return channels, nil
}

// ResolveDiscussion возвращает канал, к которому привязана группа обсуждения.
func (s *Service) ResolveDiscussion(ctx context.Context, chatID int64) (domain.Channel, bool, error) {
	channel, err := s.repo.GetChannelByDiscussionGroup(ctx, chatID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Channel{}, false, nil
	}
	if err != nil {
		return domain.Channel{}, false, fmt.Errorf("поиск канала по обсуждению: %w", err)
	}
	return channel, true, nil
}
