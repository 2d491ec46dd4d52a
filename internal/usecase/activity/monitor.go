package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/usecase/ratecontrol"
)

const (
	defaultRecentPosts     = 10
	defaultThrottleRetries = 1
)

// Options задаёт параметры монитора.
type Options struct {
	// RecentPosts задаёт, сколько последних постов просматривать в поисках реакций.
	RecentPosts     int
	ThrottleRetries int
}

// Monitor проверяет членство и реакции отдельных пользователей.
type Monitor struct {
	client domain.ChannelClient
	rc     *ratecontrol.Controller
	opts   Options
	logger zerolog.Logger
}

// NewMonitor создаёт монитор активности.
func NewMonitor(client domain.ChannelClient, rc *ratecontrol.Controller, opts Options, logger zerolog.Logger) *Monitor {
	if opts.RecentPosts <= 0 {
		opts.RecentPosts = defaultRecentPosts
	}
	if opts.ThrottleRetries <= 0 {
		opts.ThrottleRetries = defaultThrottleRetries
	}
	return &Monitor{
		client: client,
		rc:     rc,
		opts:   opts,
		logger: logger.With().Str("component", "activity").Logger(),
	}
}

// CheckUserActivity проверяет каждого пользователя из списка. Ошибка по одному
// пользователю попадает в его результат; вызов целиком падает только если канал недоступен.
func (m *Monitor) CheckUserActivity(ctx context.Context, channelID int64, userIDs []int64, checkReactions bool) (map[int64]domain.UserActivity, error) {
	err := m.rc.Do(ctx, m.opts.ThrottleRetries, func(ctx context.Context) error {
		_, err := m.client.GetChannelMetadata(ctx, channelID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("доступ к каналу %d: %w", channelID, err)
	}

	result := make(map[int64]domain.UserActivity, len(userIDs))
	for _, userID := range userIDs {
		if _, done := result[userID]; done {
			continue
		}
		result[userID] = m.checkUser(ctx, channelID, userID)
	}

	if checkReactions && len(result) > 0 {
		m.attachReactions(ctx, channelID, result)
	}
	return result, nil
}

func (m *Monitor) checkUser(ctx context.Context, channelID, userID int64) domain.UserActivity {
	if userID <= 0 {
		return domain.UserActivity{Status: domain.MemberStatusLeft, Error: "некорректный идентификатор"}
	}
	var member domain.Member
	err := m.rc.Do(ctx, m.opts.ThrottleRetries, func(ctx context.Context) error {
		var err error
		member, err = m.client.GetMember(ctx, channelID, userID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.UserActivity{Status: domain.MemberStatusLeft}
	case err != nil:
		m.logger.Debug().Err(err).Int64("user_id", userID).Msg("activity: не удалось проверить пользователя")
		return domain.UserActivity{Error: err.Error()}
	}

	activity := domain.UserActivity{
		InChannel: member.Status.IsMember(),
		Status:    member.Status,
		Username:  member.Username,
		FirstName: member.FirstName,
	}
	if !member.JoinedAt.IsZero() {
		joined := member.JoinedAt
		activity.JoinedAt = &joined
	}
	return activity
}

// attachReactions просматривает последние посты и запоминает самую свежую реакцию каждого пользователя.
func (m *Monitor) attachReactions(ctx context.Context, channelID int64, result map[int64]domain.UserActivity) {
	var ids []int
	err := m.rc.Do(ctx, m.opts.ThrottleRetries, func(ctx context.Context) error {
		var err error
		ids, err = m.client.ListRecentMessageIDs(ctx, channelID, m.opts.RecentPosts)
		return err
	})
	if err != nil {
		m.logger.Warn().Err(err).Int64("channel_id", channelID).Msg("activity: не удалось получить последние посты")
		return
	}

	for _, messageID := range ids {
		var reactions []domain.Reaction
		err := m.rc.Do(ctx, m.opts.ThrottleRetries, func(ctx context.Context) error {
			var err error
			reactions, err = m.client.ListMessageReactions(ctx, channelID, messageID)
			return err
		})
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				m.logger.Warn().Err(err).Int("message_id", messageID).Msg("activity: не удалось получить реакции")
			}
			continue
		}
		for _, r := range reactions {
			activity, ok := result[r.UserID]
			if !ok {
				continue
			}
			if activity.LastReaction == nil || r.Date.After(activity.LastReaction.Date) {
				reaction := r
				activity.LastReaction = &reaction
				result[r.UserID] = activity
			}
		}
	}
}

// GetRecentMessageReactions группирует реакции на пост по ключу реакции.
// Отсутствующий пост не считается ошибкой: возвращается пустой результат с Found=false.
func (m *Monitor) GetRecentMessageReactions(ctx context.Context, channelID int64, messageID int) (domain.MessageReactions, error) {
	var reactions []domain.Reaction
	err := m.rc.Do(ctx, m.opts.ThrottleRetries, func(ctx context.Context) error {
		var err error
		reactions, err = m.client.ListMessageReactions(ctx, channelID, messageID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MessageReactions{ByKey: map[string][]int64{}}, nil
	}
	if err != nil {
		return domain.MessageReactions{}, fmt.Errorf("реакции на пост %d: %w", messageID, err)
	}

	out := domain.MessageReactions{Found: true, ByKey: make(map[string][]int64)}
	for _, r := range reactions {
		out.ByKey[r.Key] = append(out.ByKey[r.Key], r.UserID)
	}
	return out, nil
}
