package domain

import (
	"context"
	"time"
)

// ChannelClient представляет авторизованное подключение к Telegram от имени администратора канала.
// Любой метод может вернуть *ThrottleError, ErrPermission или ErrNotFound.
type ChannelClient interface {
	// ListMembers возвращает страницу участников начиная с offset.
	ListMembers(ctx context.Context, channelID int64, offset, limit int) (MemberPage, error)
	// GetSelfMembership возвращает статус текущего аккаунта в канале.
	GetSelfMembership(ctx context.Context, channelID int64) (Member, error)
	GetMember(ctx context.Context, channelID, userID int64) (Member, error)
	GetChannelMetadata(ctx context.Context, channelID int64) (ChannelInfo, error)
	SendDirectMessage(ctx context.Context, userID int64, text string, opts SendOptions) error
	// ListRecentMessageIDs возвращает идентификаторы последних постов, новые первыми.
	ListRecentMessageIDs(ctx context.Context, channelID int64, limit int) ([]int, error)
	// ListMessageReactions возвращает реакции на пост; ErrNotFound, если поста нет.
	ListMessageReactions(ctx context.Context, channelID int64, messageID int) ([]Reaction, error)
}

// PenaltyStore хранит момент, до которого нельзя обращаться к платформе.
type PenaltyStore interface {
	PenaltyUntil(ctx context.Context) (time.Time, error)
	// ExtendPenalty продлевает штраф до until; более ранний срок не сокращает текущий.
	ExtendPenalty(ctx context.Context, until time.Time) error
}

// StopSignals передаёт запросы на остановку длительных операций между процессами.
type StopSignals interface {
	RequestStop(ctx context.Context, key string) error
	StopRequested(ctx context.Context, key string) (bool, error)
	ClearStop(ctx context.Context, key string) error
}

// SubscriberRepo хранит подписчиков каналов.
type SubscriberRepo interface {
	// AddSubscriber добавляет подписчика или возвращает ушедшего обратно.
	// created равен true, если запись создана впервые.
	AddSubscriber(ctx context.Context, channelID int64, m Member, at time.Time) (created bool, err error)
	MarkLeft(ctx context.Context, channelID, userID int64, at time.Time) error
	// TouchActivity обновляет время последней активности, добавляя неизвестного пользователя.
	TouchActivity(ctx context.Context, channelID int64, m Member, at time.Time) error
	// ListSubscribers возвращает все записи канала, включая отписавшихся.
	ListSubscribers(ctx context.Context, channelID int64) ([]SubscriberRecord, error)
	// ListActiveSubscribers возвращает текущих подписчиков; при activeWithin > 0
	// только проявлявших активность за этот период.
	ListActiveSubscribers(ctx context.Context, channelID int64, activeWithin time.Duration) ([]SubscriberRecord, error)
	ApplyTransitions(ctx context.Context, channelID int64, tr Transitions, at time.Time) (added, updated int, err error)
	SubscriberStats(ctx context.Context, channelID int64) (SubscriberStats, error)
	ClearSubscribers(ctx context.Context, channelID int64) (int, error)
	WasSubscriber(ctx context.Context, channelID, userID int64, at time.Time) (bool, error)
	CountSubscribersAt(ctx context.Context, channelID int64, at time.Time) (int, error)
}

// ChannelRepo хранит зарегистрированные каналы.
type ChannelRepo interface {
	UpsertChannel(ctx context.Context, info ChannelInfo, addedBy int64) (Channel, error)
	GetChannel(ctx context.Context, tgChannelID int64) (Channel, error)
	GetChannelByDiscussionGroup(ctx context.Context, chatID int64) (Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
}

// MailingRepo хранит рассылки и их прогресс.
type MailingRepo interface {
	CreateMailing(ctx context.Context, m Mailing) (Mailing, error)
	GetMailing(ctx context.Context, id int64) (Mailing, error)
	UpdateMailingProgress(ctx context.Context, id int64, status MailingStatus, stats MailingStats) error
}
