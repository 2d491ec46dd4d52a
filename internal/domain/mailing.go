package domain

import (
	"strings"
	"time"
)

// MailingStatus описывает этап жизненного цикла рассылки.
type MailingStatus string

const (
	MailingStatusPending   MailingStatus = "pending"
	MailingStatusSending   MailingStatus = "sending"
	MailingStatusDone      MailingStatus = "done"
	MailingStatusCancelled MailingStatus = "cancelled"
)

// Finished сообщает, что рассылка завершена.
func (s MailingStatus) Finished() bool {
	return s == MailingStatusDone || s == MailingStatusCancelled
}

// Mailing описывает рассылку по подписчикам канала.
type Mailing struct {
	ID         int64
	ChannelID  int64
	Text       string
	Audience   AudienceKind
	Status     MailingStatus
	CreatedBy  int64
	Stats      MailingStats
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// AudienceKind задаёт сегмент подписчиков для рассылки.
type AudienceKind string

const (
	AudienceAll      AudienceKind = "all"
	AudienceActive30 AudienceKind = "active_30d"
)

// Audience описывает, как отбирать получателей.
type Audience struct {
	Kind AudienceKind
	Name string
	// ActiveWithin ограничивает выборку недавно активными, 0 снимает ограничение.
	ActiveWithin time.Duration
}

var audiences = map[AudienceKind]Audience{
	AudienceAll: {
		Kind: AudienceAll,
		Name: "Все подписчики",
	},
	AudienceActive30: {
		Kind:         AudienceActive30,
		Name:         "Активные за 30 дней",
		ActiveWithin: 30 * 24 * time.Hour,
	},
}

// AudienceFor возвращает сегмент по названию. Неизвестное название означает всех подписчиков.
func AudienceFor(kind AudienceKind) Audience {
	if a, ok := audiences[AudienceKind(strings.ToLower(strings.TrimSpace(string(kind))))]; ok {
		return a
	}
	return audiences[AudienceAll]
}
