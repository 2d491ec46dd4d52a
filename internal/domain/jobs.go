package domain

import (
	"context"
	"time"
)

// JobKind описывает тип фоновой задачи.
type JobKind string

const (
	// JobSyncFull — полная синхронизация подписчиков с отметкой ушедших.
	JobSyncFull JobKind = "sync_full"
	// JobSyncIncremental — поиск новых и изменившихся подписчиков.
	JobSyncIncremental JobKind = "sync_incremental"
	// JobMailing — рассылка по подписчикам канала.
	JobMailing JobKind = "mailing"
	// JobRegister — проверка прав аккаунта и регистрация канала.
	JobRegister JobKind = "register_channel"
	// JobActivity — проверка членства и реакций отдельных пользователей или поста.
	JobActivity JobKind = "activity_check"
)

// JobCause описывает источник задачи.
type JobCause string

const (
	JobCauseManual    JobCause = "manual"
	JobCauseScheduled JobCause = "scheduled"
)

// Job описывает задачу для воркера.
type Job struct {
	ID          string    `json:"job_id,omitempty"`
	Kind        JobKind   `json:"kind"`
	ChannelID   int64     `json:"channel_id"`
	MailingID   int64     `json:"mailing_id,omitempty"`
	UserIDs     []int64   `json:"user_ids,omitempty"`
	MessageID   int       `json:"message_id,omitempty"`
	RequestedBy int64     `json:"requested_by,omitempty"`
	ChatID      int64     `json:"chat_id,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
	Cause       JobCause  `json:"cause"`
}

// JobQueue описывает очередь задач.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	Receive(ctx context.Context) (Job, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error

// JobStatusRepo отвечает за идемпотентную обработку задач.
type JobStatusRepo interface {
	// EnsureJob регистрирует попытку обработки и возвращает признак завершения
	// и номер текущей попытки.
	EnsureJob(ctx context.Context, jobID string) (done bool, attempt int, err error)
	MarkJobDone(ctx context.Context, jobID string) error
}
