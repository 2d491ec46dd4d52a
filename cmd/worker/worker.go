package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-channel-sync/internal/adapters/bot"
	"tg-channel-sync/internal/adapters/telegram"
	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/usecase/channels"
	"tg-channel-sync/internal/usecase/mailing"
)

type syncService interface {
	SyncFull(ctx context.Context, channelID int64) (domain.ParsingStats, error)
	SyncIncremental(ctx context.Context, channelID int64) (domain.ParsingStats, error)
}

type mailingRunner interface {
	Run(ctx context.Context, mailingID int64) (domain.MailingStats, error)
}

type channelRegistrar interface {
	Register(ctx context.Context, channelID, addedBy int64) (domain.Channel, error)
}

type activityChecker interface {
	CheckUserActivity(ctx context.Context, channelID int64, userIDs []int64, checkReactions bool) (map[int64]domain.UserActivity, error)
	GetRecentMessageReactions(ctx context.Context, channelID int64, messageID int) (domain.MessageReactions, error)
}

type jobWorker struct {
	log      zerolog.Logger
	queue    domain.JobQueue
	statuses domain.JobStatusRepo
	channels domain.ChannelRepo
	sync     syncService
	mailings mailingRunner
	register channelRegistrar
	activity activityChecker
	bot      bot.Sender
	pause    time.Duration
}

const maxDeliveryAttempts = 5

type jobOutcome int

const (
	jobOutcomeCompleted jobOutcome = iota
	jobOutcomeRetry
)

func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			w.sleep(ctx)
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Str("cause", string(job.Cause)).
			Int64("channel", job.ChannelID).
			Logger()

		if job.ID == "" {
			jobLog.Error().Msg("worker: получена задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу без идентификатора")
			}
			continue
		}

		done, attempt, err := w.statuses.EnsureJob(ctx, job.ID)
		if err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось зарегистрировать задачу")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
			}
			w.sleep(ctx)
			continue
		}

		jobLog = jobLog.With().Int("attempt", attempt).Logger()

		if done {
			jobLog.Info().Msg("worker: задача уже выполнена, подтверждаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить ранее выполненную задачу")
			}
			continue
		}

		outcome := w.handleJob(ctx, job, jobLog)

		if outcome == jobOutcomeRetry && attempt < maxDeliveryAttempts {
			jobLog.Warn().Msg("worker: задача завершилась ошибкой, повторим позже")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось вернуть задачу после ошибки")
			}
			w.sleep(ctx)
			continue
		}

		if outcome == jobOutcomeRetry {
			jobLog.Error().Msg("worker: достигнут предел попыток, помечаем задачу как завершённую")
			w.notify(job.ChatID, "Задачу не удалось выполнить после нескольких попыток.")
		}

		if err := w.statuses.MarkJobDone(ctx, job.ID); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось пометить задачу выполненной")
			if ackErr := ack(false); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу после ошибки статуса")
			}
			w.sleep(ctx)
			continue
		}

		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}

func (w *jobWorker) handleJob(ctx context.Context, job domain.Job, jobLog zerolog.Logger) jobOutcome {
	switch job.Kind {
	case domain.JobSyncFull, domain.JobSyncIncremental:
		return w.handleSync(ctx, job, jobLog)
	case domain.JobMailing:
		return w.handleMailing(ctx, job, jobLog)
	case domain.JobRegister:
		return w.handleRegister(ctx, job, jobLog)
	case domain.JobActivity:
		return w.handleActivity(ctx, job, jobLog)
	default:
		jobLog.Error().Msg("worker: неизвестный тип задачи")
		return jobOutcomeCompleted
	}
}

func (w *jobWorker) handleSync(ctx context.Context, job domain.Job, jobLog zerolog.Logger) jobOutcome {
	channel, err := w.channels.GetChannel(ctx, job.ChannelID)
	if errors.Is(err, domain.ErrNotFound) {
		w.notify(job.ChatID, "Канал не зарегистрирован. Сначала выполните /register")
		return jobOutcomeCompleted
	}
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: не удалось получить канал")
		return jobOutcomeRetry
	}

	var stats domain.ParsingStats
	if job.Kind == domain.JobSyncFull {
		stats, err = w.sync.SyncFull(ctx, job.ChannelID)
	} else {
		stats, err = w.sync.SyncIncremental(ctx, job.ChannelID)
	}
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: синхронизация завершилась ошибкой")
		if retryable(err) {
			return jobOutcomeRetry
		}
		w.notify(job.ChatID, fmt.Sprintf("Не удалось синхронизировать канал: %s", describe(err)))
		return jobOutcomeCompleted
	}
	jobLog.Info().Int("processed", stats.TotalProcessed).Int("added", stats.Added).Msg("worker: синхронизация завершена")
	w.notify(job.ChatID, telegram.FormatParsingReport(bot.ChannelTitle(channel), stats))
	return jobOutcomeCompleted
}

func (w *jobWorker) handleMailing(ctx context.Context, job domain.Job, jobLog zerolog.Logger) jobOutcome {
	stats, err := w.mailings.Run(ctx, job.MailingID)
	switch {
	case errors.Is(err, mailing.ErrEmptyAudience):
		w.notify(job.ChatID, fmt.Sprintf("Рассылка #%d: нет получателей", job.MailingID))
		return jobOutcomeCompleted
	case errors.Is(err, domain.ErrNotFound):
		w.notify(job.ChatID, fmt.Sprintf("Рассылка #%d не найдена", job.MailingID))
		return jobOutcomeCompleted
	case err != nil && stats.Total == 0:
		jobLog.Error().Err(err).Msg("worker: рассылка не началась")
		return jobOutcomeRetry
	case err != nil:
		// рассылка прошла, итог не сохранился; повтор отправил бы сообщения второй раз
		jobLog.Error().Err(err).Msg("worker: не удалось сохранить итоги рассылки")
	}
	w.notify(job.ChatID, telegram.FormatMailingReport(job.MailingID, stats))
	return jobOutcomeCompleted
}

func (w *jobWorker) handleRegister(ctx context.Context, job domain.Job, jobLog zerolog.Logger) jobOutcome {
	channel, err := w.register.Register(ctx, job.ChannelID, job.RequestedBy)
	if err != nil {
		jobLog.Warn().Err(err).Msg("worker: канал не зарегистрирован")
		if retryable(err) {
			return jobOutcomeRetry
		}
		w.notify(job.ChatID, fmt.Sprintf("Не удалось добавить канал: %s", describe(err)))
		return jobOutcomeCompleted
	}
	text := fmt.Sprintf("Канал «%s» добавлен.", bot.ChannelTitle(channel))
	if channel.DiscussionGroupID != 0 {
		text += "\nКомментарии из группы обсуждения учитываются как активность."
	}
	w.notify(job.ChatID, text)
	return jobOutcomeCompleted
}

func (w *jobWorker) handleActivity(ctx context.Context, job domain.Job, jobLog zerolog.Logger) jobOutcome {
	if job.MessageID > 0 {
		reactions, err := w.activity.GetRecentMessageReactions(ctx, job.ChannelID, job.MessageID)
		if err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось получить реакции")
			if retryable(err) {
				return jobOutcomeRetry
			}
			w.notify(job.ChatID, fmt.Sprintf("Не удалось получить реакции: %s", describe(err)))
			return jobOutcomeCompleted
		}
		w.notify(job.ChatID, telegram.FormatReactions(job.MessageID, reactions))
		return jobOutcomeCompleted
	}

	result, err := w.activity.CheckUserActivity(ctx, job.ChannelID, job.UserIDs, true)
	if err != nil {
		jobLog.Error().Err(err).Msg("worker: проверка активности завершилась ошибкой")
		if retryable(err) {
			return jobOutcomeRetry
		}
		w.notify(job.ChatID, fmt.Sprintf("Не удалось проверить активность: %s", describe(err)))
		return jobOutcomeCompleted
	}
	w.notify(job.ChatID, telegram.FormatActivityReport(job.UserIDs, result))
	return jobOutcomeCompleted
}

func (w *jobWorker) notify(chatID int64, text string) {
	if chatID == 0 || w.bot == nil {
		return
	}
	bot.SendReport(w.bot, w.log, chatID, text)
}

func (w *jobWorker) sleep(ctx context.Context) {
	pause := w.pause
	if pause <= 0 {
		pause = time.Second
	}
	t := time.NewTimer(pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// retryable сообщает, имеет ли смысл вернуть задачу в очередь.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, domain.ErrRateLimited)
}

func describe(err error) string {
	switch {
	case errors.Is(err, channels.ErrNotAdmin), errors.Is(err, domain.ErrPermission):
		return "у аккаунта нет прав администратора в канале"
	case errors.Is(err, channels.ErrChannelMissing), errors.Is(err, domain.ErrNotFound):
		return "канал не найден"
	case errors.Is(err, domain.ErrUnsupportedScale):
		return "канал слишком большой для перечисления подписчиков"
	default:
		return err.Error()
	}
}
