package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-channel-sync/internal/adapters/telegram"
	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
	"tg-channel-sync/internal/usecase/channels"
	"tg-channel-sync/internal/usecase/mailing"
)

// Sender отправляет ответы через Bot API.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Members принимает живые события о подписчиках.
type Members interface {
	MemberJoined(ctx context.Context, channelID int64, m domain.Member) error
	MemberLeft(ctx context.Context, channelID, userID int64) error
	TouchActivity(ctx context.Context, channelID int64, m domain.Member) error
	Stats(ctx context.Context, channelID int64) (domain.SubscriberStats, error)
	RequestStop(ctx context.Context, channelID int64) error
}

// Channels находит зарегистрированные каналы.
type Channels interface {
	List(ctx context.Context) ([]domain.Channel, error)
	ResolveDiscussion(ctx context.Context, chatID int64) (domain.Channel, bool, error)
}

// Mailings создаёт рассылки и управляет ими.
type Mailings interface {
	Create(ctx context.Context, channelID int64, text string, audience domain.AudienceKind, createdBy int64) (domain.Mailing, error)
	Estimate(ctx context.Context, channelID int64, audience domain.AudienceKind) (int, time.Duration, error)
	RequestStop(ctx context.Context, mailingID int64) error
}

// Handler обслуживает вебхук бота: события каналов, комментарии и команды администраторов.
type Handler struct {
	bot      Sender
	log      zerolog.Logger
	members  Members
	channels Channels
	mailings Mailings
	jobs     domain.JobQueue
	admins   map[int64]struct{}
	now      func() time.Time
}

// NewHandler создаёт обработчик.
func NewHandler(bot Sender, log zerolog.Logger, members Members, channelsUC Channels, mailings Mailings, jobs domain.JobQueue, admins map[int64]struct{}) *Handler {
	return &Handler{
		bot:      bot,
		log:      log.With().Str("component", "bot").Logger(),
		members:  members,
		channels: channelsUC,
		mailings: mailings,
		jobs:     jobs,
		admins:   admins,
		now:      time.Now,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.ChatMember != nil:
		h.handleChatMember(ctx, upd.ChatMember)
	case upd.Message != nil && upd.Message.Chat != nil && upd.Message.Chat.IsPrivate():
		h.handleCommand(ctx, upd.Message)
	case upd.Message != nil:
		h.handleDiscussion(ctx, upd.Message)
	}
}

// handleChatMember переводит смену статуса участника канала в подписку или отписку.
func (h *Handler) handleChatMember(ctx context.Context, upd *tgbotapi.ChatMemberUpdated) {
	if upd.Chat.Type != "channel" || upd.NewChatMember.User == nil {
		return
	}
	channelID, ok := ChannelIDFromChat(upd.Chat.ID)
	if !ok {
		return
	}
	user := upd.NewChatMember.User
	wasMember := isMemberStatus(upd.OldChatMember)
	isMember := isMemberStatus(upd.NewChatMember)
	log := h.log.With().Int64("channel", channelID).Int64("user", user.ID).Logger()

	switch {
	case isMember && !wasMember:
		m := memberFromUser(user)
		m.Status = domain.MemberStatus(upd.NewChatMember.Status)
		m.JoinedAt = time.Unix(int64(upd.Date), 0).UTC()
		if err := h.members.MemberJoined(ctx, channelID, m); err != nil {
			log.Error().Err(err).Msg("bot: не удалось сохранить подписку")
			return
		}
		log.Debug().Msg("bot: новый подписчик")
	case wasMember && !isMember:
		if err := h.members.MemberLeft(ctx, channelID, user.ID); err != nil {
			log.Error().Err(err).Msg("bot: не удалось сохранить отписку")
			return
		}
		log.Debug().Msg("bot: подписчик ушёл")
	}
}

// handleDiscussion отмечает активность автора комментария в группе обсуждения канала.
func (h *Handler) handleDiscussion(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot || msg.Chat == nil {
		return
	}
	groupID, ok := ChannelIDFromChat(msg.Chat.ID)
	if !ok {
		return
	}
	channel, found, err := h.channels.ResolveDiscussion(ctx, groupID)
	if err != nil {
		h.log.Error().Err(err).Int64("chat", msg.Chat.ID).Msg("bot: не удалось найти канал обсуждения")
		return
	}
	if !found {
		return
	}
	if err := h.members.TouchActivity(ctx, channel.TGChannelID, memberFromUser(msg.From)); err != nil {
		h.log.Error().Err(err).Int64("channel", channel.TGChannelID).Msg("bot: не удалось обновить активность")
	}
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if _, ok := h.admins[msg.From.ID]; !ok {
		h.reply(msg.Chat.ID, "Бот доступен только администраторам.")
		return
	}
	chatID := msg.Chat.ID
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		h.reply(chatID, helpMessage)
	case "channels":
		h.handleChannels(ctx, chatID)
	case "register":
		h.handleRegister(ctx, chatID, msg.From.ID, args)
	case "sync":
		h.handleSync(ctx, chatID, msg.From.ID, args)
	case "stats":
		h.handleStats(ctx, chatID, args)
	case "estimate":
		h.handleEstimate(ctx, chatID, args)
	case "mail":
		h.handleMail(ctx, chatID, msg.From.ID, msg.Text)
	case "stop":
		h.handleStop(ctx, chatID, args)
	case "stopsync":
		h.handleStopSync(ctx, chatID, args)
	case "activity":
		h.handleActivity(ctx, chatID, msg.From.ID, args)
	case "reactions":
		h.handleReactions(ctx, chatID, msg.From.ID, args)
	default:
		h.reply(chatID, "Неизвестная команда. Используйте /help")
	}
}

func (h *Handler) handleChannels(ctx context.Context, chatID int64) {
	list, err := h.channels.List(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("bot: не удалось получить каналы")
		h.reply(chatID, "Не удалось получить список каналов. Попробуйте позже")
		return
	}
	if len(list) == 0 {
		h.reply(chatID, "Каналов пока нет. Добавьте канал командой /register <id>")
		return
	}
	var b strings.Builder
	for i, ch := range list {
		fmt.Fprintf(&b, "%d. %s (%d)", i+1, ChannelTitle(ch), ch.TGChannelID)
		if ch.DiscussionGroupID != 0 {
			b.WriteString(" 💬")
		}
		b.WriteString("\n")
	}
	h.reply(chatID, b.String())
}

func (h *Handler) handleRegister(ctx context.Context, chatID, userID int64, args []string) {
	channelID, ok := h.channelArg(chatID, args, "/register <id канала>")
	if !ok {
		return
	}
	h.enqueue(ctx, chatID, domain.Job{Kind: domain.JobRegister, ChannelID: channelID, RequestedBy: userID},
		"Проверяю права аккаунта в канале, пришлю результат.")
}

func (h *Handler) handleSync(ctx context.Context, chatID, userID int64, args []string) {
	channelID, ok := h.channelArg(chatID, args, "/sync <id канала> [full]")
	if !ok {
		return
	}
	kind := domain.JobSyncIncremental
	if len(args) > 1 && strings.EqualFold(args[1], "full") {
		kind = domain.JobSyncFull
	}
	h.enqueue(ctx, chatID, domain.Job{Kind: kind, ChannelID: channelID, RequestedBy: userID},
		fmt.Sprintf("Синхронизация поставлена в очередь. Отчёт придёт по завершении. Остановить: /stopsync %s", args[0]))
}

func (h *Handler) handleStopSync(ctx context.Context, chatID int64, args []string) {
	channelID, ok := h.channelArg(chatID, args, "/stopsync <id канала>")
	if !ok {
		return
	}
	if err := h.members.RequestStop(ctx, channelID); err != nil {
		h.log.Error().Err(err).Int64("channel", channelID).Msg("bot: не удалось остановить синхронизацию")
		h.reply(chatID, "Не удалось передать сигнал остановки. Попробуйте позже")
		return
	}
	h.reply(chatID, "Синхронизация будет остановлена после текущей страницы. Отписки при этом не отмечаются.")
}

func (h *Handler) handleStats(ctx context.Context, chatID int64, args []string) {
	channelID, ok := h.channelArg(chatID, args, "/stats <id канала>")
	if !ok {
		return
	}
	stats, err := h.members.Stats(ctx, channelID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel", channelID).Msg("bot: не удалось получить статистику")
		h.reply(chatID, "Не удалось получить статистику. Попробуйте позже")
		return
	}
	h.reply(chatID, telegram.FormatSubscriberStats(strconv.FormatInt(channelID, 10), stats))
}

func (h *Handler) handleEstimate(ctx context.Context, chatID int64, args []string) {
	channelID, ok := h.channelArg(chatID, args, "/estimate <id канала> [all|active_30d]")
	if !ok {
		return
	}
	audience := domain.AudienceFor(audienceArg(args))
	count, eta, err := h.mailings.Estimate(ctx, channelID, audience.Kind)
	if err != nil {
		h.log.Error().Err(err).Int64("channel", channelID).Msg("bot: не удалось оценить рассылку")
		h.reply(chatID, "Не удалось оценить рассылку. Попробуйте позже")
		return
	}
	h.reply(chatID, telegram.FormatEstimate(audience, count, eta))
}

// handleMail ожидает формат "/mail <id канала> [сегмент]" и текст со следующей строки.
func (h *Handler) handleMail(ctx context.Context, chatID, userID int64, text string) {
	header, body, _ := strings.Cut(text, "\n")
	args := strings.Fields(header)
	if len(args) > 0 {
		args = args[1:]
	}
	channelID, ok := h.channelArg(chatID, args, "/mail <id канала> [all|active_30d]\nтекст рассылки")
	if !ok {
		return
	}
	audience := domain.AudienceFor(audienceArg(args))
	m, err := h.mailings.Create(ctx, channelID, body, audience.Kind, userID)
	if err != nil {
		if errors.Is(err, mailing.ErrEmptyText) {
			h.reply(chatID, "Текст рассылки пуст. Напишите его со следующей строки после команды.")
			return
		}
		h.log.Error().Err(err).Int64("channel", channelID).Msg("bot: не удалось создать рассылку")
		h.reply(chatID, "Не удалось создать рассылку. Попробуйте позже")
		return
	}
	h.enqueue(ctx, chatID, domain.Job{Kind: domain.JobMailing, ChannelID: channelID, MailingID: m.ID, RequestedBy: userID},
		fmt.Sprintf("Рассылка #%d (%s) поставлена в очередь. Остановить: /stop %d", m.ID, audience.Name, m.ID))
}

func (h *Handler) handleStop(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		h.reply(chatID, "Использование: /stop <id рассылки>")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		h.reply(chatID, "Некорректный идентификатор рассылки")
		return
	}
	if err := h.mailings.RequestStop(ctx, id); err != nil {
		h.log.Error().Err(err).Int64("mailing", id).Msg("bot: не удалось остановить рассылку")
		h.reply(chatID, "Не удалось передать сигнал остановки. Попробуйте позже")
		return
	}
	h.reply(chatID, fmt.Sprintf("Рассылка #%d будет остановлена после текущего сообщения.", id))
}

func (h *Handler) handleActivity(ctx context.Context, chatID, userID int64, args []string) {
	channelID, ok := h.channelArg(chatID, args, "/activity <id канала> <id пользователя> [...]")
	if !ok {
		return
	}
	var ids []int64
	for _, raw := range args[1:] {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.reply(chatID, fmt.Sprintf("Некорректный идентификатор пользователя: %s", raw))
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		h.reply(chatID, "Укажите хотя бы одного пользователя")
		return
	}
	h.enqueue(ctx, chatID, domain.Job{Kind: domain.JobActivity, ChannelID: channelID, UserIDs: ids, RequestedBy: userID},
		"Проверка активности поставлена в очередь.")
}

func (h *Handler) handleReactions(ctx context.Context, chatID, userID int64, args []string) {
	channelID, ok := h.channelArg(chatID, args, "/reactions <id канала> <id поста>")
	if !ok {
		return
	}
	if len(args) < 2 {
		h.reply(chatID, "Использование: /reactions <id канала> <id поста>")
		return
	}
	messageID, err := strconv.Atoi(args[1])
	if err != nil || messageID <= 0 {
		h.reply(chatID, "Некорректный идентификатор поста")
		return
	}
	h.enqueue(ctx, chatID, domain.Job{Kind: domain.JobActivity, ChannelID: channelID, MessageID: messageID, RequestedBy: userID},
		"Сбор реакций поставлен в очередь.")
}

func (h *Handler) enqueue(ctx context.Context, chatID int64, job domain.Job, ok string) {
	job.ID = uuid.NewString()
	job.ChatID = chatID
	job.RequestedAt = h.now().UTC()
	job.Cause = domain.JobCauseManual
	if err := h.jobs.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Str("kind", string(job.Kind)).Int64("channel", job.ChannelID).Msg("bot: не удалось поставить задачу в очередь")
		h.reply(chatID, "Не удалось поставить задачу в очередь. Попробуйте позже")
		return
	}
	h.reply(chatID, ok)
}

func (h *Handler) channelArg(chatID int64, args []string, usage string) (int64, bool) {
	if len(args) == 0 {
		h.reply(chatID, "Использование: "+usage)
		return 0, false
	}
	id, err := channels.ParseChannelRef(args[0])
	if err != nil {
		h.reply(chatID, "Некорректный идентификатор канала. Пример: -1001234567890")
		return 0, false
	}
	return id, true
}

// reply отправляет ответ, разбивая длинный текст на части.
func (h *Handler) reply(chatID int64, text string) {
	SendReport(h.bot, h.log, chatID, text)
}

// SendReport отправляет отчёт в чат, разбивая его по лимиту Bot API.
func SendReport(bot Sender, log zerolog.Logger, chatID int64, text string) {
	for _, part := range telegram.SplitMessage(text) {
		start := time.Now()
		_, err := bot.Send(tgbotapi.NewMessage(chatID, part))
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", "reports", start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			log.Error().Err(err).Int64("chat", chatID).Msg("bot: не удалось отправить сообщение")
			return
		}
	}
}

// ChannelIDFromChat переводит идентификатор чата Bot API (-100…) в идентификатор MTProto.
func ChannelIDFromChat(chatID int64) (int64, bool) {
	const shift = 1_000_000_000_000
	if chatID >= -shift {
		return 0, false
	}
	return -chatID - shift, true
}

func isMemberStatus(m tgbotapi.ChatMember) bool {
	switch m.Status {
	case "creator", "administrator", "member":
		return true
	case "restricted":
		return m.IsMember
	default:
		return false
	}
}

func memberFromUser(u *tgbotapi.User) domain.Member {
	return domain.Member{
		UserID:    u.ID,
		Username:  u.UserName,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsBot:     u.IsBot,
	}
}

func audienceArg(args []string) domain.AudienceKind {
	if len(args) > 1 {
		return domain.AudienceKind(args[1])
	}
	return domain.AudienceAll
}

// ChannelTitle возвращает название канала для сообщений администратору.
func ChannelTitle(ch domain.Channel) string {
	if ch.Title != "" {
		return ch.Title
	}
	if ch.Username != "" {
		return "@" + ch.Username
	}
	return strconv.FormatInt(ch.TGChannelID, 10)
}

const helpMessage = `Команды администратора:
/channels — зарегистрированные каналы
/register <id> — подключить канал (аккаунт должен быть администратором)
/sync <id> [full] — синхронизировать подписчиков
/stats <id> — статистика подписчиков
/estimate <id> [all|active_30d] — оценить время рассылки
/mail <id> [all|active_30d] — рассылка, текст со следующей строки
/stop <id рассылки> — остановить рассылку
/stopsync <id> — остановить синхронизацию канала
/activity <id> <user id> [...] — членство и последние реакции пользователей
/reactions <id> <id поста> — реакции на пост`
