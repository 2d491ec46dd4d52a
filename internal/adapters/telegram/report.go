package telegram

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tg-channel-sync/internal/domain"
)

// FormatParsingReport собирает отчёт о синхронизации подписчиков.
func FormatParsingReport(title string, stats domain.ParsingStats) string {
	var b strings.Builder
	header := "✅ Синхронизация завершена"
	if stats.Interrupted {
		header = "⏹ Синхронизация остановлена"
	}
	fmt.Fprintf(&b, "%s: %s\n\n", header, title)
	fmt.Fprintf(&b, "Обработано: %d\n", stats.TotalProcessed)
	fmt.Fprintf(&b, "С username: %d\n", stats.WithUsername)
	fmt.Fprintf(&b, "Без username: %d\n", stats.WithoutUsername)
	fmt.Fprintf(&b, "Ботов пропущено: %d\n", stats.BotsCount)
	fmt.Fprintf(&b, "Добавлено: %d\n", stats.Added)
	fmt.Fprintf(&b, "Обновлено: %d\n", stats.Updated)
	fmt.Fprintf(&b, "Длительность: %s", formatSeconds(stats.DurationSeconds()))
	return b.String()
}

// FormatMailingReport собирает отчёт о рассылке.
func FormatMailingReport(mailingID int64, stats domain.MailingStats) string {
	var b strings.Builder
	header := "✅ Рассылка завершена"
	if stats.Interrupted {
		header = "⏹ Рассылка остановлена"
	}
	fmt.Fprintf(&b, "%s (#%d)\n\n", header, mailingID)
	fmt.Fprintf(&b, "Получателей: %d\n", stats.Total)
	fmt.Fprintf(&b, "Доставлено: %d\n", stats.Sent)
	fmt.Fprintf(&b, "Заблокировали бота: %d\n", stats.Blocked)
	fmt.Fprintf(&b, "Ошибок: %d\n", stats.Failed)
	fmt.Fprintf(&b, "Успешность: %.1f%%\n", stats.SuccessRate())
	fmt.Fprintf(&b, "Длительность: %s", formatSeconds(stats.DurationSeconds()))
	return b.String()
}

// FormatSubscriberStats собирает сводку по подписчикам канала.
func FormatSubscriberStats(title string, stats domain.SubscriberStats) string {
	return fmt.Sprintf("📊 %s\n\nВсего записей: %d\nПодписаны сейчас: %d\nС username: %d\nБез username: %d",
		title, stats.Total, stats.Active, stats.WithUsername, stats.WithoutUsername)
}

// FormatEstimate описывает ожидаемую длительность рассылки.
func FormatEstimate(audience domain.Audience, recipients int, d time.Duration) string {
	return fmt.Sprintf("Аудитория «%s»: %d получателей\nОжидаемое время рассылки: %s",
		audience.Name, recipients, formatSeconds(d.Seconds()))
}

// FormatActivityReport перечисляет результаты проверки пользователей в порядке userIDs.
func FormatActivityReport(userIDs []int64, result map[int64]domain.UserActivity) string {
	var b strings.Builder
	b.WriteString("👤 Активность пользователей\n")
	for _, id := range userIDs {
		a, ok := result[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n%d", id)
		if a.Username != "" {
			fmt.Fprintf(&b, " @%s", a.Username)
		}
		b.WriteString(": ")
		switch {
		case a.Error != "":
			fmt.Fprintf(&b, "ошибка (%s)", a.Error)
			continue
		case a.InChannel:
			fmt.Fprintf(&b, "в канале, статус %s", a.Status)
		default:
			b.WriteString("не в канале")
		}
		if a.JoinedAt != nil {
			fmt.Fprintf(&b, ", с %s", a.JoinedAt.UTC().Format("2006-01-02"))
		}
		if a.LastReaction != nil {
			fmt.Fprintf(&b, ", последняя реакция %s на пост %d", a.LastReaction.Key, a.LastReaction.MessageID)
		}
	}
	return b.String()
}

// FormatReactions собирает сводку реакций на пост.
func FormatReactions(messageID int, r domain.MessageReactions) string {
	if !r.Found {
		return fmt.Sprintf("Пост %d не найден", messageID)
	}
	if len(r.ByKey) == 0 {
		return fmt.Sprintf("На пост %d пока нет реакций", messageID)
	}
	keys := make([]string, 0, len(r.ByKey))
	for k := range r.ByKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(r.ByKey[keys[i]]) != len(r.ByKey[keys[j]]) {
			return len(r.ByKey[keys[i]]) > len(r.ByKey[keys[j]])
		}
		return keys[i] < keys[j]
	})
	var b strings.Builder
	fmt.Fprintf(&b, "Реакции на пост %d\n", messageID)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n%s: %d", k, len(r.ByKey[k]))
	}
	return b.String()
}

func formatSeconds(sec float64) string {
	return (time.Duration(sec) * time.Second).Round(time.Second).String()
}
