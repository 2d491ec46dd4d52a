package telegram

import (
	"strings"
	"testing"
	"time"

	"tg-channel-sync/internal/domain"
)

func TestFormatMailingReport(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	stats := domain.MailingStats{Total: 4, Sent: 3, Failed: 1, StartTime: start, EndTime: start.Add(90 * time.Second)}

	text := FormatMailingReport(7, stats)
	for _, want := range []string{"#7", "Доставлено: 3", "Ошибок: 1", "75.0%", "1m30s"} {
		if !strings.Contains(text, want) {
			t.Fatalf("ожидали %q в отчёте:\n%s", want, text)
		}
	}

	stats.Interrupted = true
	if !strings.Contains(FormatMailingReport(7, stats), "остановлена") {
		t.Fatalf("ожидали пометку об остановке")
	}
}

func TestFormatParsingReport(t *testing.T) {
	text := FormatParsingReport("News", domain.ParsingStats{TotalProcessed: 10, BotsCount: 2, Added: 5})
	if !strings.Contains(text, "News") || !strings.Contains(text, "Ботов пропущено: 2") || !strings.Contains(text, "Добавлено: 5") {
		t.Fatalf("неожиданный отчёт:\n%s", text)
	}
}

func TestFormatEstimate(t *testing.T) {
	text := FormatEstimate(domain.AudienceFor(domain.AudienceAll), 100, 200*time.Second)
	if !strings.Contains(text, "100 получателей") || !strings.Contains(text, "3m20s") {
		t.Fatalf("неожиданная оценка: %s", text)
	}
}

func TestFormatActivityReport(t *testing.T) {
	joined := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	result := map[int64]domain.UserActivity{
		1: {InChannel: true, Status: domain.MemberStatusMember, Username: "ann", JoinedAt: &joined,
			LastReaction: &domain.Reaction{Key: "👍", MessageID: 30}},
		2: {},
		3: {Error: "нет доступа"},
	}
	text := FormatActivityReport([]int64{1, 2, 3, 4}, result)
	for _, want := range []string{"1 @ann: в канале", "с 2024-03-05", "👍 на пост 30", "2: не в канале", "3: ошибка (нет доступа)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("ожидали %q в отчёте:\n%s", want, text)
		}
	}
	if strings.Contains(text, "\n4") {
		t.Fatalf("пользователь без результата не должен попасть в отчёт:\n%s", text)
	}
}

func TestFormatReactions(t *testing.T) {
	if text := FormatReactions(5, domain.MessageReactions{}); !strings.Contains(text, "не найден") {
		t.Fatalf("ожидали сообщение об отсутствии поста, получили %q", text)
	}
	if text := FormatReactions(5, domain.MessageReactions{Found: true}); !strings.Contains(text, "нет реакций") {
		t.Fatalf("ожидали сообщение об отсутствии реакций, получили %q", text)
	}
	text := FormatReactions(5, domain.MessageReactions{Found: true, ByKey: map[string][]int64{"❤": {1}, "👍": {1, 2}}})
	if strings.Index(text, "👍: 2") > strings.Index(text, "❤: 1") || strings.Index(text, "❤: 1") < 0 {
		t.Fatalf("реакции должны быть отсортированы по убыванию:\n%s", text)
	}
}
