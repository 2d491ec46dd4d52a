package domain

import "time"

// ParsingStats описывает итог одного прохода синхронизации подписчиков.
type ParsingStats struct {
	TotalProcessed  int
	WithUsername    int
	WithoutUsername int
	BotsCount       int
	Added           int
	Updated         int
	Interrupted     bool
	StartTime       time.Time
	EndTime         time.Time
}

// DurationSeconds возвращает длительность прохода в секундах, не меньше нуля.
func (s ParsingStats) DurationSeconds() float64 {
	return durationSeconds(s.StartTime, s.EndTime)
}

// WithStored возвращает копию статистики с результатами записи в хранилище.
func (s ParsingStats) WithStored(added, updated int) ParsingStats {
	s.Added = added
	s.Updated = updated
	return s
}

// MailingStats описывает итог одной рассылки. Total считает только получателей,
// до которых дошла очередь: Sent+Blocked+Failed == Total.
type MailingStats struct {
	Total       int
	Sent        int
	Blocked     int
	Failed      int
	Interrupted bool
	StartTime   time.Time
	EndTime     time.Time
}

// DurationSeconds возвращает длительность рассылки в секундах, не меньше нуля.
func (s MailingStats) DurationSeconds() float64 {
	return durationSeconds(s.StartTime, s.EndTime)
}

// SuccessRate возвращает долю успешных отправок в процентах.
func (s MailingStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Sent) / float64(s.Total) * 100
}

// Record учитывает исход одной попытки.
func (s *MailingStats) Record(o DeliveryOutcome) {
	s.Total++
	switch o.Kind {
	case OutcomeSent:
		s.Sent++
	case OutcomeBlocked:
		s.Blocked++
	default:
		s.Failed++
	}
}

func durationSeconds(start, end time.Time) float64 {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Seconds()
}
