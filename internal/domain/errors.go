package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrPermission — у клиента нет прав на операцию в канале (например, не администратор).
	ErrPermission = errors.New("недостаточно прав в канале")
	// ErrNotFound — сущность (канал, участник, сообщение) не найдена.
	ErrNotFound = errors.New("не найдено")
	// ErrRateLimited — ограничение частоты не снято после разрешённых повторов.
	ErrRateLimited = errors.New("превышен лимит запросов")
	// ErrTransient — временная сетевая или протокольная ошибка.
	ErrTransient = errors.New("временная ошибка сети")
	// ErrUnsupportedScale — перечисление упёрлось в жёсткий лимит платформы или тарифа.
	ErrUnsupportedScale = errors.New("размер канала превышает поддерживаемый лимит")
	// ErrRecipientBlocked — получатель заблокировал отправителя.
	ErrRecipientBlocked = errors.New("пользователь заблокировал отправителя")
	// ErrRecipientUnavailable — получатель удалён, деактивирован или неизвестен.
	ErrRecipientUnavailable = errors.New("пользователь недоступен")
)

// ThrottleError описывает требование платформы подождать перед следующим запросом.
type ThrottleError struct {
	Wait time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("требуется ожидание %s", e.Wait)
}

// Is позволяет проверять троттлинг через errors.Is(err, ErrRateLimited).
func (e *ThrottleError) Is(target error) bool {
	return target == ErrRateLimited
}

// AsThrottle возвращает длительность штрафного ожидания, если err вызван троттлингом.
func AsThrottle(err error) (time.Duration, bool) {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te.Wait, true
	}
	return 0, false
}
