package delivery

import (
	"context"
	"errors"

	"tg-channel-sync/internal/domain"
)

// Причины неуспешной доставки.
const (
	ReasonBlocked     = "blocked"
	ReasonDeactivated = "deactivated"
	ReasonPrivate     = "private"
	ReasonRateLimited = "rate-limited"
	ReasonInvalid     = "invalid recipient or text"
	ReasonCancelled   = "cancelled"
)

// Classify переводит результат отправки в терминальный исход.
// Троттлинг сюда попадает только после исчерпания повторов.
func Classify(err error) domain.DeliveryOutcome {
	switch {
	case err == nil:
		return domain.Sent()
	case errors.Is(err, domain.ErrRecipientBlocked):
		return domain.Blocked(ReasonBlocked)
	case errors.Is(err, domain.ErrRecipientUnavailable), errors.Is(err, domain.ErrNotFound):
		return domain.Failed(ReasonDeactivated)
	case errors.Is(err, domain.ErrPermission):
		return domain.Failed(ReasonPrivate)
	case errors.Is(err, domain.ErrRateLimited):
		return domain.Failed(ReasonRateLimited)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.Failed(ReasonCancelled)
	default:
		return domain.Failed(err.Error())
	}
}
