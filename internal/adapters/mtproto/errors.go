package mtproto

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotd/td/tgerr"

	"tg-channel-sync/internal/domain"
)

// offsetLimit ограничивает глубину, дальше которой Telegram не отдаёт участников.
const offsetLimit = 10000

var (
	blockedTypes     = []string{"USER_IS_BLOCKED", "YOU_BLOCKED_USER"}
	unavailableTypes = []string{"USER_DEACTIVATED", "USER_DEACTIVATED_BAN", "PEER_ID_INVALID", "INPUT_USER_DEACTIVATED", "USER_ID_INVALID"}
	permissionTypes  = []string{"CHAT_ADMIN_REQUIRED", "CHANNEL_PRIVATE", "CHAT_WRITE_FORBIDDEN", "USER_PRIVACY_RESTRICTED", "PRIVACY_PREMIUM_REQUIRED", "CHANNEL_INVALID"}
	notFoundTypes    = []string{"USER_NOT_PARTICIPANT", "MSG_ID_INVALID", "MESSAGE_ID_INVALID", "PARTICIPANT_ID_INVALID"}
)

// mapError переводит ошибки MTProto в доменные.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if wait, ok := tgerr.AsFloodWait(err); ok {
		if wait <= 0 {
			wait = time.Second
		}
		return &domain.ThrottleError{Wait: wait}
	}
	switch {
	case tgerr.Is(err, blockedTypes...):
		return fmt.Errorf("%s: %w", op, domain.ErrRecipientBlocked)
	case tgerr.Is(err, unavailableTypes...):
		return fmt.Errorf("%s: %w", op, domain.ErrRecipientUnavailable)
	case tgerr.Is(err, permissionTypes...):
		return fmt.Errorf("%s: %w", op, domain.ErrPermission)
	case tgerr.Is(err, notFoundTypes...):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if rpcErr, ok := tgerr.As(err); ok && rpcErr.Code == 403 {
		return fmt.Errorf("%s: %s: %w", op, rpcErr.Type, domain.ErrPermission)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrTransient, err)
}
