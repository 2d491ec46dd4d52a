package mtproto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"

	"tg-channel-sync/internal/domain"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"blocked", tgerr.New(400, "USER_IS_BLOCKED"), domain.ErrRecipientBlocked},
		{"deactivated", tgerr.New(400, "USER_DEACTIVATED"), domain.ErrRecipientUnavailable},
		{"peer", tgerr.New(400, "PEER_ID_INVALID"), domain.ErrRecipientUnavailable},
		{"admin", tgerr.New(400, "CHAT_ADMIN_REQUIRED"), domain.ErrPermission},
		{"private", tgerr.New(406, "CHANNEL_PRIVATE"), domain.ErrPermission},
		{"forbidden", tgerr.New(403, "SOMETHING_NEW"), domain.ErrPermission},
		{"not participant", tgerr.New(400, "USER_NOT_PARTICIPANT"), domain.ErrNotFound},
		{"message", tgerr.New(400, "MSG_ID_INVALID"), domain.ErrNotFound},
		{"network", errors.New("connection reset"), domain.ErrTransient},
	}
	for _, tc := range cases {
		got := mapError("op", tc.err)
		if !errors.Is(got, tc.want) {
			t.Fatalf("%s: ожидали %v, получили %v", tc.name, tc.want, got)
		}
	}
}

func TestMapErrorFloodWait(t *testing.T) {
	err := mapError("op", tgerr.New(420, "FLOOD_WAIT_17"))
	wait, ok := domain.AsThrottle(err)
	if !ok {
		t.Fatalf("ожидали троттлинг, получили %v", err)
	}
	if wait != 17*time.Second {
		t.Fatalf("ожидали 17s, получили %s", wait)
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("троттлинг должен совпадать с ErrRateLimited")
	}
}

func TestMapErrorKeepsContext(t *testing.T) {
	if got := mapError("op", context.Canceled); !errors.Is(got, context.Canceled) {
		t.Fatalf("ожидали context.Canceled, получили %v", got)
	}
	if mapError("op", nil) != nil {
		t.Fatalf("nil должен остаться nil")
	}
}
