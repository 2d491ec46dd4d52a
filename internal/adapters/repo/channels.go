package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

const channelColumns = `id, tg_channel_id, title, COALESCE(username,''), COALESCE(discussion_group_id,0), added_by, created_at`

// UpsertChannel сохраняет канал; повторная регистрация обновляет метаданные.
func (p *Postgres) UpsertChannel(ctx context.Context, info domain.ChannelInfo, addedBy int64) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var discussion sql.NullInt64
	if info.LinkedChatID != 0 {
		discussion = sql.NullInt64{Int64: info.LinkedChatID, Valid: true}
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO channels (tg_channel_id, title, username, discussion_group_id, added_by)
VALUES ($1, $2, NULLIF($3,''), $4, $5)
ON CONFLICT (tg_channel_id) DO UPDATE
    SET title = EXCLUDED.title,
        username = EXCLUDED.username,
        discussion_group_id = EXCLUDED.discussion_group_id,
        updated_at = now()
RETURNING `+channelColumns, info.ID, info.Title, info.Username, discussion, addedBy)
	ch, err := scanChannel(row)
	metrics.ObserveNetworkRequest("postgres", "channels_upsert", "channels", start, err)
	return ch, err
}

// GetChannel возвращает канал по идентификатору Telegram.
func (p *Postgres) GetChannel(ctx context.Context, tgChannelID int64) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE tg_channel_id = $1`, tgChannelID))
	metrics.ObserveNetworkRequest("postgres", "channels_get", "channels", start, err)
	return ch, notFound(err)
}

// GetChannelByDiscussionGroup ищет канал по привязанной группе обсуждения.
func (p *Postgres) GetChannelByDiscussionGroup(ctx context.Context, chatID int64) (domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	ch, err := scanChannel(p.pool.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE discussion_group_id = $1 LIMIT 1`, chatID))
	metrics.ObserveNetworkRequest("postgres", "channels_get_by_discussion", "channels", start, err)
	return ch, notFound(err)
}

// ListChannels возвращает все зарегистрированные каналы.
func (p *Postgres) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+channelColumns+` FROM channels ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func scanChannel(row pgx.Row) (domain.Channel, error) {
	var ch domain.Channel
	err := row.Scan(&ch.ID, &ch.TGChannelID, &ch.Title, &ch.Username, &ch.DiscussionGroupID, &ch.AddedBy, &ch.CreatedAt)
	return ch, err
}
