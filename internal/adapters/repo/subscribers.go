package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

const upsertSubscriberSQL = `
INSERT INTO channel_subscribers (channel_id, user_id, username, first_name, full_name, added_at)
VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), $6)
ON CONFLICT (channel_id, user_id) DO UPDATE
    SET username = EXCLUDED.username,
        first_name = EXCLUDED.first_name,
        full_name = EXCLUDED.full_name,
        added_at = CASE WHEN channel_subscribers.left_at IS NOT NULL THEN EXCLUDED.added_at ELSE channel_subscribers.added_at END,
        left_at = NULL
RETURNING (xmax = 0) AS inserted
`

const subscriberColumns = `channel_id, user_id, COALESCE(username,''), COALESCE(first_name,''), COALESCE(full_name,''), added_at, left_at, last_activity_at`

// AddSubscriber добавляет подписчика или возвращает отписавшегося.
func (p *Postgres) AddSubscriber(ctx context.Context, channelID int64, m domain.Member, at time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var inserted bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, upsertSubscriberSQL, channelID, m.UserID, m.Username, m.FirstName, m.FullName(), at).Scan(&inserted)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_upsert", "channel_subscribers", start, err)
	return inserted, err
}

// MarkLeft отмечает отписку. Повторная отметка не меняет дату.
func (p *Postgres) MarkLeft(ctx context.Context, channelID, userID int64, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE channel_subscribers SET left_at = $3
WHERE channel_id = $1 AND user_id = $2 AND left_at IS NULL
`, channelID, userID, at)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_mark_left", "channel_subscribers", start, err)
	return err
}

// TouchActivity обновляет время активности; неизвестный пользователь добавляется.
func (p *Postgres) TouchActivity(ctx context.Context, channelID int64, m domain.Member, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO channel_subscribers (channel_id, user_id, username, first_name, full_name, added_at, last_activity_at)
VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), $6, $6)
ON CONFLICT (channel_id, user_id) DO UPDATE
    SET last_activity_at = EXCLUDED.last_activity_at,
        username = COALESCE(EXCLUDED.username, channel_subscribers.username),
        first_name = COALESCE(EXCLUDED.first_name, channel_subscribers.first_name),
        full_name = COALESCE(EXCLUDED.full_name, channel_subscribers.full_name)
`, channelID, m.UserID, m.Username, m.FirstName, m.FullName(), at)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_touch", "channel_subscribers", start, err)
	return err
}

// ListSubscribers возвращает все записи канала.
func (p *Postgres) ListSubscribers(ctx context.Context, channelID int64) ([]domain.SubscriberRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+subscriberColumns+` FROM channel_subscribers WHERE channel_id = $1 ORDER BY added_at`, channelID)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_list", "channel_subscribers", start, err)
	if err != nil {
		return nil, err
	}
	return scanSubscribers(rows)
}

// ListActiveSubscribers возвращает текущих подписчиков, при необходимости только недавно активных.
func (p *Postgres) ListActiveSubscribers(ctx context.Context, channelID int64, activeWithin time.Duration) ([]domain.SubscriberRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var since sql.NullTime
	if activeWithin > 0 {
		since = sql.NullTime{Time: time.Now().Add(-activeWithin), Valid: true}
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+subscriberColumns+`
FROM channel_subscribers
WHERE channel_id = $1 AND left_at IS NULL
  AND ($2::timestamptz IS NULL OR last_activity_at >= $2)
ORDER BY added_at
`, channelID, since)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_list_active", "channel_subscribers", start, err)
	if err != nil {
		return nil, err
	}
	return scanSubscribers(rows)
}

// ApplyTransitions применяет изменения одной транзакцией.
func (p *Postgres) ApplyTransitions(ctx context.Context, channelID int64, tr domain.Transitions, at time.Time) (int, int, error) {
	if tr.Empty() {
		return 0, 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "channel_subscribers", start, err)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	joined := append(append([]domain.Member{}, tr.Add...), tr.Resubscribe...)
	for _, m := range joined {
		batch.Queue(upsertSubscriberSQL, channelID, m.UserID, m.Username, m.FirstName, m.FullName(), at)
	}
	for _, m := range tr.Update {
		batch.Queue(`
UPDATE channel_subscribers
SET username = NULLIF($3,''), first_name = NULLIF($4,''), full_name = NULLIF($5,'')
WHERE channel_id = $1 AND user_id = $2
`, channelID, m.UserID, m.Username, m.FirstName, m.FullName())
	}
	if len(tr.MarkLeft) > 0 {
		batch.Queue(`
UPDATE channel_subscribers SET left_at = $3
WHERE channel_id = $1 AND user_id = ANY($2) AND left_at IS NULL
`, channelID, tr.MarkLeft, at)
	}

	start = time.Now()
	br := tx.SendBatch(ctx, batch)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_send_batch", "channel_subscribers", start, nil)

	var added, updated int
	for range joined {
		var inserted bool
		if err := br.QueryRow().Scan(&inserted); err != nil {
			br.Close()
			return 0, 0, fmt.Errorf("добавление подписчика: %w", err)
		}
		added++
	}
	for range tr.Update {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, 0, fmt.Errorf("обновление профиля: %w", err)
		}
		updated += int(tag.RowsAffected())
	}
	if len(tr.MarkLeft) > 0 {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, 0, fmt.Errorf("отметка отписок: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, 0, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "channel_subscribers", start, err)
	if err != nil {
		return 0, 0, err
	}
	return added, updated, nil
}

// SubscriberStats возвращает агрегаты по подписчикам.
func (p *Postgres) SubscriberStats(ctx context.Context, channelID int64) (domain.SubscriberStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var stats domain.SubscriberStats
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*),
       count(*) FILTER (WHERE left_at IS NULL),
       count(*) FILTER (WHERE left_at IS NULL AND COALESCE(username,'') <> ''),
       count(*) FILTER (WHERE left_at IS NULL AND COALESCE(username,'') = '')
FROM channel_subscribers WHERE channel_id = $1
`, channelID).Scan(&stats.Total, &stats.Active, &stats.WithUsername, &stats.WithoutUsername)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_stats", "channel_subscribers", start, err)
	return stats, err
}

// ClearSubscribers удаляет все записи канала.
func (p *Postgres) ClearSubscribers(ctx context.Context, channelID int64) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM channel_subscribers WHERE channel_id = $1`, channelID)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_clear", "channel_subscribers", start, err)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// WasSubscriber проверяет, был ли пользователь подписан в момент at.
func (p *Postgres) WasSubscriber(ctx context.Context, channelID, userID int64, at time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var was bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (
    SELECT 1 FROM channel_subscribers
    WHERE channel_id = $1 AND user_id = $2 AND added_at <= $3 AND (left_at IS NULL OR left_at > $3)
)
`, channelID, userID, at).Scan(&was)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_was", "channel_subscribers", start, err)
	return was, err
}

// CountSubscribersAt возвращает количество подписчиков на момент at.
func (p *Postgres) CountSubscribersAt(ctx context.Context, channelID int64, at time.Time) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var count int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*) FROM channel_subscribers
WHERE channel_id = $1 AND added_at <= $2 AND (left_at IS NULL OR left_at > $2)
`, channelID, at).Scan(&count)
	metrics.ObserveNetworkRequest("postgres", "channel_subscribers_count_at", "channel_subscribers", start, err)
	return count, err
}

func scanSubscribers(rows pgx.Rows) ([]domain.SubscriberRecord, error) {
	defer rows.Close()
	var out []domain.SubscriberRecord
	for rows.Next() {
		var (
			rec      domain.SubscriberRecord
			left     sql.NullTime
			activity sql.NullTime
		)
		if err := rows.Scan(&rec.ChannelID, &rec.UserID, &rec.Username, &rec.FirstName, &rec.FullName, &rec.AddedAt, &left, &activity); err != nil {
			return nil, err
		}
		if left.Valid {
			t := left.Time
			rec.LeftAt = &t
		}
		if activity.Valid {
			t := activity.Time
			rec.LastActivityAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
