package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-channel-sync/internal/domain"
	"tg-channel-sync/internal/infra/metrics"
)

const mailingColumns = `id, channel_id, text, audience, status, created_by, total, sent, blocked, failed, started_at, created_at, finished_at`

// CreateMailing сохраняет новую рассылку.
func (p *Postgres) CreateMailing(ctx context.Context, m domain.Mailing) (domain.Mailing, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if m.Status == "" {
		m.Status = domain.MailingStatusPending
	}
	if m.Audience == "" {
		m.Audience = domain.AudienceAll
	}

	start := time.Now()
	created, err := scanMailing(p.pool.QueryRow(ctx, `
INSERT INTO mailings (channel_id, text, audience, status, created_by)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+mailingColumns, m.ChannelID, m.Text, string(m.Audience), string(m.Status), m.CreatedBy))
	metrics.ObserveNetworkRequest("postgres", "mailings_insert", "mailings", start, err)
	return created, err
}

// GetMailing возвращает рассылку по идентификатору.
func (p *Postgres) GetMailing(ctx context.Context, id int64) (domain.Mailing, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	m, err := scanMailing(p.pool.QueryRow(ctx, `SELECT `+mailingColumns+` FROM mailings WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "mailings_get", "mailings", start, err)
	return m, notFound(err)
}

// UpdateMailingProgress сохраняет статус и счётчики рассылки.
func (p *Postgres) UpdateMailingProgress(ctx context.Context, id int64, status domain.MailingStatus, stats domain.MailingStats) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var started, finished sql.NullTime
	if !stats.StartTime.IsZero() {
		started = sql.NullTime{Time: stats.StartTime, Valid: true}
	}
	if status.Finished() {
		end := stats.EndTime
		if end.IsZero() {
			end = time.Now()
		}
		finished = sql.NullTime{Time: end, Valid: true}
	}

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE mailings
SET status = $2, total = $3, sent = $4, blocked = $5, failed = $6,
    started_at = COALESCE(started_at, $7),
    finished_at = $8
WHERE id = $1
`, id, string(status), stats.Total, stats.Sent, stats.Blocked, stats.Failed, started, finished)
	metrics.ObserveNetworkRequest("postgres", "mailings_update_progress", "mailings", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scanMailing(row pgx.Row) (domain.Mailing, error) {
	var (
		m        domain.Mailing
		audience string
		status   string
		started  sql.NullTime
		finished sql.NullTime
	)
	err := row.Scan(&m.ID, &m.ChannelID, &m.Text, &audience, &status, &m.CreatedBy,
		&m.Stats.Total, &m.Stats.Sent, &m.Stats.Blocked, &m.Stats.Failed, &started, &m.CreatedAt, &finished)
	if err != nil {
		return domain.Mailing{}, err
	}
	m.Audience = domain.AudienceKind(audience)
	m.Status = domain.MailingStatus(status)
	if started.Valid {
		m.Stats.StartTime = started.Time
	}
	if finished.Valid {
		t := finished.Time
		m.FinishedAt = &t
		m.Stats.EndTime = t
	}
	m.Stats.Interrupted = m.Status == domain.MailingStatusCancelled
	return m, nil
}
