package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feedtrace/internal/domain"
	"feedtrace/internal/infra/config"
	"feedtrace/internal/infra/metrics"
)

// Postgres реализует шлюз хранилища на основе pgxpool. Имена коллекций
// приходят из явной конфигурации схемы и подставляются в текст запросов.
type Postgres struct {
	pool *pgxpool.Pool
	cfg  config.AppConfig
}

var (
	_ domain.TimelineRepo   = (*Postgres)(nil)
	_ domain.ImpressionRepo = (*Postgres)(nil)
	_ domain.ContentRepo    = (*Postgres)(nil)
	_ domain.PresenceRepo   = (*Postgres)(nil)
	_ domain.RefreshRepo    = (*Postgres)(nil)
	_ domain.StatsRepo      = (*Postgres)(nil)
	_ domain.AlarmRepo      = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool, cfg config.AppConfig) *Postgres {
	return &Postgres{pool: pool, cfg: cfg}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
}

// ListRecent возвращает limit последних образцов пользователя по возрастанию
// StartTime. Выборка идёт по убыванию с лимитом и разворачивается: время
// всегда индексировано, так искать дешевле.
func (p *Postgres) ListRecent(ctx context.Context, userID int64, limit int) ([]domain.TimelineSample, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
SELECT id, user_id, start_time, COALESCE(geoip, '')
FROM %s
WHERE user_id = $1
ORDER BY start_time DESC
LIMIT $2
`, p.cfg.Schema.Timelines), userID, limit)
	metrics.ObserveStoreQuery(p.cfg.Schema.Timelines, "list_recent", start, err)
	if err != nil {
		return nil, storeErr("чтение таймлайнов", err)
	}
	defer rows.Close()

	var samples []domain.TimelineSample
	for rows.Next() {
		var s domain.TimelineSample
		if err := rows.Scan(&s.ID, &s.UserID, &s.StartTime, &s.GeoIP); err != nil {
			return nil, storeErr("скан таймлайна", err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("чтение таймлайнов", err)
	}

	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// ListByTimeline возвращает до limit показов таймлайна по возрастанию Order.
func (p *Postgres) ListByTimeline(ctx context.Context, timelineID string, limit int) ([]domain.Impression, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
SELECT timeline_id, content_ref, impression_order
FROM %s
WHERE timeline_id = $1
ORDER BY impression_order ASC
LIMIT $2
`, p.cfg.Schema.Impressions), timelineID, limit)
	metrics.ObserveStoreQuery(p.cfg.Schema.Impressions, "list_by_timeline", start, err)
	if err != nil {
		return nil, storeErr("чтение показов", err)
	}
	defer rows.Close()

	impressions := []domain.Impression{}
	for rows.Next() {
		var imp domain.Impression
		if err := rows.Scan(&imp.TimelineID, &imp.ContentRef, &imp.Order); err != nil {
			return nil, storeErr("скан показа", err)
		}
		impressions = append(impressions, imp)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("чтение показов", err)
	}
	return impressions, nil
}

// GetUnit возвращает метаданные контента без payload.
func (p *Postgres) GetUnit(ctx context.Context, ref string) (domain.ContentUnit, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var unit domain.ContentUnit
	start := time.Now()
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT id, post_id, COALESCE(source, ''), saved_at
FROM %s
WHERE id = $1
`, p.cfg.Schema.Contents), ref).Scan(&unit.Ref, &unit.PostID, &unit.Source, &unit.SavedAt)
	metrics.ObserveStoreQuery(p.cfg.Schema.Contents, "get_unit", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ContentUnit{}, domain.ErrContentNotFound
	}
	if err != nil {
		return domain.ContentUnit{}, storeErr("чтение контента", err)
	}
	return unit, nil
}

// ListByPost возвращает свидетельства показа поста по всем пользователям.
func (p *Postgres) ListByPost(ctx context.Context, postID int64) ([]domain.PresenceRecord, error) {
	return p.listPresence(ctx, postID, 0)
}

// ListByPostAndUser возвращает свидетельства показа поста одному пользователю.
func (p *Postgres) ListByPostAndUser(ctx context.Context, postID, userID int64) ([]domain.PresenceRecord, error) {
	return p.listPresence(ctx, postID, userID)
}

func (p *Postgres) listPresence(ctx context.Context, postID, userID int64) ([]domain.PresenceRecord, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := fmt.Sprintf(`
SELECT refresh_id, display_order, COALESCE(display_type, ''), creation_time
FROM %s
WHERE post_id = $1
ORDER BY creation_time ASC
`, p.cfg.Schema.Timeline)
	args := []any{postID}
	if userID != 0 {
		query = fmt.Sprintf(`
SELECT refresh_id, display_order, COALESCE(display_type, ''), creation_time
FROM %s
WHERE post_id = $1 AND user_id = $2
ORDER BY creation_time ASC
`, p.cfg.Schema.Timeline)
		args = append(args, userID)
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveStoreQuery(p.cfg.Schema.Timeline, "list_presence", start, err)
	if err != nil {
		return nil, storeErr("чтение свидетельств показа", err)
	}
	defer rows.Close()

	var records []domain.PresenceRecord
	for rows.Next() {
		var rec domain.PresenceRecord
		if err := rows.Scan(&rec.RefreshID, &rec.Order, &rec.Type, &rec.CreationTime); err != nil {
			return nil, storeErr("скан свидетельства", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("чтение свидетельств показа", err)
	}
	return records, nil
}

// Relations агрегирует пользователей поста и самое позднее время связи.
func (p *Postgres) Relations(ctx context.Context, postID int64) (domain.PostRelation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
SELECT user_id, max(display_time)
FROM %s
WHERE post_id = $1
GROUP BY user_id
`, p.cfg.Schema.Timeline), postID)
	metrics.ObserveStoreQuery(p.cfg.Schema.Timeline, "relations", start, err)
	if err != nil {
		return domain.PostRelation{}, storeErr("чтение связей поста", err)
	}
	defer rows.Close()

	relation := domain.PostRelation{PostID: postID}
	for rows.Next() {
		var userID int64
		var last sql.NullTime
		if err := rows.Scan(&userID, &last); err != nil {
			return domain.PostRelation{}, storeErr("скан связи", err)
		}
		relation.Users = append(relation.Users, userID)
		if last.Valid && last.Time.After(relation.Last) {
			relation.Last = last.Time
		}
	}
	if err := rows.Err(); err != nil {
		return domain.PostRelation{}, storeErr("чтение связей поста", err)
	}
	return relation, nil
}

// ListBetween возвращает события обновления строго внутри (begin, end).
func (p *Postgres) ListBetween(ctx context.Context, userID int64, begin, end time.Time) ([]domain.RefreshEvent, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
SELECT user_id, refresh_id, refresh_time
FROM %s
WHERE user_id = $1 AND refresh_time > $2 AND refresh_time < $3
ORDER BY refresh_time ASC
`, p.cfg.Schema.Refreshes), userID, begin, end)
	metrics.ObserveStoreQuery(p.cfg.Schema.Refreshes, "list_between", start, err)
	if err != nil {
		return nil, storeErr("чтение обновлений", err)
	}
	defer rows.Close()

	var events []domain.RefreshEvent
	for rows.Next() {
		var ev domain.RefreshEvent
		if err := rows.Scan(&ev.UserID, &ev.RefreshID, &ev.RefreshTime); err != nil {
			return nil, storeErr("скан обновления", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("чтение обновлений", err)
	}
	return events, nil
}

// CountCollections считает записи в каждой коллекции схемы.
func (p *Postgres) CountCollections(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	tables := map[string]string{
		"timelines":   p.cfg.Schema.Timelines,
		"timeline":    p.cfg.Schema.Timeline,
		"impressions": p.cfg.Schema.Impressions,
		"contents":    p.cfg.Schema.Contents,
		"refreshes":   p.cfg.Schema.Refreshes,
		"alarms":      p.cfg.Schema.Alarms,
	}

	counts := make(map[string]int64, len(tables))
	for name, table := range tables {
		var n int64
		start := time.Now()
		err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n)
		metrics.ObserveStoreQuery(table, "count", start, err)
		if err != nil {
			return nil, storeErr("подсчёт коллекции "+name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

// CountByCountry строит гистограмму таймлайнов по странам.
func (p *Postgres) CountByCountry(ctx context.Context) ([]domain.CountryCount, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
SELECT COALESCE(geoip, ''), count(*)
FROM %s
GROUP BY geoip
`, p.cfg.Schema.Timelines))
	metrics.ObserveStoreQuery(p.cfg.Schema.Timelines, "count_by_country", start, err)
	if err != nil {
		return nil, storeErr("подсчёт по странам", err)
	}
	defer rows.Close()

	var counts []domain.CountryCount
	for rows.Next() {
		var c domain.CountryCount
		if err := rows.Scan(&c.Country, &c.Number); err != nil {
			return nil, storeErr("скан страны", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("подсчёт по странам", err)
	}
	return counts, nil
}

// RecentAlarms возвращает события сбоев за последние сутки, новые первыми.
func (p *Postgres) RecentAlarms(ctx context.Context) ([]domain.Alarm, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
SELECT id, component, message, created_at
FROM %s
WHERE created_at > now() - interval '24 hours'
ORDER BY created_at DESC
`, p.cfg.Schema.Alarms))
	metrics.ObserveStoreQuery(p.cfg.Schema.Alarms, "recent_alarms", start, err)
	if err != nil {
		return nil, storeErr("чтение alarm-событий", err)
	}
	defer rows.Close()

	var alarms []domain.Alarm
	for rows.Next() {
		var a domain.Alarm
		if err := rows.Scan(&a.ID, &a.Component, &a.Message, &a.CreatedAt); err != nil {
			return nil, storeErr("скан alarm-события", err)
		}
		alarms = append(alarms, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("чтение alarm-событий", err)
	}
	return alarms, nil
}
