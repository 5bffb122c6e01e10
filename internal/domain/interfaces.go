package domain

import (
	"context"
	"time"
)

// TimelineRepo читает сырые образцы таймлайнов.
type TimelineRepo interface {
	// ListRecent возвращает ровно limit последних образцов пользователя,
	// отсортированных по StartTime по возрастанию.
	ListRecent(ctx context.Context, userID int64, limit int) ([]TimelineSample, error)
}

// ImpressionRepo читает показы внутри одного таймлайна.
type ImpressionRepo interface {
	// ListByTimeline возвращает до limit показов, отсортированных по Order.
	ListByTimeline(ctx context.Context, timelineID string, limit int) ([]Impression, error)
}

// ContentRepo выдаёт метаданные контента без payload.
type ContentRepo interface {
	// GetUnit возвращает ErrContentNotFound, если ссылка не резолвится.
	GetUnit(ctx context.Context, ref string) (ContentUnit, error)
}

// PresenceRepo читает свидетельства показа поста и связи пост-пользователи.
type PresenceRepo interface {
	ListByPost(ctx context.Context, postID int64) ([]PresenceRecord, error)
	ListByPostAndUser(ctx context.Context, postID, userID int64) ([]PresenceRecord, error)
	// Relations агрегирует пользователей поста и самое позднее время связи.
	Relations(ctx context.Context, postID int64) (PostRelation, error)
}

// RefreshRepo читает события повторных заходов.
type RefreshRepo interface {
	// ListBetween возвращает события строго внутри (begin, end),
	// отсортированные по RefreshTime по возрастанию.
	ListBetween(ctx context.Context, userID int64, begin, end time.Time) ([]RefreshEvent, error)
}

// StatsRepo считает агрегаты для дашбордов.
type StatsRepo interface {
	CountCollections(ctx context.Context) (map[string]int64, error)
	CountByCountry(ctx context.Context) ([]CountryCount, error)
}

// AlarmRepo читает недавние события сбоев.
type AlarmRepo interface {
	RecentAlarms(ctx context.Context) ([]Alarm, error)
}

// AlarmSink публикует события сбоев во внешнюю шину.
type AlarmSink interface {
	Publish(ctx context.Context, alarm Alarm) error
}

// MetaCache — TTL-кэш сериализованных метаданных контента.
type MetaCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
