package reality

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"feedtrace/internal/domain"
	"feedtrace/internal/infra/metrics"
)

// Config задаёт пределы корреляции видимости.
type Config struct {
	// VisibilityGrace добавляется к last: обновления сразу после последнего
	// зафиксированного показа ещё информативны.
	VisibilityGrace time.Duration
	FanoutLimit     int
}

// Service сопоставляет события обновления со свидетельствами показа поста
// и выдаёт помеченный псевдонимами поток наблюдений.
type Service struct {
	presence  domain.PresenceRepo
	refreshes domain.RefreshRepo
	alarms    domain.AlarmSink
	rand      RandSource
	log       zerolog.Logger
	cfg       Config
}

// NewService создаёт сервис корреляции. alarms может быть nil; src делится
// между запросами и должен быть потокобезопасным.
func NewService(presence domain.PresenceRepo, refreshes domain.RefreshRepo, alarms domain.AlarmSink, src RandSource, logger zerolog.Logger, cfg Config) *Service {
	if cfg.VisibilityGrace <= 0 {
		cfg.VisibilityGrace = 2 * time.Minute
	}
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = 8
	}
	return &Service{presence: presence, refreshes: refreshes, alarms: alarms, rand: src, log: logger, cfg: cfg}
}

// PostReality строит полную картину видимости поста: для каждого связанного
// пользователя каждое обновление внутри интервала видимости помечается как
// "пост был виден" или "поста не было". Отсутствие показа — само по себе
// информация, поэтому непарные обновления не ошибка.
func (s *Service) PostReality(ctx context.Context, postID int64) ([]domain.Observation, error) {
	if postID <= 0 {
		return nil, fmt.Errorf("%w: postID=%d", domain.ErrInvalidParameter, postID)
	}

	started := time.Now()
	defer func() {
		metrics.RealityBuildSeconds.Observe(time.Since(started).Seconds())
	}()
	metrics.IncRealityForPost(postID)

	records, err := s.presence.ListByPost(ctx, postID)
	if err != nil {
		return nil, s.fail(ctx, postID, "presence", err)
	}
	relation, err := s.presence.Relations(ctx, postID)
	if err != nil {
		return nil, s.fail(ctx, postID, "relations", err)
	}

	begin, end, err := visibilityInterval(records, relation, s.cfg.VisibilityGrace)
	if err != nil {
		return nil, s.fail(ctx, postID, "interval", err)
	}

	// свидетельства ищутся по refreshId, не по равенству контента
	byRefresh := make(map[string]domain.PresenceRecord, len(records))
	for _, rec := range records {
		if _, ok := byRefresh[rec.RefreshID]; !ok {
			byRefresh[rec.RefreshID] = rec
		}
	}

	// псевдонимы назначаются до fan-out: метка едина для всех наблюдений
	// пользователя внутри одного ответа
	pseudonyms := make([]string, len(relation.Users))
	for i, userID := range relation.Users {
		pseudonyms[i] = Pseudonym(s.rand, userID)
	}

	perUser := make([][]domain.Observation, len(relation.Users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FanoutLimit)
	for i, userID := range relation.Users {
		i, userID := i, userID
		g.Go(func() error {
			observations, err := s.observeUser(gctx, userID, begin, end, byRefresh, pseudonyms[i])
			if err != nil {
				return err
			}
			perUser[i] = observations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, s.fail(ctx, postID, "refreshes", err)
	}

	var flat []domain.Observation
	for _, observations := range perUser {
		flat = append(flat, observations...)
	}
	s.log.Debug().
		Int64("post_id", postID).
		Int("users", len(relation.Users)).
		Int("observations", len(flat)).
		Msg("корреляция видимости построена")
	return flat, nil
}

// PostLife возвращает упорядоченную историю показов поста в ленте одного
// пользователя.
func (s *Service) PostLife(ctx context.Context, postID, userID int64) ([]domain.PresenceRecord, error) {
	if postID <= 0 || userID <= 0 {
		return nil, fmt.Errorf("%w: postID=%d userID=%d", domain.ErrInvalidParameter, postID, userID)
	}
	records, err := s.presence.ListByPostAndUser(ctx, postID, userID)
	if err != nil {
		return nil, s.fail(ctx, postID, "life", err)
	}
	return records, nil
}

// visibilityInterval ограничивает интервал видимости: от самого раннего
// свидетельства показа до last плюс grace. Оба конца открыты.
func visibilityInterval(records []domain.PresenceRecord, relation domain.PostRelation, grace time.Duration) (time.Time, time.Time, error) {
	if len(records) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: нет свидетельств показа", domain.ErrIncompleteRelation)
	}
	if relation.Last.IsZero() {
		return time.Time{}, time.Time{}, domain.ErrIncompleteRelation
	}
	begin := records[0].CreationTime
	for _, rec := range records[1:] {
		if rec.CreationTime.Before(begin) {
			begin = rec.CreationTime
		}
	}
	return begin, relation.Last.Add(grace), nil
}

func (s *Service) observeUser(ctx context.Context, userID int64, begin, end time.Time, byRefresh map[string]domain.PresenceRecord, pseudonym string) ([]domain.Observation, error) {
	events, err := s.refreshes.ListBetween(ctx, userID, begin, end)
	if err != nil {
		return nil, fmt.Errorf("обновления пользователя: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].RefreshTime.Before(events[j].RefreshTime)
	})

	observations := make([]domain.Observation, 0, len(events))
	for _, ev := range events {
		// интервал строго открыт с обеих сторон
		if !ev.RefreshTime.After(begin) || !ev.RefreshTime.Before(end) {
			continue
		}
		obs := domain.Observation{
			RefreshTime:   ev.RefreshTime.UTC().Format(time.RFC3339Nano),
			UserPseudonym: pseudonym,
		}
		if rec, ok := byRefresh[ev.RefreshID]; ok {
			order := rec.Order
			obs.Presence = true
			obs.Order = &order
			obs.Type = rec.Type
		}
		observations = append(observations, obs)
	}
	present := countPresent(observations)
	metrics.IncObservations(true, present)
	metrics.IncObservations(false, len(observations)-present)
	return observations, nil
}

func countPresent(observations []domain.Observation) int {
	n := 0
	for _, obs := range observations {
		if obs.Presence {
			n++
		}
	}
	return n
}

// fail логирует сбой, публикует alarm и возвращает ошибку дальше; частичные
// результаты никогда не выдаются как полные.
func (s *Service) fail(ctx context.Context, postID int64, component string, err error) error {
	metrics.IncPipelineError("reality", component)
	s.log.Error().Err(err).Int64("post_id", postID).Str("component", component).Msg("сбой корреляции видимости")
	if s.alarms != nil {
		alarm := domain.Alarm{
			ID:        uuid.NewString(),
			Component: "reality/" + component,
			Message:   err.Error(),
			CreatedAt: time.Now().UTC(),
		}
		if pubErr := s.alarms.Publish(ctx, alarm); pubErr != nil {
			s.log.Warn().Err(pubErr).Msg("alarm не опубликован")
		}
	}
	return err
}
