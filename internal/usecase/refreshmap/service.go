package refreshmap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"feedtrace/internal/domain"
	"feedtrace/internal/infra/metrics"
)

// Config задаёт пределы конвейера восстановления окон.
type Config struct {
	WindowGrace time.Duration
	FanoutLimit int
	CacheTTL    time.Duration
}

// Service восстанавливает окна просмотра ленты, их показы и метаданные
// контента. Все структуры строятся заново на каждый запрос.
type Service struct {
	timelines   domain.TimelineRepo
	impressions domain.ImpressionRepo
	contents    domain.ContentRepo
	cache       domain.MetaCache
	alarms      domain.AlarmSink
	log         zerolog.Logger
	cfg         Config
}

// NewService создаёт сервис карты обновлений. cache и alarms могут быть nil.
func NewService(timelines domain.TimelineRepo, impressions domain.ImpressionRepo, contents domain.ContentRepo, cache domain.MetaCache, alarms domain.AlarmSink, logger zerolog.Logger, cfg Config) *Service {
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = 8
	}
	if cfg.WindowGrace <= 0 {
		cfg.WindowGrace = 10 * time.Minute
	}
	return &Service{timelines: timelines, impressions: impressions, contents: contents, cache: cache, alarms: alarms, log: logger, cfg: cfg}
}

// Build восстанавливает windowsN окон пользователя и загружает до
// impressionsCap показов на окно плюс дедуплицированные метаданные.
func (s *Service) Build(ctx context.Context, userID int64, windowsN, impressionsCap int) (domain.RefreshMap, error) {
	if userID <= 0 || windowsN <= 0 || impressionsCap <= 0 {
		return domain.RefreshMap{}, fmt.Errorf("%w: userID=%d windows=%d impressions=%d", domain.ErrInvalidParameter, userID, windowsN, impressionsCap)
	}

	started := time.Now()
	defer func() {
		metrics.RefreshMapBuildSeconds.Observe(time.Since(started).Seconds())
	}()

	samples, err := s.timelines.ListRecent(ctx, userID, windowsN)
	if err != nil {
		return domain.RefreshMap{}, s.fail(ctx, userID, "store", fmt.Errorf("образцы таймлайнов: %w", err))
	}

	windows, err := ReconstructWindows(samples, windowsN, s.cfg.WindowGrace)
	if err != nil {
		return domain.RefreshMap{}, s.fail(ctx, userID, "reconstruct", err)
	}

	impressions, err := s.loadImpressions(ctx, windows, impressionsCap)
	if err != nil {
		return domain.RefreshMap{}, s.fail(ctx, userID, "impressions", fmt.Errorf("показы: %w", err))
	}

	metadata, err := s.loadMetadata(ctx, impressions)
	if err != nil {
		return domain.RefreshMap{}, s.fail(ctx, userID, "metadata", fmt.Errorf("метаданные контента: %w", err))
	}

	s.log.Debug().
		Int64("user_id", userID).
		Int("windows", len(windows)).
		Int("metadata", len(metadata)).
		Msg("карта обновлений построена")

	return domain.RefreshMap{Timelines: windows, Impressions: impressions, Metadata: metadata}, nil
}

// ReconstructWindows сворачивает отсортированные по возрастанию образцы в
// непересекающиеся окна: конец окна i — это начало окна i+1, а конец
// последнего окна синтезируется как start + grace, поскольку наблюдения
// после него нет.
func ReconstructWindows(samples []domain.TimelineSample, want int, grace time.Duration) ([]domain.Window, error) {
	if want <= 0 {
		return nil, fmt.Errorf("%w: запрошено %d окон", domain.ErrInvalidParameter, want)
	}
	if len(samples) < want {
		return nil, fmt.Errorf("%w: получено %d из %d", domain.ErrInsufficientSamples, len(samples), want)
	}

	windows := make([]domain.Window, 0, want)
	for i, sample := range samples[:want] {
		if i > 0 {
			windows[i-1].End = sample.StartTime
		}
		windows = append(windows, domain.Window{ID: sample.ID, Start: sample.StartTime})
	}
	last := len(windows) - 1
	windows[last].End = windows[last].Start.Add(grace)
	return windows, nil
}

// loadImpressions выполняет по одному ограниченному запросу на окно.
// Результаты кладутся по индексу окна, а не по порядку завершения.
func (s *Service) loadImpressions(ctx context.Context, windows []domain.Window, limit int) ([][]domain.Impression, error) {
	perWindow := make([][]domain.Impression, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FanoutLimit)
	for i, window := range windows {
		i, window := i, window
		g.Go(func() error {
			impressions, err := s.impressions.ListByTimeline(gctx, window.ID, limit)
			if err != nil {
				return err
			}
			perWindow[i] = impressions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return perWindow, nil
}

// loadMetadata дедуплицирует ссылки по всем окнам и грузит метаданные с
// ограниченным параллелизмом. Нерезолвящаяся ссылка пропускается: контент
// мог быть вычищен, и это не отменяет восстановление окон.
func (s *Service) loadMetadata(ctx context.Context, perWindow [][]domain.Impression) ([]domain.ContentUnit, error) {
	seen := make(map[string]struct{})
	var refs []string
	for _, impressions := range perWindow {
		for _, imp := range impressions {
			if _, ok := seen[imp.ContentRef]; ok {
				continue
			}
			seen[imp.ContentRef] = struct{}{}
			refs = append(refs, imp.ContentRef)
		}
	}
	s.log.Debug().Int("refs", len(refs)).Msg("уникальных ссылок на контент")

	found := make([]*domain.ContentUnit, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FanoutLimit)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			unit, ok, err := s.loadUnit(gctx, ref)
			if err != nil {
				return err
			}
			if ok {
				found[i] = &unit
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metadata := make([]domain.ContentUnit, 0, len(found))
	for _, unit := range found {
		if unit != nil {
			metadata = append(metadata, *unit)
		}
	}
	return metadata, nil
}

func (s *Service) loadUnit(ctx context.Context, ref string) (domain.ContentUnit, bool, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, "meta:"+ref); err == nil && len(raw) > 0 {
			var unit domain.ContentUnit
			if err := json.Unmarshal(raw, &unit); err == nil {
				metrics.ContentMetaCacheHits.Inc()
				return unit, true, nil
			}
		}
	}

	unit, err := s.contents.GetUnit(ctx, ref)
	if errors.Is(err, domain.ErrContentNotFound) {
		metrics.ContentMetaMisses.Inc()
		return domain.ContentUnit{}, false, nil
	}
	if err != nil {
		return domain.ContentUnit{}, false, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(unit); err == nil {
			if err := s.cache.Set(ctx, "meta:"+ref, raw, s.cfg.CacheTTL); err != nil {
				s.log.Debug().Err(err).Str("ref", ref).Msg("кэш метаданных недоступен")
			}
		}
	}
	return unit, true, nil
}

// fail логирует сбой конвейера, публикует alarm и возвращает ошибку дальше.
func (s *Service) fail(ctx context.Context, userID int64, component string, err error) error {
	metrics.IncPipelineError("refreshmap", component)
	s.log.Error().Err(err).Int64("user_id", userID).Str("component", component).Msg("сбой построения карты обновлений")
	if s.alarms != nil {
		alarm := domain.Alarm{
			ID:        uuid.NewString(),
			Component: "refreshmap/" + component,
			Message:   err.Error(),
			CreatedAt: time.Now().UTC(),
		}
		if pubErr := s.alarms.Publish(ctx, alarm); pubErr != nil {
			s.log.Warn().Err(pubErr).Msg("alarm не опубликован")
		}
	}
	return err
}
