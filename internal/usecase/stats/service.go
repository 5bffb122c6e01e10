package stats

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"feedtrace/internal/domain"
)

// Service отдаёт агрегаты для дашбордов: размеры коллекций, гистограмму
// по странам и ленту alarm-событий.
type Service struct {
	stats  domain.StatsRepo
	alarms domain.AlarmRepo
	log    zerolog.Logger
	cutoff int64
}

// NewService создаёт сервис статистики. cutoff отсекает страны с числом
// записей меньше порога.
func NewService(stats domain.StatsRepo, alarms domain.AlarmRepo, logger zerolog.Logger, cutoff int64) *Service {
	if cutoff <= 0 {
		cutoff = 10
	}
	return &Service{stats: stats, alarms: alarms, log: logger, cutoff: cutoff}
}

// CollectionCounts возвращает число записей по каждой коллекции схемы.
func (s *Service) CollectionCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := s.stats.CountCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("подсчёт коллекций: %w", err)
	}
	return counts, nil
}

// CountryHistogram возвращает пары [страна, число], без пустых стран и
// без стран ниже порога.
func (s *Service) CountryHistogram(ctx context.Context) ([]domain.CountryCount, error) {
	counts, err := s.stats.CountByCountry(ctx)
	if err != nil {
		return nil, fmt.Errorf("гистограмма по странам: %w", err)
	}

	kept := make([]domain.CountryCount, 0, len(counts))
	dropped := 0
	for _, c := range counts {
		if c.Country == "" {
			s.log.Debug().Int64("entries", c.Number).Msg("таймлайны без страны отброшены")
			dropped++
			continue
		}
		if c.Number < s.cutoff {
			dropped++
			continue
		}
		kept = append(kept, c)
	}
	s.log.Debug().Int("dropped", dropped).Int("kept", len(kept)).Msg("гистограмма по странам")

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Number > kept[j].Number })
	return kept, nil
}

// RecentAlarms возвращает события сбоев за последние сутки.
func (s *Service) RecentAlarms(ctx context.Context) ([]domain.Alarm, error) {
	alarms, err := s.alarms.RecentAlarms(ctx)
	if err != nil {
		return nil, fmt.Errorf("чтение alarm-событий: %w", err)
	}
	return alarms, nil
}
