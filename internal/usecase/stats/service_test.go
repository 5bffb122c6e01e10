package stats

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedtrace/internal/domain"
)

type stubStats struct {
	counts    map[string]int64
	countries []domain.CountryCount
	alarms    []domain.Alarm
}

func (s *stubStats) CountCollections(context.Context) (map[string]int64, error) {
	return s.counts, nil
}

func (s *stubStats) CountByCountry(context.Context) ([]domain.CountryCount, error) {
	return s.countries, nil
}

func (s *stubStats) RecentAlarms(context.Context) ([]domain.Alarm, error) {
	return s.alarms, nil
}

func TestCountryHistogramCutoff(t *testing.T) {
	stub := &stubStats{countries: []domain.CountryCount{
		{Country: "IT", Number: 120},
		{Country: "", Number: 50},
		{Country: "FR", Number: 9},
		{Country: "DE", Number: 300},
	}}
	service := NewService(stub, stub, zerolog.Nop(), 10)

	histogram, err := service.CountryHistogram(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(histogram) != 2 {
		t.Fatalf("ожидали 2 страны после отсечки, получили %d", len(histogram))
	}
	if histogram[0].Country != "DE" || histogram[1].Country != "IT" {
		t.Fatalf("ожидали сортировку по убыванию, получили %v", histogram)
	}
}

func TestCollectionCounts(t *testing.T) {
	stub := &stubStats{counts: map[string]int64{"timelines": 42, "refreshes": 7}}
	service := NewService(stub, stub, zerolog.Nop(), 10)

	counts, err := service.CollectionCounts(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if counts["timelines"] != 42 {
		t.Fatalf("ожидали 42 таймлайна, получили %d", counts["timelines"])
	}
}

func TestRecentAlarms(t *testing.T) {
	stub := &stubStats{alarms: []domain.Alarm{{ID: "a1", Component: "reality", CreatedAt: time.Now()}}}
	service := NewService(stub, stub, zerolog.Nop(), 10)

	alarms, err := service.RecentAlarms(context.Background())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(alarms) != 1 || alarms[0].ID != "a1" {
		t.Fatalf("ожидали одно alarm-событие, получили %v", alarms)
	}
}
