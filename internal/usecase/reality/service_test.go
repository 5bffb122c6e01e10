package reality

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"feedtrace/internal/domain"
)

type stubPresence struct {
	records  []domain.PresenceRecord
	relation domain.PostRelation
	life     []domain.PresenceRecord
	err      error
}

func (s *stubPresence) ListByPost(context.Context, int64) ([]domain.PresenceRecord, error) {
	return s.records, s.err
}

func (s *stubPresence) ListByPostAndUser(context.Context, int64, int64) ([]domain.PresenceRecord, error) {
	return s.life, s.err
}

func (s *stubPresence) Relations(context.Context, int64) (domain.PostRelation, error) {
	return s.relation, s.err
}

type stubRefreshes struct {
	byUser map[int64][]domain.RefreshEvent
	// sloppy отдаёт события без фильтра по интервалу, имитируя хранилище
	// с нестрогим сравнением
	sloppy bool
	err    error
}

func (s *stubRefreshes) ListBetween(_ context.Context, userID int64, begin, end time.Time) ([]domain.RefreshEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.sloppy {
		return s.byUser[userID], nil
	}
	var inside []domain.RefreshEvent
	for _, ev := range s.byUser[userID] {
		if ev.RefreshTime.After(begin) && ev.RefreshTime.Before(end) {
			inside = append(inside, ev)
		}
	}
	return inside, nil
}

type stubSink struct {
	mu     sync.Mutex
	alarms []domain.Alarm
}

func (s *stubSink) Publish(_ context.Context, alarm domain.Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = append(s.alarms, alarm)
	return nil
}

type fixedRand struct{ v int64 }

func (r fixedRand) Int63n(n int64) int64 { return r.v % n }

func TestPostRealityMatchesByRefreshID(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	last := created.Add(30 * time.Minute)
	presence := &stubPresence{
		records: []domain.PresenceRecord{
			{RefreshID: "abc", Order: 3, Type: "feed", CreationTime: created},
		},
		relation: domain.PostRelation{PostID: 5, Users: []int64{7, 9}, Last: last},
	}
	refreshes := &stubRefreshes{byUser: map[int64][]domain.RefreshEvent{
		7: {
			{UserID: 7, RefreshID: "abc", RefreshTime: created.Add(5 * time.Minute)},
			{UserID: 7, RefreshID: "xyz", RefreshTime: created.Add(10 * time.Minute)},
		},
	}}
	service := NewService(presence, refreshes, nil, fixedRand{}, zerolog.Nop(), Config{})

	observations, err := service.PostReality(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(observations) != 2 {
		t.Fatalf("ожидали 2 наблюдения, получили %d", len(observations))
	}

	matched := observations[0]
	unmatched := observations[1]
	if !matched.Presence {
		t.Fatalf("совпавший refreshId должен дать presence=true")
	}
	if matched.Order == nil || *matched.Order != 3 || matched.Type != "feed" {
		t.Fatalf("совпавшее наблюдение должно нести order и type свидетельства")
	}
	if unmatched.Presence {
		t.Fatalf("несовпавший refreshId должен дать presence=false")
	}
	if unmatched.Order != nil || unmatched.Type != "" {
		t.Fatalf("несовпавшее наблюдение не должно нести order и type")
	}
	if matched.UserPseudonym == "" || matched.UserPseudonym != unmatched.UserPseudonym {
		t.Fatalf("наблюдения одного пользователя должны нести одну метку")
	}
}

func TestPostRealityIncompleteRelation(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	presence := &stubPresence{
		records:  []domain.PresenceRecord{{RefreshID: "abc", CreationTime: created}},
		relation: domain.PostRelation{PostID: 5, Users: []int64{7}},
	}
	sink := &stubSink{}
	service := NewService(presence, &stubRefreshes{}, sink, fixedRand{}, zerolog.Nop(), Config{})

	observations, err := service.PostReality(context.Background(), 5)
	if !errors.Is(err, domain.ErrIncompleteRelation) {
		t.Fatalf("ожидали ErrIncompleteRelation, получили %v", err)
	}
	if observations != nil {
		t.Fatalf("при сбое наблюдения не выдаются")
	}
	if len(sink.alarms) != 1 {
		t.Fatalf("ожидали опубликованный alarm, получили %d", len(sink.alarms))
	}
}

func TestPostRealityBoundaryExcluded(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	last := created.Add(30 * time.Minute)
	end := last.Add(2 * time.Minute)
	presence := &stubPresence{
		records:  []domain.PresenceRecord{{RefreshID: "abc", CreationTime: created}},
		relation: domain.PostRelation{PostID: 5, Users: []int64{7}, Last: last},
	}
	refreshes := &stubRefreshes{sloppy: true, byUser: map[int64][]domain.RefreshEvent{
		7: {
			{UserID: 7, RefreshID: "r1", RefreshTime: created},                       // ровно begin
			{UserID: 7, RefreshID: "r2", RefreshTime: created.Add(time.Millisecond)}, // внутри
			{UserID: 7, RefreshID: "r3", RefreshTime: end},                           // ровно end
		},
	}}
	service := NewService(presence, refreshes, nil, fixedRand{}, zerolog.Nop(), Config{})

	observations, err := service.PostReality(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(observations) != 1 {
		t.Fatalf("границы интервала должны исключаться: получили %d наблюдений", len(observations))
	}
}

func TestPostRealityIdempotentUpToPseudonym(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	last := created.Add(30 * time.Minute)
	presence := &stubPresence{
		records:  []domain.PresenceRecord{{RefreshID: "abc", Order: 1, CreationTime: created}},
		relation: domain.PostRelation{PostID: 5, Users: []int64{100}, Last: last},
	}
	refreshes := &stubRefreshes{byUser: map[int64][]domain.RefreshEvent{
		100: {
			{UserID: 100, RefreshID: "abc", RefreshTime: created.Add(time.Minute)},
			{UserID: 100, RefreshID: "zzz", RefreshTime: created.Add(2 * time.Minute)},
		},
	}}

	first, err := NewService(presence, refreshes, nil, fixedRand{v: 3}, zerolog.Nop(), Config{}).PostReality(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	second, err := NewService(presence, refreshes, nil, fixedRand{v: 42}, zerolog.Nop(), Config{}).PostReality(context.Background(), 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if first[0].UserPseudonym == second[0].UserPseudonym {
		t.Fatalf("разные источники случайности должны давать разные метки")
	}
	strip := func(observations []domain.Observation) []domain.Observation {
		out := make([]domain.Observation, len(observations))
		copy(out, observations)
		for i := range out {
			out[i].UserPseudonym = ""
		}
		return out
	}
	if !reflect.DeepEqual(strip(first), strip(second)) {
		t.Fatalf("наблюдения должны совпадать с точностью до метки")
	}
}

func TestPostRealityNoPresenceRecords(t *testing.T) {
	presence := &stubPresence{
		relation: domain.PostRelation{PostID: 5, Users: []int64{7}, Last: time.Now()},
	}
	service := NewService(presence, &stubRefreshes{}, nil, fixedRand{}, zerolog.Nop(), Config{})

	if _, err := service.PostReality(context.Background(), 5); !errors.Is(err, domain.ErrIncompleteRelation) {
		t.Fatalf("без свидетельств показа интервал не ограничить: %v", err)
	}
}

func TestPostRealityInvalidPostID(t *testing.T) {
	service := NewService(&stubPresence{}, &stubRefreshes{}, nil, fixedRand{}, zerolog.Nop(), Config{})
	if _, err := service.PostReality(context.Background(), 0); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("ожидали ErrInvalidParameter, получили %v", err)
	}
}

func TestPostLife(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	presence := &stubPresence{life: []domain.PresenceRecord{
		{RefreshID: "r1", Order: 1, CreationTime: created},
		{RefreshID: "r2", Order: 4, CreationTime: created.Add(time.Hour)},
	}}
	service := NewService(presence, &stubRefreshes{}, nil, fixedRand{}, zerolog.Nop(), Config{})

	records, err := service.PostLife(context.Background(), 5, 7)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ожидали 2 записи истории показов")
	}
	if _, err := service.PostLife(context.Background(), 5, 0); !errors.Is(err, domain.ErrInvalidParameter) {
		t.Fatalf("ожидали ErrInvalidParameter, получили %v", err)
	}
}

func TestPostRealityConcurrentRequests(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	last := created.Add(30 * time.Minute)
	presence := &stubPresence{
		records: []domain.PresenceRecord{
			{RefreshID: "abc", Order: 1, Type: "feed", CreationTime: created},
		},
		relation: domain.PostRelation{PostID: 5, Users: []int64{7, 9, 11}, Last: last},
	}
	refreshes := &stubRefreshes{byUser: map[int64][]domain.RefreshEvent{
		7:  {{UserID: 7, RefreshID: "abc", RefreshTime: created.Add(5 * time.Minute)}},
		9:  {{UserID: 9, RefreshID: "xyz", RefreshTime: created.Add(10 * time.Minute)}},
		11: {{UserID: 11, RefreshID: "qrs", RefreshTime: created.Add(15 * time.Minute)}},
	}}
	// общий источник на все запросы, как в боевой сборке
	service := NewService(presence, refreshes, nil, NewLockedRand(1), zerolog.Nop(), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			observations, err := service.PostReality(context.Background(), 5)
			if err != nil {
				t.Errorf("не ожидали ошибку: %v", err)
				return
			}
			if len(observations) != 3 {
				t.Errorf("ожидали 3 наблюдения, получили %d", len(observations))
			}
		}()
	}
	wg.Wait()
}
