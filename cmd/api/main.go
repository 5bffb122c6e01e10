package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"feedtrace/internal/adapters/repo"
	"feedtrace/internal/domain"
	"feedtrace/internal/infra/cache"
	"feedtrace/internal/infra/config"
	"feedtrace/internal/infra/db"
	httpinfra "feedtrace/internal/infra/http"
	"feedtrace/internal/infra/metrics"
	"feedtrace/internal/infra/queue"
	"feedtrace/internal/usecase/reality"
	"feedtrace/internal/usecase/refreshmap"
	"feedtrace/internal/usecase/stats"
)

func main() {
	cfg := config.Load()
	logger := log.With().Str("component", "api").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	store := repo.NewPostgres(pool, cfg)

	var metaCache domain.MetaCache
	if cfg.RedisAddr != "" {
		metaCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	}

	var alarmSink domain.AlarmSink
	if cfg.AMQPURL != "" {
		sink, err := queue.NewRabbitAlarmSink(cfg.AMQPURL, cfg.AlarmExchange, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к rabbitmq")
		}
		defer sink.Close()
		alarmSink = sink
	}

	refreshMapService := refreshmap.NewService(store, store, store, metaCache, alarmSink, logger, refreshmap.Config{
		WindowGrace: time.Duration(cfg.Limits.WindowGraceMin) * time.Minute,
		FanoutLimit: cfg.Limits.FanoutLimit,
		CacheTTL:    time.Duration(cfg.Limits.MetaCacheTTLMin) * time.Minute,
	})
	realityService := reality.NewService(store, store, alarmSink, reality.NewLockedRand(time.Now().UnixNano()), logger, reality.Config{
		VisibilityGrace: time.Duration(cfg.Limits.RealityGraceMin) * time.Minute,
		FanoutLimit:     cfg.Limits.FanoutLimit,
	})
	statsService := stats.NewService(store, store, logger, int64(cfg.Limits.CountryCutoffMin))

	server := httpinfra.NewServer(logger)
	r := server.Router

	r.Get("/api/v1/refreshmap/{userId}/{timelines}/{impressions}", func(w http.ResponseWriter, r *http.Request) {
		userID, err1 := pathInt(r, "userId")
		windowsN, err2 := pathInt(r, "timelines")
		impressionsN, err3 := pathInt(r, "impressions")
		if err1 != nil || err2 != nil || err3 != nil {
			writeError(w, http.StatusBadRequest, "некорректные параметры запроса")
			return
		}
		if windowsN > int64(cfg.Limits.TimelineWindows) || impressionsN > int64(cfg.Limits.ImpressionsCap) {
			writeError(w, http.StatusBadRequest, "запрошено больше окон или показов, чем разрешено")
			return
		}
		result, err := refreshMapService.Build(r.Context(), userID, int(windowsN), int(impressionsN))
		if err != nil {
			writePipelineError(w, err, "refreshmap")
			return
		}
		writeJSON(w, result)
	})

	r.Get("/api/v1/reality/{postId}", func(w http.ResponseWriter, r *http.Request) {
		postID, err := pathInt(r, "postId")
		if err != nil {
			writeError(w, http.StatusBadRequest, "некорректный postId")
			return
		}
		observations, err := realityService.PostReality(r.Context(), postID)
		if err != nil {
			writePipelineError(w, err, "reality")
			return
		}
		if observations == nil {
			observations = []domain.Observation{}
		}
		writeJSON(w, observations)
	})

	r.Get("/api/v1/life/{postId}/{userId}", func(w http.ResponseWriter, r *http.Request) {
		postID, err1 := pathInt(r, "postId")
		userID, err2 := pathInt(r, "userId")
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "некорректные параметры запроса")
			return
		}
		records, err := realityService.PostLife(r.Context(), postID, userID)
		if err != nil {
			writePipelineError(w, err, "life")
			return
		}
		if records == nil {
			records = []domain.PresenceRecord{}
		}
		writeJSON(w, records)
	})

	r.Get("/api/v1/stats/collections", func(w http.ResponseWriter, r *http.Request) {
		counts, err := statsService.CollectionCounts(r.Context())
		if err != nil {
			writePipelineError(w, err, "stats")
			return
		}
		writeJSON(w, counts)
	})

	r.Get("/api/v1/stats/countries", func(w http.ResponseWriter, r *http.Request) {
		histogram, err := statsService.CountryHistogram(r.Context())
		if err != nil {
			writePipelineError(w, err, "stats")
			return
		}
		pairs := make([][2]any, 0, len(histogram))
		for _, c := range histogram {
			pairs = append(pairs, [2]any{c.Country, c.Number})
		}
		writeJSON(w, pairs)
	})

	r.Get("/api/v1/alarms", func(w http.ResponseWriter, r *http.Request) {
		alarms, err := statsService.RecentAlarms(r.Context())
		if err != nil {
			writePipelineError(w, err, "alarms")
			return
		}
		if alarms == nil {
			alarms = []domain.Alarm{}
		}
		writeJSON(w, alarms)
	})

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func pathInt(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// writePipelineError переводит ошибку конвейера в единый конверт: клиентские
// ошибки видны как есть, всё остальное — как общий сбой с деталями в логах.
func writePipelineError(w http.ResponseWriter, err error, component string) {
	switch {
	case errors.Is(err, domain.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, "некорректные параметры запроса")
	default:
		log.Error().Err(err).Str("component", component).Msg("api: сбой конвейера")
		writeError(w, http.StatusInternalServerError, "внутренняя ошибка")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
