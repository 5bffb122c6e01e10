package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RefreshMapBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "refreshmap_build_seconds",
		Help:    "Время восстановления карты обновлений",
		Buckets: prometheus.DefBuckets,
	})
	RealityBuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reality_build_seconds",
		Help:    "Время корреляции видимости поста",
		Buckets: prometheus.DefBuckets,
	})
	ObservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "observations_total",
		Help: "Количество выданных наблюдений",
	}, []string{"presence"})
	PipelineErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Ошибки конвейеров корреляции",
	}, []string{"component", "kind"})
	ContentMetaMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_meta_misses_total",
		Help: "Ссылки на контент, которые больше не резолвятся",
	})
	ContentMetaCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "content_meta_cache_hits_total",
		Help: "Попадания в кэш метаданных контента",
	})
	StoreQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_query_duration_seconds",
		Help:    "Длительность запросов к хранилищу",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"collection", "operation", "status"})
	RealityRequestsByPost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reality_requests_by_post_total",
		Help: "Запросы корреляции по постам",
	}, []string{"post_id"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		RefreshMapBuildSeconds,
		RealityBuildSeconds,
		ObservationsTotal,
		PipelineErrorsTotal,
		ContentMetaMisses,
		ContentMetaCacheHits,
		StoreQueryDuration,
		RealityRequestsByPost,
	)
}

// ObserveStoreQuery записывает длительность и статус запроса к хранилищу.
func ObserveStoreQuery(collection, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	StoreQueryDuration.WithLabelValues(collection, operation, status).Observe(time.Since(start).Seconds())
}

// IncObservations увеличивает счётчик наблюдений.
func IncObservations(presence bool, n int) {
	ObservationsTotal.WithLabelValues(strconv.FormatBool(presence)).Add(float64(n))
}

// IncPipelineError увеличивает счётчик ошибок конвейера.
func IncPipelineError(component, kind string) {
	PipelineErrorsTotal.WithLabelValues(component, kind).Inc()
}

// IncRealityForPost увеличивает счётчик запросов корреляции по посту.
func IncRealityForPost(postID int64) {
	RealityRequestsByPost.WithLabelValues(strconv.FormatInt(postID, 10)).Inc()
}
