package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal 按结果统计同步次数。
	SyncRunsTotal *prometheus.CounterVec
	// SyncDurationSeconds 统计单次同步耗时分布。
	SyncDurationSeconds prometheus.Histogram
	// VehiclesActive 当前在售车辆数。
	VehiclesActive prometheus.Gauge
	// VehiclesPriced 当前有有效价格的在售车辆数。
	VehiclesPriced prometheus.Gauge
	// ScrapeExhausted 连续抓价失败达到上限、被跳过的车辆数。
	ScrapeExhausted prometheus.Gauge
	// CompsCacheHits / CompsCacheMisses 比价缓存命中统计。
	CompsCacheHits   prometheus.Counter
	CompsCacheMisses prometheus.Counter
	// CatalogUploadsTotal 按结果统计目录 Feed 上传次数。
	CatalogUploadsTotal *prometheus.CounterVec

	initOnce sync.Once
)

// InitMetrics 注册所有 Prometheus 指标，重复调用是安全的。
func InitMetrics() {
	initOnce.Do(func() {
		SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotsync",
			Name:      "sync_runs_total",
			Help:      "Completed sync runs by result.",
		}, []string{"result"})

		SyncDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lotsync",
			Name:      "sync_duration_seconds",
			Help:      "Wall clock duration of a full sync pass.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		})

		VehiclesActive = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "lotsync",
			Name:      "vehicles_active",
			Help:      "Vehicles currently on the lot.",
		})

		VehiclesPriced = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "lotsync",
			Name:      "vehicles_priced",
			Help:      "Active vehicles with an effective price.",
		})

		ScrapeExhausted = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "lotsync",
			Name:      "scrape_exhausted_vehicles",
			Help:      "Vehicles skipped by the price scraper after repeated failures.",
		})

		CompsCacheHits = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lotsync",
			Name:      "comps_cache_hits_total",
			Help:      "Market comps served from cache.",
		})

		CompsCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "lotsync",
			Name:      "comps_cache_misses_total",
			Help:      "Market comps requests that went upstream.",
		})

		CatalogUploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lotsync",
			Name:      "catalog_uploads_total",
			Help:      "Catalog feed uploads by result.",
		}, []string{"result"})
	})
}
