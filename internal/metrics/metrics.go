// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordSyncSuccess(vendor string)
	RecordSyncFailure(vendor string, reason string)
	RecordFullResync(vendor string)
	RecordEventsApplied(created, updated, deleted int)
	RecordSyncLatency(duration time.Duration)
	RecordTokenRefresh(success bool)
	RecordAvailabilityLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncSuccess         *prometheus.CounterVec
	syncFail            *prometheus.CounterVec
	fullResync          *prometheus.CounterVec
	eventsApplied       *prometheus.CounterVec
	syncLatency         prometheus.Histogram
	tokenRefresh        *prometheus.CounterVec
	availabilityLatency prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calman_sync_success_total",
			Help: "同期パス成功の合計数",
		}, []string{"vendor"}),
		syncFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calman_sync_fail_total",
			Help: "同期パス失敗の合計数",
		}, []string{"vendor", "reason"}),
		fullResync: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calman_full_resync_total",
			Help: "フル再同期の実行回数",
		}, []string{"vendor"}),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calman_events_applied_total",
			Help: "ローカルストアに適用されたイベント数",
		}, []string{"operation"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calman_sync_latency_seconds",
			Help:    "接続1件あたりの同期レイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calman_token_refresh_total",
			Help: "アクセストークンリフレッシュの実行回数",
		}, []string{"result"}),
		availabilityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calman_availability_latency_seconds",
			Help:    "空き時間計算のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.syncSuccess,
		c.syncFail,
		c.fullResync,
		c.eventsApplied,
		c.syncLatency,
		c.tokenRefresh,
		c.availabilityLatency,
	)

	return c
}

// RecordSyncSuccess は同期パス成功を記録する。
func (c *Collector) RecordSyncSuccess(vendor string) {
	c.syncSuccess.WithLabelValues(vendor).Inc()
}

// RecordSyncFailure は同期パス失敗を理由付きで記録する。
func (c *Collector) RecordSyncFailure(vendor string, reason string) {
	c.syncFail.WithLabelValues(vendor, reason).Inc()
}

// RecordFullResync はフル再同期の実行を記録する。
func (c *Collector) RecordFullResync(vendor string) {
	c.fullResync.WithLabelValues(vendor).Inc()
}

// RecordEventsApplied は適用されたイベント数を操作種別ごとに記録する。
func (c *Collector) RecordEventsApplied(created, updated, deleted int) {
	c.eventsApplied.WithLabelValues("create").Add(float64(created))
	c.eventsApplied.WithLabelValues("update").Add(float64(updated))
	c.eventsApplied.WithLabelValues("delete").Add(float64(deleted))
}

// RecordSyncLatency は接続1件あたりの同期レイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	result := "success"
	if !success {
		result = "fail"
	}
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordAvailabilityLatency は空き時間計算のレイテンシを記録する。
func (c *Collector) RecordAvailabilityLatency(duration time.Duration) {
	c.availabilityLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
