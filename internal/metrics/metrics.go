// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ワーカーやディスパッチャから利用する。
type MetricsCollector interface {
	RecordCheckSuccess(kind string)
	RecordCheckFailure(kind string, errorKind string)
	RecordCheckLatency(duration time.Duration)
	RecordItemsDelivered(count int)
	RecordSourceDisabled()
	RecordFingerprintsPruned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkSuccess       *prometheus.CounterVec
	checkFail          *prometheus.CounterVec
	checkLatency       prometheus.Histogram
	itemsDelivered     prometheus.Counter
	sourcesDisabled    prometheus.Counter
	fingerprintsPruned prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbot_check_success_total",
			Help: "ソースチェック成功の合計数（種別ごと）",
		}, []string{"kind"}),
		checkFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedbot_check_fail_total",
			Help: "ソースチェック失敗の合計数（種別・エラー分類ごと）",
		}, []string{"kind", "error_kind"}),
		checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedbot_check_latency_seconds",
			Help:    "ソースチェックのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		itemsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedbot_items_delivered_total",
			Help: "購読者に配信されたメッセージの合計数",
		}),
		sourcesDisabled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedbot_sources_disabled_total",
			Help: "無効化されたソースの合計数",
		}),
		fingerprintsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedbot_fingerprints_pruned_total",
			Help: "保持期間超過で削除されたフィンガープリントの合計数",
		}),
	}

	reg.MustRegister(
		c.checkSuccess,
		c.checkFail,
		c.checkLatency,
		c.itemsDelivered,
		c.sourcesDisabled,
		c.fingerprintsPruned,
	)

	return c
}

// RecordCheckSuccess はチェック成功を記録する。
func (c *Collector) RecordCheckSuccess(kind string) {
	c.checkSuccess.WithLabelValues(kind).Inc()
}

// RecordCheckFailure はチェック失敗をエラー分類付きで記録する。
func (c *Collector) RecordCheckFailure(kind string, errorKind string) {
	c.checkFail.WithLabelValues(kind, errorKind).Inc()
}

// RecordCheckLatency はチェックのレイテンシを記録する。
func (c *Collector) RecordCheckLatency(duration time.Duration) {
	c.checkLatency.Observe(duration.Seconds())
}

// RecordItemsDelivered は配信されたメッセージ数を記録する。
func (c *Collector) RecordItemsDelivered(count int) {
	c.itemsDelivered.Add(float64(count))
}

// RecordSourceDisabled はソースの無効化を記録する。
func (c *Collector) RecordSourceDisabled() {
	c.sourcesDisabled.Inc()
}

// RecordFingerprintsPruned は削除されたフィンガープリント数を記録する。
func (c *Collector) RecordFingerprintsPruned(count int64) {
	c.fingerprintsPruned.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
