// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 参加操作の結果ラベル
const (
	ResultChanged   = "changed"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordMembershipOperation(operation, result string)
	RecordMembershipLatency(operation string, duration time.Duration)
	RecordReconcileRepaired(count int64)
	RecordCleanupPruned(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	membershipOps     *prometheus.CounterVec
	membershipLatency *prometheus.HistogramVec
	reconcileRepaired prometheus.Counter
	cleanupPruned     prometheus.Counter
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		membershipOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventgarden_membership_operations_total",
			Help: "参加操作の実行回数（操作種別・結果別）",
		}, []string{"operation", "result"}),
		membershipLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventgarden_membership_duration_seconds",
			Help:    "参加操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		reconcileRepaired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventgarden_reconcile_repaired_total",
			Help: "参加者数の不整合を修復したイベント数の合計",
		}),
		cleanupPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventgarden_cleanup_pruned_total",
			Help: "削除済みイベントへの参加記録を除去したユーザー数の合計",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventgarden_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.membershipOps,
		c.membershipLatency,
		c.reconcileRepaired,
		c.cleanupPruned,
		c.httpStatus,
	)

	return c
}

// RecordMembershipOperation は参加操作の結果を記録する。
func (c *Collector) RecordMembershipOperation(operation, result string) {
	c.membershipOps.WithLabelValues(operation, result).Inc()
}

// RecordMembershipLatency は参加操作のレイテンシを記録する。
func (c *Collector) RecordMembershipLatency(operation string, duration time.Duration) {
	c.membershipLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordReconcileRepaired は修復したイベント数を記録する。
func (c *Collector) RecordReconcileRepaired(count int64) {
	c.reconcileRepaired.Add(float64(count))
}

// RecordCleanupPruned は参加記録を除去したユーザー数を記録する。
func (c *Collector) RecordCleanupPruned(count int64) {
	c.cleanupPruned.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type NopCollector struct{}

func (NopCollector) RecordMembershipOperation(string, string)      {}
func (NopCollector) RecordMembershipLatency(string, time.Duration) {}
func (NopCollector) RecordReconcileRepaired(int64)                 {}
func (NopCollector) RecordCleanupPruned(int64)                     {}
func (NopCollector) RecordHTTPStatus(int)                          {}
