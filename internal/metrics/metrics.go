// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordDeduction(module string, amount int)
	RecordGrant(kind string, amount int)
	RecordInsufficientCredits()
	RecordBalanceConflict()
	RecordProvision(created bool)
	RecordDemoConsumption()
	RecordHTTPStatus(statusCode int)
	RecordInferenceLatency(duration time.Duration)
	RecordInferenceFailure()
	RecordLedgerDrift(accountCount int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	deductions      *prometheus.CounterVec
	grants          *prometheus.CounterVec
	insufficient    prometheus.Counter
	conflicts       prometheus.Counter
	provisions      *prometheus.CounterVec
	demoConsumed    prometheus.Counter
	httpStatus      *prometheus.CounterVec
	inferLatency    prometheus.Histogram
	inferFail       prometheus.Counter
	ledgerDriftSeen prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		deductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditd_deductions_total",
			Help: "モジュール別のクレジット消費数",
		}, []string{"module"}),
		grants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditd_grants_total",
			Help: "種別ごとのクレジット付与数",
		}, []string{"kind"}),
		insufficient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditd_insufficient_credits_total",
			Help: "残高不足で拒否されたリクエストの合計数",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditd_balance_conflicts_total",
			Help: "楽観的ロック競合の合計数",
		}),
		provisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditd_provisions_total",
			Help: "アカウントプロビジョニングの合計数（created=新規作成）",
		}, []string{"created"}),
		demoConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditd_demo_consumptions_total",
			Help: "デモモードでのクレジット消費の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "creditd_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		inferLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "creditd_inference_latency_seconds",
			Help:    "AI分析呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		inferFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "creditd_inference_failures_total",
			Help: "AI分析呼び出し失敗の合計数",
		}),
		ledgerDriftSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "creditd_ledger_drift_accounts",
			Help: "直近のreconcileで残高と台帳合計が不一致だったアカウント数",
		}),
	}

	reg.MustRegister(
		c.deductions,
		c.grants,
		c.insufficient,
		c.conflicts,
		c.provisions,
		c.demoConsumed,
		c.httpStatus,
		c.inferLatency,
		c.inferFail,
		c.ledgerDriftSeen,
	)

	return c
}

// RecordDeduction はクレジット消費を記録する。
func (c *Collector) RecordDeduction(module string, amount int) {
	if module == "" {
		module = "unknown"
	}
	c.deductions.WithLabelValues(module).Add(float64(amount))
}

// RecordGrant はクレジット付与を記録する。
func (c *Collector) RecordGrant(kind string, amount int) {
	c.grants.WithLabelValues(kind).Add(float64(amount))
}

// RecordInsufficientCredits は残高不足による拒否を記録する。
func (c *Collector) RecordInsufficientCredits() {
	c.insufficient.Inc()
}

// RecordBalanceConflict は楽観的ロック競合を記録する。
func (c *Collector) RecordBalanceConflict() {
	c.conflicts.Inc()
}

// RecordProvision はプロビジョニング実行を記録する。
func (c *Collector) RecordProvision(created bool) {
	c.provisions.WithLabelValues(strconv.FormatBool(created)).Inc()
}

// RecordDemoConsumption はデモモードでの消費を記録する。
func (c *Collector) RecordDemoConsumption() {
	c.demoConsumed.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordInferenceLatency はAI分析呼び出しのレイテンシを記録する。
func (c *Collector) RecordInferenceLatency(duration time.Duration) {
	c.inferLatency.Observe(duration.Seconds())
}

// RecordInferenceFailure はAI分析呼び出しの失敗を記録する。
func (c *Collector) RecordInferenceFailure() {
	c.inferFail.Inc()
}

// RecordLedgerDrift はreconcileで検出した不整合アカウント数を記録する。
func (c *Collector) RecordLedgerDrift(accountCount int) {
	c.ledgerDriftSeen.Set(float64(accountCount))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// ルーターの/metricsルートに取り付けて使う。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
