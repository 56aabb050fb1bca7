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
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordGateDecision(decision string)
	RecordAuthAttempt(flow, outcome string)
	RecordAutoConfirm(outcome string)
	RecordUpload(outcome string)
	RecordEvaluation(outcome string)
	RecordEvaluatorLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gateDecisions    *prometheus.CounterVec
	authAttempts     *prometheus.CounterVec
	autoConfirms     *prometheus.CounterVec
	uploads          *prometheus.CounterVec
	evaluations      *prometheus.CounterVec
	evaluatorLatency prometheus.Histogram
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchcheck_gate_decisions_total",
			Help: "セッションゲートの判定結果別の件数",
		}, []string{"decision"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchcheck_auth_attempts_total",
			Help: "認証フロー別・結果別の試行数",
		}, []string{"flow", "outcome"}),
		autoConfirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchcheck_auto_confirm_total",
			Help: "メール自動確認の結果別の件数",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchcheck_uploads_total",
			Help: "動画アップロードの結果別の件数",
		}, []string{"outcome"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchcheck_evaluations_total",
			Help: "評価ジョブの送信・完了・失敗の件数",
		}, []string{"outcome"}),
		evaluatorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pitchcheck_evaluator_latency_seconds",
			Help:    "評価サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitchcheck_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.gateDecisions,
		c.authAttempts,
		c.autoConfirms,
		c.uploads,
		c.evaluations,
		c.evaluatorLatency,
		c.httpStatus,
	)

	return c
}

// RecordGateDecision はセッションゲートの判定を記録する。
func (c *Collector) RecordGateDecision(decision string) {
	c.gateDecisions.WithLabelValues(decision).Inc()
}

// RecordAuthAttempt は認証フローの結果を記録する。
func (c *Collector) RecordAuthAttempt(flow, outcome string) {
	c.authAttempts.WithLabelValues(flow, outcome).Inc()
}

// RecordAutoConfirm はメール自動確認の結果を記録する。
func (c *Collector) RecordAutoConfirm(outcome string) {
	c.autoConfirms.WithLabelValues(outcome).Inc()
}

// RecordUpload は動画アップロードの結果を記録する。
func (c *Collector) RecordUpload(outcome string) {
	c.uploads.WithLabelValues(outcome).Inc()
}

// RecordEvaluation は評価ジョブの状態遷移を記録する。
func (c *Collector) RecordEvaluation(outcome string) {
	c.evaluations.WithLabelValues(outcome).Inc()
}

// RecordEvaluatorLatency は評価サービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordEvaluatorLatency(duration time.Duration) {
	c.evaluatorLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordGateDecision(string)            {}
func (NopCollector) RecordAuthAttempt(string, string)     {}
func (NopCollector) RecordAutoConfirm(string)             {}
func (NopCollector) RecordUpload(string)                  {}
func (NopCollector) RecordEvaluation(string)              {}
func (NopCollector) RecordEvaluatorLatency(time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)                 {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
