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
// Bootstrap、プロフィール解決、HTTPハンドラーから利用する。
type MetricsCollector interface {
	RecordAuthEvent(event string)
	RecordProfileResolution(outcome string)
	RecordSignInFailure(method string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
	SetActiveRuntimes(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents         *prometheus.CounterVec
	profileResolutions *prometheus.CounterVec
	signInFailures     *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	requestLatency     prometheus.Histogram
	activeRuntimes     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ebridge_auth_events_total",
			Help: "種別ごとの認証イベント数",
		}, []string{"event"}),
		profileResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ebridge_profile_resolutions_total",
			Help: "結果ごとのプロフィール解決数",
		}, []string{"outcome"}),
		signInFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ebridge_sign_in_failures_total",
			Help: "方式ごとのサインイン失敗数",
		}, []string{"method"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ebridge_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ebridge_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		activeRuntimes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ebridge_active_session_runtimes",
			Help: "保持中のWebセッション実行時状態の数",
		}),
	}

	reg.MustRegister(
		c.authEvents,
		c.profileResolutions,
		c.signInFailures,
		c.httpStatus,
		c.requestLatency,
		c.activeRuntimes,
	)

	return c
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordProfileResolution はプロフィール解決の結果を記録する。
func (c *Collector) RecordProfileResolution(outcome string) {
	c.profileResolutions.WithLabelValues(outcome).Inc()
}

// RecordSignInFailure はサインイン失敗を記録する。
func (c *Collector) RecordSignInFailure(method string) {
	c.signInFailures.WithLabelValues(method).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエストの処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// SetActiveRuntimes は保持中の実行時状態の数を設定する。
func (c *Collector) SetActiveRuntimes(n int) {
	c.activeRuntimes.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
