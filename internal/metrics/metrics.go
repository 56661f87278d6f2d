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
// ハンドラーやサービス層から利用する。
type MetricsCollector interface {
	RecordAgreementView(slug string)
	RecordSignature(slug string)
	RecordSignatureRejected(reason string)
	RecordRedirectRejected()
	RecordRenderLatency(duration time.Duration)
	RecordAgreementsSynced(result string, count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	agreementViews    *prometheus.CounterVec
	signatures        *prometheus.CounterVec
	signatureRejected *prometheus.CounterVec
	redirectRejected  prometheus.Counter
	renderLatency     prometheus.Histogram
	agreementsSynced  *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		agreementViews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legaldesk_agreement_views_total",
			Help: "規約表示の合計数",
		}, []string{"slug"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legaldesk_signatures_total",
			Help: "規約署名の合計数",
		}, []string{"slug"}),
		signatureRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legaldesk_signature_rejected_total",
			Help: "検証エラーで拒否された署名の合計数",
		}, []string{"reason"}),
		redirectRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "legaldesk_redirect_rejected_total",
			Help: "安全でないためデフォルトに置換されたリダイレクト先の合計数",
		}),
		renderLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "legaldesk_render_latency_seconds",
			Help:    "規約レンダリングのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		agreementsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legaldesk_agreements_synced_total",
			Help: "同期処理で作成・更新された規約の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "legaldesk_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.agreementViews,
		c.signatures,
		c.signatureRejected,
		c.redirectRejected,
		c.renderLatency,
		c.agreementsSynced,
		c.httpStatus,
	)

	return c
}

// RecordAgreementView は規約の表示を記録する。
func (c *Collector) RecordAgreementView(slug string) {
	c.agreementViews.WithLabelValues(slug).Inc()
}

// RecordSignature は署名の作成を記録する。
func (c *Collector) RecordSignature(slug string) {
	c.signatures.WithLabelValues(slug).Inc()
}

// RecordSignatureRejected は拒否された署名を記録する。
func (c *Collector) RecordSignatureRejected(reason string) {
	c.signatureRejected.WithLabelValues(reason).Inc()
}

// RecordRedirectRejected は置換されたリダイレクト先を記録する。
func (c *Collector) RecordRedirectRejected() {
	c.redirectRejected.Inc()
}

// RecordRenderLatency はレンダリングのレイテンシを記録する。
func (c *Collector) RecordRenderLatency(duration time.Duration) {
	c.renderLatency.Observe(duration.Seconds())
}

// RecordAgreementsSynced は同期結果（created/updated/unchanged）ごとの件数を記録する。
func (c *Collector) RecordAgreementsSynced(result string, count int) {
	c.agreementsSynced.WithLabelValues(result).Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
