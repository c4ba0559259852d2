package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 账本相关的 Prometheus 指标，nil 接收者上的调用均为空操作
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	ledgerMutations *prometheus.CounterVec
	ledgerRetries   prometheus.Counter
	webhookOutcomes *prometheus.CounterVec
	quotaDenied     *prometheus.CounterVec
	reservations    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	archivedTxns    prometheus.Counter
}

// New 创建并注册指标
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ledgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_ledger_mutations_total",
			Help: "Ledger mutations by operation and result.",
		}, []string{"op", "result"}),
		ledgerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credit_ledger_cas_retries_total",
			Help: "Optimistic concurrency retries on account records.",
		}),
		webhookOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_webhook_events_total",
			Help: "Payment webhook events by outcome.",
		}, []string{"outcome"}),
		quotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_quota_denied_total",
			Help: "Anonymous quota denials by feature and scope.",
		}, []string{"feature", "scope"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credit_reservations_total",
			Help: "Reservation transitions by mode and result.",
		}, []string{"mode", "result"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credit_gateway_request_duration_seconds",
			Help:    "Payment gateway call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		archivedTxns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credit_archived_transactions_total",
			Help: "Transactions archived and pruned by retention.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.httpRequests,
			m.httpDuration,
			m.ledgerMutations,
			m.ledgerRetries,
			m.webhookOutcomes,
			m.quotaDenied,
			m.reservations,
			m.gatewayDuration,
			m.archivedTxns,
		)
	}
	return m
}

func (m *Metrics) ObserveHTTP(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) LedgerMutation(op, result string) {
	if m == nil {
		return
	}
	m.ledgerMutations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) LedgerRetry() {
	if m == nil {
		return
	}
	m.ledgerRetries.Inc()
}

func (m *Metrics) WebhookOutcome(outcome string) {
	if m == nil {
		return
	}
	m.webhookOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QuotaDenied(feature, scope string) {
	if m == nil {
		return
	}
	m.quotaDenied.WithLabelValues(feature, scope).Inc()
}

func (m *Metrics) Reservation(mode, result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(mode, result).Inc()
}

func (m *Metrics) ObserveGateway(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

func (m *Metrics) Archived(n int) {
	if m == nil {
		return
	}
	m.archivedTxns.Add(float64(n))
}
