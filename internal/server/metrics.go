package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	intentsTotal     *prometheus.CounterVec
	executionsTotal  *prometheus.CounterVec
	completionsTotal *prometheus.CounterVec
	refundsTotal     *prometheus.CounterVec
	dlqDepth         prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpay_intents_total",
		Help: "Payment intent creations by outcome",
	}, []string{"status"})

	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpay_executions_total",
		Help: "Intent execution attempts by outcome",
	}, []string{"status"})

	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpay_completions_total",
		Help: "Out-of-band completion callbacks by outcome",
	}, []string{"status"})

	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "creatorpay_refunds_total",
		Help: "Refund requests and processing by outcome",
	}, []string{"status"})

	dlq := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "creatorpay_dlq_depth",
		Help: "Completion callbacks parked in the dead-letter queue",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(intents, executions, completions, refunds, dlq)

	return &metricsRegistry{
		registry:         r,
		intentsTotal:     intents,
		executionsTotal:  executions,
		completionsTotal: completions,
		refundsTotal:     refunds,
		dlqDepth:         dlq,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incIntent(status string) {
	m.intentsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incExecution(status string) {
	m.executionsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incCompletion(status string) {
	m.completionsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incRefund(status string) {
	m.refundsTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) setDLQDepth(depth int) {
	m.dlqDepth.Set(float64(depth))
}
