package platform

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hylla/herbchain/internal/domain"
)

// Metrics provides observability for ledger intents and code minting.
type Metrics struct {
	registry *prometheus.Registry

	// Committed intents by intent name and record kind
	IntentsApplied *prometheus.CounterVec

	// Rejected intents by intent name and error kind
	IntentsRejected *prometheus.CounterVec

	// Intent latency by outcome
	IntentLatency *prometheus.HistogramVec

	// Minted codes by prefix
	CodesMinted *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		IntentsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herbchain_intents_applied_total",
			Help: "Total committed ledger intents by intent and record kind",
		}, []string{"intent", "kind"}),

		IntentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herbchain_intents_rejected_total",
			Help: "Total rejected ledger intents by intent and error kind",
		}, []string{"intent", "error_kind"}),

		IntentLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herbchain_intent_duration_seconds",
			Help:    "Duration of ledger intents including the storage transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"intent", "outcome"}), // outcome: "applied", "rejected"

		CodesMinted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herbchain_codes_minted_total",
			Help: "Total minted batch, product, and consumer codes by prefix",
		}, []string{"prefix"}),
	}
}

// IntentApplied records one committed intent.
func (m *Metrics) IntentApplied(intent string, kind domain.RecordKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.IntentsApplied.WithLabelValues(intent, string(kind)).Inc()
	m.IntentLatency.WithLabelValues(intent, "applied").Observe(elapsed.Seconds())
}

// IntentRejected records one rejected intent.
func (m *Metrics) IntentRejected(intent string, kind domain.ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "internal"
	}
	m.IntentsRejected.WithLabelValues(intent, label).Inc()
	m.IntentLatency.WithLabelValues(intent, "rejected").Observe(elapsed.Seconds())
}

// CodeMinted records one minted code.
func (m *Metrics) CodeMinted(prefix string) {
	if m == nil {
		return
	}
	m.CodesMinted.WithLabelValues(strings.ToUpper(strings.TrimSpace(prefix))).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
