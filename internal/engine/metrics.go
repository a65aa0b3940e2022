package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"graphsub/pkg/domain"
)

const metricsNamespace = "graphsub"

// Metrics holds the engine's Prometheus instruments. All operations are
// nil-safe so tests can run without a registry.
type Metrics struct {
	// TransactionsTotal counts finished transactions by role and terminal
	// log state (SUCCEEDED, FAILED, ERRORED).
	TransactionsTotal *prometheus.CounterVec

	// EntitiesTotal counts committed entity mutations by action.
	EntitiesTotal *prometheus.CounterVec

	// TransactionDurationSeconds measures end-to-end transaction latency.
	TransactionDurationSeconds *prometheus.HistogramVec
}

// NewMetrics registers the engine metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transactions_total",
				Help:      "Finished transactions by role and terminal state",
			},
			[]string{"role", "state"},
		),
		EntitiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "entities_total",
				Help:      "Committed entity mutations by action",
			},
			[]string{"action"},
		),
		TransactionDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "transaction_duration_seconds",
				Help:      "End-to-end transaction latency",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10},
			},
			[]string{"role"},
		),
	}
}

func (m *Metrics) recordTransaction(role domain.Role, state domain.TxLogState, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(string(role), string(state)).Inc()
	m.TransactionDurationSeconds.WithLabelValues(string(role)).Observe(elapsed.Seconds())
}

func (m *Metrics) recordEntities(action domain.Action, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EntitiesTotal.WithLabelValues(string(action)).Add(float64(n))
}
