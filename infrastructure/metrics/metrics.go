package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "palomas"

var (
	// Registry holds the ledger's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome (ok or error kind).",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of ledger operations including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 12), // 2ms to ~4s
		},
		[]string{"operation"},
	)

	txRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tx_retries_total",
			Help:      "Transaction attempts retried after a conflict or transient storage error.",
		},
		[]string{"operation", "kind"},
	)

	palomasMoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "palomas_moved_total",
			Help:      "Palomas moved by committed operations.",
		},
		[]string{"reason"},
	)

	reconcileCorrections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "balance",
			Name:      "reconcile_corrections_total",
			Help:      "Cached balances overwritten because they drifted from the ledger sum.",
		},
	)

	expiredEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "expired_entries_total",
			Help:      "Ledger entries flagged expired by the sweeper.",
		},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events forwarded to NATS by outcome.",
		},
		[]string{"event_type", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		operations,
		operationDuration,
		txRetries,
		palomasMoved,
		reconcileCorrections,
		expiredEntries,
		eventsPublished,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordOperation counts a finished operation. outcome is "ok" or an error kind.
func RecordOperation(operation, outcome string, duration time.Duration) {
	operations.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func RecordRetry(operation, kind string) {
	txRetries.WithLabelValues(operation, kind).Inc()
}

func RecordPalomasMoved(reason string, amount int64) {
	if amount <= 0 {
		return
	}
	palomasMoved.WithLabelValues(reason).Add(float64(amount))
}

func RecordReconcileCorrection() {
	reconcileCorrections.Inc()
}

func RecordExpiredEntries(n int64) {
	if n <= 0 {
		return
	}
	expiredEntries.Add(float64(n))
}

func RecordEventPublished(eventType string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	eventsPublished.WithLabelValues(eventType, outcome).Inc()
}
