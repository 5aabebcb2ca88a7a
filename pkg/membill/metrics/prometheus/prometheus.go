package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gymops/membill/pkg/membill"
)

// Metrics implements membill.Metrics using Prometheus.
type Metrics struct {
	sweepsTotal         *prometheus.CounterVec
	sweepDuration       prometheus.Histogram
	sweepProcessed      prometheus.Counter
	cyclesCreatedTotal  *prometheus.CounterVec
	contractsExpired    prometheus.Counter
	cyclesMarkedOverdue prometheus.Counter
	storageOpsDuration  *prometheus.HistogramVec
	storageOpsErrors    *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		sweepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_sweeps_total",
			Help:      "Total number of daily sweep invocations.",
		}, []string{"success"}),

		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "billing_sweep_duration_seconds",
			Help:      "Latency of daily sweep invocations.",
			Buckets:   prometheus.DefBuckets,
		}),

		sweepProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_sweep_cycles_processed_total",
			Help:      "Total number of cycles examined by the progression phase.",
		}),

		cyclesCreatedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_cycles_created_total",
			Help:      "Total number of billing cycles inserted.",
		}, []string{"cadence", "initial"}),

		contractsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_contracts_expired_total",
			Help:      "Total number of contracts expired by the sweep.",
		}),

		cyclesMarkedOverdue: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_cycles_marked_overdue_total",
			Help:      "Total number of cycles marked overdue by the sweep.",
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordSweep(duration time.Duration, result membill.SweepResult, err error) {
	m.sweepsTotal.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	m.sweepDuration.Observe(duration.Seconds())
	if err == nil {
		m.sweepProcessed.Add(float64(result.Processed))
	}
}

func (m *Metrics) RecordContractsExpired(count int64) {
	m.contractsExpired.Add(float64(count))
}

func (m *Metrics) RecordCyclesMarkedOverdue(count int64) {
	m.cyclesMarkedOverdue.Add(float64(count))
}

func (m *Metrics) RecordCycleCreated(cadence membill.Cadence, initial bool) {
	m.cyclesCreatedTotal.WithLabelValues(string(cadence), strconv.FormatBool(initial)).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
