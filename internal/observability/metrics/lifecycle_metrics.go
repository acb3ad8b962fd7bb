package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	TxFailureDeadlineExceeded     = "deadline_exceeded"
	TxFailureCanceled             = "canceled"
	TxFailureLockTimeout          = "db_lock_timeout"
	TxFailureSerializationFailure = "serialization_failure"
	TxFailureUniqueViolation      = "unique_violation"
	TxFailureUnknown              = "unknown"
)

const (
	LockResourceNeed         = "need_by_id"
	LockResourceNeedsByBatch = "needs_by_batch"
	LockResourceBatch        = "batch_by_id"
)

// LifecycleMetrics tracks state machine movement and row lock contention.
type LifecycleMetrics struct {
	needTransitions  *prometheus.CounterVec
	batchTransitions *prometheus.CounterVec
	lockWait         *prometheus.HistogramVec
	txFailures       *prometheus.CounterVec
}

var (
	lifecycleMetricsOnce sync.Once
	lifecycleMetrics     *LifecycleMetrics
)

// Lifecycle returns the process-wide lifecycle metrics registry.
func Lifecycle() *LifecycleMetrics {
	return LifecycleWithConfig(Config{})
}

// LifecycleWithConfig returns the singleton using config labels on first use.
func LifecycleWithConfig(cfg Config) *LifecycleMetrics {
	lifecycleMetricsOnce.Do(func() {
		lifecycleMetrics = newLifecycleMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return lifecycleMetrics
}

// ResetLifecycleMetricsForTest resets the lifecycle metrics singleton for tests.
func ResetLifecycleMetricsForTest() {
	lifecycleMetricsOnce = sync.Once{}
	lifecycleMetrics = nil
}

func newLifecycleMetrics(registerer prometheus.Registerer, cfg Config) *LifecycleMetrics {
	constLabels := serviceLabels(cfg)

	needTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "needflow_need_status_transitions_total",
		Help:        "Need status changes by variant.",
		ConstLabels: constLabels,
	}, []string{"kind", "from", "to"})
	batchTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "needflow_batch_status_transitions_total",
		Help:        "Distribution batch status changes.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "needflow_db_lock_wait_seconds",
		Help:        "Time spent acquiring SELECT FOR UPDATE row locks.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"resource"})
	txFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "needflow_tx_failures_total",
		Help:        "Aborted mutation transactions by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})

	m := &LifecycleMetrics{}
	m.needTransitions, _ = registerOrReuse(registerer, needTransitions)
	m.batchTransitions, _ = registerOrReuse(registerer, batchTransitions)
	m.lockWait, _ = registerOrReuse(registerer, lockWait)
	m.txFailures, _ = registerOrReuse(registerer, txFailures)
	return m
}

func (m *LifecycleMetrics) ObserveNeedTransition(kind, from, to string) {
	if m == nil {
		return
	}
	m.needTransitions.WithLabelValues(kind, from, to).Inc()
}

func (m *LifecycleMetrics) ObserveBatchTransition(from, to string) {
	if m == nil {
		return
	}
	m.batchTransitions.WithLabelValues(from, to).Inc()
}

func (m *LifecycleMetrics) ObserveLockWait(resource string, wait time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(wait.Seconds())
}

// RecordTxFailure counts an aborted transaction. Domain rejections are not
// failures and should not be passed here.
func (m *LifecycleMetrics) RecordTxFailure(operation string, err error) {
	if m == nil || err == nil {
		return
	}
	m.txFailures.WithLabelValues(strings.TrimSpace(operation), ClassifyTxFailure(err)).Inc()
}

func ClassifyTxFailure(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return TxFailureDeadlineExceeded
	case errors.Is(err, context.Canceled):
		return TxFailureCanceled
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return TxFailureUniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return TxFailureLockTimeout
		case "40001", "40P01":
			return TxFailureSerializationFailure
		case "23505":
			return TxFailureUniqueViolation
		}
	}
	return TxFailureUnknown
}
