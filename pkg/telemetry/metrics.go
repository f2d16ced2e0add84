package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names for the trade dispatch engine.
const (
	MetricRequestsSubmittedTotal = "dealengine_requests_submitted_total"
	MetricResultsTotal           = "dealengine_results_total"
	MetricQueueDepth             = "dealengine_queue_depth"
	MetricWorkersBusy            = "dealengine_workers_busy"
	MetricRetryAttemptsTotal     = "dealengine_retry_attempts_total"
	MetricExecutionLatencyMs     = "dealengine_execution_latency_ms"
	MetricBrokerConnected        = "dealengine_broker_connected"
)

// MetricsHolder holds the initialized OTel instruments for the dispatch
// engine. Counters are updated directly; gauges are backed by mutex-guarded
// int64 fields read through an observable callback, mirroring the pattern OTel recommends
// for values that change outside of a request/response cycle.
type MetricsHolder struct {
	RequestsSubmittedTotal metric.Int64Counter
	ResultsTotal           metric.Int64Counter
	RetryAttemptsTotal     metric.Int64Counter
	ExecutionLatencyMs     metric.Float64Histogram
	QueueDepth             metric.Int64ObservableGauge
	WorkersBusy            metric.Int64ObservableGauge
	BrokerConnected        metric.Int64ObservableGauge

	mu              sync.RWMutex
	queueDepth      int64
	workersBusy     int64
	brokerConnected int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the process-wide metrics singleton. Instruments
// are not usable until InitMetrics has been called with a real meter.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{}
	})
	return globalMetrics
}

// InitMetrics registers every instrument against meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.RequestsSubmittedTotal, err = meter.Int64Counter(MetricRequestsSubmittedTotal,
		metric.WithDescription("Total trade requests submitted to the dispatch engine"))
	if err != nil {
		return err
	}

	m.ResultsTotal, err = meter.Int64Counter(MetricResultsTotal,
		metric.WithDescription("Total terminal results recorded, labeled by status"))
	if err != nil {
		return err
	}

	m.RetryAttemptsTotal, err = meter.Int64Counter(MetricRetryAttemptsTotal,
		metric.WithDescription("Total broker execution attempts beyond the first, per request"))
	if err != nil {
		return err
	}

	m.ExecutionLatencyMs, err = meter.Float64Histogram(MetricExecutionLatencyMs,
		metric.WithDescription("Wall-clock time from a worker picking up a request to its terminal result"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.QueueDepth, err = meter.Int64ObservableGauge(MetricQueueDepth,
		metric.WithDescription("Pending items in the work queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.queueDepth)
			return nil
		}))
	if err != nil {
		return err
	}

	m.WorkersBusy, err = meter.Int64ObservableGauge(MetricWorkersBusy,
		metric.WithDescription("Worker goroutines currently processing a request"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.workersBusy)
			return nil
		}))
	if err != nil {
		return err
	}

	m.BrokerConnected, err = meter.Int64ObservableGauge(MetricBrokerConnected,
		metric.WithDescription("Broker connection state (1=connected, 0=disconnected)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.brokerConnected)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// RecordResult increments the results counter for status, labeled as an
// attribute so a single instrument covers every outcome.
func (m *MetricsHolder) RecordResult(ctx context.Context, status string) {
	if m.ResultsTotal == nil {
		return
	}
	m.ResultsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordRetryAttempts adds n retry attempts to the running total.
func (m *MetricsHolder) RecordRetryAttempts(ctx context.Context, n int64) {
	if m.RetryAttemptsTotal == nil || n <= 0 {
		return
	}
	m.RetryAttemptsTotal.Add(ctx, n)
}

// RecordExecutionLatency records the elapsed milliseconds for one request.
func (m *MetricsHolder) RecordExecutionLatency(ctx context.Context, ms float64) {
	if m.ExecutionLatencyMs == nil {
		return
	}
	m.ExecutionLatencyMs.Record(ctx, ms)
}

// SetQueueDepth updates the observable queue depth gauge's backing value.
func (m *MetricsHolder) SetQueueDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepth = int64(depth)
}

// SetWorkersBusy updates the observable busy-worker gauge's backing value.
func (m *MetricsHolder) SetWorkersBusy(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workersBusy = int64(count)
}

// SetBrokerConnected updates the observable broker connection gauge.
func (m *MetricsHolder) SetBrokerConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if connected {
		m.brokerConnected = 1
	} else {
		m.brokerConnected = 0
	}
}
