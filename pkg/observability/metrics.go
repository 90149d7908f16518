package observability

import (
	"sync"
	"time"
)

// Metrics records application metrics.
type Metrics interface {
	// Counter increments a counter metric.
	Counter(name string, value int64, tags ...Tag)

	// Gauge sets a gauge metric to the given value.
	Gauge(name string, value float64, tags ...Tag)

	// Histogram records a value in a histogram.
	Histogram(name string, value float64, tags ...Tag)

	// Timing records a duration.
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag is a key-value pair for metric labeling.
type Tag struct {
	Key   string
	Value string
}

// T creates a Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards all metrics.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)            {}
func (NoopMetrics) Gauge(string, float64, ...Tag)            {}
func (NoopMetrics) Histogram(string, float64, ...Tag)        {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag)     {}

// InMemoryMetrics collects metrics in memory for tests.
type InMemoryMetrics struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
	timings    map[string][]time.Duration
}

// NewInMemoryMetrics creates an empty in-memory metrics collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		timings:    make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[formatKey(name, tags)] += value
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[formatKey(name, tags)] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.histograms[key] = append(m.histograms[key], value)
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.timings[key] = append(m.timings[key], duration)
}

// GetCounter returns the current value of a counter.
func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[formatKey(name, tags)]
}

// GetGauge returns the current value of a gauge.
func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[formatKey(name, tags)]
}

// GetTimings returns all recorded timings.
func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timings[formatKey(name, tags)]
}

// Reset clears all recorded metrics.
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]int64)
	m.gauges = make(map[string]float64)
	m.histograms = make(map[string][]float64)
	m.timings = make(map[string][]time.Duration)
}

func formatKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	key := name
	for _, t := range tags {
		key += ":" + t.Key + "=" + t.Value
	}
	return key
}

// Standard metric names.
const (
	// Operation metrics
	MetricOperationTotal    = "settlr.operation.total"
	MetricOperationDuration = "settlr.operation.duration"
	MetricOperationErrors   = "settlr.operation.errors"

	// Subscription metrics
	MetricSubscriptionsCreated   = "settlr.subscriptions.created"
	MetricSubscriptionsRenewed   = "settlr.subscriptions.renewed"
	MetricSubscriptionsExpired   = "settlr.subscriptions.expired"
	MetricSubscriptionsCancelled = "settlr.subscriptions.cancelled"

	// Charge metrics
	MetricChargesSucceeded = "settlr.charges.succeeded"
	MetricChargesFailed    = "settlr.charges.failed"
	MetricChargeVolume     = "settlr.charges.volume_micros"
	MetricPlatformFees     = "settlr.charges.platform_fee_micros"

	// Sweep metrics
	MetricSweepRuns     = "settlr.sweep.runs"
	MetricSweepDuration = "settlr.sweep.duration"
	MetricSweepSkipped  = "settlr.sweep.skipped"

	// Webhook metrics
	MetricWebhooksDelivered = "settlr.webhooks.delivered"
	MetricWebhooksFailed    = "settlr.webhooks.failed"
	MetricWebhooksDead      = "settlr.webhooks.dead_lettered"

	// Event bus metrics
	MetricEventsPublished = "settlr.events.published"
	MetricEventsConsumed  = "settlr.events.consumed"
)
