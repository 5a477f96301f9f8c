package observability

import (
	"sync"
	"time"
)

// MetricsClient records counters and latencies emitted by the cache,
// rate limiter, and request handlers.
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordLatency(operation string, duration time.Duration)
	RecordCacheOperation(operation string, success bool, durationSeconds float64)
}

// InMemoryMetricsClient accumulates counters in memory. It backs the
// /health and stats endpoints in single-process deployments and doubles
// as the test metrics client.
type InMemoryMetricsClient struct {
	mu       sync.Mutex
	counters map[string]float64
}

// NewMetricsClient creates an in-memory metrics client.
func NewMetricsClient() *InMemoryMetricsClient {
	return &InMemoryMetricsClient{counters: make(map[string]float64)}
}

func (m *InMemoryMetricsClient) IncrementCounter(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

func (m *InMemoryMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	key := name
	for _, lk := range []string{"type", "resource", "status"} {
		if v, ok := labels[lk]; ok {
			key += "." + v
		}
	}
	m.IncrementCounter(key, value)
}

func (m *InMemoryMetricsClient) RecordLatency(operation string, duration time.Duration) {
	m.IncrementCounter(operation+".latency_ms", float64(duration.Milliseconds()))
}

func (m *InMemoryMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.IncrementCounterWithLabels("cache."+operation, 1, map[string]string{"status": status})
}

// Counter returns the current value of a counter. Primarily for tests.
func (m *InMemoryMetricsClient) Counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// NoopMetricsClient discards all metrics.
type NoopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that discards everything.
func NewNoopMetricsClient() *NoopMetricsClient { return &NoopMetricsClient{} }

func (m *NoopMetricsClient) IncrementCounter(name string, value float64) {}
func (m *NoopMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (m *NoopMetricsClient) RecordLatency(operation string, duration time.Duration) {}
func (m *NoopMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
}
