// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// slot returns the int64 cell for name, creating it on first use
func (m *MetricsCollector) slot(table map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, exists := table[name]
	m.mu.RUnlock()
	if exists {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, exists = table[name]; !exists {
		v = new(int64)
		table[name] = v
	}
	return v
}

// IncrementCounter increments a counter metric
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

// AddCounter adds a value to a counter metric
func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

// SetGauge sets a gauge metric
func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

// IncGauge increments a gauge metric
func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

// DecGauge decrements a gauge metric
func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

// GetGauge gets the current value of a gauge
func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// GetCounterValue gets the current value of a counter
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// GenerationMetrics records explainer pipeline metrics
type GenerationMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewGenerationMetrics creates a recorder backed by the global collector
func NewGenerationMetrics() *GenerationMetrics {
	return &GenerationMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// NewGenerationMetricsWith creates a recorder on a specific collector
func NewGenerationMetricsWith(m *MetricsCollector, logger *Logger) *GenerationMetrics {
	return &GenerationMetrics{metrics: m, logger: logger}
}

// Collector exposes the underlying collector
func (gm *GenerationMetrics) Collector() *MetricsCollector {
	return gm.metrics
}

// RecordAPIRequest records metrics for an API request
func (gm *GenerationMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	gm.metrics.IncrementCounter("api_requests_total")
	gm.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	gm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	gm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())

	gm.logger.Debug("API request completed", map[string]interface{}{
		"endpoint": endpoint,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// RecordScript records a script generation attempt
func (gm *GenerationMetrics) RecordScript(success bool, duration time.Duration) {
	gm.metrics.IncrementCounter("script_requests_total")
	if !success {
		gm.metrics.IncrementCounter("script_failures_total")
	}
	gm.metrics.RecordHistogram("script_latency_ms", duration.Milliseconds())
}

// RecordAsset records one settled asset request
func (gm *GenerationMetrics) RecordAsset(kind string, success bool, duration time.Duration) {
	gm.metrics.IncrementCounter("asset_requests_total")
	if success {
		gm.metrics.IncrementCounter("asset_" + kind + "_succeeded")
	} else {
		gm.metrics.IncrementCounter("asset_" + kind + "_failed")
	}
	gm.metrics.RecordHistogram("asset_"+kind+"_latency_ms", duration.Milliseconds())
}

// RecordReady records how long a run took to become playable
func (gm *GenerationMetrics) RecordReady(reason string, latency time.Duration) {
	gm.metrics.IncrementCounter("ready_" + reason)
	gm.metrics.RecordHistogram("ready_latency_ms", latency.Milliseconds())
}
