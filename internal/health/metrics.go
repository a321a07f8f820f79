package health

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// DefaultHighFrequencySampleRate is applied to counters/histograms the
// spec calls out as high-frequency (search operations, latencies) so a
// busy repo doesn't flood the exporter.
const DefaultHighFrequencySampleRate = 0.1

// SampleRates maps a metric name to the fraction of calls recorded.
// A name absent from the map is always recorded.
type SampleRates map[string]float64

// DefaultSampleRates returns the sampling table spec.md §4.11 implies:
// high-frequency operational counters and latency histograms sampled
// at 10%, everything else (cache/error counters, gauges) unsampled.
func DefaultSampleRates() SampleRates {
	return SampleRates{
		"search_operations":            DefaultHighFrequencySampleRate,
		"search_latency_ms":            DefaultHighFrequencySampleRate,
		"context_assembly_latency_ms":  DefaultHighFrequencySampleRate,
	}
}

func (r SampleRates) shouldRecord(name string) bool {
	rate, ok := r[name]
	if !ok {
		return true
	}
	return rand.Float64() < rate
}

// Metrics wraps the OTel instruments for C11's counters, gauges, and
// histograms, applying per-metric-name sampling before each record.
type Metrics struct {
	rates SampleRates

	searchOperations metric.Int64Counter
	searchErrors     metric.Int64Counter
	cacheOperations  metric.Int64Counter

	searchLatency          metric.Float64Histogram
	contextAssemblyLatency metric.Float64Histogram

	mu              sync.Mutex
	cacheHitRate    float64
	tokenUsage      float64
	budgetUtilization float64
	memoryRSS       float64
}

// NewMetrics registers every C11 instrument against meter. rates may
// be nil to use DefaultSampleRates.
func NewMetrics(meter metric.Meter, rates SampleRates) (*Metrics, error) {
	if rates == nil {
		rates = DefaultSampleRates()
	}
	m := &Metrics{rates: rates}

	var err error
	if m.searchOperations, err = meter.Int64Counter("search_operations"); err != nil {
		return nil, err
	}
	if m.searchErrors, err = meter.Int64Counter("search_errors"); err != nil {
		return nil, err
	}
	if m.cacheOperations, err = meter.Int64Counter("cache_operations"); err != nil {
		return nil, err
	}
	if m.searchLatency, err = meter.Float64Histogram("search_latency_ms"); err != nil {
		return nil, err
	}
	if m.contextAssemblyLatency, err = meter.Float64Histogram("context_assembly_latency_ms"); err != nil {
		return nil, err
	}

	if _, err = meter.Float64ObservableGauge("cache_hit_rate", metric.WithFloat64Callback(
		func(_ context.Context, o metric.Float64Observer) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			o.Observe(m.cacheHitRate)
			return nil
		})); err != nil {
		return nil, err
	}
	if _, err = meter.Float64ObservableGauge("token_usage", metric.WithFloat64Callback(
		func(_ context.Context, o metric.Float64Observer) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			o.Observe(m.tokenUsage)
			return nil
		})); err != nil {
		return nil, err
	}
	if _, err = meter.Float64ObservableGauge("budget_utilization", metric.WithFloat64Callback(
		func(_ context.Context, o metric.Float64Observer) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			o.Observe(m.budgetUtilization)
			return nil
		})); err != nil {
		return nil, err
	}
	if _, err = meter.Float64ObservableGauge("memory_rss", metric.WithFloat64Callback(
		func(_ context.Context, o metric.Float64Observer) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			o.Observe(m.memoryRSS)
			return nil
		})); err != nil {
		return nil, err
	}

	return m, nil
}

// NewInMemoryMeterProvider builds a meter provider with no exporter
// attached, for tests and offline/config=off runs.
func NewInMemoryMeterProvider() *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider()
}

// RecordSearch records one retrieval turn's outcome and latency.
func (m *Metrics) RecordSearch(ctx context.Context, intent string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("intent", intent))
	if m.rates.shouldRecord("search_operations") {
		m.searchOperations.Add(ctx, 1, attrs)
	}
	if err != nil {
		m.searchErrors.Add(ctx, 1, attrs)
	}
	if m.rates.shouldRecord("search_latency_ms") {
		m.searchLatency.Record(ctx, float64(d.Milliseconds()), attrs)
	}
}

// RecordContextAssembly records one bundle-assembly latency.
func (m *Metrics) RecordContextAssembly(ctx context.Context, d time.Duration) {
	if m.rates.shouldRecord("context_assembly_latency_ms") {
		m.contextAssemblyLatency.Record(ctx, float64(d.Milliseconds()))
	}
}

// RecordCacheOp records a cache hit (hit=true) or miss.
func (m *Metrics) RecordCacheOp(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	if m.rates.shouldRecord("cache_operations") {
		m.cacheOperations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// SetCacheHitRate updates the cache_hit_rate gauge's observed value.
func (m *Metrics) SetCacheHitRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHitRate = rate
}

// SetTokenUsage updates the token_usage gauge's observed value.
func (m *Metrics) SetTokenUsage(tokens float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenUsage = tokens
}

// SetBudgetUtilization updates the budget_utilization gauge (0-1).
func (m *Metrics) SetBudgetUtilization(fraction float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgetUtilization = fraction
}

// SetMemoryRSS updates the memory_rss gauge's observed value in bytes.
func (m *Metrics) SetMemoryRSS(bytes float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryRSS = bytes
}
