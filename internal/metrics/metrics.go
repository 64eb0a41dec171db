package metrics

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector tracks request counts and a sliding window of latencies.
type MetricsCollector struct {
	TotalRequests uint64
	TotalErrors   uint64
	StatusCounts  map[int]uint64

	latencies  []time.Duration
	maxSamples int
	mu         sync.RWMutex
}

func NewCollector(maxSamples int) *MetricsCollector {
	return &MetricsCollector{
		StatusCounts: make(map[int]uint64),
		latencies:    make([]time.Duration, 0, maxSamples),
		maxSamples:   maxSamples,
	}
}

func (c *MetricsCollector) Record(duration time.Duration, statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.TotalRequests++
	if statusCode >= 400 {
		c.TotalErrors++
	}
	c.StatusCounts[statusCode]++

	// Keep the last maxSamples latencies; recency bias is fine here.
	if len(c.latencies) >= c.maxSamples {
		c.latencies = c.latencies[1:]
	}
	c.latencies = append(c.latencies, duration)
}

// Stats is a point-in-time snapshot.
type Stats struct {
	TotalRequests uint64         `json:"total_requests"`
	TotalErrors   uint64         `json:"total_errors"`
	ErrorRate     float64        `json:"error_rate"`
	P50Latency    string         `json:"p50_latency"`
	P95Latency    string         `json:"p95_latency"`
	P99Latency    string         `json:"p99_latency"`
	StatusCounts  map[int]uint64 `json:"status_counts"`
}

func (c *MetricsCollector) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sorted := make([]time.Duration, len(c.latencies))
	copy(sorted, c.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	errorRate := 0.0
	if c.TotalRequests > 0 {
		errorRate = float64(c.TotalErrors) / float64(c.TotalRequests)
	}

	sc := make(map[int]uint64)
	for k, v := range c.StatusCounts {
		sc[k] = v
	}

	return Stats{
		TotalRequests: c.TotalRequests,
		TotalErrors:   c.TotalErrors,
		ErrorRate:     errorRate,
		P50Latency:    quantile(sorted, 0.50).String(),
		P95Latency:    quantile(sorted, 0.95).String(),
		P99Latency:    quantile(sorted, 0.99).String(),
		StatusCounts:  sc,
	}
}

func quantile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
