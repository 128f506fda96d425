package qprep

import (
	"sort"
	"sync"
	"time"
)

/*
Metrics collects pool and engine counters. Fields are guarded by mu; use
ExportMetrics to read them from outside the package.
*/
type Metrics struct {
	mu sync.RWMutex

	WorkerCount        int
	JobQueueSize       int
	JobCount           int64
	FailedJobs         int64
	SchedulingFailures int64
	ThrottledJobs      int64
	RateLimitHits      int64

	EngineCalls    int64
	EngineFailures int64

	TotalJobTime      time.Duration
	AverageJobLatency time.Duration
	P95JobLatency     time.Duration
	P99JobLatency     time.Duration
	JobSuccessRate    float64

	latencies  []time.Duration
	windowSize int
}

func NewMetrics() *Metrics {
	return &Metrics{
		latencies:  make([]time.Duration, 0, 1000),
		windowSize: 1000,
	}
}

func (m *Metrics) recordJobExecution(startTime time.Time, success bool) {
	duration := time.Since(startTime)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalJobTime += duration
	m.JobCount++
	if !success {
		m.FailedJobs++
	}
	m.JobSuccessRate = float64(m.JobCount-m.FailedJobs) / float64(m.JobCount)

	m.updateLatencyPercentiles(duration)
}

func (m *Metrics) recordEngineCall(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.EngineCalls++
	if err != nil {
		m.EngineFailures++
	}
}

// updateLatencyPercentiles assumes the caller holds mu.
func (m *Metrics) updateLatencyPercentiles(duration time.Duration) {
	m.AverageJobLatency = m.TotalJobTime / time.Duration(m.JobCount)

	m.latencies = append(m.latencies, duration)
	if len(m.latencies) > m.windowSize {
		m.latencies = m.latencies[1:]
	}

	sorted := append([]time.Duration(nil), m.latencies...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	m.P95JobLatency = sorted[min(int(float64(len(sorted))*0.95), len(sorted)-1)]
	m.P99JobLatency = sorted[min(int(float64(len(sorted))*0.99), len(sorted)-1)]
}

// ExportMetrics flattens the counters for logging or a metrics sink.
func (m *Metrics) ExportMetrics() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]any{
		"worker_count":        m.WorkerCount,
		"queue_size":          m.JobQueueSize,
		"job_count":           m.JobCount,
		"failed_jobs":         m.FailedJobs,
		"scheduling_failures": m.SchedulingFailures,
		"throttled_jobs":      m.ThrottledJobs,
		"rate_limit_hits":     m.RateLimitHits,
		"engine_calls":        m.EngineCalls,
		"engine_failures":     m.EngineFailures,
		"success_rate":        m.JobSuccessRate,
		"avg_latency":         m.AverageJobLatency.Milliseconds(),
		"p95_latency":         m.P95JobLatency.Milliseconds(),
		"p99_latency":         m.P99JobLatency.Milliseconds(),
	}
}
