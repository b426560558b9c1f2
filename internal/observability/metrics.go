package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceName labels logs and health responses.
const ServiceName = "audio-translator"

var (
	// Run metrics
	activeRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audio_pipeline_active_runs",
		Help: "Number of pipeline runs in progress",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_runs_total",
		Help: "Total number of pipeline runs",
	}, []string{"status"}) // success, partial, error

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audio_pipeline_run_duration_seconds",
		Help:    "End-to-end pipeline duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Stage metrics
	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audio_pipeline_stage_latency_seconds",
		Help:    "Per-stage processing latency in seconds",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
	}, []string{"stage"})

	// Capability metrics
	capabilityRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_capability_requests_total",
		Help: "Total number of capability calls",
	}, []string{"capability", "status"})

	capabilityLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audio_pipeline_capability_latency_seconds",
		Help:    "Capability call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 15.0, 60.0},
	}, []string{"capability"})

	degradations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_degradations_total",
		Help: "Times a capability fell back to its degraded behavior",
	}, []string{"capability"})

	// Cache metrics
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_cache_lookups_total",
		Help: "Cache lookups by kind and result",
	}, []string{"kind", "result"}) // result: hit, miss, corrupt

	// Language metrics
	languageResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_language_results_total",
		Help: "Per-language translation outcomes",
	}, []string{"status"})

	// Timing recovery metrics
	gapSegmentsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_pipeline_gap_segments_recovered_total",
		Help: "Segments recovered by re-transcribing gaps",
	})

	alignmentFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_pipeline_alignment_fallbacks_total",
		Help: "Synthesized tracks that fell back to coarse turn segments",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "audio_pipeline_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioSecondsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audio_pipeline_audio_seconds_total",
		Help: "Seconds of audio processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// RunMetrics tracks metrics for a single pipeline run
type RunMetrics struct {
	messageID  string
	startTime  time.Time
	stageStart map[string]time.Time
	stages     map[string]time.Duration
	mu         sync.Mutex
}

// NewRunMetrics creates a new metrics tracker for a run
func NewRunMetrics(messageID string) *RunMetrics {
	return &RunMetrics{
		messageID:  messageID,
		startTime:  time.Now(),
		stageStart: make(map[string]time.Time),
		stages:     make(map[string]time.Duration),
	}
}

// RecordRunStart records the start of a run
func (m *RunMetrics) RecordRunStart() {
	activeRuns.Inc()
}

// RecordRunEnd records the end of a run. status is success, partial or error.
func (m *RunMetrics) RecordRunEnd(status string) {
	activeRuns.Dec()
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(time.Since(m.startTime).Seconds())
}

// StartStage marks the beginning of a named stage
func (m *RunMetrics) StartStage(stage string) {
	m.mu.Lock()
	m.stageStart[stage] = time.Now()
	m.mu.Unlock()
}

// EndStage observes the latency of a named stage started with StartStage
func (m *RunMetrics) EndStage(stage string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, ok := m.stageStart[stage]
	if !ok {
		return
	}
	elapsed := time.Since(start)
	m.stages[stage] += elapsed
	delete(m.stageStart, stage)
	stageLatency.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// StageDurations returns a copy of the completed stage timings
func (m *RunMetrics) StageDurations() map[string]time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]time.Duration, len(m.stages))
	for k, v := range m.stages {
		out[k] = v
	}
	return out
}

// Elapsed returns the time since the run started
func (m *RunMetrics) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// RecordError records an error
func (m *RunMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordLanguage records a per-language outcome
func (m *RunMetrics) RecordLanguage(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	languageResults.WithLabelValues(status).Inc()
}

// RecordAudioSeconds records seconds of audio processed
func (m *RunMetrics) RecordAudioSeconds(direction string, ms int64) {
	audioSecondsProcessed.WithLabelValues(direction).Add(float64(ms) / 1000)
}

// ObserveCapability records one capability call
func ObserveCapability(capability string, start time.Time, err error) {
	capabilityLatency.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	capabilityRequests.WithLabelValues(capability, status).Inc()
}

// RecordDegradation counts a fallback to degraded behavior
func RecordDegradation(capability string) {
	degradations.WithLabelValues(capability).Inc()
}

// RecordCacheLookup counts a cache lookup. result is hit, miss or corrupt.
func RecordCacheLookup(kind, result string) {
	cacheLookups.WithLabelValues(kind, result).Inc()
}

// RecordGapSegments counts segments recovered by gap filling
func RecordGapSegments(n int) {
	gapSegmentsRecovered.Add(float64(n))
}

// RecordAlignmentFallback counts a coarse alignment fallback
func RecordAlignmentFallback() {
	alignmentFallbacks.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
